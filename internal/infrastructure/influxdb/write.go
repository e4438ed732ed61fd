package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSensor = "sensor_reading"
	MeasurementSocket = "socket_switch"
)

// WriteSensorReading records one successful bricklet reading. kind is
// "illuminance" (lux) or "distance" (raw sensor value).
func (c *Client) WriteSensorReading(uid, kind string, value float64, at time.Time) {
	c.writePoint(MeasurementSensor,
		map[string]string{"uid": uid, "kind": kind},
		map[string]any{"value": value},
		at)
}

// WriteSocketSwitch records a socket command and whether it was sent.
func (c *Client) WriteSocketSwitch(socketID string, on, ok bool, at time.Time) {
	state := 0
	if on {
		state = 1
	}
	c.writePoint(MeasurementSocket,
		map[string]string{"socket": socketID},
		map[string]any{"state": state, "ok": ok},
		at)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
