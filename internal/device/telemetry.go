package device

import (
	"strconv"

	"github.com/nerrad567/meinheim-core/internal/bridges/tinkerforge"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/mqtt"
)

// Telemetry forwards sensor readings to MQTT, InfluxDB and WebSocket
// clients. Its Record method is installed as the gateway's reading hook.
type Telemetry struct {
	mqtt   MQTTClient
	hub    WSHub
	series SeriesWriter
	logger Logger
}

// NewTelemetry builds a Telemetry from the same Deps as the registry.
// Switcher and Audit are ignored.
func NewTelemetry(deps Deps) *Telemetry {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Telemetry{mqtt: deps.MQTT, hub: deps.Hub, series: deps.Series, logger: logger}
}

// Record handles one successful reading.
func (t *Telemetry) Record(rd tinkerforge.Reading) {
	if t.series != nil {
		t.series.WriteSensorReading(rd.UID, rd.Kind, rd.Value, rd.Time)
	}
	if t.mqtt != nil {
		payload := strconv.FormatFloat(rd.Value, 'f', -1, 64)
		if err := t.mqtt.Publish(mqtt.Topics{}.SensorState(rd.UID), []byte(payload), 0, true); err != nil {
			t.logger.Debug("failed to publish reading", "uid", rd.UID, "error", err)
		}
	}
	if t.hub != nil {
		t.hub.Broadcast(ChannelSensors, rd)
	}
}
