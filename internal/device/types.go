package device

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/meinheim-core/internal/infrastructure/config"
)

// WebSocket channels.
const (
	ChannelSockets = "socket.state"
	ChannelSensors = "sensor.reading"
)

// Socket is a configured remote socket, addressed through a remote switch
// bricklet by (address, unit).
type Socket struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	DeviceUID string `json:"device_uid"`
	Address   uint32 `json:"address"`
	Unit      uint8  `json:"unit"`
}

// Key returns the "address_unit" form used in button names and logs.
func (s Socket) Key() string {
	return fmt.Sprintf("%d_%d", s.Address, s.Unit)
}

// SocketsFromConfig converts the sockets config section.
func SocketsFromConfig(cfgs []config.SocketConfig) []Socket {
	out := make([]Socket, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, Socket{
			ID:        c.ID,
			Label:     c.Label,
			DeviceUID: c.DeviceUID,
			Address:   c.Address,
			Unit:      c.Unit,
		})
	}
	return out
}

// SocketStatus is a socket plus the last state commanded to it. Sockets
// have no feedback channel, so State is "unknown" until the first command.
type SocketStatus struct {
	Socket
	State     string    `json:"state"`
	ChangedAt time.Time `json:"changed_at,omitzero"`
}

// Switcher drives the hardware. The tinkerforge Gateway implements it.
type Switcher interface {
	SwitchSocket(ctx context.Context, uid string, address uint32, unit uint8, on bool) error
}

// MQTTClient is the interface for publishing state.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// SeriesWriter records time series. The influxdb Client implements it.
type SeriesWriter interface {
	WriteSocketSwitch(socketID string, on, ok bool, at time.Time)
	WriteSensorReading(uid, kind string, value float64, at time.Time)
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
