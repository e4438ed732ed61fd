package tinkerforge

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/meinheim-core/internal/metrics"
)

// NoValue is returned by sensor reads that could not be completed.
const NoValue = -1.0

// Sensor kinds reported in Reading.Kind.
const (
	KindIlluminance = "illuminance"
	KindDistance    = "distance"
)

// Reading is a successful sensor sample.
type Reading struct {
	UID   string    `json:"uid"`
	Kind  string    `json:"kind"`
	Value float64   `json:"value"`
	Time  time.Time `json:"time"`
}

// GatewayConfig holds gateway behaviour settings.
type GatewayConfig struct {
	// Serialize runs one hardware call at a time.
	Serialize bool

	// RequestTimeout bounds each call that waits for a response.
	// Zero leaves only the client's own timeout in force.
	RequestTimeout time.Duration
}

// Gateway is the hardware facade used by rules and HTTP handlers.
type Gateway struct {
	conn Connector
	cfg  GatewayConfig

	callMu sync.Mutex

	devicesMu sync.RWMutex
	devices   map[string]DeviceEntry

	hookMu    sync.RWMutex
	onReading func(Reading)

	logger   Logger
	loggerMu sync.RWMutex
}

// NewGateway wraps a connector. It registers itself for callbacks and
// re-enumerates after every reconnect.
func NewGateway(conn Connector, cfg GatewayConfig) *Gateway {
	g := &Gateway{
		conn:    conn,
		cfg:     cfg,
		devices: make(map[string]DeviceEntry),
		logger:  noopLogger{},
	}
	conn.SetOnCallback(g.handleCallback)
	conn.SetOnReconnect(g.reenumerate)
	return g
}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger Logger) {
	g.loggerMu.Lock()
	g.logger = logger
	g.loggerMu.Unlock()
}

func (g *Gateway) log() Logger {
	g.loggerMu.RLock()
	defer g.loggerMu.RUnlock()
	return g.logger
}

// SetOnReading registers a hook called with every successful sensor read.
func (g *Gateway) SetOnReading(fn func(Reading)) {
	g.hookMu.Lock()
	g.onReading = fn
	g.hookMu.Unlock()
}

func (g *Gateway) lock() func() {
	if !g.cfg.Serialize {
		return func() {}
	}
	g.callMu.Lock()
	return g.callMu.Unlock
}

// Enumerate asks all devices to report in.
func (g *Gateway) Enumerate(ctx context.Context) error {
	unlock := g.lock()
	defer unlock()
	return g.conn.Enumerate(ctx)
}

func (g *Gateway) reenumerate() {
	g.devicesMu.Lock()
	g.devices = make(map[string]DeviceEntry)
	g.devicesMu.Unlock()
	metrics.DevicesConnected.Set(0)

	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	if err := g.Enumerate(ctx); err != nil {
		g.log().Warn("re-enumeration failed", "error", err)
	}
}

// SwitchSocket sends switch_socket_b to the remote switch bricklet uid.
// No response is awaited.
func (g *Gateway) SwitchSocket(ctx context.Context, uid string, address uint32, unit uint8, on bool) error {
	state := "off"
	var switchTo uint8
	if on {
		state, switchTo = "on", 1
	}
	socket := socketLabel(address, unit)

	err := g.sendSocket(ctx, uid, functionSwitchSocketB, address, unit, switchTo)
	if err != nil {
		metrics.SocketSwitchesTotal.WithLabelValues(socket, state, "error").Inc()
		g.log().Error("switch socket failed", "uid", uid, "socket", socket, "state", state, "error", err)
		return err
	}
	metrics.SocketSwitchesTotal.WithLabelValues(socket, state, "ok").Inc()
	g.log().Debug("socket switched", "uid", uid, "socket", socket, "state", state)
	return nil
}

// DimSocket sends dim_socket_b with a brightness value 0..15.
func (g *Gateway) DimSocket(ctx context.Context, uid string, address uint32, unit uint8, value uint8) error {
	if value > 15 {
		value = 15
	}
	socket := socketLabel(address, unit)

	err := g.sendSocket(ctx, uid, functionDimSocketB, address, unit, value)
	if err != nil {
		metrics.SocketSwitchesTotal.WithLabelValues(socket, "dim", "error").Inc()
		g.log().Error("dim socket failed", "uid", uid, "socket", socket, "value", value, "error", err)
		return err
	}
	metrics.SocketSwitchesTotal.WithLabelValues(socket, "dim", "ok").Inc()
	return nil
}

func (g *Gateway) sendSocket(ctx context.Context, uid string, functionID uint8, address uint32, unit, arg uint8) error {
	numeric, err := ParseUID(uid)
	if err != nil {
		return err
	}
	payload := make([]byte, 6)
	binary.LittleEndian.PutUint32(payload[0:4], address)
	payload[4] = unit
	payload[5] = arg

	unlock := g.lock()
	defer unlock()
	_, err = g.conn.Request(ctx, numeric, functionID, payload, false)
	return err
}

// GetIlluminance returns the ambient light in lux, or NoValue.
func (g *Gateway) GetIlluminance(ctx context.Context, uid string) float64 {
	raw, ok := g.readUint16(ctx, uid, functionGetIlluminance, KindIlluminance)
	if !ok {
		return NoValue
	}
	lux := float64(raw) / 10
	g.emit(uid, KindIlluminance, lux)
	return lux
}

// GetDistance returns the raw distance value, or NoValue.
func (g *Gateway) GetDistance(ctx context.Context, uid string) float64 {
	raw, ok := g.readUint16(ctx, uid, functionGetDistanceValue, KindDistance)
	if !ok {
		return NoValue
	}
	v := float64(raw)
	g.emit(uid, KindDistance, v)
	return v
}

// readUint16 performs a getter returning one uint16. Every failure is
// reported as a single "<uid> not connected" warning.
func (g *Gateway) readUint16(ctx context.Context, uid string, functionID uint8, kind string) (uint16, bool) {
	value, err := g.getUint16(ctx, uid, functionID)
	if err != nil {
		metrics.SensorReadsTotal.WithLabelValues(kind, "error").Inc()
		g.log().Warn(uid+" not connected", "kind", kind, "error", err)
		return 0, false
	}
	metrics.SensorReadsTotal.WithLabelValues(kind, "ok").Inc()
	return value, true
}

func (g *Gateway) getUint16(ctx context.Context, uid string, functionID uint8) (uint16, error) {
	numeric, err := ParseUID(uid)
	if err != nil {
		return 0, err
	}
	if g.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()
	}

	unlock := g.lock()
	defer unlock()

	resp, err := g.conn.Request(ctx, numeric, functionID, nil, true)
	if err != nil {
		return 0, err
	}
	if len(resp) != 2 {
		return 0, fmt.Errorf("%w: %d byte payload", ErrUnexpectedResponse, len(resp))
	}
	return binary.LittleEndian.Uint16(resp), nil
}

func (g *Gateway) emit(uid, kind string, value float64) {
	metrics.SensorValue.WithLabelValues(uid, kind).Set(value)

	g.hookMu.RLock()
	fn := g.onReading
	g.hookMu.RUnlock()
	if fn != nil {
		fn(Reading{UID: uid, Kind: kind, Value: value, Time: time.Now()})
	}
}

func (g *Gateway) handleCallback(pkt Packet) {
	if pkt.FunctionID != CallbackEnumerate {
		return
	}
	entry, err := ParseEnumerate(pkt.Payload)
	if err != nil {
		g.log().Warn("bad enumerate callback", "error", err)
		return
	}
	g.HandleEnumerate(entry)
}

// HandleEnumerate applies an enumerate callback to the device map.
// Available and connected entries are added or replaced, disconnected
// ones removed.
func (g *Gateway) HandleEnumerate(entry DeviceEntry) {
	g.devicesMu.Lock()
	switch entry.EnumerationType {
	case EnumerationAvailable, EnumerationConnected:
		g.devices[entry.UID] = entry
	case EnumerationDisconnected:
		delete(g.devices, entry.UID)
	}
	n := len(g.devices)
	g.devicesMu.Unlock()

	metrics.DevicesConnected.Set(float64(n))
	g.log().Info("device enumerated",
		"uid", entry.UID, "label", entry.Label(), "type", entry.EnumerationType.String())
}

// Devices returns the known devices sorted by UID.
func (g *Gateway) Devices() []DeviceEntry {
	g.devicesMu.RLock()
	out := make([]DeviceEntry, 0, len(g.devices))
	for _, d := range g.devices {
		out = append(out, d)
	}
	g.devicesMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// Connected reports whether the underlying connection is up.
func (g *Gateway) Connected() bool {
	return g.conn.IsConnected()
}

// Stats exposes the connector statistics.
func (g *Gateway) Stats() ClientStats {
	return g.conn.Stats()
}

func socketLabel(address uint32, unit uint8) string {
	return strconv.FormatUint(uint64(address), 10) + "_" + strconv.Itoa(int(unit))
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
