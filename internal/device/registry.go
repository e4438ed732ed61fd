package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/meinheim-core/internal/audit"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/mqtt"
)

// Deps holds the registry's collaborators. Only Switcher is required.
type Deps struct {
	Switcher Switcher
	Audit    audit.Recorder
	MQTT     MQTTClient
	Hub      WSHub
	Series   SeriesWriter
	Logger   Logger
}

type tripleKey struct {
	uid     string
	address uint32
	unit    uint8
}

// Registry is the fixed set of configured sockets.
//
// All public methods are thread-safe.
type Registry struct {
	deps   Deps
	logger Logger

	sockets map[string]Socket
	byAddr  map[tripleKey]string
	order   []string

	mu     sync.RWMutex
	states map[string]SocketStatus
}

// NewRegistry validates sockets and builds the registry.
func NewRegistry(sockets []Socket, deps Deps) (*Registry, error) {
	if deps.Switcher == nil {
		return nil, fmt.Errorf("%w: no switcher", ErrInvalidSocket)
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	r := &Registry{
		deps:    deps,
		logger:  logger,
		sockets: make(map[string]Socket, len(sockets)),
		byAddr:  make(map[tripleKey]string, len(sockets)),
		states:  make(map[string]SocketStatus, len(sockets)),
	}
	for _, s := range sockets {
		if s.ID == "" || s.DeviceUID == "" {
			return nil, fmt.Errorf("%w: %+v", ErrInvalidSocket, s)
		}
		if _, ok := r.sockets[s.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSocket, s.ID)
		}
		if s.Label == "" {
			s.Label = s.Key()
		}
		r.sockets[s.ID] = s
		r.byAddr[tripleKey{s.DeviceUID, s.Address, s.Unit}] = s.ID
		r.order = append(r.order, s.ID)
		r.states[s.ID] = SocketStatus{Socket: s, State: "unknown"}
	}
	return r, nil
}

// Get returns a socket by ID.
func (r *Registry) Get(id string) (Socket, error) {
	s, ok := r.sockets[id]
	if !ok {
		return Socket{}, fmt.Errorf("%w: %s", ErrSocketNotFound, id)
	}
	return s, nil
}

// Lookup finds the socket wired to (uid, address, unit).
func (r *Registry) Lookup(uid string, address uint32, unit uint8) (Socket, bool) {
	id, ok := r.byAddr[tripleKey{uid, address, unit}]
	if !ok {
		return Socket{}, false
	}
	return r.sockets[id], true
}

// List returns every socket with its last commanded state, in config order.
func (r *Registry) List() []SocketStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SocketStatus, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.states[id])
	}
	return out
}

// Switch turns a configured socket on or off on behalf of source.
func (r *Registry) Switch(ctx context.Context, id string, on bool, source string) (Socket, error) {
	s, err := r.Get(id)
	if err != nil {
		return Socket{}, err
	}
	return s, r.apply(ctx, s, on, source)
}

// SwitchSocket lets rules switch through the registry. A triple that is
// not configured is still switched, under its address_unit key.
func (r *Registry) SwitchSocket(ctx context.Context, uid string, address uint32, unit uint8, on bool) error {
	s, ok := r.Lookup(uid, address, unit)
	if !ok {
		s = Socket{DeviceUID: uid, Address: address, Unit: unit}
		s.ID = s.Key()
		s.Label = s.ID
	}
	return r.apply(ctx, s, on, audit.SourceRule)
}

func (r *Registry) apply(ctx context.Context, s Socket, on bool, source string) error {
	err := r.deps.Switcher.SwitchSocket(ctx, s.DeviceUID, s.Address, s.Unit, on)
	now := time.Now().UTC()

	if r.deps.Series != nil {
		r.deps.Series.WriteSocketSwitch(s.ID, on, err == nil, now)
	}
	if err != nil {
		r.logger.Error("socket switch failed", "socket", s.ID, "state", onOff(on), "error", err)
		return err
	}

	st := SocketStatus{Socket: s, State: onOff(on), ChangedAt: now}
	r.mu.Lock()
	if _, known := r.sockets[s.ID]; known {
		r.states[s.ID] = st
	}
	r.mu.Unlock()

	r.logger.Info("socket switched", "socket", s.ID, "state", st.State, "source", source)
	r.record(ctx, s, on, source)
	r.announce(st)
	return nil
}

func (r *Registry) record(ctx context.Context, s Socket, on bool, source string) {
	if r.deps.Audit == nil {
		return
	}
	err := r.deps.Audit.Record(ctx, &audit.Entry{
		Action:     audit.ActionSwitch,
		EntityType: audit.EntitySocket,
		EntityID:   s.ID,
		Source:     source,
		Details: map[string]any{
			"state":      onOff(on),
			"device_uid": s.DeviceUID,
			"address":    s.Address,
			"unit":       s.Unit,
		},
	})
	if err != nil {
		r.logger.Warn("failed to record audit entry", "socket", s.ID, "error", err)
	}
}

func (r *Registry) announce(st SocketStatus) {
	if r.deps.MQTT != nil {
		if err := r.deps.MQTT.Publish(mqtt.Topics{}.SocketState(st.ID), []byte(st.State), 1, true); err != nil {
			r.logger.Warn("failed to publish socket state", "socket", st.ID, "error", err)
		}
	}
	if r.deps.Hub != nil {
		r.deps.Hub.Broadcast(ChannelSockets, st)
	}
}
