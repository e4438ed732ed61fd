package rules

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SocketSwitcher switches a remote socket. The tinkerforge Gateway
// implements it.
type SocketSwitcher interface {
	SwitchSocket(ctx context.Context, uid string, address uint32, unit uint8, on bool) error
}

// Target identifies a remote socket.
type Target struct {
	ID        string
	DeviceUID string
	Address   uint32
	Unit      uint8
}

// switchOffTimeout bounds the final switch-off after a stop.
const switchOffTimeout = 5 * time.Second

// WateringConfig configures the watering rule.
type WateringConfig struct {
	Socket   Target
	Times    []string // "HH:MM"
	Duration time.Duration
	Location *time.Location
	Clock    Clock
}

// Watering turns the watering socket on at fixed times of day.
type Watering struct {
	switcher SocketSwitcher
	socket   Target
	times    map[string]bool
	duration time.Duration
	loc      *time.Location
	clock    Clock
	logger   Logger

	mu    sync.Mutex
	fired map[string]string // slot -> date it last fired
}

// NewWatering validates cfg and builds the rule logic.
func NewWatering(switcher SocketSwitcher, cfg WateringConfig) (*Watering, error) {
	times := make(map[string]bool, len(cfg.Times))
	for _, t := range cfg.Times {
		if _, err := time.Parse("15:04", t); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTime, t)
		}
		times[t] = true
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	return &Watering{
		switcher: switcher,
		socket:   cfg.Socket,
		times:    times,
		duration: cfg.Duration,
		loc:      cfg.Location,
		clock:    cfg.Clock,
		logger:   noopLogger{},
		fired:    make(map[string]string),
	}, nil
}

// SetLogger sets the logger.
func (w *Watering) SetLogger(logger Logger) { w.logger = logger }

// Run is the rule logic. When the current minute is a watering slot that
// has not fired today, it switches the socket on, waits the configured
// duration and switches it off. A stop during the wait still switches off.
func (w *Watering) Run(ctx context.Context) error {
	now := w.clock.Now().In(w.loc)
	slot := now.Format("15:04")
	if !w.times[slot] {
		return nil
	}

	day := now.Format("2006-01-02")
	w.mu.Lock()
	if w.fired[slot] == day {
		w.mu.Unlock()
		return nil
	}
	w.fired[slot] = day
	w.mu.Unlock()

	s := w.socket
	w.logger.Info("watering started", "slot", slot, "socket", s.ID, "duration", w.duration.String())
	if err := w.switcher.SwitchSocket(ctx, s.DeviceUID, s.Address, s.Unit, true); err != nil {
		return fmt.Errorf("switching %s on: %w", s.ID, err)
	}

	select {
	case <-ctx.Done():
		w.logger.Info("watering interrupted", "socket", s.ID)
	case <-w.clock.After(w.duration):
	}

	offCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), switchOffTimeout)
	defer cancel()
	if err := w.switcher.SwitchSocket(offCtx, s.DeviceUID, s.Address, s.Unit, false); err != nil {
		return fmt.Errorf("switching %s off: %w", s.ID, err)
	}
	w.logger.Info("watering finished", "socket", s.ID)
	return nil
}
