package rules

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nerrad567/meinheim-core/internal/metrics"
)

// Logger defines the logging interface used by rules and the registry.
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

// Logic is one wake of a rule. A non-nil error ends the rule's task.
type Logic func(ctx context.Context) error

// Config describes a rule.
type Config struct {
	ID       string
	Name     string
	Interval time.Duration
	Logic    Logic
	Clock    Clock
}

// Status is a snapshot of a rule.
type Status struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Active    bool          `json:"active"`
	Interval  time.Duration `json:"interval"`
	Runs      uint64        `json:"runs"`
	LastRun   time.Time     `json:"last_run,omitzero"`
	LastError string        `json:"last_error,omitempty"`
}

// Rule is a repeatable background task with an on/off lifecycle.
type Rule struct {
	id       string
	name     string
	interval time.Duration
	logic    Logic
	clock    Clock

	// mu serializes Start and Stop.
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	// gate orders the loop's "may I run" check against Stop.
	gate sync.Mutex

	statsMu sync.RWMutex
	runs    uint64
	lastRun time.Time
	lastErr error

	onExit func(r *Rule, err error)

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates an inactive rule.
func New(cfg Config) (*Rule, error) {
	if cfg.ID == "" || cfg.Logic == nil || cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: id, logic and a positive interval are required", ErrInvalidRule)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	return &Rule{
		id:       cfg.ID,
		name:     cfg.Name,
		interval: cfg.Interval,
		logic:    cfg.Logic,
		clock:    cfg.Clock,
		logger:   noopLogger{},
	}, nil
}

// ID returns the rule's slug.
func (r *Rule) ID() string { return r.id }

// Name returns the display name.
func (r *Rule) Name() string { return r.name }

// SetLogger sets the logger for the rule.
func (r *Rule) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Rule) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// setOnExit registers a hook run after the task has exited.
func (r *Rule) setOnExit(fn func(r *Rule, err error)) {
	r.mu.Lock()
	r.onExit = fn
	r.mu.Unlock()
}

// activeLocked reports whether a task is running and has not been asked to
// stop. Caller holds r.mu.
func (r *Rule) activeLocked() bool {
	if r.done == nil || r.stopped {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Active reports whether the rule's task is running.
func (r *Rule) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

// Start spawns the rule's task. It returns false, and only logs, when the
// task is already running. A previous task that was stopped but has not
// exited yet is waited for first.
func (r *Rule) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeLocked() {
		r.log().Info(r.name + " was still alive!")
		return false
	}
	if r.done != nil {
		<-r.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.stopped = false

	r.statsMu.Lock()
	r.lastErr = nil
	r.statsMu.Unlock()

	metrics.RuleActive.WithLabelValues(r.id).Set(1)
	go r.run(ctx, cancel, done, r.onExit)

	r.log().Info("Activated Rule " + r.name + ".")
	return true
}

// Stop cancels the task and returns without waiting for it to exit. It
// returns false when the rule was not active.
func (r *Rule) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.activeLocked() {
		return false
	}

	r.gate.Lock()
	r.stopped = true
	r.cancel()
	r.gate.Unlock()

	r.log().Info("Rule " + r.name + " will not be kept alive.")
	return true
}

// Done returns a channel closed when the current task has exited. It is
// already closed when the rule never ran.
func (r *Rule) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.done
}

// Wait blocks until the current task has exited or ctx ends.
func (r *Rule) Wait(ctx context.Context) error {
	select {
	case <-r.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the rule.
func (r *Rule) Status() Status {
	active := r.Active()

	r.statsMu.RLock()
	defer r.statsMu.RUnlock()

	s := Status{
		ID:       r.id,
		Name:     r.name,
		Active:   active,
		Interval: r.interval,
		Runs:     r.runs,
		LastRun:  r.lastRun,
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

func (r *Rule) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, onExit func(*Rule, error)) {
	var exitErr error
	defer func() {
		cancel()
		metrics.RuleActive.WithLabelValues(r.id).Set(0)
		close(done)
		if onExit != nil {
			onExit(r, exitErr)
		}
	}()

	for {
		if !r.beginRun(ctx) {
			r.log().Info(r.name + " was no longer kept alive.")
			return
		}

		err := r.invoke(ctx)
		if err != nil && ctx.Err() == nil {
			metrics.RuleRunsTotal.WithLabelValues(r.id, "error").Inc()
			r.statsMu.Lock()
			r.lastErr = err
			r.statsMu.Unlock()
			r.log().Error("rule logic failed, task ended", "rule", r.id, "error", err)
			exitErr = err
			return
		}
		metrics.RuleRunsTotal.WithLabelValues(r.id, "ok").Inc()

		select {
		case <-ctx.Done():
		case <-r.clock.After(r.interval):
		}
	}
}

// beginRun decides under the gate whether another invocation may start,
// so that none starts after Stop has returned.
func (r *Rule) beginRun(ctx context.Context) bool {
	r.gate.Lock()
	defer r.gate.Unlock()

	if ctx.Err() != nil {
		return false
	}
	r.statsMu.Lock()
	r.runs++
	r.lastRun = r.clock.Now()
	r.statsMu.Unlock()
	return true
}

func (r *Rule) invoke(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log().Debug("rule panic stack", "rule", r.id, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrLogicPanic, p)
		}
	}()
	return r.logic(ctx)
}
