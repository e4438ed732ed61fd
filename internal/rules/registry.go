package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/meinheim-core/internal/audit"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/mqtt"
)

// MQTTClient is the interface for publishing rule state.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// ChannelRules is the WebSocket channel for rule state changes.
const ChannelRules = "rule.state"

// RegistryDeps holds the registry's collaborators. Every field except
// Store may be nil.
type RegistryDeps struct {
	Store  StateStore
	Audit  audit.Recorder
	MQTT   MQTTClient
	Hub    WSHub
	Logger Logger
}

// Registry owns the fixed rule set.
//
// All public methods are thread-safe.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]*Rule
	order []string

	store  StateStore
	audit  audit.Recorder
	mqtt   MQTTClient
	hub    WSHub
	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(deps RegistryDeps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		rules:  make(map[string]*Rule),
		store:  deps.Store,
		audit:  deps.Audit,
		mqtt:   deps.MQTT,
		hub:    deps.Hub,
		logger: logger,
	}
}

// Register adds a rule. Rules are listed in registration order.
func (r *Registry) Register(rule *Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[rule.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID())
	}
	r.rules[rule.ID()] = rule
	r.order = append(r.order, rule.ID())
	rule.setOnExit(r.handleExit)
	return nil
}

// Get returns a rule by ID.
func (r *Registry) Get(id string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule, nil
}

// Start activates a rule, saves the wanted state and announces it.
// Starting an active rule is not an error.
func (r *Registry) Start(ctx context.Context, id, source string) (Status, error) {
	rule, err := r.Get(id)
	if err != nil {
		return Status{}, err
	}
	if rule.Start() {
		r.record(ctx, rule, true, source)
	}
	return rule.Status(), nil
}

// Stop deactivates a rule, saves the wanted state and announces it.
func (r *Registry) Stop(ctx context.Context, id, source string) (Status, error) {
	rule, err := r.Get(id)
	if err != nil {
		return Status{}, err
	}
	if rule.Stop() {
		r.record(ctx, rule, false, source)
	}
	return rule.Status(), nil
}

// Status returns the status of one rule.
func (r *Registry) Status(id string) (Status, error) {
	rule, err := r.Get(id)
	if err != nil {
		return Status{}, err
	}
	return rule.Status(), nil
}

// List returns the status of every rule.
func (r *Registry) List() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rules[id].Status())
	}
	return out
}

// Restore starts every rule whose saved state is active. Rules without a
// saved state use defaults[id].
func (r *Registry) Restore(ctx context.Context, defaults map[string]bool) error {
	saved := map[string]bool{}
	if r.store != nil {
		var err error
		saved, err = r.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading rule states: %w", err)
		}
	}

	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	for _, id := range ids {
		want, ok := saved[id]
		if !ok {
			want = defaults[id]
		}
		if !want {
			r.logger.Info("rule left inactive", "rule", id)
			r.announce(id, false)
			continue
		}
		rule, err := r.Get(id)
		if err != nil {
			return err
		}
		if rule.Start() {
			r.writeAudit(ctx, id, audit.ActionActivate, audit.SourceBoot)
			r.announce(id, true)
		}
	}
	return nil
}

// Shutdown stops every rule and waits for their tasks to exit. The saved
// states are left untouched so the same rules come back on restart.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	rules := make([]*Rule, 0, len(r.order))
	for _, id := range r.order {
		rules = append(rules, r.rules[id])
	}
	r.mu.RUnlock()

	for _, rule := range rules {
		rule.Stop()
	}
	for _, rule := range rules {
		if err := rule.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rule %s: %w", rule.ID(), err)
		}
	}
	return nil
}

func (r *Registry) record(ctx context.Context, rule *Rule, active bool, source string) {
	if r.store != nil {
		if err := r.store.Save(ctx, rule.ID(), active); err != nil {
			r.logger.Error("failed to save rule state", "rule", rule.ID(), "error", err)
		}
	}
	action := audit.ActionDeactivate
	if active {
		action = audit.ActionActivate
	}
	r.writeAudit(ctx, rule.ID(), action, source)
	r.announce(rule.ID(), active)
}

func (r *Registry) writeAudit(ctx context.Context, id, action, source string) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Record(ctx, &audit.Entry{
		Action:     action,
		EntityType: audit.EntityRule,
		EntityID:   id,
		Source:     source,
	}); err != nil {
		r.logger.Warn("failed to record audit entry", "rule", id, "error", err)
	}
}

func (r *Registry) announce(id string, active bool) {
	r.announceWith(id, active, nil)
}

func (r *Registry) announceWith(id string, active bool, cause error) {
	payload := "off"
	if active {
		payload = "on"
	}
	if r.mqtt != nil {
		if err := r.mqtt.Publish(mqtt.Topics{}.RuleState(id), []byte(payload), 1, true); err != nil {
			r.logger.Warn("failed to publish rule state", "rule", id, "error", err)
		}
	}
	if r.hub != nil {
		event := map[string]any{"rule": id, "active": active}
		if cause != nil {
			event["error"] = cause.Error()
		}
		r.hub.Broadcast(ChannelRules, event)
	}
}

// handleExit announces a task that ended on its own after a logic failure.
func (r *Registry) handleExit(rule *Rule, err error) {
	if err == nil {
		return
	}
	r.announceWith(rule.ID(), false, err)
}
