package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/Knetic/govaluate"
)

// SensorReader reads the desk sensors. Failed reads return -1.
type SensorReader interface {
	GetDistance(ctx context.Context, uid string) float64
	GetIlluminance(ctx context.Context, uid string) float64
}

// noReading is the gateway's sentinel for a failed read.
const noReading = -1.0

// LampState is the desk lamp state as the rule last set it.
type LampState int

// Lamp states.
const (
	LampOff LampState = iota
	LampOn
)

func (s LampState) String() string {
	if s == LampOn {
		return "on"
	}
	return "off"
}

// DeskLampConfig configures the desk lamp rule.
type DeskLampConfig struct {
	Socket         Target
	DistanceUID    string
	IlluminanceUID string
	OnCondition    string
	OffCondition   string
}

// DeskLamp switches the desk lamp from distance and light readings.
type DeskLamp struct {
	sensors  SensorReader
	switcher SocketSwitcher
	cfg      DeskLampConfig
	on       *govaluate.EvaluableExpression
	off      *govaluate.EvaluableExpression
	logger   Logger

	mu    sync.Mutex
	state LampState
}

// NewDeskLamp compiles the conditions and returns the rule logic in
// state LampOff.
func NewDeskLamp(sensors SensorReader, switcher SocketSwitcher, cfg DeskLampConfig) (*DeskLamp, error) {
	on, err := compileCondition(cfg.OnCondition)
	if err != nil {
		return nil, err
	}
	off, err := compileCondition(cfg.OffCondition)
	if err != nil {
		return nil, err
	}
	return &DeskLamp{
		sensors:  sensors,
		switcher: switcher,
		cfg:      cfg,
		on:       on,
		off:      off,
		logger:   noopLogger{},
	}, nil
}

// ValidateCondition reports whether expr compiles and only uses the
// distance and illuminance variables.
func ValidateCondition(expr string) error {
	_, err := compileCondition(expr)
	return err
}

func compileCondition(expr string) (*govaluate.EvaluableExpression, error) {
	e, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCondition, expr, err)
	}
	for _, v := range e.Vars() {
		if v != "distance" && v != "illuminance" {
			return nil, fmt.Errorf("%w: %q uses unknown variable %q", ErrInvalidCondition, expr, v)
		}
	}
	return e, nil
}

// SetLogger sets the logger.
func (d *DeskLamp) SetLogger(logger Logger) { d.logger = logger }

// State returns the lamp state the rule believes in.
func (d *DeskLamp) State() LampState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run is the rule logic: OFF moves to ON when the on-condition holds, ON
// moves to OFF when the off-condition holds. Samples with a failed read
// are skipped.
func (d *DeskLamp) Run(ctx context.Context) error {
	distance := d.sensors.GetDistance(ctx, d.cfg.DistanceUID)
	illuminance := d.sensors.GetIlluminance(ctx, d.cfg.IlluminanceUID)
	if distance == noReading || illuminance == noReading {
		return nil
	}

	params := map[string]interface{}{
		"distance":    distance,
		"illuminance": illuminance,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case LampOff:
		fire, err := evaluate(d.on, params)
		if err != nil || !fire {
			return err
		}
		if err := d.switchLamp(ctx, true); err != nil {
			return err
		}
		d.state = LampOn
	case LampOn:
		fire, err := evaluate(d.off, params)
		if err != nil || !fire {
			return err
		}
		if err := d.switchLamp(ctx, false); err != nil {
			return err
		}
		d.state = LampOff
	}
	d.logger.Info("desk lamp switched", "state", d.state.String(),
		"distance", distance, "illuminance", illuminance)
	return nil
}

func (d *DeskLamp) switchLamp(ctx context.Context, on bool) error {
	s := d.cfg.Socket
	if err := d.switcher.SwitchSocket(ctx, s.DeviceUID, s.Address, s.Unit, on); err != nil {
		return fmt.Errorf("switching %s: %w", s.ID, err)
	}
	return nil
}

func evaluate(e *govaluate.EvaluableExpression, params map[string]interface{}) (bool, error) {
	v, err := e.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %w", ErrInvalidCondition, e.String(), err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q evaluated to %T", ErrInvalidCondition, e.String(), v)
	}
	return b, nil
}
