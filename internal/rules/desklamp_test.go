package rules

import (
	"context"
	"errors"
	"testing"
)

type sample struct{ distance, illuminance float64 }

// scriptedSensors replays samples, one per Run.
type scriptedSensors struct {
	samples []sample
	i       int
}

func (s *scriptedSensors) GetDistance(context.Context, string) float64 {
	return s.samples[s.i].distance
}

func (s *scriptedSensors) GetIlluminance(context.Context, string) float64 {
	v := s.samples[s.i].illuminance
	s.i++
	return v
}

var lampSocket = Target{ID: "30_3", DeviceUID: "nXN", Address: 30, Unit: 3}

func newTestDeskLamp(t *testing.T, sensors SensorReader, sw SocketSwitcher) *DeskLamp {
	t.Helper()
	d, err := NewDeskLamp(sensors, sw, DeskLampConfig{
		Socket:         lampSocket,
		DistanceUID:    "iTm",
		IlluminanceUID: "amm",
		OnCondition:    "distance <= 1500 && illuminance <= 30",
		OffCondition:   "distance > 1500 || illuminance > 30",
	})
	if err != nil {
		t.Fatalf("NewDeskLamp() error = %v", err)
	}
	return d
}

func TestDeskLamp_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		samples []sample
		want    []bool // switch actions in order
		final   LampState
	}{
		{
			name:    "stays off while bright",
			samples: []sample{{800, 120}, {700, 45}, {2000, 10}},
			final:   LampOff,
		},
		{
			name:    "on exactly once for repeated qualifying samples",
			samples: []sample{{1200, 12}, {1100, 10}, {1500, 30}},
			want:    []bool{true},
			final:   LampOn,
		},
		{
			name:    "off when person leaves",
			samples: []sample{{1200, 12}, {1300, 12}, {2400, 12}, {2500, 12}},
			want:    []bool{true, false},
			final:   LampOff,
		},
		{
			name:    "off when it gets bright",
			samples: []sample{{900, 5}, {900, 31}, {900, 200}},
			want:    []bool{true, false},
			final:   LampOff,
		},
		{
			name:    "on again after off",
			samples: []sample{{900, 5}, {1600, 5}, {900, 5}},
			want:    []bool{true, false, true},
			final:   LampOn,
		},
		{
			name:    "failed reads are skipped",
			samples: []sample{{-1, 5}, {900, -1}, {-1, -1}},
			final:   LampOff,
		},
		{
			name:    "failed read does not switch off",
			samples: []sample{{900, 5}, {-1, 500}, {900, -1}},
			want:    []bool{true},
			final:   LampOn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw := &fakeSwitcher{}
			d := newTestDeskLamp(t, &scriptedSensors{samples: tt.samples}, sw)

			for range tt.samples {
				if err := d.Run(context.Background()); err != nil {
					t.Fatalf("Run() error = %v", err)
				}
			}

			calls := sw.switched()
			if len(calls) != len(tt.want) {
				t.Fatalf("switch calls = %+v, want %v", calls, tt.want)
			}
			for i, c := range calls {
				if c.on != tt.want[i] || c.uid != "nXN" || c.address != 30 || c.unit != 3 {
					t.Errorf("call %d = %+v, want on=%v to nXN 30/3", i, c, tt.want[i])
				}
			}
			if d.State() != tt.final {
				t.Errorf("State() = %v, want %v", d.State(), tt.final)
			}
		})
	}
}

func TestDeskLamp_SwitchFailureKeepsState(t *testing.T) {
	sw := &fakeSwitcher{err: errors.New("down")}
	d := newTestDeskLamp(t, &scriptedSensors{samples: []sample{{900, 5}}}, sw)

	if err := d.Run(context.Background()); err == nil {
		t.Fatal("Run() error = nil, want switch failure")
	}
	if d.State() != LampOff {
		t.Errorf("State() = %v after failed switch, want off", d.State())
	}
}

func TestValidateCondition(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"distance <= 1500 && illuminance <= 30", false},
		{"distance > 1500 || illuminance > 30", false},
		{"distance <=", true},
		{"temperature > 20", true},
	}
	for _, tt := range tests {
		err := ValidateCondition(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateCondition(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidCondition) {
			t.Errorf("error %v is not ErrInvalidCondition", err)
		}
	}
}

func TestDeskLamp_NonBooleanCondition(t *testing.T) {
	d, err := NewDeskLamp(&scriptedSensors{samples: []sample{{1, 1}}}, &fakeSwitcher{}, DeskLampConfig{
		OnCondition:  "distance + illuminance",
		OffCondition: "distance > 0",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Run(context.Background()); !errors.Is(err, ErrInvalidCondition) {
		t.Errorf("Run() error = %v, want ErrInvalidCondition", err)
	}
}
