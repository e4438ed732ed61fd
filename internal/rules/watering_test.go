package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type switchCall struct {
	uid     string
	address uint32
	unit    uint8
	on      bool
}

type fakeSwitcher struct {
	mu    sync.Mutex
	calls []switchCall
	err   error
}

func (f *fakeSwitcher) SwitchSocket(_ context.Context, uid string, address uint32, unit uint8, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, switchCall{uid, address, unit, on})
	return f.err
}

func (f *fakeSwitcher) switched() []switchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]switchCall(nil), f.calls...)
}

var wateringSocket = Target{ID: "31_1", DeviceUID: "nXN", Address: 31, Unit: 1}

func newTestWatering(t *testing.T, clock Clock, sw SocketSwitcher) *Watering {
	t.Helper()
	w, err := NewWatering(sw, WateringConfig{
		Socket:   wateringSocket,
		Times:    []string{"09:00", "19:00"},
		Duration: time.Minute,
		Location: time.UTC,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("NewWatering() error = %v", err)
	}
	return w
}

// runWatering runs one wake and completes its wait, if any.
func runWatering(t *testing.T, w *Watering, clock *fakeClock, expectWait bool) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- w.Run(context.Background()) }()
	if expectWait {
		if d := clock.waitSleep(t); d != time.Minute {
			t.Errorf("watering waited %v, want 1m", d)
		}
		clock.Tick()
	}
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
		return nil
	}
}

func TestWatering_FiresAtSlotOncePerDay(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 6, 1, 9, 0, 12, 0, time.UTC))
	sw := &fakeSwitcher{}
	w := newTestWatering(t, clock, sw)

	if err := runWatering(t, w, clock, true); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []switchCall{{"nXN", 31, 1, true}, {"nXN", 31, 1, false}}
	if got := sw.switched(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("calls = %+v, want %+v", got, want)
	}

	// Next wake within the same minute must not water again.
	clock.Set(time.Date(2026, 6, 1, 9, 0, 52, 0, time.UTC))
	if err := runWatering(t, w, clock, false); err != nil {
		t.Fatal(err)
	}
	if n := len(sw.switched()); n != 2 {
		t.Errorf("calls = %d after repeat wake, want 2", n)
	}

	// Evening slot and the next morning fire again.
	clock.Set(time.Date(2026, 6, 1, 19, 0, 5, 0, time.UTC))
	if err := runWatering(t, w, clock, true); err != nil {
		t.Fatal(err)
	}
	clock.Set(time.Date(2026, 6, 2, 9, 0, 30, 0, time.UTC))
	if err := runWatering(t, w, clock, true); err != nil {
		t.Fatal(err)
	}
	if n := len(sw.switched()); n != 6 {
		t.Errorf("calls = %d, want 6", n)
	}
}

func TestWatering_OutsideSlotDoesNothing(t *testing.T) {
	for _, ts := range []time.Time{
		time.Date(2026, 6, 1, 8, 59, 59, 0, time.UTC),
		time.Date(2026, 6, 1, 9, 1, 0, 0, time.UTC),
		time.Date(2026, 6, 1, 21, 0, 0, 0, time.UTC),
	} {
		clock := newFakeClock(ts)
		sw := &fakeSwitcher{}
		w := newTestWatering(t, clock, sw)
		if err := runWatering(t, w, clock, false); err != nil {
			t.Fatal(err)
		}
		if n := len(sw.switched()); n != 0 {
			t.Errorf("%s: calls = %d, want 0", ts.Format("15:04:05"), n)
		}
	}
}

func TestWatering_UsesConfiguredLocation(t *testing.T) {
	berlin := time.FixedZone("CEST", 2*3600)
	clock := newFakeClock(time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)) // 09:00 local
	sw := &fakeSwitcher{}
	w, err := NewWatering(sw, WateringConfig{
		Socket: wateringSocket, Times: []string{"09:00"}, Duration: time.Minute,
		Location: berlin, Clock: clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := runWatering(t, w, clock, true); err != nil {
		t.Fatal(err)
	}
	if n := len(sw.switched()); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestWatering_StopDuringWaitSwitchesOff(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 6, 1, 19, 0, 0, 0, time.UTC))
	sw := &fakeSwitcher{}
	w := newTestWatering(t, clock, sw)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	clock.waitSleep(t)
	cancel()

	if err := <-errc; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := sw.switched()
	if len(got) != 2 || got[1].on {
		t.Errorf("calls = %+v, want on then off", got)
	}
}

func TestWatering_SwitchErrorIsReturned(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	sw := &fakeSwitcher{err: errors.New("not connected")}
	w := newTestWatering(t, clock, sw)

	if err := runWatering(t, w, clock, false); err == nil {
		t.Error("Run() error = nil, want switch failure")
	}
}

func TestNewWatering_InvalidTime(t *testing.T) {
	for _, bad := range []string{"9", "25:00", "09:60", "nine"} {
		_, err := NewWatering(&fakeSwitcher{}, WateringConfig{Times: []string{bad}})
		if !errors.Is(err, ErrInvalidTime) {
			t.Errorf("NewWatering(%q) error = %v, want ErrInvalidTime", bad, err)
		}
	}
}
