package process

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/nerrad567/meinheim-core/internal/infrastructure/config"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Name: "x", Binary: "/bin/true"})
	if s.cfg.RestartDelay != 5*time.Second || s.cfg.GracefulTimeout != 10*time.Second {
		t.Errorf("defaults = %+v", s.cfg)
	}
	if s.cfg.MaxHealthFailures != 3 || s.cfg.HealthCheckInterval != 30*time.Second {
		t.Errorf("health defaults = %+v", s.cfg)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %q", s.State())
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() before Start error = %v", err)
	}
}

func TestSupervisor_StartStop(t *testing.T) {
	s := New(Config{Name: "sleep", Binary: "/bin/sleep", Args: []string{"60"}, GracefulTimeout: 2 * time.Second})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v", err)
	}

	st := s.Stats()
	if st.State != StateRunning || st.PID == 0 {
		t.Errorf("Stats() = %+v", st)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State() after Stop = %q", s.State())
	}
}

func TestSupervisor_InvalidBinary(t *testing.T) {
	s := New(Config{Name: "missing", Binary: "/nonexistent/brickd"})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil for a missing binary")
	}
	if s.State() != StateFailed {
		t.Errorf("State() = %q, want failed", s.State())
	}
}

func TestSupervisor_CrashesUntilLimit(t *testing.T) {
	s := New(Config{
		Name:               "crashy",
		Binary:             "/bin/sh",
		Args:               []string{"-c", "exit 3"},
		RestartOnFailure:   true,
		RestartDelay:       10 * time.Millisecond,
		MaxRestartAttempts: 2,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "supervisor to give up", func() bool {
		select {
		case <-s.done:
			return true
		default:
			return false
		}
	})

	st := s.Stats()
	if st.State != StateFailed || st.Crashes != 3 || st.LastError == "" {
		t.Errorf("Stats() = %+v, want failed after 3 exits", st)
	}
}

func TestSupervisor_NoRestart(t *testing.T) {
	s := New(Config{Name: "once", Binary: "/bin/sh", Args: []string{"-c", "exit 1"}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "process to fail", func() bool { return s.State() == StateFailed })
	if s.Stats().Crashes != 1 {
		t.Errorf("Crashes = %d, want 1", s.Stats().Crashes)
	}
}

func TestSupervisor_UnhealthyIsKilled(t *testing.T) {
	s := New(Config{
		Name:                "hung",
		Binary:              "/bin/sleep",
		Args:                []string{"60"},
		HealthCheck:         func(context.Context) error { return errors.New("no answer") },
		HealthCheckInterval: 10 * time.Millisecond,
		MaxHealthFailures:   2,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "unhealthy process to be killed", func() bool { return s.State() == StateFailed })
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestDialCheckAndWaitReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close() //nolint:errcheck // test
		}
	}()

	if err := DialCheck(addr)(context.Background()); err != nil {
		t.Errorf("DialCheck() error = %v", err)
	}
	if err := WaitReady(context.Background(), addr, time.Second); err != nil {
		t.Errorf("WaitReady() error = %v", err)
	}

	ln.Close() //nolint:errcheck // test
	if err := WaitReady(context.Background(), addr, 150*time.Millisecond); err == nil {
		t.Error("WaitReady() on a closed port = nil")
	}
}

func TestBrickdConfig(t *testing.T) {
	cfg := config.TinkerforgeConfig{Brickd: config.BrickdConfig{
		Managed:             true,
		Binary:              "/usr/bin/brickd",
		Args:                []string{"--daemon"},
		RestartOnFailure:    true,
		RestartDelaySeconds: 7,
		MaxRestartAttempts:  4,
	}}
	got := BrickdConfig(cfg, "localhost:4223")
	if got.Name != "brickd" || got.Binary != "/usr/bin/brickd" || got.RestartDelay != 7*time.Second ||
		got.MaxRestartAttempts != 4 || !got.RestartOnFailure || got.HealthCheck == nil {
		t.Errorf("BrickdConfig() = %+v", got)
	}
}
