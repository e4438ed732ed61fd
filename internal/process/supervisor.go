package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// State is the lifecycle state of a supervised process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailed   State = "failed"
)

// ErrAlreadyRunning is returned by Start on a running supervisor.
var ErrAlreadyRunning = errors.New("process: already running")

// Config describes the supervised binary.
type Config struct {
	Name   string
	Binary string
	Args   []string
	Env    []string // appended to os.Environ when non-nil

	RestartOnFailure   bool
	RestartDelay       time.Duration
	MaxRestartAttempts int // 0 means unlimited

	GracefulTimeout time.Duration

	// HealthCheck is probed every HealthCheckInterval. After
	// MaxHealthFailures consecutive failures the process is killed and
	// treated as crashed.
	HealthCheck         func(ctx context.Context) error
	HealthCheckInterval time.Duration
	MaxHealthFailures   int
}

// Logger defines the logging interface for the supervisor.
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

// Supervisor owns one child process.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu       sync.RWMutex
	cmd      *exec.Cmd
	exited   chan error
	state    State
	crashes int
	lastErr  error
	started  time.Time
	stopping bool
	done     chan struct{}
}

// New returns a stopped supervisor. Zero durations get defaults.
func New(cfg Config) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	if cfg.MaxHealthFailures <= 0 {
		cfg.MaxHealthFailures = 3
	}
	return &Supervisor{cfg: cfg, logger: noopLogger{}, state: StateStopped}
}

// SetLogger sets the logger. Call before Start.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the process and the goroutine watching it.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.cfg.Name)
	}
	s.state = StateStarting
	s.stopping = false
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.spawn(ctx); err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.lastErr = err
		close(s.done)
		s.mu.Unlock()
		return err
	}

	go s.watch(ctx)
	return nil
}

func (s *Supervisor) spawn(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.cfg.Binary, s.cfg.Args...) //nolint:gosec // binary comes from the operator's config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.cfg.Env != nil {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	exited := make(chan error, 1)
	var pipes sync.WaitGroup
	pipes.Add(2)
	go s.logLines(&pipes, "stdout", stdout)
	go s.logLines(&pipes, "stderr", stderr)
	go func() {
		// Wait closes the pipes, so drain them first.
		pipes.Wait()
		exited <- cmd.Wait()
	}()

	s.mu.Lock()
	s.cmd = cmd
	s.exited = exited
	s.state = StateRunning
	s.started = time.Now()
	s.mu.Unlock()

	s.logger.Info("process started", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	return nil
}

func (s *Supervisor) logLines(wg *sync.WaitGroup, stream string, r io.Reader) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Debug("process output", "name", s.cfg.Name, "stream", stream, "line", sc.Text())
	}
}

// waitExit returns when the process exits, ctx ends, or the health probe
// has failed often enough that the process was killed.
func (s *Supervisor) waitExit(ctx context.Context, cmd *exec.Cmd, exited <-chan error) error {
	if s.cfg.HealthCheck == nil {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
			return <-exited
		}
	}

	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
			return <-exited
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.cfg.HealthCheck(probeCtx)
			cancel()
			if err == nil {
				if failures > 0 {
					s.logger.Info("health check recovered", "name", s.cfg.Name)
				}
				failures = 0
				continue
			}
			failures++
			s.logger.Warn("health check failed", "name", s.cfg.Name, "error", err, "failures", failures)
			if failures < s.cfg.MaxHealthFailures {
				continue
			}
			s.logger.Error("killing unhealthy process", "name", s.cfg.Name)
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			<-exited
			return fmt.Errorf("killed after %d failed health checks: %w", failures, err)
		}
	}
}

func (s *Supervisor) watch(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
	}()

	for {
		s.mu.RLock()
		cmd, exited := s.cmd, s.exited
		s.mu.RUnlock()

		err := s.waitExit(ctx, cmd, exited)

		s.mu.Lock()
		if s.stopping || ctx.Err() != nil {
			s.state = StateStopped
			s.mu.Unlock()
			s.logger.Info("process stopped", "name", s.cfg.Name)
			return
		}
		s.state = StateFailed
		s.lastErr = err
		s.crashes++
		attempt := s.crashes
		s.mu.Unlock()

		s.logger.Warn("process exited unexpectedly", "name", s.cfg.Name, "error", err)

		if !s.cfg.RestartOnFailure {
			return
		}
		if s.cfg.MaxRestartAttempts > 0 && attempt > s.cfg.MaxRestartAttempts {
			s.logger.Error("giving up on process", "name", s.cfg.Name, "attempts", attempt-1)
			return
		}

		s.logger.Info("restarting process", "name", s.cfg.Name, "attempt", attempt, "delay", s.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RestartDelay):
		}

		for {
			if s.stopRequested() {
				s.mu.Lock()
				s.state = StateStopped
				s.mu.Unlock()
				return
			}
			err := s.spawn(ctx)
			if err == nil {
				break
			}
			s.logger.Error("restart failed", "name", s.cfg.Name, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RestartDelay):
			}
		}
	}
}

func (s *Supervisor) stopRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopping
}

// Stop terminates the process group and waits for the watcher to finish.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	cmd, done := s.cmd, s.done
	running := s.state == StateRunning
	s.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	s.logger.Info("stopping process", "name", s.cfg.Name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("SIGTERM failed", "name", s.cfg.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.GracefulTimeout):
		s.logger.Warn("graceful stop timed out, killing", "name", s.cfg.Name)
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", s.cfg.Name, err)
	}
	<-done
	return nil
}

// Stats is a snapshot of the supervisor.
type Stats struct {
	Name      string        `json:"name"`
	State     State         `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Crashes   int           `json:"crashes"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns the current snapshot.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Name: s.cfg.Name, State: s.state, Crashes: s.crashes}
	if s.state == StateRunning && s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
		st.Uptime = time.Since(s.started)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
