package process

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/nerrad567/meinheim-core/internal/infrastructure/config"
)

// BrickdConfig builds the supervisor config for a managed brickd. The
// health probe is a TCP dial of addr.
func BrickdConfig(cfg config.TinkerforgeConfig, addr string) Config {
	return Config{
		Name:                "brickd",
		Binary:              cfg.Brickd.Binary,
		Args:                cfg.Brickd.Args,
		RestartOnFailure:    cfg.Brickd.RestartOnFailure,
		RestartDelay:        time.Duration(cfg.Brickd.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts:  cfg.Brickd.MaxRestartAttempts,
		HealthCheck:         DialCheck(addr),
		HealthCheckInterval: 30 * time.Second,
	}
}

// DialCheck returns a probe that succeeds when addr accepts TCP connections.
func DialCheck(addr string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// WaitReady polls addr until it accepts a connection or timeout passes.
func WaitReady(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	probe := DialCheck(addr)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		err := probe(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not ready after %v: %w", addr, timeout, err)
		case <-ticker.C:
		}
	}
}
