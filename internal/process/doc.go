// Package process supervises a child daemon, in practice brickd, the
// Tinkerforge brick daemon, when meinHeim is configured to own it.
//
// A Supervisor starts the binary in its own process group, logs its output
// line by line, restarts it after unexpected exits and optionally kills it
// when a health probe keeps failing. Stop sends SIGTERM to the group and
// falls back to SIGKILL.
//
//	sup := process.New(process.BrickdConfig(cfg.Tinkerforge, cfg.BrickdAddr()))
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
//	err := process.WaitReady(ctx, cfg.BrickdAddr(), 10*time.Second)
package process
