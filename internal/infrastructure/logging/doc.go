// Package logging provides structured logging for meinHeim Core.
//
// It wraps log/slog so every component logs the same way: JSON for
// machines, text for people, default service/version fields, and level
// filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: "error.log"
//	    max_size: 10     # megabytes before rotation
//	    max_backups: 3
//	    max_age: 28      # days
//	    compress: false
//
// File output is rotated by lumberjack. Call Close on shutdown to release it.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	defer logger.Close()
//	logger.Info("starting", "port", 8081)
package logging
