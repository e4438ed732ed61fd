// Package config handles loading and validating meinHeim Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with MEINHEIM_* environment variables
//   - Validation of required fields and cross references (rule -> socket)
//   - Default values matching the original single-board installation
//
// Sensitive values (MQTT password, InfluxDB token) should be set via
// environment variables rather than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.ListenAddr())
package config
