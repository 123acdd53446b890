// Package config handles loading and validating the serial bus service
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields and handler declarations
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//   - The webserver or service user must be in the dialout group (or have a
//     udev rule) to open the serial devices matched by serial.pattern
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, h := range cfg.EnabledHandlers() {
//	    fmt.Println(h.ID, h.Profile, cfg.PatternFor(h))
//	}
package config
