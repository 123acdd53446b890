// Package logging provides structured logging for the serial bus service.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same handler, level and default fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("serial").Info("scan complete", "devices", 2)
//
// *Logger satisfies the small Logger interfaces declared by the serialbus,
// mqtt and bridge packages.
//
// # Security
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
