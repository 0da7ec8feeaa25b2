// Package logging provides structured logging for amcrest2mqtt.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same handler, level and default fields.
//
// # Features
//
//   - Text output by default, JSON for log shippers
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error (LOG_LEVEL)
//	  format: "text"     # text, json (LOG_FORMAT)
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("bridge online", "serial", serial)
//
// Never log camera or broker passwords.
package logging
