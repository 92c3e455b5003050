// Package logging provides structured logging for the enrollment station.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across every component.
//
// # Features
//
//   - JSON output for unattended benches (machine-parsable)
//   - Text output for the interactive console
//   - Default fields (service, version) on all log entries
//   - Rotating log files through lumberjack
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: "./logs/aufbau.log"
//	    max_size: 10     # megabytes
//	    max_backups: 5
//	    max_age: 30      # days
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	defer logger.Close()
//	logger.Info("bus connected", "port", "/dev/ttyUSB0")
package logging
