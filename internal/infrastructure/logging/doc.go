// Package logging provides structured logging for the PDU bridge.
//
// This package wraps Go's standard log/slog package so every component
// (controller client, reconciler, power monitor, MQTT host) emits entries
// with the same default fields.
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
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("discovery").Info("reconciled", "added", 4)
//
// # Security
//
// Never log controller passwords, API keys or session tokens.
package logging
