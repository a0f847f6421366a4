// Package logging provides structured logging configuration for the
// subscription test helper.
//
// This package wraps log/slog to provide consistent logging across all
// components. It supports configurable log levels and output formats.
//
// # Usage
//
// Create a logger with desired configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelDebug,
//	    Format: logging.FormatText,
//	})
//
//	logger.Debug("sending start message", "id", 3)
//
// # Integration
//
// Components accept a *slog.Logger via their configuration. If no logger
// is provided, logging.Nop() is used and all output is discarded — tests
// stay quiet by default and can opt into debug traces of the subscription
// lifecycle when diagnosing a failure.
package logging
