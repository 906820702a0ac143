// Package log provides the structured logging facade used across flojobs.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Internally it is backed by log/slog via
// a bridge handler that applies level gating, key redaction and per-message
// sampling, then either formats entries through a Formatter/Output pair or
// hands them to a delegate slog.Handler.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("fetch"), log.Str("queue", "default"))
//	l.Info("job fetched", log.Str("job_id", id))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config. The "text" format
// renders through github.com/lmittmann/tint, "json" through slog's JSON
// handler.
//
// # Interop
//
// RedirectStdLog routes the standard library logger (used by Pebble) into a
// Logger.
package log
