// Package log wraps zerolog for structured logging across the broadcaster.
// log.Init configures the global Logger once at startup (JSON in production,
// console writer in development); WithComponent, WithQueue and WithMovement
// derive child loggers that attach a single context field so call sites don't
// repeat it on every log line.
package log
