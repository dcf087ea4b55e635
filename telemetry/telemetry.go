// Package telemetry defines the logging interface used across the DFM
// services. Services accept a Logger in their options and default to the
// no-op implementation when none is provided.
package telemetry

import "context"

type (
	// Logger is the structured logging interface used by the runtime and the
	// services. Implementations must be safe for concurrent use.
	Logger interface {
		// Debug emits a debug-level log message with structured key-value pairs.
		Debug(ctx context.Context, msg string, keyvals ...any)
		// Info emits an info-level log message with structured key-value pairs.
		Info(ctx context.Context, msg string, keyvals ...any)
		// Warn emits a warning-level log message with structured key-value pairs.
		Warn(ctx context.Context, msg string, keyvals ...any)
		// Error emits an error-level log message with structured key-value pairs.
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// NoopLogger discards all log messages.
	NoopLogger struct{}
)

// NewNoopLogger constructs a Logger that discards everything.
func NewNoopLogger() Logger { return NoopLogger{} }

func (NoopLogger) Debug(context.Context, string, ...any) {}
func (NoopLogger) Info(context.Context, string, ...any)  {}
func (NoopLogger) Warn(context.Context, string, ...any)  {}
func (NoopLogger) Error(context.Context, string, ...any) {}

// Or returns l when non-nil and the no-op logger otherwise.
func Or(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}
