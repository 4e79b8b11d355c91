package es

import "context"

// Logger provides a minimal interface for observability and debugging. It
// is designed to be optional and non-blocking, with zero overhead when
// disabled. Users can implement this interface to integrate their
// preferred logging library; see es/obs for a go.uber.org/zap-backed
// implementation.
type Logger interface {
	// Debug logs detailed operational information.
	Debug(ctx context.Context, msg string, keyvals ...interface{})

	// Info logs significant events during normal operation.
	Info(ctx context.Context, msg string, keyvals ...interface{})

	// Error logs failures that require attention.
	Error(ctx context.Context, msg string, keyvals ...interface{})
}

// NoOpLogger is a Logger that does nothing. It is the default when no
// logger is configured.
type NoOpLogger struct{}

// Debug implements Logger.
func (NoOpLogger) Debug(_ context.Context, _ string, _ ...interface{}) {}

// Info implements Logger.
func (NoOpLogger) Info(_ context.Context, _ string, _ ...interface{}) {}

// Error implements Logger.
func (NoOpLogger) Error(_ context.Context, _ string, _ ...interface{}) {}
