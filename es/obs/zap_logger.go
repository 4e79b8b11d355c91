// Package obs provides a concrete es.Logger implementation backed by
// go.uber.org/zap, the structured logger the wider example corpus
// (xraph/forge, kraman/nats-test) reaches for.
package obs

import (
	"context"

	"go.uber.org/zap"

	"github.com/witzbould/event-store/es"
)

// ZapLogger adapts a *zap.Logger to es.Logger.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps the given zap logger. A nil logger falls back to
// zap.NewNop(), so ZapLogger is always safe to call.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

// NewProductionZapLogger builds a ZapLogger using zap's production preset.
// Panics if zap fails to build the logger, matching zap's own
// zap.Must convention.
func NewProductionZapLogger() *ZapLogger {
	return NewZapLogger(zap.Must(zap.NewProduction()))
}

var _ es.Logger = (*ZapLogger)(nil)

// Debug implements es.Logger.
func (l *ZapLogger) Debug(_ context.Context, msg string, keyvals ...interface{}) {
	l.logger.Sugar().Debugw(msg, keyvals...)
}

// Info implements es.Logger.
func (l *ZapLogger) Info(_ context.Context, msg string, keyvals ...interface{}) {
	l.logger.Sugar().Infow(msg, keyvals...)
}

// Error implements es.Logger.
func (l *ZapLogger) Error(_ context.Context, msg string, keyvals ...interface{}) {
	l.logger.Sugar().Errorw(msg, keyvals...)
}

// Sync flushes any buffered log entries. Call before process exit.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
