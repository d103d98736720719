// Package subscriber holds the concrete subscribers wired by etcwatch: a
// logger, an email notifier, and adapters feeding processors and persisters.
package subscriber

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"etcwatch/internal/pubsub"
)

// Logger writes every event it receives to a zap logger.
type Logger struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewLogger creates a Logger subscriber logging at level.
func NewLogger(logger *zap.Logger, level zapcore.Level) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		logger: logger.Named("events"),
		level:  level,
	}
}

func (l *Logger) Name() string {
	return "logger"
}

func (l *Logger) Handle(_ context.Context, event pubsub.Event) error {
	l.logger.Log(l.level, "event received",
		zap.String("eventType", event.Type()),
		zap.Any("payload", event.Payload()),
	)
	return nil
}
