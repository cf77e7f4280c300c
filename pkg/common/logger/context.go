package logger

import (
	"context"
	"sync"
)

// LoggerContext accumulates key/value pairs over the course of an operation
// and attaches them to every record it writes.
type LoggerContext struct {
	logger *Logger

	mu     sync.Mutex
	fields []any
}

// NewLoggerContext wraps the logger with an empty field set.
func NewLoggerContext(l *Logger) *LoggerContext {
	return &LoggerContext{logger: l}
}

// Add appends key/value pairs to the context.
func (lc *LoggerContext) Add(args ...any) {
	lc.mu.Lock()
	lc.fields = append(lc.fields, args...)
	lc.mu.Unlock()
}

func (lc *LoggerContext) merged(args []any) []any {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	out := make([]any, 0, len(lc.fields)+len(args))
	out = append(out, lc.fields...)
	return append(out, args...)
}

// Debug logs at LevelDebug with the accumulated fields.
func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.logger.write(ctx, LevelDebug, 3, msg, lc.merged(args)...)
}

// Info logs at LevelInfo with the accumulated fields.
func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.logger.write(ctx, LevelInfo, 3, msg, lc.merged(args)...)
}

// Warn logs at LevelWarn with the accumulated fields.
func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.logger.write(ctx, LevelWarn, 3, msg, lc.merged(args)...)
}

// Error logs at LevelError with the accumulated fields.
func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.logger.write(ctx, LevelError, 3, msg, lc.merged(args)...)
}
