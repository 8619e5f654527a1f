package utils

import (
	"context"
	"log/slog"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Logger is a thin wrapper over slog used across handlers and background
// workers, so request-scoped fields attach uniformly.
type Logger struct {
	base *slog.Logger
}

func NewSlogLogger(base *slog.Logger) *Logger {
	return &Logger{base: base}
}

func (l *Logger) Debug(msg string, args ...any) {
	l.base.Debug(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.base.Info(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.base.Warn(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.base.Error(msg, args...)
}

// With returns a logger carrying additional fixed fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{base: l.base.With(args...)}
}

// Slog exposes the underlying slog.Logger for services that take it directly.
func (l *Logger) Slog() *slog.Logger {
	return l.base
}

// WithRequestID stores the request id on the context for ContextLogger.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ContextLogger returns a logger annotated with the request id from the
// context, when present.
func (l *Logger) ContextLogger(ctx context.Context) *Logger {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		return l.With("request_id", requestID)
	}
	return l
}
