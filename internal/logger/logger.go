// Package logger provides structured logging setup using slog.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	callerIDKey
	jobIDKey
)

// New creates a new structured JSON logger at info level.
func New() *slog.Logger {
	return NewWithOptions(os.Stdout, "info", "json")
}

// NewWithOptions creates a logger writing to w. format is "json" or "text";
// unknown levels fall back to info.
func NewWithOptions(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID returns a new context with the given request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithCallerID returns a new context carrying the authenticated caller.
func WithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDKey, callerID)
}

// CallerIDFromContext extracts the caller ID from the context.
func CallerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerIDKey).(string); ok {
		return v
	}
	return ""
}

// WithJobID returns a new context tagged with an attack job ID.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// FromContext returns a logger with context fields (request ID, caller, job) attached.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	l := base
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		l = l.With("request_id", reqID)
	}
	if caller := CallerIDFromContext(ctx); caller != "" {
		l = l.With("caller_id", caller)
	}
	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		l = l.With("job_id", jobID)
	}
	return l
}
