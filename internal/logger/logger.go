// Package logger owns the process-wide structured logger. Code logs
// through the package-level helpers; training entry points attach a run
// id and method name to their context so every log line of a run can be
// correlated.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// contextKey keys the values this package stores in a context.
type contextKey string

const (
	runIDKey     contextKey = "run_id"
	methodKey    contextKey = "method"
	operationKey contextKey = "operation"
)

var std *slog.Logger

// Setup installs the global logger. format is "json" or "text"; a nil
// writer means stderr.
func Setup(level, format string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	std = slog.New(handler)
	slog.SetDefault(std)
}

// Get returns the global logger, installing the default text logger on
// first use.
func Get() *slog.Logger {
	if std == nil {
		Setup("info", "text", nil)
	}
	return std
}

// ParseLevel maps a config string to a slog level. Unknown strings fall
// back to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun attaches a training run id and method name to ctx; FromContext
// surfaces them on every log line of the run.
func WithRun(ctx context.Context, runID, method string) context.Context {
	ctx = context.WithValue(ctx, runIDKey, runID)
	return context.WithValue(ctx, methodKey, method)
}

// WithOperation attaches an operation name (index, test, query-server)
// to ctx.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey, operation)
}

// FromContext returns the global logger carrying whatever run id, method
// and operation the context holds.
func FromContext(ctx context.Context) *slog.Logger {
	l := Get()
	for _, key := range []contextKey{runIDKey, methodKey, operationKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			l = l.With(string(key), v)
		}
	}
	return l
}

// Debug logs a debug message.
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }

// Info logs an info message.
func Info(msg string, args ...any) { Get().Info(msg, args...) }

// Warn logs a warning message.
func Warn(msg string, args ...any) { Get().Warn(msg, args...) }

// Error logs an error message.
func Error(msg string, args ...any) { Get().Error(msg, args...) }

// InfoContext logs an info message with the context's run attributes.
func InfoContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Info(msg, args...)
}

// WarnContext logs a warning with the context's run attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Warn(msg, args...)
}
