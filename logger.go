package mapio

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with mapio-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithPath adds a path field to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogMap logs the creation of a mapping.
func (l *Logger) LogMap(ctx context.Context, kind string, bytes int, addr uintptr, err error) {
	if err != nil {
		l.ErrorContext(ctx, "map failed",
			"kind", kind,
			"bytes", bytes,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "map created",
			"kind", kind,
			"bytes", bytes,
			"addr", addr,
		)
	}
}

// LogTruncate logs a reservation change.
func (l *Logger) LogTruncate(ctx context.Context, from, to int, relocated bool, err error) {
	if err != nil {
		l.WarnContext(ctx, "truncate failed",
			"from", from,
			"to", to,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "truncate completed",
			"from", from,
			"to", to,
			"relocated", relocated,
		)
	}
}

// LogFault logs a hardware fault translated into an error.
func (l *Logger) LogFault(ctx context.Context, op string, addr uintptr) {
	l.WarnContext(ctx, "memory fault inside mapping",
		"op", op,
		"fault_addr", addr,
	)
}

// LogCacheTrim logs a recycling cache trim.
func (l *Logger) LogCacheTrim(ctx context.Context, s CacheStats) {
	l.InfoContext(ctx, "recycling cache trimmed",
		"items_trimmed", s.ItemsTrimmed,
		"bytes_trimmed", s.BytesTrimmed,
		"items_in_cache", s.ItemsInCache,
		"bytes_in_cache", s.BytesInCache,
	)
}

// LogFatal logs an unrecoverable failure right before the process aborts.
func (l *Logger) LogFatal(ctx context.Context, op string, addr uintptr, bytes int, err error) {
	l.ErrorContext(ctx, "unrecoverable mapping failure",
		"op", op,
		"addr", addr,
		"bytes", bytes,
		"error", err,
	)
}
