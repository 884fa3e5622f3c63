package graphgo

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/graphgo/core"
)

// Logger wraps slog.Logger with graphgo-specific context.
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
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithRecord adds a record id field to the logger.
func (l *Logger) WithRecord(id core.RecordID) *Logger {
	return &Logger{
		Logger: l.Logger.With("record", uint32(id)),
	}
}

// WithHorizon adds a horizon field to the logger.
func (l *Logger) WithHorizon(h core.RecordID) *Logger {
	return &Logger{
		Logger: l.Logger.With("horizon", uint32(h)),
	}
}

// LogCommit logs a commit operation.
func (l *Logger) LogCommit(ctx context.Context, id core.RecordID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"record", uint32(id),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "commit completed",
			"record", uint32(id),
		)
	}
}

// LogCheckpoint logs a checkpoint attempt.
func (l *Logger) LogCheckpoint(ctx context.Context, horizon core.RecordID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"horizon", uint32(horizon),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "checkpoint completed",
			"horizon", uint32(horizon),
		)
	}
}

// LogRollback logs a rollback operation.
func (l *Logger) LogRollback(ctx context.Context, target core.RecordID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rollback failed",
			"target", uint32(target),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "rollback completed",
			"target", uint32(target),
		)
	}
}

// LogRecovery logs the startup recovery replay.
func (l *Logger) LogRecovery(ctx context.Context, replayed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed",
			"records_replayed", replayed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "recovery completed",
			"records_replayed", replayed,
		)
	}
}
