package scopearena

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with arena-specific context.
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
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithArena adds an arena field to the logger.
func (l *Logger) WithArena(id ArenaID) *Logger {
	return &Logger{
		Logger: l.Logger.With("arena", uint64(id)),
	}
}

// WithCollector adds a collector field to the logger.
func (l *Logger) WithCollector(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collector", name),
	}
}

// LogCleanerPass logs a completed cleaner pass.
func (l *Logger) LogCleanerPass(ctx context.Context, epoch uint64, arenas, recycled int, elapsed time.Duration) {
	if recycled == 0 {
		return
	}
	l.DebugContext(ctx, "cleaner pass completed",
		"epoch", epoch,
		"arenas", arenas,
		"recycled", recycled,
		"elapsed", elapsed,
	)
}

// LogCompaction logs a compaction of one arena.
func (l *Logger) LogCompaction(ctx context.Context, id ArenaID, moved int, bytes int64, fragmentation float64, err error) {
	if err != nil {
		l.WarnContext(ctx, "compaction aborted",
			"arena", uint64(id),
			"moved", moved,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "compaction completed",
		"arena", uint64(id),
		"moved", moved,
		"bytes", bytes,
		"fragmentation", fragmentation,
	)
}

// LogDestroy logs the destruction of an arena.
func (l *Logger) LogDestroy(ctx context.Context, id ArenaID, children int, epoch uint64) {
	l.DebugContext(ctx, "arena destroyed",
		"arena", uint64(id),
		"children", children,
		"retired_at_epoch", epoch,
	)
}

// LogWaitTimeout logs a bounded wait that gave up.
func (l *Logger) LogWaitTimeout(ctx context.Context, id ArenaID, what string, waited time.Duration) {
	l.WarnContext(ctx, "bounded wait expired",
		"arena", uint64(id),
		"waiting_for", what,
		"waited", waited,
	)
}

// LogFatal logs an unrecoverable allocator failure.
func (l *Logger) LogFatal(ctx context.Context, id ArenaID, err error) {
	l.ErrorContext(ctx, "allocator failure",
		"arena", uint64(id),
		"error", err,
	)
}

// LogPanic logs a panic recovered in a background collector.
func (l *Logger) LogPanic(ctx context.Context, collector string, r any, stack []byte) {
	l.ErrorContext(ctx, "panic recovered in background collector",
		"collector", collector,
		"panic", r,
		"stack", string(stack),
	)
}
