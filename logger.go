package chunkgraph

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/chunkgraph/core"
)

// Logger wraps slog.Logger with chunkgraph-specific context.
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

// WithGraph adds the graph ID to the logger.
func (l *Logger) WithGraph(graphID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("graph", graphID),
	}
}

// WithSegment adds a segment ID field to the logger.
func (l *Logger) WithSegment(id core.SegmentID) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", id.String()),
	}
}

// LogBuild logs a completed or failed graph build.
func (l *Logger) LogBuild(ctx context.Context, epoch string, nodesPerLayer []uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"epoch", epoch,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "build completed",
			"epoch", epoch,
			"nodes_per_layer", nodesPerLayer,
		)
	}
}

// LogManifest logs a manifest request.
func (l *Logger) LogManifest(ctx context.Context, id core.SegmentID, fragments int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "manifest failed",
			"segment", id.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "manifest completed",
			"segment", id.String(),
			"fragments", fragments,
		)
	}
}

// LogMerge logs an edit operation.
func (l *Logger) LogMerge(ctx context.Context, a, b, root core.SegmentID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "merge failed",
			"a", a.String(),
			"b", b.String(),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "merge completed",
			"a", a.String(),
			"b", b.String(),
			"root", root.String(),
		)
	}
}

// LogSplit logs a split edit.
func (l *Logger) LogSplit(ctx context.Context, a, b core.SegmentID, roots []core.SegmentID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "split failed",
			"a", a.String(),
			"b", b.String(),
			"error", err,
		)
	} else {
		strs := make([]string, len(roots))
		for i, r := range roots {
			strs[i] = r.String()
		}
		l.InfoContext(ctx, "split completed",
			"a", a.String(),
			"b", b.String(),
			"roots", strs,
		)
	}
}
