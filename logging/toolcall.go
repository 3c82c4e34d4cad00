package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ToolCall describes one tool invocation. Output, Err and Duration are only
// meaningful for the finishing record.
type ToolCall struct {
	RunID    string
	CallID   string
	Tool     string
	Args     map[string]any
	Output   any
	Err      error
	Duration time.Duration
}

// ToolCallRecorder receives a start and a finish notification for every
// tool invocation.
type ToolCallRecorder interface {
	ToolCallStarted(ctx context.Context, call ToolCall)
	ToolCallFinished(ctx context.Context, call ToolCall)
}

// ToolCallLog is an append-only JSON-lines sink for tool invocations.
// It is safe for concurrent use.
type ToolCallLog struct {
	logger *slog.Logger
	closer io.Closer
	once   sync.Once
}

// NewToolCallLog writes records to w. Closing the log does not close w.
func NewToolCallLog(w io.Writer) *ToolCallLog {
	return &ToolCallLog{
		logger: slog.New(slog.NewJSONHandler(&lockedWriter{w: w}, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
}

// OpenToolCallLog opens (creating as needed) path in append mode.
func OpenToolCallLog(path string) (*ToolCallLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create tool log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tool log: %w", err)
	}

	l := NewToolCallLog(f)
	l.closer = f

	return l, nil
}

// ToolCallStarted implements ToolCallRecorder.
func (l *ToolCallLog) ToolCallStarted(ctx context.Context, call ToolCall) {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "tool.call.start",
		slog.String("tool", call.Tool),
		slog.String("run_id", call.RunID),
		slog.String("call_id", call.CallID),
		slog.Any("args", call.Args),
	)
}

// ToolCallFinished implements ToolCallRecorder.
func (l *ToolCallLog) ToolCallFinished(ctx context.Context, call ToolCall) {
	attrs := []slog.Attr{
		slog.String("tool", call.Tool),
		slog.String("run_id", call.RunID),
		slog.String("call_id", call.CallID),
		slog.Int64("duration_ms", call.Duration.Milliseconds()),
	}

	if call.Err != nil {
		attrs = append(attrs, slog.String("error", call.Err.Error()))
		l.logger.LogAttrs(ctx, slog.LevelError, "tool.call.end", attrs...)
		return
	}

	attrs = append(attrs, slog.Any("output", call.Output))
	l.logger.LogAttrs(ctx, slog.LevelInfo, "tool.call.end", attrs...)
}

// Close releases the underlying file when the log was opened by path.
func (l *ToolCallLog) Close() error {
	var err error
	l.once.Do(func() {
		if l.closer != nil {
			err = l.closer.Close()
		}
	})
	return err
}

// lockedWriter serialises whole records; slog handlers already lock, but
// two handlers sharing one file would not.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
