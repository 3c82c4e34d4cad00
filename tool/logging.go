package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/meshkit/logging"
)

// LoggingOptions configures WithLogging.
type LoggingOptions struct {
	// RunID correlates all calls of one agent run. Defaults to a fresh uuid.
	RunID string
}

// loggedTool brackets every call of the wrapped tool with a start and a
// finish record.
type loggedTool struct {
	Tool
	recorder logging.ToolCallRecorder
	runID    string
}

// WithLogging wraps t so that each Call emits exactly one start record before
// and one finish record after delegating to t, even when t panics.
func WithLogging(t Tool, recorder logging.ToolCallRecorder, optFns ...func(o *LoggingOptions)) Tool {
	opts := LoggingOptions{RunID: uuid.NewString()}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &loggedTool{Tool: t, recorder: recorder, runID: opts.RunID}
}

// WithLoggingAll applies WithLogging to every tool, sharing one run id.
func WithLoggingAll(ts []Tool, recorder logging.ToolCallRecorder, optFns ...func(o *LoggingOptions)) []Tool {
	opts := LoggingOptions{RunID: uuid.NewString()}
	for _, fn := range optFns {
		fn(&opts)
	}

	out := make([]Tool, len(ts))
	for i, t := range ts {
		out[i] = WithLogging(t, recorder, func(o *LoggingOptions) { o.RunID = opts.RunID })
	}

	return out
}

// Call implements Tool.
func (t *loggedTool) Call(ctx context.Context, args map[string]any) (result any, err error) {
	call := logging.ToolCall{
		RunID:  t.runID,
		CallID: uuid.NewString(),
		Tool:   t.Name(),
		Args:   args,
	}

	t.recorder.ToolCallStarted(ctx, call)

	start := time.Now()

	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("tool %s panicked: %v", call.Tool, r)
		}

		call.Output = result
		call.Err = err
		call.Duration = time.Since(start)
		t.recorder.ToolCallFinished(ctx, call)

		if r != nil {
			panic(r)
		}
	}()

	return t.Tool.Call(ctx, args)
}

// Unwrap returns the decorated tool.
func (t *loggedTool) Unwrap() Tool { return t.Tool }
