package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/meshkit/internal/util"
)

// FunctionTool exposes a plain Go function as a Tool.
//
// Arguments are validated against the declared schema before the function
// runs. Failures are normalised to *ToolError:
//
//	VALIDATION_ERROR  -> schema / argument mismatch
//	EXECUTION_ERROR   -> the function returned a non-ToolError error
//
// A *ToolError returned by the function is forwarded unchanged. FunctionTool
// holds no mutable state and is safe for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from an explicit schema.
//
//	clock := tool.NewFunctionTool(
//	  "utc_time",
//	  "Returns the current UTC time. Input: an optional layout.",
//	  map[string]any{
//	    "type":       "object",
//	    "properties": map[string]any{"layout": map[string]any{"type": "string"}},
//	  },
//	  func(_ context.Context, args map[string]any) (any, error) {
//	    layout, _ := args["layout"].(string)
//	    if layout == "" {
//	      layout = time.RFC3339
//	    }
//	    return time.Now().UTC().Format(layout), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct's
// json tags; see util.CreateSchema for the rules.
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

func (t *FunctionTool) Name() string { return t.name }

func (t *FunctionTool) Description() string { return t.description }

func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args, then runs the function.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, t.parameters); err != nil {
		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Err:     err,
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, toolErr
		}

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    CodeExecution,
			Err:     err,
		}
	}

	return result, nil
}
