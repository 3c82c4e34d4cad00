package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(schema map[string]any) *FunctionTool {
	return NewFunctionTool("echo", "Echo the arguments back.", schema, func(_ context.Context, args map[string]any) (any, error) {
		return args, nil
	})
}

func TestParseInput(t *testing.T) {
	single := map[string]any{
		"properties": map[string]any{"url": map[string]any{"type": "string"}, "depth": map[string]any{"type": "integer"}},
		"required":   []any{"url"},
	}

	tests := []struct {
		name   string
		input  string
		schema map[string]any
		want   map[string]any
	}{
		{"json object", `{"a": 1, "b": "x"}`, nil, map[string]any{"a": 1.0, "b": "x"}},
		{"fenced json", "```json\n{\"a\": 1}\n```", nil, map[string]any{"a": 1.0}},
		{"plain text defaults to query", "latest go release", nil, map[string]any{"query": "latest go release"}},
		{"quoted text", `"hello"`, nil, map[string]any{"query": "hello"}},
		{"single required field", "https://go.dev", single, map[string]any{"url": "https://go.dev"}},
		{"broken json falls back", `{not json`, nil, map[string]any{"query": "{not json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseInput(tt.input, tt.schema))
		})
	}
}

func TestLangChain_CallRendersResult(t *testing.T) {
	lc := LangChain(echoTool(nil))

	out, err := lc.Call(context.Background(), `{"city":"Paris"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"city":"Paris"}`, out)

	str := LangChain(NewFunctionTool("s", "", nil, func(context.Context, map[string]any) (any, error) {
		return "plain", nil
	}))
	out, err = str.Call(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestLangChain_ErrorBecomesObservation(t *testing.T) {
	lc := LangChain(NewFunctionTool("bad", "", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("upstream down")
	}))

	out, err := lc.Call(context.Background(), "x")
	require.NoError(t, err)
	assert.Contains(t, out, "error:")
	assert.Contains(t, out, "upstream down")
}

func TestLangChain_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lc := LangChain(NewFunctionTool("slow", "", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		return nil, ctx.Err()
	}))

	_, err := lc.Call(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLangChain_DescriptionListsParameters(t *testing.T) {
	lc := LangChain(sumTool())

	assert.Equal(t, "sum", lc.Name())
	assert.Equal(t, "Add numbers Input: a JSON object with fields a (number, required), b (number, required).", lc.Description())
	assert.Equal(t, "Echo the arguments back.", LangChain(echoTool(nil)).Description())
}

func TestLangChainAll(t *testing.T) {
	ts := LangChainAll([]Tool{sumTool(), echoTool(nil)})
	require.Len(t, ts, 2)
	assert.Equal(t, "echo", ts[1].Name())
}
