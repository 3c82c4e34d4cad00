package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func newTestModel(t *testing.T, reply string) (*Model, *[]map[string]any) {
	t.Helper()

	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, reply)
	}))
	t.Cleanup(srv.Close)

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/"
		o.MaxRetries = 0
		o.Model = "claude-test"
		o.Temperature = 0
	})

	return m, &bodies
}

const textReply = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
	"content":[{"type":"text","text":"Final Answer: 4"}],
	"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`

func TestModel_GenerateContent(t *testing.T) {
	m, bodies := newTestModel(t, textReply)

	resp, err := m.GenerateContent(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "be brief"),
		llms.TextParts(llms.ChatMessageTypeHuman, "What is 2+2?"),
	}, llms.WithStopWords([]string{"\nObservation:"}), llms.WithMaxTokens(100))
	require.NoError(t, err)

	choice := resp.Choices[0]
	assert.Equal(t, "Final Answer: 4", choice.Content)
	assert.Equal(t, "end_turn", choice.StopReason)
	assert.Equal(t, 15, choice.GenerationInfo["TotalTokens"])

	body := (*bodies)[0]
	assert.Equal(t, "claude-test", body["model"])
	assert.Equal(t, 100.0, body["max_tokens"])
	assert.Equal(t, []any{"\nObservation:"}, body["stop_sequences"])

	system, ok := body["system"].([]any)
	require.True(t, ok)
	assert.Equal(t, "be brief", system[0].(map[string]any)["text"])

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 1, "system messages are not sent as messages")
}

func TestModel_Call(t *testing.T) {
	m, _ := newTestModel(t, textReply)

	out, err := m.Call(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Final Answer: 4", out)
}

func TestModel_ToolUse(t *testing.T) {
	m, bodies := newTestModel(t, `{"id":"msg_2","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"tool_use","id":"tu_1","name":"calc","input":{"a":1}}],
		"stop_reason":"tool_use","usage":{"input_tokens":1,"output_tokens":1}}`)

	resp, err := m.GenerateContent(context.Background(),
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "add")},
		llms.WithTools([]llms.Tool{{Type: "function", Function: &llms.FunctionDefinition{
			Name: "calc",
			Parameters: map[string]any{
				"properties": map[string]any{"a": map[string]any{"type": "number"}},
				"required":   []any{"a"},
			},
		}}}),
	)
	require.NoError(t, err)

	choice := resp.Choices[0]
	require.Len(t, choice.ToolCalls, 1)
	assert.Equal(t, "tu_1", choice.ToolCalls[0].ID)
	assert.Equal(t, "calc", choice.FuncCall.Name)
	assert.JSONEq(t, `{"a":1}`, choice.FuncCall.Arguments)

	tools, ok := (*bodies)[0]["tools"].([]any)
	require.True(t, ok)
	schema := tools[0].(map[string]any)["input_schema"].(map[string]any)
	assert.Equal(t, []any{"a"}, schema["required"])
}

func TestModel_StreamingUnsupported(t *testing.T) {
	m, bodies := newTestModel(t, textReply)

	_, err := m.GenerateContent(context.Background(),
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "x")},
		llms.WithStreamingFunc(func(context.Context, []byte) error { return nil }),
	)
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
	assert.Empty(t, *bodies)
}

func TestBuildMessages_ToolRoundTrip(t *testing.T) {
	msgs := buildMessages([]llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "add 1"),
		{Role: llms.ChatMessageTypeAI, Parts: []llms.ContentPart{llms.ToolCall{
			ID: "tu_1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "calc", Arguments: `{"a":1}`},
		}}},
		{Role: llms.ChatMessageTypeTool, Parts: []llms.ContentPart{llms.ToolCallResponse{ToolCallID: "tu_1", Name: "calc", Content: "1"}}},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))
}
