// Package openai implements langchaingo's llms.Model on top of the OpenAI
// Chat Completions API (including streaming and tool calling). Pointing
// BaseURL at a Mesh gateway routes the reasoning loop through the platform.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tmc/langchaingo/llms"

	"github.com/hupe1980/meshkit/logging"
)

// ErrNoChoices is returned when the API answers without any choice.
var ErrNoChoices = errors.New("openai: no choices returned")

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// until the stream finishes.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI model adapter. Temperature and
// MaxCompletionTokens are defaults; per-call llms options override them.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
	MaxRetries          int
	HTTPClient          *http.Client
	Logger              logging.Logger
}

// Model wraps the OpenAI Chat Completions API behind llms.Model.
type Model struct {
	client *openai.Client
	opts   Options
}

var _ llms.Model = (*Model)(nil)

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		MaxRetries:          2,
		Logger:              logging.NoOpLogger{},
	}
}

// NewModel creates a model with its own client built from the options.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(opts.MaxRetries)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	client := openai.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a model from an existing client. Connection
// related options (APIKey, BaseURL, MaxRetries, HTTPClient) are ignored.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Call implements llms.Model.
func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// GenerateContent implements llms.Model. With llms.WithStreamingFunc the
// completion is streamed and every text delta is handed to the callback
// before the aggregated response is returned.
func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{
		Model:       m.opts.Model,
		Temperature: m.opts.Temperature,
		MaxTokens:   int(m.opts.MaxCompletionTokens),
	}
	for _, o := range options {
		o(&opts)
	}

	params := buildParams(buildMessages(messages), opts)

	if opts.StreamingFunc != nil {
		return m.handleStreaming(ctx, params, opts.StreamingFunc)
	}

	return m.handleNonStreaming(ctx, params)
}

// buildMessages converts langchaingo messages into OpenAI chat messages.
// Tool responses become tool messages; assistant tool calls are kept.
func buildMessages(messages []llms.MessageContent) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, mc := range messages {
		var text strings.Builder
		for _, p := range mc.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				text.WriteString(tc.Text)
			}
		}

		switch mc.Role {
		case llms.ChatMessageTypeSystem:
			out = append(out, openai.SystemMessage(text.String()))
		case llms.ChatMessageTypeAI:
			toolCalls := extractToolCalls(mc)
			if len(toolCalls) == 0 {
				out = append(out, openai.AssistantMessage(text.String()))
				continue
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: toolCalls,
			}})
		case llms.ChatMessageTypeTool:
			for _, p := range mc.Parts {
				if tr, ok := p.(llms.ToolCallResponse); ok {
					out = append(out, openai.ToolMessage(tr.Content, tr.ToolCallID))
				}
			}
		default:
			out = append(out, openai.UserMessage(text.String()))
		}
	}

	return out
}

// extractToolCalls returns the OpenAI form of the tool calls in an AI message.
func extractToolCalls(mc llms.MessageContent) []openai.ChatCompletionMessageToolCallParam {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, p := range mc.Parts {
		tc, ok := p.(llms.ToolCall)
		if !ok || tc.FunctionCall == nil {
			continue
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.FunctionCall.Name,
				Arguments: tc.FunctionCall.Arguments,
			},
		})
	}
	return toolCalls
}

// buildParams assembles the request parameters including tool definitions.
func buildParams(messages []openai.ChatCompletionMessageParamUnion, opts llms.CallOptions) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       opts.Model,
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if len(opts.StopWords) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.StopWords}
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}

	if len(opts.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, 0, len(opts.Tools))
	for _, t := range opts.Tools {
		if t.Function == nil {
			continue
		}
		fn := openai.FunctionDefinitionParam{
			Name:        t.Function.Name,
			Description: openai.String(t.Function.Description),
		}
		if schema, ok := t.Function.Parameters.(map[string]any); ok {
			fn.Parameters = schema
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	params.Tools = tools

	return params
}

// handleStreaming streams the completion, forwarding text deltas and
// aggregating tool call deltas into the final choice.
func (m *Model) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	fn func(ctx context.Context, chunk []byte) error,
) (*llms.ContentResponse, error) {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text         strings.Builder
		finishReason string
		usage        openai.CompletionUsage
	)
	toolAgg := map[int64]*aggCall{}

	for stream.Next() {
		ck := stream.Current()
		if ck.Usage.TotalTokens > 0 {
			usage = ck.Usage
		}

		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				if err := fn(ctx, []byte(ch.Delta.Content)); err != nil {
					return nil, fmt.Errorf("openai streaming callback: %w", err)
				}
			}
			aggregateToolCallDeltas(ch, toolAgg)
			if ch.FinishReason != "" {
				finishReason = ch.FinishReason
			}
		}
	}
	if err := stream.Err(); err != nil {
		m.opts.Logger.Debug("openai.stream.failed", "model", params.Model, "error", err.Error())
		return nil, fmt.Errorf("openai streaming error: %w", err)
	}

	choice := &llms.ContentChoice{
		Content:        text.String(),
		StopReason:     finishReason,
		GenerationInfo: generationInfo(usage),
		ToolCalls:      flushToolCalls(toolAgg),
	}
	if len(choice.ToolCalls) > 0 {
		choice.FuncCall = choice.ToolCalls[0].FunctionCall
	}

	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

func aggregateToolCallDeltas(ch openai.ChatCompletionChunkChoice, agg map[int64]*aggCall) {
	for _, tc := range ch.Delta.ToolCalls {
		ac, ok := agg[tc.Index]
		if !ok {
			ac = &aggCall{}
			agg[tc.Index] = ac
		}
		if tc.ID != "" {
			ac.id = tc.ID
		}
		if tc.Function.Name != "" {
			ac.name = tc.Function.Name
		}
		ac.args += tc.Function.Arguments
	}
}

func flushToolCalls(agg map[int64]*aggCall) []llms.ToolCall {
	if len(agg) == 0 {
		return nil
	}

	idx := make([]int64, 0, len(agg))
	for i := range agg {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })

	calls := make([]llms.ToolCall, 0, len(agg))
	for _, i := range idx {
		ac := agg[i]
		calls = append(calls, llms.ToolCall{
			ID:           ac.id,
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: ac.name, Arguments: ac.args},
		})
	}
	return calls
}

// handleNonStreaming processes a normal completion.
func (m *Model) handleNonStreaming(ctx context.Context, params openai.ChatCompletionNewParams) (*llms.ContentResponse, error) {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		m.opts.Logger.Debug("openai.completion.failed", "model", params.Model, "error", err.Error())
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	info := generationInfo(resp.Usage)
	choices := make([]*llms.ContentChoice, 0, len(resp.Choices))

	for _, ch := range resp.Choices {
		choice := &llms.ContentChoice{
			Content:        ch.Message.Content,
			StopReason:     ch.FinishReason,
			GenerationInfo: info,
		}
		for _, tc := range ch.Message.ToolCalls {
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:           tc.ID,
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
			})
		}
		if len(choice.ToolCalls) > 0 {
			choice.FuncCall = choice.ToolCalls[0].FunctionCall
		}
		choices = append(choices, choice)
	}

	m.opts.Logger.Debug("openai.completion", "model", resp.Model, "total_tokens", resp.Usage.TotalTokens)

	return &llms.ContentResponse{Choices: choices}, nil
}

func generationInfo(u openai.CompletionUsage) map[string]any {
	return map[string]any{
		"PromptTokens":     int(u.PromptTokens),
		"CompletionTokens": int(u.CompletionTokens),
		"TotalTokens":      int(u.TotalTokens),
	}
}

// Name returns the default model id.
func (m *Model) Name() string { return m.opts.Model }
