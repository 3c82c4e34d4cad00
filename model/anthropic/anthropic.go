// Package anthropic implements langchaingo's llms.Model on top of the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/tmc/langchaingo/llms"

	"github.com/hupe1980/meshkit/internal/util"
	"github.com/hupe1980/meshkit/logging"
)

// ErrStreamingUnsupported is returned when a streaming callback is given.
var ErrStreamingUnsupported = errors.New("anthropic: streaming is not supported")

// Options configures the Anthropic model adapter. Temperature and MaxTokens
// are defaults; per-call llms options override them.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
	MaxRetries  int
	HTTPClient  *http.Client
	Logger      logging.Logger
}

// Model wraps the Anthropic Messages API behind llms.Model.
type Model struct {
	client *anthropic.Client
	opts   Options
}

var _ llms.Model = (*Model)(nil)

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
		MaxRetries:  2,
		Logger:      logging.NoOpLogger{},
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

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
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

// GenerateContent implements llms.Model.
func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{
		Model:       string(m.opts.Model),
		Temperature: m.opts.Temperature,
		MaxTokens:   int(m.opts.MaxTokens),
	}
	for _, o := range options {
		o(&opts)
	}

	if opts.StreamingFunc != nil {
		return nil, ErrStreamingUnsupported
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(opts.Model),
		Messages:    buildMessages(messages),
		MaxTokens:   int64(opts.MaxTokens),
		Temperature: anthropic.Float(opts.Temperature),
	}
	if system := extractSystem(messages); len(system) > 0 {
		params.System = system
	}
	if len(opts.StopWords) > 0 {
		params.StopSequences = opts.StopWords
	}
	if len(opts.Tools) > 0 {
		params.Tools = buildTools(opts.Tools)
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		m.opts.Logger.Debug("anthropic.message.failed", "model", opts.Model, "error", err.Error())
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var (
		text  strings.Builder
		calls []llms.ToolCall
	)

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			args, _ := json.Marshal(tu.Input)
			calls = append(calls, llms.ToolCall{
				ID:           tu.ID,
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: tu.Name, Arguments: string(args)},
			})
		}
	}

	stopReason := "stop"
	if resp.StopReason != "" {
		stopReason = string(resp.StopReason)
	}

	choice := &llms.ContentChoice{
		Content:    text.String(),
		StopReason: stopReason,
		ToolCalls:  calls,
		GenerationInfo: map[string]any{
			"InputTokens":  int(resp.Usage.InputTokens),
			"OutputTokens": int(resp.Usage.OutputTokens),
			"TotalTokens":  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	if len(calls) > 0 {
		choice.FuncCall = calls[0].FunctionCall
	}

	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

// buildMessages converts langchaingo messages to the Messages API format.
// System messages are sent separately; tool responses become user
// tool_result blocks.
func buildMessages(messages []llms.MessageContent) []anthropic.MessageParam {
	var out []anthropic.MessageParam

	for _, mc := range messages {
		switch mc.Role {
		case llms.ChatMessageTypeSystem:
			continue
		case llms.ChatMessageTypeAI:
			if blocks := assistantBlocks(mc.Parts); len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case llms.ChatMessageTypeTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, p := range mc.Parts {
				if tr, ok := p.(llms.ToolCallResponse); ok {
					blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, false))
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		default:
			if blocks := textBlocks(mc.Parts); len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}

	return out
}

func extractSystem(messages []llms.MessageContent) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, mc := range messages {
		if mc.Role != llms.ChatMessageTypeSystem {
			continue
		}
		for _, p := range mc.Parts {
			if tc, ok := p.(llms.TextContent); ok && tc.Text != "" {
				blocks = append(blocks, anthropic.TextBlockParam{Text: tc.Text})
			}
		}
	}
	return blocks
}

func textBlocks(parts []llms.ContentPart) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		if tc, ok := p.(llms.TextContent); ok && tc.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(tc.Text))
		}
	}
	return blocks
}

func assistantBlocks(parts []llms.ContentPart) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		switch part := p.(type) {
		case llms.TextContent:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case llms.ToolCall:
			if part.FunctionCall == nil {
				continue
			}
			var input any
			if err := json.Unmarshal([]byte(part.FunctionCall.Arguments), &input); err != nil {
				input = part.FunctionCall.Arguments
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(part.ID, input, part.FunctionCall.Name))
		}
	}
	return blocks
}

// buildTools converts llms tool definitions to Anthropic tools.
func buildTools(tools []llms.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, t := range tools {
		if t.Function == nil {
			continue
		}

		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if params, ok := t.Function.Parameters.(map[string]any); ok {
			if props, exists := params["properties"]; exists {
				schema.Properties = props
			}
			schema.Required = util.RequiredFields(params)
		}

		out = append(out, anthropic.ToolUnionParamOfTool(schema, t.Function.Name))
	}

	return out
}

// Name returns the default model id.
func (m *Model) Name() string { return string(m.opts.Model) }
