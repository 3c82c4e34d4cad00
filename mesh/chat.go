package mesh

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// ChatCompletions runs a chat completion through the gateway's
// OpenAI-compatible endpoint.
func (c *Client) ChatCompletions(ctx context.Context, req ChatRequest) (*ChatCompletion, error) {
	if c.closed.Load() {
		return nil, sdkError("chat completions", ErrClientClosed)
	}

	params, err := chatParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.chat.Chat.Completions.New(ctx, params, option.WithHeader("X-Request-ID", uuid.NewString()))
	if err != nil {
		c.logger.Debug("mesh.chat.failed", "model", req.Model, "error", err.Error())
		return nil, fromOpenAI("chat completions", err)
	}

	out := &ChatCompletion{
		ID:      resp.ID,
		Model:   resp.Model,
		Choices: make([]Choice, 0, len(resp.Choices)),
	}
	for _, ch := range resp.Choices {
		out.Choices = append(out.Choices, Choice{
			Index:        ch.Index,
			Message:      ChatMessage{Role: RoleAssistant, Content: ch.Message.Content},
			FinishReason: ch.FinishReason,
		})
	}
	out.Usage = usage(resp.Usage)

	return out, nil
}

// ChatCompletionsStream starts a streamed chat completion. The caller must
// Close the returned stream.
func (c *Client) ChatCompletionsStream(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	if c.closed.Load() {
		return nil, sdkError("chat completions stream", ErrClientClosed)
	}

	params, err := chatParams(req)
	if err != nil {
		return nil, err
	}
	if req.IncludeUsage {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	}

	stream := c.chat.Chat.Completions.NewStreaming(ctx, params, option.WithHeader("X-Request-ID", uuid.NewString()))
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, fromOpenAI("chat completions stream", err)
	}

	return &ChatStream{stream: stream}, nil
}

// ChatStream is a finite, non-restartable sequence of chunks pulled with
// Next. Chunks already returned stay valid when a later chunk fails.
type ChatStream struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	current ChatCompletionChunk
}

// Next advances to the next chunk. It returns false at the end of the
// stream or on error; check Err afterwards.
func (s *ChatStream) Next() bool {
	if !s.stream.Next() {
		return false
	}

	ck := s.stream.Current()
	chunk := ChatCompletionChunk{
		ID:      ck.ID,
		Model:   ck.Model,
		Choices: make([]ChunkChoice, 0, len(ck.Choices)),
		Usage:   usage(ck.Usage),
	}
	for _, ch := range ck.Choices {
		chunk.Choices = append(chunk.Choices, ChunkChoice{
			Index:        ch.Index,
			Delta:        Delta{Role: ch.Delta.Role, Content: ch.Delta.Content},
			FinishReason: ch.FinishReason,
		})
	}
	s.current = chunk

	return true
}

// Current returns the chunk loaded by the last successful Next.
func (s *ChatStream) Current() ChatCompletionChunk { return s.current }

// Err returns the error that stopped iteration, if any.
func (s *ChatStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return fromOpenAI("chat completions stream", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *ChatStream) Close() error { return s.stream.Close() }

// Collect drains the stream, calling onDelta for every non-empty delta, and
// returns the concatenated text. On error the text received so far is
// returned together with the error.
func (s *ChatStream) Collect(onDelta func(string)) (string, error) {
	var text []byte
	for s.Next() {
		d := s.current.Text()
		if d == "" {
			continue
		}
		if onDelta != nil {
			onDelta(d)
		}
		text = append(text, d...)
	}
	return string(text), s.Err()
}

var errNoMessages = errors.New("at least one message is required")

func chatParams(req ChatRequest) (openai.ChatCompletionNewParams, error) {
	if req.Model == "" {
		return openai.ChatCompletionNewParams{}, sdkError("chat completions", errors.New("model is required"))
	}
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, sdkError("chat completions", errNoMessages)
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}

	return params, nil
}

func usage(u openai.CompletionUsage) *Usage {
	if u.TotalTokens == 0 && u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return nil
	}
	return &Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
