package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ErrScriptExhausted is returned once every scripted reply was consumed.
var ErrScriptExhausted = errors.New("scripted llm: no replies left")

// ScriptedLLM is an llms.Model replaying canned completions in order and
// recording the prompts it was given.
type ScriptedLLM struct {
	mu      sync.Mutex
	replies []string
	prompts []string
	stops   [][]string
}

var _ llms.Model = (*ScriptedLLM)(nil)

// NewScriptedLLM creates a model that answers with replies, one per call.
func NewScriptedLLM(replies ...string) *ScriptedLLM {
	return &ScriptedLLM{replies: replies}
}

// GenerateContent implements llms.Model.
func (s *ScriptedLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}

	var prompt string
	for _, m := range messages {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				prompt += tc.Text
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts = append(s.prompts, prompt)
	s.stops = append(s.stops, opts.StopWords)

	if len(s.replies) == 0 {
		return nil, ErrScriptExhausted
	}

	reply := s.replies[0]
	s.replies = s.replies[1:]

	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply, StopReason: "stop"}}}, nil
}

// Call implements llms.Model.
func (s *ScriptedLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

// Prompts returns every prompt seen so far.
func (s *ScriptedLLM) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// StopWords returns the stop words passed on each call.
func (s *ScriptedLLM) StopWords() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.stops...)
}
