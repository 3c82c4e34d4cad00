package mesh

import (
	"encoding/json"
	"fmt"
)

// AgentType classifies a platform agent.
type AgentType string

const (
	AgentTypeTool     AgentType = "tool"
	AgentTypeLLM      AgentType = "llm"
	AgentTypeWorkflow AgentType = "workflow"
	AgentTypeCustom   AgentType = "custom"
)

// String returns the wire value, or "Unknown" when the platform sent none.
func (t AgentType) String() string {
	if t == "" {
		return "Unknown"
	}
	return string(t)
}

// Agent describes a remote capability exposed by the platform.
type Agent struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        AgentType      `json:"type,omitempty"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Tool describes a callable capability. Tools bound to an agent are invoked
// through that agent; the rest through the tool endpoint.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// LLM describes a chat model routed by the gateway.
type LLM struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Provider      string `json:"provider,omitempty"`
	ContextWindow int    `json:"context_window,omitempty"`
}

// DisplayName returns Name, falling back to ID.
func (l LLM) DisplayName() string {
	if l.Name != "" {
		return l.Name
	}
	return l.ID
}

// AgentResponse is the result of an agent or tool call.
type AgentResponse struct {
	Data          any     `json:"data"`
	Status        string  `json:"status,omitempty"`
	ExecutionTime float64 `json:"execution_time,omitempty"`
}

// Text renders Data for display: strings verbatim, everything else as JSON.
func (r *AgentResponse) Text() string {
	switch d := r.Data.(type) {
	case nil:
		return ""
	case string:
		return d
	}

	b, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Sprint(r.Data)
	}
	return string(b)
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one role-tagged message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// ChatRequest is a chat completion request. Nil Temperature and zero
// MaxTokens leave the gateway defaults in place.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature *float64
	MaxTokens   int64
	// IncludeUsage sends stream_options.include_usage on streamed requests
	// so the last chunk carries Usage.
	IncludeUsage bool
}

// Float returns a pointer to v, for ChatRequest.Temperature.
func Float(v float64) *float64 { return &v }

// Usage holds token counters.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Choice is one completion alternative.
type Choice struct {
	Index        int64       `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletion is a non-streaming chat completion response. Usage is nil
// when the gateway does not report it.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Content returns the first choice's text.
func (c *ChatCompletion) Content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Content
}

// Delta is the incremental part of a streamed choice.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one choice inside a streamed chunk.
type ChunkChoice struct {
	Index        int64  `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ChatCompletionChunk is one element of a streamed completion.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// Text returns the first choice's delta content, if any.
func (c ChatCompletionChunk) Text() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}
