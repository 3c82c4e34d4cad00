package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hupe1980/meshkit/mesh"
)

// Gateway is an in-process fake of the Mesh HTTP API, including the
// OpenAI-compatible chat endpoint (plain and SSE).
type Gateway struct {
	Server *httptest.Server

	mu sync.Mutex

	// APIKey, when set, is required as a bearer token.
	APIKey string

	Agents []mesh.Agent
	Tools  []mesh.Tool
	LLMs   []mesh.LLM

	// AgentReplies maps agent id to the returned data.
	AgentReplies map[string]any
	// ToolReplies maps tool name to the returned data.
	ToolReplies map[string]any

	// FailStatus forces a status for "METHOD /path" keys.
	FailStatus map[string]int
	// FailChatModels forces a status for chat calls on a model.
	FailChatModels map[string]int

	// Reply produces the completion text; defaults to "echo: <last message>".
	Reply func(model string, messages []mesh.ChatMessage) string
	// OmitUsage drops the usage block from completions.
	OmitUsage bool

	// StreamChunks are sent as deltas for streamed completions.
	StreamChunks []string
	// StreamBreakAfter emits a corrupt event after that many chunks (0 = never).
	StreamBreakAfter int

	requests []string
	bodies   []map[string]any
}

// NewGateway starts a gateway that is closed with the test.
func NewGateway(t testing.TB) *Gateway {
	t.Helper()

	g := &Gateway{
		AgentReplies:   map[string]any{},
		ToolReplies:    map[string]any{},
		FailStatus:     map[string]int{},
		FailChatModels: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/agents", func(w http.ResponseWriter, _ *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"data": nonNil(g.Agents)})
	})
	mux.HandleFunc("GET /v1/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		for _, a := range g.Agents {
			if a.ID == r.PathValue("id") {
				writeJSON(w, http.StatusOK, a)
				return
			}
		}
		writeError(w, http.StatusNotFound, "agent not found")
	})
	mux.HandleFunc("POST /v1/agents/{id}/call", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		data, ok := g.AgentReplies[r.PathValue("id")]
		if !ok {
			data = "agent " + r.PathValue("id") + " ok"
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data, "status": "success", "execution_time": 0.01})
	})
	mux.HandleFunc("GET /v1/tools", func(w http.ResponseWriter, _ *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		writeJSON(w, http.StatusOK, nonNil(g.Tools))
	})
	mux.HandleFunc("POST /v1/tools/{name}/call", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		data, ok := g.ToolReplies[r.PathValue("name")]
		if !ok {
			writeError(w, http.StatusNotFound, "tool not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data, "status": "success"})
	})
	mux.HandleFunc("GET /v1/llms", func(w http.ResponseWriter, _ *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"data": nonNil(g.LLMs)})
	})
	mux.HandleFunc("POST /v1/chat/completions", g.chat)

	g.Server = httptest.NewServer(g.middleware(mux))
	t.Cleanup(g.Server.Close)

	return g
}

// URL is the base URL to pass to mesh.Options.BaseURL.
func (g *Gateway) URL() string { return g.Server.URL }

// Requests returns "METHOD /path" for every request received so far.
func (g *Gateway) Requests() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.requests...)
}

// Count returns how many requests matched "METHOD /path".
func (g *Gateway) Count(key string) int {
	n := 0
	for _, r := range g.Requests() {
		if r == key {
			n++
		}
	}
	return n
}

// Bodies returns the decoded JSON bodies of POST requests, in order.
func (g *Gateway) Bodies() []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[string]any(nil), g.bodies...)
}

func (g *Gateway) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		g.mu.Lock()
		g.requests = append(g.requests, key)
		status := g.FailStatus[key]
		apiKey := g.APIKey
		g.mu.Unlock()

		if apiKey != "" && r.Header.Get("Authorization") != "Bearer "+apiKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		if status != 0 {
			writeError(w, status, fmt.Sprintf("forced %d", status))
			return
		}

		next.ServeHTTP(w, r)
	})
}

type chatBody struct {
	Model    string             `json:"model"`
	Messages []mesh.ChatMessage `json:"messages"`
	Stream   bool               `json:"stream"`
}

func (g *Gateway) chat(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, _ := json.Marshal(raw)
	var body chatBody
	_ = json.Unmarshal(b, &body)

	g.mu.Lock()
	g.bodies = append(g.bodies, raw)
	status := g.FailChatModels[body.Model]
	reply := g.Reply
	chunks := append([]string(nil), g.StreamChunks...)
	breakAfter := g.StreamBreakAfter
	omitUsage := g.OmitUsage
	g.mu.Unlock()

	if status != 0 {
		writeError(w, status, "model "+body.Model+" unavailable")
		return
	}

	if body.Stream {
		streamChunks(w, body.Model, chunks, breakAfter)
		return
	}

	text := "echo: "
	if n := len(body.Messages); n > 0 {
		text += body.Messages[n-1].Content
	}
	if reply != nil {
		text = reply(body.Model, body.Messages)
	}

	resp := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   body.Model,
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": text},
			"finish_reason": "stop",
		}},
	}
	if !omitUsage {
		resp["usage"] = map[string]any{"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
	}

	writeJSON(w, http.StatusOK, resp)
}

func streamChunks(w http.ResponseWriter, model string, chunks []string, breakAfter int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for i, c := range chunks {
		if breakAfter > 0 && i == breakAfter {
			fmt.Fprint(w, "data: {\"choices\": [\n\n")
			return
		}

		ev, _ := json.Marshal(map[string]any{
			"id":      "chunk",
			"object":  "chat.completion.chunk",
			"created": 1,
			"model":   model,
			"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": c}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", ev)
		if flusher != nil {
			flusher.Flush()
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"message": msg, "code": strings.ToLower(http.StatusText(status))}})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
