package runner_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/agents"

	"github.com/hupe1980/meshkit/config"
	"github.com/hupe1980/meshkit/internal/testutil"
	"github.com/hupe1980/meshkit/logging"
	"github.com/hupe1980/meshkit/mesh"
	"github.com/hupe1980/meshkit/runner"
	"github.com/hupe1980/meshkit/tool"
)

func newGateway(t *testing.T) *testutil.Gateway {
	t.Helper()

	g := testutil.NewGateway(t)
	g.Agents = []mesh.Agent{{ID: "a1", Name: "Search Agent", Type: mesh.AgentTypeTool, Description: "searches"}}
	g.Tools = []mesh.Tool{{
		Name:        "Web Search",
		Description: "Searches the web.",
		AgentID:     "a1",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []any{"query"},
		},
	}}
	g.AgentReplies["a1"] = "Mesh has a search agent"

	return g
}

func newClient(t *testing.T, g *testutil.Gateway) *mesh.Client {
	t.Helper()

	c, err := mesh.NewClient("key", func(o *mesh.Options) {
		o.BaseURL = g.URL()
		o.MaxRetries = 0
		o.RetryWait = time.Millisecond
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		AgentProvider: "openai",
		MaxIterations: 5,
		ToolLogPath:   filepath.Join(t.TempDir(), "logs", "tool_calls.log"),
		LogLevel:      "error",
	}
}

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()

	var records []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, sc.Err())

	return records
}

const (
	searchStep  = "Thought: I should look up the agents\nAction: web_search\nAction Input: {\"query\": \"mesh agents\"}"
	finalAnswer = "Thought: I now know the final answer\nFinal Answer: There is one search agent."
)

func TestRun_LogsEveryToolCall(t *testing.T) {
	g := newGateway(t)
	llm := testutil.NewScriptedLLM(searchStep, finalAnswer)

	var buf bytes.Buffer
	res, err := runner.Run(context.Background(), testConfig(t), func(o *runner.Options) {
		o.Platform = newClient(t, g)
		o.LLM = llm
		o.ToolLog = logging.NewToolCallLog(&buf)
	})
	require.NoError(t, err)

	assert.Equal(t, "There is one search agent.", res.Answer)
	assert.Equal(t, runner.DefaultQuery, res.Query)
	assert.Equal(t, 1, res.Agents)
	assert.Equal(t, []string{"web_search"}, res.Tools)
	assert.Equal(t, 1, g.Count("POST /v1/agents/a1/call"), "exactly one delegate call")

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 2)

	start, end := records[0], records[1]
	assert.Equal(t, "tool.call.start", start["msg"])
	assert.Equal(t, "tool.call.end", end["msg"])
	for _, rec := range records {
		assert.Equal(t, "web_search", rec["tool"])
		assert.Equal(t, res.RunID, rec["run_id"])
	}
	assert.Equal(t, start["call_id"], end["call_id"])
	assert.Equal(t, map[string]any{"query": "mesh agents"}, start["args"])
	assert.Equal(t, "Mesh has a search agent", end["output"])

	prompts := llm.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "web_search: Searches the web.")
	assert.Contains(t, prompts[0], "should be one of [web_search]")
	assert.Contains(t, prompts[0], "Question: "+runner.DefaultQuery)
	assert.Contains(t, prompts[1], "Observation: Mesh has a search agent")
	assert.Contains(t, llm.StopWords()[0], "\nObservation:")
}

func TestRun_AppendsToLogFile(t *testing.T) {
	g := newGateway(t)
	cfg := testConfig(t)
	cfg.Query = "custom question"

	for range 2 {
		_, err := runner.Run(context.Background(), cfg, func(o *runner.Options) {
			o.Platform = newClient(t, g)
			o.LLM = testutil.NewScriptedLLM(searchStep, finalAnswer)
		})
		require.NoError(t, err)
	}

	data, err := os.ReadFile(cfg.ToolLogPath)
	require.NoError(t, err)

	records := decodeLines(t, data)
	require.Len(t, records, 4, "two records per call, two runs")
	assert.NotEqual(t, records[0]["run_id"], records[2]["run_id"])
}

func TestRun_QueryOverride(t *testing.T) {
	g := newGateway(t)
	llm := testutil.NewScriptedLLM("Final Answer: 42")

	res, err := runner.Run(context.Background(), testConfig(t), func(o *runner.Options) {
		o.Platform = newClient(t, g)
		o.LLM = llm
		o.ToolLog = logging.NewToolCallLog(&bytes.Buffer{})
		o.Query = "What is six times seven?"
	})
	require.NoError(t, err)

	assert.Equal(t, "42", res.Answer)
	assert.Contains(t, llm.Prompts()[0], "Question: What is six times seven?")
}

func TestRun_UnknownToolIsObserved(t *testing.T) {
	g := newGateway(t)
	llm := testutil.NewScriptedLLM("Action: teleport\nAction Input: mars", finalAnswer)

	var buf bytes.Buffer
	res, err := runner.Run(context.Background(), testConfig(t), func(o *runner.Options) {
		o.Platform = newClient(t, g)
		o.LLM = llm
		o.ToolLog = logging.NewToolCallLog(&buf)
	})
	require.NoError(t, err)

	assert.Equal(t, "There is one search agent.", res.Answer)
	assert.Empty(t, buf.String())
	assert.Contains(t, llm.Prompts()[1], "teleport is not a valid tool")
}

func TestRun_ToolFailureBecomesObservation(t *testing.T) {
	g := newGateway(t)
	g.FailStatus["POST /v1/agents/a1/call"] = 500
	llm := testutil.NewScriptedLLM(searchStep, finalAnswer)

	var buf bytes.Buffer
	_, err := runner.Run(context.Background(), testConfig(t), func(o *runner.Options) {
		o.Platform = newClient(t, g)
		o.LLM = llm
		o.ToolLog = logging.NewToolCallLog(&buf)
	})
	require.NoError(t, err)

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 2)
	assert.Equal(t, "ERROR", records[1]["level"])
	assert.Contains(t, records[1]["error"], "forced 500")
	assert.Contains(t, llm.Prompts()[1], "Observation: error: ")
}

func TestRun_MaxIterations(t *testing.T) {
	g := newGateway(t)
	cfg := testConfig(t)
	cfg.MaxIterations = 2

	var buf bytes.Buffer
	_, err := runner.Run(context.Background(), cfg, func(o *runner.Options) {
		o.Platform = newClient(t, g)
		o.LLM = testutil.NewScriptedLLM(searchStep, searchStep, finalAnswer)
		o.ToolLog = logging.NewToolCallLog(&buf)
	})
	require.ErrorIs(t, err, agents.ErrNotFinished)

	assert.Len(t, decodeLines(t, buf.Bytes()), 4)
}

func TestRun_ListAgentsFailure(t *testing.T) {
	g := newGateway(t)
	g.FailStatus["GET /v1/agents"] = 503

	_, err := runner.Run(context.Background(), testConfig(t), func(o *runner.Options) {
		o.Platform = newClient(t, g)
		o.LLM = testutil.NewScriptedLLM(finalAnswer)
		o.ToolLog = logging.NewToolCallLog(&bytes.Buffer{})
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, mesh.ErrSDK)
	assert.True(t, strings.HasPrefix(err.Error(), "list agents:"))
}

func TestRun_MissingProviderKey(t *testing.T) {
	g := newGateway(t)

	_, err := runner.Run(context.Background(), testConfig(t), func(o *runner.Options) {
		o.Platform = newClient(t, g)
		o.ToolLog = logging.NewToolCallLog(&bytes.Buffer{})
	})
	assert.ErrorIs(t, err, config.ErrMissingCredential)
}

func TestRun_MeshTokenRoutesModelThroughGateway(t *testing.T) {
	g := newGateway(t)
	g.APIKey = "mesh-token"
	g.Reply = func(model string, _ []mesh.ChatMessage) string {
		return "Thought: done\nFinal Answer: routed via " + model
	}

	cfg := testConfig(t)
	cfg.MeshToken = "mesh-token"
	cfg.MeshBaseURL = g.URL()

	res, err := runner.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "routed via gpt-4o-mini", res.Answer)
	assert.Equal(t, 1, g.Count("POST /v1/chat/completions"))

	body := g.Bodies()[0]
	assert.Equal(t, 0.0, body["temperature"])
	assert.Contains(t, body["stop"], "\nObservation:")
}

func TestRun_LocalToolsAreLogged(t *testing.T) {
	g := newGateway(t)

	calls := 0
	add := tool.NewFunctionTool("add", "Adds a and b.", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []any{"a", "b"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		calls++
		return args["a"].(float64) + args["b"].(float64), nil
	})

	llm := testutil.NewScriptedLLM("Action: add\nAction Input: {\"a\": 1, \"b\": 2}", "Final Answer: 3")

	var buf bytes.Buffer
	res, err := runner.Run(context.Background(), testConfig(t), func(o *runner.Options) {
		o.Platform = newClient(t, g)
		o.LLM = llm
		o.ToolLog = logging.NewToolCallLog(&buf)
		o.LocalTools = []tool.Tool{add}
	})
	require.NoError(t, err)

	assert.Equal(t, "3", res.Answer)
	assert.Equal(t, []string{"web_search", "add"}, res.Tools)
	assert.Equal(t, 1, calls)

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 2)
	assert.Equal(t, "add", records[0]["tool"])
	assert.Equal(t, 3.0, records[1]["output"])
	assert.Contains(t, llm.Prompts()[1], "Observation: 3")
}

func TestRun_UnboundAgentsBecomeTools(t *testing.T) {
	g := newGateway(t)
	g.Agents = append(g.Agents, mesh.Agent{ID: "w1", Name: "Writer", Description: "Drafts text."})
	g.AgentReplies["w1"] = "a draft"

	llm := testutil.NewScriptedLLM("Action: writer\nAction Input: {\"topic\": \"go\"}", "Final Answer: done")

	var buf bytes.Buffer
	res, err := runner.Run(context.Background(), testConfig(t), func(o *runner.Options) {
		o.Platform = newClient(t, g)
		o.LLM = llm
		o.ToolLog = logging.NewToolCallLog(&buf)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Agents)
	assert.Equal(t, []string{"web_search", "writer"}, res.Tools)
	assert.Equal(t, 1, g.Count("POST /v1/agents/w1/call"))
	assert.Contains(t, llm.Prompts()[0], "writer: Drafts text.")
	assert.Contains(t, llm.Prompts()[1], "Observation: a draft")
	assert.Len(t, decodeLines(t, buf.Bytes()), 2)
}

func TestRun_AnthropicProviderUsesItsDefaultModel(t *testing.T) {
	g := newGateway(t)

	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		models = append(models, fmt.Sprint(body["model"]))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude",
			"content":[{"type":"text","text":"Thought: done\nFinal Answer: from claude"}],
			"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t)
	cfg.AgentProvider = "anthropic"
	cfg.AnthropicAPIKey = "ak"
	cfg.AgentBaseURL = srv.URL + "/"

	res, err := runner.Run(context.Background(), cfg, func(o *runner.Options) {
		o.Platform = newClient(t, g)
		o.ToolLog = logging.NewToolCallLog(&bytes.Buffer{})
	})
	require.NoError(t, err)

	assert.Equal(t, "from claude", res.Answer)
	assert.Equal(t, []string{"claude-3-5-sonnet-20241022"}, models)
	assert.Zero(t, g.Count("POST /v1/chat/completions"))
}
