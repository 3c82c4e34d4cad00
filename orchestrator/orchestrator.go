// Package orchestrator runs the Mesh platform demo: it lists agents, tools
// and models, calls the first agent, runs a chat completion with a fallback
// model and a streamed completion, and prints a transcript.
//
// Failures of the listing calls abort the run and are classified into an
// Outcome; failures of the individual demo steps are logged as warnings and
// the run continues.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/meshkit/config"
	"github.com/hupe1980/meshkit/logging"
	"github.com/hupe1980/meshkit/mesh"
)

// Demo inputs.
const (
	AgentQuery   = "Hello from the new professional SDK!"
	SystemPrompt = "You are a helpful assistant that provides clear, concise answers."
	ChatQuery    = "What is 2+2? Also explain why mathematics is important."
	StoryPrompt  = "Tell me a very short story about AI"

	maxListedAgents = 3
)

// Platform is the part of the Mesh client the demo needs. *mesh.Client
// implements it.
type Platform interface {
	ListAgents(ctx context.Context) ([]mesh.Agent, error)
	ListTools(ctx context.Context) ([]mesh.Tool, error)
	ListLLMs(ctx context.Context) ([]mesh.LLM, error)
	CallAgent(ctx context.Context, agentID string, inputs map[string]any, optFns ...mesh.CallOption) (*mesh.AgentResponse, error)
	ChatCompletions(ctx context.Context, req mesh.ChatRequest) (*mesh.ChatCompletion, error)
	ChatCompletionsStream(ctx context.Context, req mesh.ChatRequest) (*mesh.ChatStream, error)
	Close() error
}

var _ Platform = (*mesh.Client)(nil)

// Options configures Run.
type Options struct {
	// Stdout receives the transcript.
	Stdout io.Writer
	// Logger receives progress, warnings and the final error report.
	Logger logging.Logger
	// Connect opens the platform session. Defaults to mesh.NewClient.
	Connect func(cfg *config.Config) (Platform, error)
}

// Run executes the demo and returns the process exit code.
func Run(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) int {
	opts := Options{
		Stdout:  os.Stdout,
		Logger:  logging.NoOpLogger{},
		Connect: Connect,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	d := &demo{cfg: cfg, out: opts.Stdout, logger: opts.Logger}

	outcome := Classify(d.run(ctx, opts.Connect))
	outcome.Report(opts.Logger)

	return outcome.ExitCode()
}

// Connect opens a mesh.Client for cfg.
func Connect(cfg *config.Config) (Platform, error) {
	return mesh.NewClient(cfg.MeshAPIKey, func(o *mesh.Options) {
		if cfg.MeshBaseURL != "" {
			o.BaseURL = cfg.MeshBaseURL
		}
		o.MaxRetries = cfg.MaxRetries
		o.Logger = cfg.Logger().WithComponent("mesh")
	})
}

type demo struct {
	cfg    *config.Config
	out    io.Writer
	logger logging.Logger
}

func (d *demo) run(ctx context.Context, connect func(*config.Config) (Platform, error)) error {
	if err := d.cfg.RequireMeshAPIKey(); err != nil {
		return err
	}

	d.logger.Info("🚀 Initializing Mesh SDK client...")

	client, err := connect(d.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	d.logger.Info("📋 Fetching available agents...")

	agents, err := client.ListAgents(ctx)
	if err != nil {
		return err
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		return err
	}

	llms, err := client.ListLLMs(ctx)
	if err != nil {
		return err
	}

	d.logger.Info(fmt.Sprintf("Found %d agents, %d tools, %d LLMs", len(agents), len(tools), len(llms)))

	if len(agents) > 0 {
		d.printAgents(agents)
		d.callFirstAgent(ctx, client, agents[0])
	}

	if len(llms) > 0 {
		d.chat(ctx, client, llms[0])
		d.stream(ctx, client, llms[0])
	}

	d.printBanner()

	return nil
}

func (d *demo) printAgents(agents []mesh.Agent) {
	fmt.Fprintln(d.out, "\n🤖 Available Agents:")

	for _, a := range agents[:min(len(agents), maxListedAgents)] {
		fmt.Fprintf(d.out, "- %s (%s): %s\n", a.Name, a.Type, a.Description)
	}

	if n := len(agents) - maxListedAgents; n > 0 {
		fmt.Fprintf(d.out, "  ... and %d more\n", n)
	}
}

func (d *demo) callFirstAgent(ctx context.Context, client Platform, agent mesh.Agent) {
	d.logger.Info("🔧 Testing agent call...")

	resp, err := client.CallAgent(ctx, agent.ID, map[string]any{"query": AgentQuery}, mesh.WithoutValidation())
	if err != nil {
		d.logger.Warn(fmt.Sprintf("Agent call failed: %v", err), "agent", agent.ID)
		return
	}

	fmt.Fprintf(d.out, "\n✅ Agent '%s' Response:\n", agent.Name)
	fmt.Fprintln(d.out, resp.Text())
}

func (d *demo) chat(ctx context.Context, client Platform, fallback mesh.LLM) {
	d.logger.Info("💬 Testing chat completions...")

	req := mesh.ChatRequest{
		Model: d.cfg.PreferredModel,
		Messages: []mesh.ChatMessage{
			mesh.SystemMessage(SystemPrompt),
			mesh.UserMessage(ChatQuery),
		},
		Temperature: mesh.Float(0.3),
		MaxTokens:   200,
	}

	fmt.Fprintf(d.out, "\n🔍 Query: %s\n", ChatQuery)
	fmt.Fprintln(d.out, strings.Repeat("-", 50))

	resp, err := client.ChatCompletions(ctx, req)
	if err == nil {
		fmt.Fprintf(d.out, "\n💡 Response from %s:\n", resp.Model)
		fmt.Fprintln(d.out, resp.Content())

		if u := resp.Usage; u != nil {
			fmt.Fprintln(d.out, "\n📊 Usage Stats:")
			fmt.Fprintf(d.out, "- Prompt tokens: %d\n", u.PromptTokens)
			fmt.Fprintf(d.out, "- Completion tokens: %d\n", u.CompletionTokens)
			fmt.Fprintf(d.out, "- Total tokens: %d\n", u.TotalTokens)
		}
		return
	}

	d.logger.Warn(fmt.Sprintf("Failed with specified model, trying first available LLM: %v", err), "model", req.Model)

	req.Model = fallback.ID

	resp, err = client.ChatCompletions(ctx, req)
	if err != nil {
		d.logger.Error(fmt.Sprintf("Chat completion failed: %v", err), "model", req.Model)
		return
	}

	fmt.Fprintf(d.out, "\n💡 Response from %s:\n", fallback.DisplayName())
	fmt.Fprintln(d.out, resp.Content())
}

func (d *demo) stream(ctx context.Context, client Platform, llm mesh.LLM) {
	d.logger.Info("📡 Testing streaming response...")

	fmt.Fprintln(d.out, "\n📖 Streaming Story:")
	fmt.Fprintln(d.out, strings.Repeat("-", 25))

	stream, err := client.ChatCompletionsStream(ctx, mesh.ChatRequest{
		Model:       llm.ID,
		Messages:    []mesh.ChatMessage{mesh.UserMessage(StoryPrompt)},
		Temperature: mesh.Float(0.8),
		MaxTokens:   100,
	})
	if err != nil {
		d.logger.Warn(fmt.Sprintf("Streaming failed: %v", err), "model", llm.ID)
		return
	}
	defer func() { _ = stream.Close() }()

	text, err := stream.Collect(func(delta string) {
		fmt.Fprint(d.out, delta)
	})
	if err != nil {
		d.logger.Warn(fmt.Sprintf("Streaming failed: %v", err), "model", llm.ID, "received", utf8.RuneCountInString(text))
		return
	}

	fmt.Fprintf(d.out, "\n\n✅ Streaming completed (%d characters)\n", utf8.RuneCountInString(text))
}

func (d *demo) printBanner() {
	rule := strings.Repeat("=", 60)

	fmt.Fprintln(d.out, "\n"+rule)
	fmt.Fprintln(d.out, "🎉 Professional SDK Demo Completed Successfully!")
	fmt.Fprintln(d.out, "✨ The new SDK provides:")
	for _, line := range []string{
		"Typed API with Go structs",
		"Comprehensive error handling",
		"Context-aware cancellation",
		"Built-in retry logic",
		"Structured logging",
		"LangChain integration (langchaingo)",
	} {
		fmt.Fprintln(d.out, "   - "+line)
	}
	fmt.Fprintln(d.out, rule)
}
