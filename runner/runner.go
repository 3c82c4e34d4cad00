package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/agents"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"

	"github.com/hupe1980/meshkit/config"
	"github.com/hupe1980/meshkit/logging"
	"github.com/hupe1980/meshkit/mesh"
	"github.com/hupe1980/meshkit/model"
	"github.com/hupe1980/meshkit/prompt"
	"github.com/hupe1980/meshkit/tool"
)

// DefaultQuery is asked when neither Options.Query nor the config set one.
const DefaultQuery = "Which agents are available on the Mesh platform, and what would you use them for?"

// ErrNoOutput is returned when the executor finishes without an output value.
var ErrNoOutput = errors.New("agent returned no output")

// Platform is the part of the Mesh client the runner needs. *mesh.Client
// implements it.
type Platform interface {
	ListAgents(ctx context.Context) ([]mesh.Agent, error)
	AsTools(ctx context.Context, agents ...mesh.Agent) ([]tool.Tool, error)
	Close() error
}

var _ Platform = (*mesh.Client)(nil)

// Options holds dependency overrides for Run. Unset fields are built from
// the config.
type Options struct {
	// Query overrides cfg.Query and DefaultQuery.
	Query string
	// Platform replaces the Mesh client.
	Platform Platform
	// LLM replaces the reasoning model built by model.New.
	LLM llms.Model
	// PromptHub replaces the hub built from cfg.PromptHubURL.
	PromptHub *prompt.Hub
	// LocalTools are offered next to the platform's tools and logged the
	// same way.
	LocalTools []tool.Tool
	// ToolLog replaces the file sink opened at cfg.ToolLogPath.
	ToolLog logging.ToolCallRecorder
	// Logger receives progress messages.
	Logger logging.Logger
}

// Result is the outcome of a successful run.
type Result struct {
	RunID  string
	Query  string
	Answer string
	Agents int
	Tools  []string
}

// Run executes the query end to end and returns the agent's final answer.
func Run(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Result, error) {
	opts := Options{
		Query:  cfg.Query,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if strings.TrimSpace(opts.Query) == "" {
		opts.Query = DefaultQuery
	}

	res := &Result{RunID: uuid.NewString(), Query: opts.Query}
	logger := opts.Logger

	recorder := opts.ToolLog
	if recorder == nil {
		sink, err := logging.OpenToolCallLog(cfg.ToolLogPath)
		if err != nil {
			return nil, err
		}
		defer func() { _ = sink.Close() }()
		recorder = sink
	}

	platform := opts.Platform
	if platform == nil {
		client, err := connect(cfg)
		if err != nil {
			return nil, err
		}
		defer func() { _ = client.Close() }()
		platform = client
	}

	agentList, err := platform.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	res.Agents = len(agentList)
	logger.Info(fmt.Sprintf("Found %d agents", len(agentList)))

	platformTools, err := platform.AsTools(ctx, agentList...)
	if err != nil {
		return nil, fmt.Errorf("load tools: %w", err)
	}

	all := append(platformTools, opts.LocalTools...)

	logged := tool.WithLoggingAll(all, recorder, func(o *tool.LoggingOptions) { o.RunID = res.RunID })
	for _, t := range logged {
		res.Tools = append(res.Tools, t.Name())
	}
	logger.Info(fmt.Sprintf("Loaded %d tools", len(logged)), "tools", res.Tools)

	llm := opts.LLM
	if llm == nil {
		if llm, err = reasoningModel(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	hub := opts.PromptHub
	if hub == nil {
		if hub, err = prompt.NewHub(func(o *prompt.Options) {
			o.BaseURL = cfg.PromptHubURL
			o.Logger = logger
		}); err != nil {
			return nil, err
		}
	}

	tmpl, err := hub.Pull(ctx, prompt.ReActKey)
	if err != nil {
		return nil, fmt.Errorf("pull prompt: %w", err)
	}

	agent := agents.NewOneShotAgent(llm, tool.LangChainAll(logged), tmpl.AgentOptions()...)
	executor := agents.NewExecutor(agent, agents.WithMaxIterations(cfg.MaxIterations))

	logger.Info("Running agent", "run_id", res.RunID, "query", res.Query)

	out, err := chains.Call(ctx, executor, map[string]any{"input": res.Query})
	if err != nil {
		return nil, fmt.Errorf("run agent: %w", err)
	}

	answer, ok := out["output"].(string)
	if !ok {
		return nil, ErrNoOutput
	}
	res.Answer = strings.TrimSpace(answer)

	return res, nil
}

func connect(cfg *config.Config) (*mesh.Client, error) {
	apiKey := cfg.MeshAPIKey
	if apiKey == "" {
		apiKey = cfg.MeshToken
	}

	return mesh.NewClient(apiKey, func(o *mesh.Options) {
		if cfg.MeshBaseURL != "" {
			o.BaseURL = cfg.MeshBaseURL
		}
		o.MaxRetries = cfg.MaxRetries
		o.Logger = cfg.Logger().WithComponent("mesh")
	})
}

// reasoningModel builds the chat model at temperature 0. Without an OpenAI
// key but with a Mesh token, OpenAI-style requests go through the Mesh
// gateway instead.
func reasoningModel(ctx context.Context, cfg *config.Config, logger logging.Logger) (llms.Model, error) {
	opts := model.Options{
		Provider:    cfg.AgentProvider,
		Model:       cfg.AgentModel,
		Temperature: 0,
		APIKey:      cfg.ProviderAPIKey(),
		BaseURL:     cfg.AgentBaseURL,
		MaxRetries:  cfg.MaxRetries,
		Logger:      logger,
	}

	if err := cfg.RequireProviderKey(); err != nil {
		if cfg.AgentProvider == model.ProviderAnthropic || cfg.MeshToken == "" {
			return nil, err
		}
		base := cfg.MeshBaseURL
		if base == "" {
			base = mesh.DefaultBaseURL
		}
		opts.APIKey = cfg.MeshToken
		opts.BaseURL = base + "/v1/"
		logger.Info("Routing reasoning model through the Mesh gateway", "base_url", opts.BaseURL)
	}

	llm, err := model.New(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}

	return llm, nil
}
