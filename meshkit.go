// Package meshkit provides a high-level façade over the Mesh platform
// client, the tool logging decorator and the two demo pipelines. Most
// applications interact with this package by:
//  1. Creating a Kit via New() (configuration is loaded from .env, the
//     environment and an optional meshkit.yaml unless supplied)
//  2. Fetching logged, langchaingo-ready tools with Toolkit, or running a
//     whole pipeline with Orchestrate or RunAgent
//  3. Calling Close to release the client and the tool call log
package meshkit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/tmc/langchaingo/tools"

	"github.com/hupe1980/meshkit/config"
	"github.com/hupe1980/meshkit/logging"
	"github.com/hupe1980/meshkit/mesh"
	"github.com/hupe1980/meshkit/orchestrator"
	"github.com/hupe1980/meshkit/runner"
	"github.com/hupe1980/meshkit/tool"
)

// Options configures a Kit.
type Options struct {
	// Config skips config.Load when set.
	Config *config.Config
	// ConfigOptions are passed to config.Load.
	ConfigOptions []func(o *config.Options)

	// Logger defaults to Slog when set, else to the logger described by
	// the config.
	Logger logging.Logger
	// Slog routes the Kit's logs into an application's slog logger.
	Slog *slog.Logger

	// ToolLog replaces the file sink at Config.ToolLogPath, which is
	// otherwise opened on first use.
	ToolLog logging.ToolCallRecorder

	// ClientOptions are applied after the config-derived client options.
	ClientOptions []func(o *mesh.Options)
}

// Kit aggregates the configuration, the logger and one Mesh client.
type Kit struct {
	cfg    *config.Config
	logger logging.Logger
	client *mesh.Client

	toolLog  logging.ToolCallRecorder
	sinkOnce sync.Once
	sink     *logging.ToolCallLog
	sinkErr  error
}

// New creates a Kit. The Mesh API key may be empty; credentials are checked
// by the operation that needs them.
func New(optFns ...func(o *Options)) (*Kit, error) {
	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.ConfigOptions...); err != nil {
			return nil, err
		}
	}

	switch {
	case opts.Logger != nil:
	case opts.Slog != nil:
		opts.Logger = logging.NewSlogAdapter(opts.Slog)
	default:
		opts.Logger = cfg.Logger()
	}

	apiKey := cfg.MeshAPIKey
	if apiKey == "" {
		apiKey = cfg.MeshToken
	}

	client, err := mesh.NewClient(apiKey, append([]func(o *mesh.Options){func(o *mesh.Options) {
		if cfg.MeshBaseURL != "" {
			o.BaseURL = cfg.MeshBaseURL
		}
		o.MaxRetries = cfg.MaxRetries
		o.Logger = opts.Logger
	}}, opts.ClientOptions...)...)
	if err != nil {
		return nil, err
	}

	return &Kit{
		cfg:     cfg,
		logger:  opts.Logger,
		client:  client,
		toolLog: opts.ToolLog,
	}, nil
}

// Config returns the resolved configuration.
func (k *Kit) Config() *config.Config { return k.cfg }

// Client returns the Mesh client.
func (k *Kit) Client() *mesh.Client { return k.client }

// Logger returns the process logger.
func (k *Kit) Logger() logging.Logger { return k.logger }

// Toolkit returns the platform's tools plus local, each wrapped with the
// tool call log, adapted for a langchaingo agent.
func (k *Kit) Toolkit(ctx context.Context, local ...tool.Tool) ([]tools.Tool, error) {
	recorder, err := k.recorder()
	if err != nil {
		return nil, err
	}

	ts, err := k.client.AsTools(ctx)
	if err != nil {
		return nil, err
	}

	return tool.LangChainAll(tool.WithLoggingAll(append(ts, local...), recorder)), nil
}

// Orchestrate runs the platform demo against this Kit's client and returns
// the process exit code.
func (k *Kit) Orchestrate(ctx context.Context, stdout io.Writer) int {
	return orchestrator.Run(ctx, k.cfg, func(o *orchestrator.Options) {
		o.Stdout = stdout
		o.Logger = k.logger
		o.Connect = func(*config.Config) (orchestrator.Platform, error) { return sharedClient{k.client}, nil }
	})
}

// RunAgent answers query with the tool-logging ReAct agent. An empty query
// falls back to the configured one.
func (k *Kit) RunAgent(ctx context.Context, query string, optFns ...func(o *runner.Options)) (*runner.Result, error) {
	recorder, err := k.recorder()
	if err != nil {
		return nil, err
	}

	fns := append([]func(o *runner.Options){func(o *runner.Options) {
		if query != "" {
			o.Query = query
		}
		o.Platform = k.client
		o.ToolLog = recorder
		o.Logger = k.logger
	}}, optFns...)

	return runner.Run(ctx, k.cfg, fns...)
}

// Close releases the client and, when the Kit opened it, the tool call log.
func (k *Kit) Close() error {
	err := k.client.Close()
	if k.sink != nil {
		err = errors.Join(err, k.sink.Close())
	}
	return err
}

// sharedClient keeps the Kit's client open when a pipeline closes its
// session.
type sharedClient struct {
	*mesh.Client
}

func (sharedClient) Close() error { return nil }

func (k *Kit) recorder() (logging.ToolCallRecorder, error) {
	if k.toolLog != nil {
		return k.toolLog, nil
	}

	k.sinkOnce.Do(func() {
		k.sink, k.sinkErr = logging.OpenToolCallLog(k.cfg.ToolLogPath)
	})
	if k.sinkErr != nil {
		return nil, k.sinkErr
	}

	return k.sink, nil
}
