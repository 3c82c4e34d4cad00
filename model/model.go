package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/tmc/langchaingo/llms"

	"github.com/hupe1980/meshkit/logging"
	anthropicmodel "github.com/hupe1980/meshkit/model/anthropic"
	openaimodel "github.com/hupe1980/meshkit/model/openai"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ErrUnknownProvider is returned by New for unsupported providers.
var ErrUnknownProvider = errors.New("unknown model provider")

// Options selects and configures a reasoning model.
type Options struct {
	// Provider is "openai" (default) or "anthropic".
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int64
	APIKey      string
	// BaseURL overrides the provider endpoint, e.g. a Mesh gateway's /v1/.
	BaseURL    string
	MaxRetries int
	HTTPClient *http.Client
	Logger     logging.Logger

	// OpenAIClient and AnthropicClient reuse a prebuilt SDK client. The
	// connection fields above are then ignored for that provider.
	OpenAIClient    *openai.Client
	AnthropicClient *anthropic.Client
}

// New builds an llms.Model for the configured provider. Zero MaxTokens
// keeps the provider adapter's default.
func New(_ context.Context, opts Options) (llms.Model, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	provider := strings.ToLower(strings.TrimSpace(opts.Provider))

	switch provider {
	case "", ProviderOpenAI:
		configure := func(o *openaimodel.Options) {
			if opts.Model != "" {
				o.Model = opts.Model
			}
			o.Temperature = opts.Temperature
			if opts.MaxTokens > 0 {
				o.MaxCompletionTokens = opts.MaxTokens
			}
			o.APIKey = opts.APIKey
			o.BaseURL = opts.BaseURL
			o.MaxRetries = opts.MaxRetries
			o.HTTPClient = opts.HTTPClient
			o.Logger = opts.Logger
		}
		if opts.OpenAIClient != nil {
			return openaimodel.NewModelFromClient(opts.OpenAIClient, configure), nil
		}
		return openaimodel.NewModel(configure), nil
	case ProviderAnthropic:
		configure := func(o *anthropicmodel.Options) {
			if opts.Model != "" {
				o.Model = anthropic.Model(opts.Model)
			}
			o.Temperature = opts.Temperature
			if opts.MaxTokens > 0 {
				o.MaxTokens = opts.MaxTokens
			}
			o.APIKey = opts.APIKey
			o.BaseURL = opts.BaseURL
			o.MaxRetries = opts.MaxRetries
			o.HTTPClient = opts.HTTPClient
			o.Logger = opts.Logger
		}
		if opts.AnthropicClient != nil {
			return anthropicmodel.NewModelFromClient(opts.AnthropicClient, configure), nil
		}
		return anthropicmodel.NewModel(configure), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
}
