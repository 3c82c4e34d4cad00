// Package config loads process configuration once at startup from a .env
// file, the environment and an optional YAML file, in that order of
// increasing precedence for the environment (variables already set in the
// environment are never overwritten by .env).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hupe1980/meshkit/logging"
)

// ErrMissingCredential is returned when a required API key is empty.
var ErrMissingCredential = errors.New("missing credential")

// Environment variable names.
const (
	EnvMeshAPIKey      = "MESH_API_KEY"
	EnvMeshBaseURL     = "MESH_BASE_URL"
	EnvMeshToken       = "MESH_TOKEN"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
)

// Config is the resolved process configuration.
type Config struct {
	MeshAPIKey      string `mapstructure:"mesh_api_key"`
	MeshBaseURL     string `mapstructure:"mesh_base_url"`
	MeshToken       string `mapstructure:"mesh_token"`
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`

	// PreferredModel is tried first by the orchestrator's chat demo.
	PreferredModel string `mapstructure:"preferred_model"`

	// AgentProvider and AgentModel select the runner's reasoning model. An
	// empty AgentModel keeps the provider's default.
	AgentProvider string `mapstructure:"agent_provider"`
	AgentModel    string `mapstructure:"agent_model"`
	// AgentBaseURL overrides the reasoning provider's endpoint.
	AgentBaseURL string `mapstructure:"agent_base_url"`

	ToolLogPath   string        `mapstructure:"tool_log"`
	MaxIterations int           `mapstructure:"max_iterations"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	PromptHubURL string `mapstructure:"prompt_hub_url"`
	Query        string `mapstructure:"query"`
}

// Options configures Load.
type Options struct {
	// EnvFiles are loaded with godotenv; missing files are ignored.
	EnvFiles []string
	// ConfigFile is an optional YAML file; a missing file is ignored.
	ConfigFile string
}

// binding maps a config key to its environment variable and default.
type binding struct {
	key, env string
	def      any
}

var bindings = []binding{
	{"mesh_api_key", EnvMeshAPIKey, ""},
	{"mesh_base_url", EnvMeshBaseURL, "https://api.meshai.dev"},
	{"mesh_token", EnvMeshToken, ""},
	{"openai_api_key", EnvOpenAIAPIKey, ""},
	{"anthropic_api_key", EnvAnthropicAPIKey, ""},
	{"preferred_model", "MESHKIT_PREFERRED_MODEL", "openai/gpt-4o"},
	{"agent_provider", "MESHKIT_AGENT_PROVIDER", "openai"},
	{"agent_model", "MESHKIT_AGENT_MODEL", ""},
	{"agent_base_url", "MESHKIT_AGENT_BASE_URL", ""},
	{"tool_log", "MESHKIT_TOOL_LOG", "logs/tool_calls.log"},
	{"max_iterations", "MESHKIT_MAX_ITERATIONS", 5},
	{"timeout", "MESHKIT_TIMEOUT", 2 * time.Minute},
	{"max_retries", "MESHKIT_MAX_RETRIES", 3},
	{"log_level", "MESHKIT_LOG_LEVEL", "info"},
	{"log_format", "MESHKIT_LOG_FORMAT", "text"},
	{"prompt_hub_url", "MESHKIT_PROMPT_HUB_URL", ""},
	{"query", "MESHKIT_QUERY", ""},
}

// Load resolves the configuration. It does not validate credentials; call
// RequireMeshAPIKey or RequireProviderKey for the entry point at hand.
func Load(optFns ...func(o *Options)) (*Config, error) {
	opts := Options{
		EnvFiles:   []string{".env"},
		ConfigFile: "meshkit.yaml",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	for _, f := range opts.EnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")

	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", b.env, err)
		}
	}

	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err == nil {
			v.SetConfigFile(opts.ConfigFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read %s: %w", opts.ConfigFile, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.AgentProvider = strings.ToLower(strings.TrimSpace(cfg.AgentProvider))
	cfg.MeshBaseURL = strings.TrimRight(cfg.MeshBaseURL, "/")

	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("max_iterations must be positive, got %d", cfg.MaxIterations)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}

	return cfg, nil
}

// RequireMeshAPIKey fails with ErrMissingCredential when MESH_API_KEY is empty.
func (c *Config) RequireMeshAPIKey() error {
	if strings.TrimSpace(c.MeshAPIKey) == "" {
		return fmt.Errorf("%w: %s", ErrMissingCredential, EnvMeshAPIKey)
	}
	return nil
}

// ProviderAPIKey returns the key of the selected reasoning provider.
func (c *Config) ProviderAPIKey() string {
	switch c.AgentProvider {
	case "anthropic":
		return c.AnthropicAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

// RequireProviderKey fails with ErrMissingCredential when the selected
// reasoning provider has no key.
func (c *Config) RequireProviderKey() error {
	if strings.TrimSpace(c.ProviderAPIKey()) != "" {
		return nil
	}

	env := EnvOpenAIAPIKey
	if c.AgentProvider == "anthropic" {
		env = EnvAnthropicAPIKey
	}

	return fmt.Errorf("%w: %s", ErrMissingCredential, env)
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c *Config) Logger() *logging.MeshLogger {
	return logging.NewSlogLogger(logging.ParseLevel(c.LogLevel), c.LogFormat, false)
}
