// Package prompt resolves ReAct prompt templates by key, the way LangChain's
// prompt hub does, and converts them to langchaingo agent options.
//
// Templates come from an embedded catalogue; keys that are not in the
// catalogue are fetched from an optional remote hub as {base}/{key}.yaml.
package prompt

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/agents"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/meshkit/logging"
)

// ReActKey is the key of the built-in ReAct template.
const ReActKey = "hwchase17/react"

// ErrPromptNotFound is returned when no source knows the key.
var ErrPromptNotFound = errors.New("prompt not found")

//go:embed catalog.yaml
var catalogYAML []byte

// Template is a ReAct prompt split the way langchaingo's one-shot agent
// assembles it. Fields use langchaingo go-template variables.
type Template struct {
	Key                string `yaml:"key"`
	Description        string `yaml:"description,omitempty"`
	Prefix             string `yaml:"prefix"`
	FormatInstructions string `yaml:"format_instructions"`
	Suffix             string `yaml:"suffix"`
}

// AgentOptions returns the options that install t on agents.NewOneShotAgent.
func (t *Template) AgentOptions() []agents.Option {
	return []agents.Option{
		agents.WithPromptPrefix(t.Prefix),
		agents.WithPromptFormatInstructions(t.FormatInstructions),
		agents.WithPromptSuffix(t.Suffix),
	}
}

// String joins the parts as the agent renders them.
func (t *Template) String() string {
	return strings.Join([]string{t.Prefix, t.FormatInstructions, t.Suffix}, "\n\n")
}

type catalog struct {
	Prompts []Template `yaml:"prompts"`
}

// Options configures a Hub.
type Options struct {
	// BaseURL of a remote hub; empty disables remote lookups.
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
	Logger     logging.Logger
}

// Hub resolves templates by key. Remote results are cached for the life of
// the hub.
type Hub struct {
	opts Options

	mu        sync.RWMutex
	templates map[string]*Template
}

// NewHub loads the embedded catalogue.
func NewHub(optFns ...func(o *Options)) (*Hub, error) {
	opts := Options{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		MaxRetries: 2,
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	var c catalog
	if err := yaml.Unmarshal(catalogYAML, &c); err != nil {
		return nil, fmt.Errorf("parse prompt catalogue: %w", err)
	}

	h := &Hub{opts: opts, templates: make(map[string]*Template, len(c.Prompts))}
	for i := range c.Prompts {
		t := normalize(c.Prompts[i])
		h.templates[t.Key] = t
	}

	return h, nil
}

// Keys returns the keys known without a remote lookup.
func (h *Hub) Keys() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	keys := make([]string, 0, len(h.templates))
	for k := range h.templates {
		keys = append(keys, k)
	}
	return keys
}

// Pull returns the template registered under key.
func (h *Hub) Pull(ctx context.Context, key string) (*Template, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")

	h.mu.RLock()
	t, ok := h.templates[key]
	h.mu.RUnlock()
	if ok {
		return t, nil
	}

	if h.opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, key)
	}

	t, err := h.fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.templates[key] = t
	h.mu.Unlock()

	return t, nil
}

var errNotFound = errors.New("remote prompt not found")

func (h *Hub) fetch(ctx context.Context, key string) (*Template, error) {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	endpoint := h.opts.BaseURL + "/" + strings.Join(segments, "/") + ".yaml"

	var body []byte

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/yaml, text/yaml, text/plain")

		resp, err := h.opts.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(errNotFound)
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("prompt hub returned %d", resp.StatusCode)
		case resp.StatusCode >= http.StatusBadRequest:
			return backoff.Permanent(fmt.Errorf("prompt hub returned %d", resp.StatusCode))
		}

		body, err = io.ReadAll(resp.Body)
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond

	retries := max(h.opts.MaxRetries, 0)
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	if err := backoff.Retry(attempt, policy); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, key)
		}
		return nil, fmt.Errorf("pull prompt %s: %w", key, err)
	}

	var t Template
	if err := yaml.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode prompt %s: %w", key, err)
	}
	if t.Prefix == "" && t.FormatInstructions == "" && t.Suffix == "" {
		return nil, fmt.Errorf("decode prompt %s: template is empty", key)
	}
	t.Key = key

	h.opts.Logger.Debug("prompt.pulled", "key", key, "url", endpoint)

	return normalize(t), nil
}

// variables maps LangChain hub variables to langchaingo agent variables.
var variables = map[string]string{
	"tools":            "tool_descriptions",
	"tool_names":       "tool_names",
	"input":            "input",
	"agent_scratchpad": "agent_scratchpad",
	"today":            "today",
}

var singleBrace = regexp.MustCompile(`\{(\w+)\}`)

// normalize rewrites single-brace variables ({input}) into go-template
// actions ({{.input}}). Unknown names are left untouched.
func normalize(t Template) *Template {
	rewrite := func(s string) string {
		return singleBrace.ReplaceAllStringFunc(s, func(m string) string {
			if v, ok := variables[m[1:len(m)-1]]; ok {
				return "{{." + v + "}}"
			}
			return m
		})
	}

	t.Prefix = rewrite(t.Prefix)
	t.FormatInstructions = rewrite(t.FormatInstructions)
	t.Suffix = rewrite(t.Suffix)

	return &t
}
