package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hupe1980/meshkit/internal/util"
	"github.com/hupe1980/meshkit/logging"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultBaseURL is the public Mesh gateway.
const DefaultBaseURL = "https://api.meshai.dev"

const (
	userAgent       = "meshkit-go/0.1"
	maxErrorBodyLen = 64 << 10
)

// Options configures a Client.
type Options struct {
	// BaseURL of the gateway, without the /v1 suffix.
	BaseURL string
	// HTTPClient overrides the transport. Its Timeout applies per request.
	HTTPClient *http.Client
	// Timeout is used when HTTPClient is nil.
	Timeout time.Duration
	// MaxRetries bounds retries of idempotent requests (GET) and chat calls.
	MaxRetries int
	// RetryWait is the initial backoff interval.
	RetryWait time.Duration
	// Logger receives request diagnostics (defaults to NoOp).
	Logger logging.Logger
}

// Client talks to the Mesh platform. It is safe for concurrent use. Close
// releases idle connections; calls made afterwards fail with ErrClientClosed.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	chat       openai.Client
	opts       Options
	logger     logging.Logger
	closed     atomic.Bool
}

// NewClient creates a Client. apiKey may be empty for public endpoints.
func NewClient(apiKey string, optFns ...func(o *Options)) (*Client, error) {
	opts := Options{
		BaseURL:    DefaultBaseURL,
		Timeout:    60 * time.Second,
		MaxRetries: 3,
		RetryWait:  500 * time.Millisecond,
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	base := strings.TrimRight(opts.BaseURL, "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, sdkError("init", fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err))
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	chatOpts := []option.RequestOption{
		option.WithBaseURL(base + "/v1/"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(opts.MaxRetries),
		option.WithHeader("User-Agent", userAgent),
		option.WithAPIKey(apiKey),
	}
	if apiKey == "" {
		chatOpts = append(chatOpts, option.WithHeaderDel("Authorization"))
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    base,
		httpClient: httpClient,
		chat:       openai.NewClient(chatOpts...),
		opts:       opts,
		logger:     opts.Logger,
	}, nil
}

// Close releases idle connections. It is idempotent.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

// ListAgents returns every agent visible to the credential.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := c.list(ctx, "/v1/agents", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// ListTools returns every tool visible to the credential.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	if err := c.list(ctx, "/v1/tools", &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// ListLLMs returns the chat models routed by the gateway.
func (c *Client) ListLLMs(ctx context.Context) ([]LLM, error) {
	var llms []LLM
	if err := c.list(ctx, "/v1/llms", &llms); err != nil {
		return nil, err
	}
	return llms, nil
}

// GetAgent fetches a single agent descriptor.
func (c *Client) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	if err := c.do(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(id), nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// CallOptions configures CallAgent.
type CallOptions struct {
	// ValidateInputs checks inputs against the agent's input schema first.
	ValidateInputs bool
	// Schema skips the descriptor lookup when validating.
	Schema map[string]any
}

// CallOption mutates CallOptions.
type CallOption func(o *CallOptions)

// WithoutValidation sends inputs unchecked.
func WithoutValidation() CallOption {
	return func(o *CallOptions) { o.ValidateInputs = false }
}

// WithSchema validates against schema instead of fetching the agent.
func WithSchema(schema map[string]any) CallOption {
	return func(o *CallOptions) {
		o.ValidateInputs = true
		o.Schema = schema
	}
}

type callRequest struct {
	Inputs map[string]any `json:"inputs"`
}

// CallAgent invokes an agent. Inputs are validated against the agent's
// input schema unless WithoutValidation is given.
func (c *Client) CallAgent(ctx context.Context, agentID string, inputs map[string]any, optFns ...CallOption) (*AgentResponse, error) {
	opts := CallOptions{ValidateInputs: true}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.ValidateInputs {
		schema := opts.Schema
		if schema == nil {
			agent, err := c.GetAgent(ctx, agentID)
			if err != nil {
				return nil, err
			}
			schema = agent.InputSchema
		}
		if err := util.ValidateParameters(inputs, schema); err != nil {
			return nil, sdkError("call agent", err)
		}
	}

	if inputs == nil {
		inputs = map[string]any{}
	}

	var resp AgentResponse
	path := "/v1/agents/" + url.PathEscape(agentID) + "/call"
	if err := c.do(ctx, http.MethodPost, path, callRequest{Inputs: inputs}, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// CallTool invokes a platform tool that is not bound to an agent.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*AgentResponse, error) {
	if args == nil {
		args = map[string]any{}
	}

	var resp AgentResponse
	path := "/v1/tools/" + url.PathEscape(name) + "/call"
	if err := c.do(ctx, http.MethodPost, path, callRequest{Inputs: args}, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// list decodes either a bare JSON array or a {"data": [...]} envelope.
func (c *Client) list(ctx context.Context, path string, out any) error {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, out); err != nil {
			return sdkError("decode "+path, err)
		}
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return sdkError("decode "+path, err)
	}
	if len(envelope.Data) == 0 || bytes.Equal(envelope.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return sdkError("decode "+path, err)
	}

	return nil
}

// do performs one logical request. GETs are retried with exponential
// backoff on transport errors, 429 and 5xx.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.closed.Load() {
		return sdkError(strings.ToLower(method)+" "+path, ErrClientClosed)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return sdkError("encode "+path, err)
		}
	}

	requestID := uuid.NewString()
	idempotent := method == http.MethodGet

	attempt := func() error {
		err := c.roundTrip(ctx, method, path, requestID, payload, out)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		var apiErr *APIError
		switch {
		case !idempotent:
			return backoff.Permanent(err)
		case errors.As(err, &apiErr) && retryable(apiErr.StatusCode):
			return err
		case errors.Is(err, errTransport):
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.RetryWait

	retries := c.opts.MaxRetries
	if retries < 0 {
		retries = 0
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("mesh.request.retry", "method", method, "path", path, "request_id", requestID, "wait", wait, "error", err.Error())
	}

	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		if errors.Is(err, ErrSDK) {
			return err
		}
		return sdkError(strings.ToLower(method)+" "+path, err)
	}

	return nil
}

var errTransport = errors.New("transport failure")

func (c *Client) roundTrip(ctx context.Context, method, path, requestID string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return sdkError("build request", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("mesh.request.failed", "method", method, "path", path, "request_id", requestID, "error", err.Error())
		return fmt.Errorf("%w: %v", errTransport, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("mesh.request", "method", method, "path", path, "status", resp.StatusCode, "request_id", requestID, "duration", time.Since(start))

	if resp.StatusCode >= http.StatusBadRequest {
		msg, code := decodeErrorBody(io.LimitReader(resp.Body, maxErrorBodyLen))
		if id := resp.Header.Get("X-Request-ID"); id != "" {
			requestID = id
		}
		return statusError(resp.StatusCode, msg, code, requestID)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return sdkError("decode "+path, err)
	}

	return nil
}

// decodeErrorBody understands {"error":{"message","code"}}, {"error":"..."},
// {"message":"..."} and {"detail":"..."}; anything else is returned raw.
func decodeErrorBody(r io.Reader) (string, string) {
	raw, _ := io.ReadAll(r)
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ""
	}

	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
		Code    string          `json:"code"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return string(raw), ""
	}

	if len(body.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
			return nested.Message, nested.Code
		}
		var s string
		if json.Unmarshal(body.Error, &s) == nil && s != "" {
			return s, body.Code
		}
	}

	switch {
	case body.Message != "":
		return body.Message, body.Code
	case body.Detail != "":
		return body.Detail, body.Code
	default:
		return string(raw), body.Code
	}
}
