package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tachyon-beep/storyteller/internal/logging"
)

const (
	defaultBaseURL     = "https://openrouter.ai/api/v1/chat/completions"
	defaultHTTPTimeout = 120 * time.Second
	schemaName         = "phase_output"

	// healthPrompt is the ping every adapter sends from HealthCheck.
	healthPrompt = "Reply with the single word OK."
)

// Config captures the runtime settings required to talk to a model provider.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
	// PassSchema forwards phase schemas to the provider as structured-output
	// constraints.
	PassSchema bool
}

func (c Config) trimmed() Config {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	c.Model = strings.TrimSpace(c.Model)
	c.Referer = strings.TrimSpace(c.Referer)
	c.Title = strings.TrimSpace(c.Title)
	return c
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultHTTPTimeout
}

// Client is the adapter for OpenRouter and other OpenAI-compatible chat
// completion endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	retry      retryPolicy

	mu     sync.Mutex
	schema json.RawMessage
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts sets how many requests a call may make in total.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) { c.retry.attempts = attempts }
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retry.base = baseDelay
		c.retry.max = maxDelay
	}
}

// WithSleeper replaces the timer used between attempts.
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) { c.retry.sleeper = sleeper }
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a chat completion client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg = cfg.trimmed()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.timeout()},
		retry:      defaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "llm_openai")
	return client
}

// Initialize verifies the client has what it needs to issue requests.
func (c *Client) Initialize(context.Context) error {
	if c.cfg.APIKey == "" {
		return errors.New("llm initialize: api key required")
	}
	if c.cfg.Model == "" {
		return errors.New("llm initialize: model required")
	}
	return nil
}

// SetSchema sets the response schema sent with subsequent requests. An empty
// schema clears it. Without PassSchema the call only clears state.
func (c *Client) SetSchema(schema string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schema = nil
	schema = strings.TrimSpace(schema)
	if schema == "" || !c.cfg.PassSchema {
		return nil
	}
	if !json.Valid([]byte(schema)) {
		return errors.New("llm set schema: schema is not valid JSON")
	}
	c.schema = json.RawMessage(schema)
	return nil
}

func (c *Client) currentSchema() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schema
}

// Generate sends prompt as a single user message and returns the model text.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("llm generate: prompt required")
	}
	if c.cfg.APIKey == "" {
		return "", errors.New("llm generate: api key required")
	}
	request := c.newRequest(prompt, temperature)
	if schema := c.currentSchema(); len(schema) > 0 {
		request.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &schemaFormat{Name: schemaName, Strict: true, Schema: schema},
		}
	}

	started := time.Now()
	text, err := c.complete(ctx, "llm generate", request, c.retry)
	if err != nil {
		return "", err
	}
	c.logger.Debug("generation complete",
		logging.String("model", c.cfg.Model),
		logging.Float64("temperature", temperature),
		logging.Int("response_chars", len(text)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return text, nil
}

// HealthCheck sends a single short ping without a schema and without retries.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}
	single := c.retry
	single.attempts = 1
	if _, err := c.complete(ctx, "llm health", c.newRequest(healthPrompt, 0), single); err != nil {
		return err
	}
	return nil
}

func (c *Client) newRequest(prompt string, temperature float64) chatRequest {
	return chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	}
}

// complete posts request until it yields text or policy gives up.
func (c *Client) complete(ctx context.Context, op string, request chatRequest, policy retryPolicy) (string, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("%s: encode body: %w", op, err)
	}
	return policy.do(ctx, op, func(attempt int) (string, error) {
		text, err := c.post(ctx, op, body)
		if err != nil && attempt < policy.attempts {
			c.logger.Debug("model request failed",
				logging.Int(logging.FieldAttempt, attempt),
				logging.Error(err),
			)
		}
		return text, err
	})
}

func (c *Client) post(ctx context.Context, op string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: new request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: http error (timeout=%s): %w", op, c.httpClient.Timeout, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%s: read body: %w", op, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", newStatusError(resp, raw)
	}

	var completion chatResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", op, err)
	}
	if completion.Error != nil {
		return "", fmt.Errorf("%s: api error: %s", op, strings.TrimSpace(completion.Error.Message))
	}
	if len(completion.Choices) == 0 {
		return "", &emptyContentError{Op: op, Snippet: snippet(string(raw))}
	}
	text, finish, refusal := completion.text()
	if text == "" {
		return "", &emptyContentError{Op: op, FinishReason: finish, Refusal: refusal, Snippet: snippet(string(raw))}
	}
	return text, nil
}
