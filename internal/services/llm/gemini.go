package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/tachyon-beep/storyteller/internal/logging"
)

const defaultGeminiModel = "gemini-2.5-flash"

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Gemini adapts the Google GenAI SDK to the Adapter contract.
type Gemini struct {
	apiKey     string
	model      string
	passSchema bool
	timeout    time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	schema   any
	generate generateFunc
}

// GeminiOption customizes a Gemini adapter.
type GeminiOption func(*Gemini)

// WithGeminiLogger attaches a logger for request diagnostics.
func WithGeminiLogger(logger *slog.Logger) GeminiOption {
	return func(g *Gemini) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func withGenerateFunc(fn generateFunc) GeminiOption {
	return func(g *Gemini) { g.generate = fn }
}

// NewGemini constructs an adapter; Initialize creates the SDK client.
func NewGemini(cfg Config, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		passSchema: cfg.PassSchema,
		logger:     logging.NewNop(),
	}
	if g.model == "" {
		g.model = defaultGeminiModel
	}
	if cfg.TimeoutSeconds > 0 {
		g.timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Initialize creates the GenAI client unless a generator was injected.
func (g *Gemini) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generate != nil {
		return nil
	}
	if g.apiKey == "" {
		return errors.New("gemini initialize: api key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("gemini initialize: %w", err)
	}
	g.generate = client.Models.GenerateContent
	return nil
}

// HealthCheck creates the client if needed and issues a short generation.
func (g *Gemini) HealthCheck(ctx context.Context) error {
	if err := g.Initialize(ctx); err != nil {
		return err
	}
	if _, err := g.Generate(ctx, healthPrompt, 0); err != nil {
		return fmt.Errorf("gemini health: %w", err)
	}
	return nil
}

// SetSchema sets the response schema for subsequent calls; empty clears it.
func (g *Gemini) SetSchema(schema string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	schema = strings.TrimSpace(schema)
	if schema == "" || !g.passSchema {
		g.schema = nil
		return nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(schema), &parsed); err != nil {
		g.schema = nil
		return fmt.Errorf("gemini set schema: %w", err)
	}
	g.schema = parsed
	return nil
}

// Generate issues a single GenerateContent call.
func (g *Gemini) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	g.mu.Lock()
	generate, schema := g.generate, g.schema
	g.mu.Unlock()
	if generate == nil {
		return "", errors.New("gemini generate: adapter not initialized")
	}
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("gemini generate: prompt required")
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temperature)),
	}
	if schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = schema
	}

	started := time.Now()
	resp, err := generate(ctx, g.model, []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("gemini generate: empty response")
	}
	g.logger.Debug("gemini generation complete",
		logging.String("model", g.model),
		logging.Float64("temperature", temperature),
		logging.Int("response_chars", len(text)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return text, nil
}
