package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tachyon-beep/storyteller/internal/config"
)

// Generator produces text for a prompt at a sampling temperature.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// Adapter is the model contract the pipeline runs against. Adapters that do
// not forward schemas to the provider accept and ignore SetSchema; an empty
// schema always clears any previous one.
type Adapter interface {
	Generator
	Initialize(ctx context.Context) error
	SetSchema(schema string) error
}

// New builds the adapter selected by cfg.Type. It does not call Initialize.
func New(cfg config.LLM, logger *slog.Logger) (Adapter, error) {
	clientCfg := Config{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		Referer:        cfg.Referer,
		Title:          cfg.Title,
		TimeoutSeconds: cfg.TimeoutSeconds,
		PassSchema:     cfg.PassSchema,
	}
	switch cfg.Type {
	case "openrouter", "openai":
		return NewClient(clientCfg,
			WithRetryMaxAttempts(cfg.MaxRetries),
			WithLogger(logger),
		), nil
	case "gemini":
		return NewGemini(clientCfg, WithGeminiLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unsupported llm type %q", cfg.Type)
	}
}
