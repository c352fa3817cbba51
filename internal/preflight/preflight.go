package preflight

import (
	"context"

	"github.com/tachyon-beep/storyteller/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Options selects the optional checks.
type Options struct {
	// CheckModel pings the configured model endpoint.
	CheckModel bool
}

// RunAll executes every applicable preflight check for cfg.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Batch storage", cfg.Paths.BatchStorage),
		CheckDirectoryAccess("Ephemeral storage", cfg.Paths.EphemeralStorage),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckReadableDirectory("Prompts directory", cfg.Paths.PromptsDir),
	}
	if cfg.Paths.SchemasDir != "" {
		results = append(results, CheckReadableDirectory("Schemas directory", cfg.Paths.SchemasDir))
	}
	results = append(results, CheckPhaseResources(cfg))
	if len(cfg.Placeholders) > 0 {
		results = append(results, CheckPlaceholderData(cfg))
	}
	if opts.CheckModel {
		results = append(results, CheckLLM(ctx, "Model endpoint", cfg.LLM))
	} else {
		results = append(results, CheckLLMConfig(cfg.LLM))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
