package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tachyon-beep/storyteller/internal/content"
	"github.com/tachyon-beep/storyteller/internal/logging"
	"github.com/tachyon-beep/storyteller/internal/plugins"
	"github.com/tachyon-beep/storyteller/internal/services"
	"github.com/tachyon-beep/storyteller/internal/services/llm"
)

// Strategy selects how much of the recovery ladder runs.
type Strategy int

const (
	// StrategyDefault repairs once and then regenerates.
	StrategyDefault Strategy = iota
	// StrategyRepairOnly repairs once and never regenerates.
	StrategyRepairOnly
)

// ParseStrategy maps the configuration spelling to a Strategy.
func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "default":
		return StrategyDefault, nil
	case "repair_only":
		return StrategyRepairOnly, nil
	default:
		return StrategyDefault, fmt.Errorf("unknown processing strategy %q", value)
	}
}

func (s Strategy) String() string {
	switch s {
	case StrategyRepairOnly:
		return "repair_only"
	default:
		return "default"
	}
}

// PluginSource resolves format plugins and their recovery flags.
type PluginSource interface {
	Get(name string) (plugins.Plugin, error)
	RepairEnabled(name string) bool
	RetryEnabled(name string) bool
}

// PhaseCatalog supplies per-phase schema and temperature.
type PhaseCatalog interface {
	PhaseSchema(stageName, phaseName string) (schema string, found bool, err error)
	TemperatureFor(stageName, phaseName string) (float64, error)
}

// Options tunes a Processor. Zero values fall back to the configuration
// defaults.
type Options struct {
	Strategy          Strategy
	MaxRetries        int
	RepairTemperature float64
	RepairTimeout     time.Duration
	Logger            *slog.Logger
	Now               func() time.Time
}

// Result describes how a packet was accepted.
type Result struct {
	Packet   *content.Packet
	Repaired bool
	// Retries counts regenerations spent, including the one that succeeded.
	Retries int
}

// Processor runs the validate, repair, retry ladder.
type Processor struct {
	plugins   PluginSource
	phases    PhaseCatalog
	generator llm.Generator
	store     plugins.AuditStore
	opts      Options
	logger    *slog.Logger
}

// New constructs a Processor. Every collaborator is required.
func New(source PluginSource, phases PhaseCatalog, generator llm.Generator, store plugins.AuditStore, opts Options) (*Processor, error) {
	switch {
	case source == nil:
		return nil, errors.New("processor: plugin source is required")
	case phases == nil:
		return nil, errors.New("processor: phase catalog is required")
	case generator == nil:
		return nil, errors.New("processor: generator is required")
	case store == nil:
		return nil, errors.New("processor: ephemeral store is required")
	case opts.MaxRetries < 0:
		return nil, fmt.Errorf("processor: max retries must be >= 0 (got %d)", opts.MaxRetries)
	}
	if opts.RepairTimeout <= 0 {
		opts.RepairTimeout = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{
		plugins:   source,
		phases:    phases,
		generator: generator,
		store:     store,
		opts:      opts,
		logger:    logging.NewComponentLogger(logger, "processor"),
	}, nil
}

// Strategy reports the configured strategy.
func (p *Processor) Strategy() Strategy { return p.opts.Strategy }

// target bundles what every step of the ladder needs about one packet.
type target struct {
	packet *content.Packet
	plugin plugins.Plugin
	name   string
	stage  string
	phase  string
	schema string
	logger *slog.Logger
}

func (p *Processor) resolve(ctx context.Context, packet *content.Packet) (*target, error) {
	if packet == nil {
		return nil, services.Wrap(services.ErrValidation, "", "process", "content packet is nil", nil)
	}
	name, err := packet.PluginName()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "process", "packet has no plugin", err)
	}
	stageName, err := packet.StageName()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "process", "packet has no stage", err)
	}
	phaseName, err := packet.PhaseName()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "process", "packet has no phase", err)
	}
	plugin, err := p.plugins.Get(name)
	if err != nil {
		return nil, err
	}
	schema, err := p.effectiveSchema(plugin, stageName, phaseName)
	if err != nil {
		return nil, err
	}
	logger := logging.WithContext(ctx, p.logger).With(
		logging.String(logging.FieldStage, stageName),
		logging.String(logging.FieldPhase, phaseName),
		logging.String(logging.FieldPlugin, name),
	)
	return &target{
		packet: packet,
		plugin: plugin,
		name:   name,
		stage:  stageName,
		phase:  phaseName,
		schema: schema,
		logger: logger,
	}, nil
}

// effectiveSchema prefers the phase schema over the plugin default.
func (p *Processor) effectiveSchema(plugin plugins.Plugin, stageName, phaseName string) (string, error) {
	schema, found, err := p.phases.PhaseSchema(stageName, phaseName)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, stageName, "resolve schema", phaseName, err)
	}
	if found {
		return schema, nil
	}
	return plugin.DefaultSchema(), nil
}

// normalize extracts and processes raw output. Errors are format errors.
func normalize(plugin plugins.Plugin, raw string) (string, error) {
	return plugin.Process(plugin.ExtractContent(raw))
}

// validate maps ValidateContent onto (valid, err). err is only set for
// schema or configuration problems.
func validate(t *target, text string) (bool, error) {
	if strings.TrimSpace(t.schema) == "" {
		return true, nil
	}
	err := t.plugin.ValidateContent(text, t.schema)
	switch {
	case err == nil:
		return true, nil
	case plugins.IsInvalid(err):
		t.logger.Debug("content failed validation", logging.Error(err))
		return false, nil
	default:
		return false, err
	}
}

// Check processes a packet and validates it without any recovery. The
// returned packet carries the normalized content whether or not it is
// valid. Format and schema errors are returned as errors.
func (p *Processor) Check(ctx context.Context, packet *content.Packet) (*content.Packet, bool, error) {
	t, err := p.resolve(ctx, packet)
	if err != nil {
		return packet, false, err
	}
	return p.check(t)
}

func (p *Processor) check(t *target) (*content.Packet, bool, error) {
	processed, err := normalize(t.plugin, t.packet.Content)
	if err != nil {
		return t.packet, false, services.Wrap(services.ErrFormat, t.stage, "process content", t.phase, err)
	}
	out := t.packet.WithContent(processed)
	valid, err := validate(t, processed)
	if err != nil {
		return out, false, err
	}
	return out, valid, nil
}

// Process accepts a packet or returns an error. Invalid content goes
// through repair and then retry as the plugin flags and strategy allow.
// The accepted packet is saved to ephemeral storage.
func (p *Processor) Process(ctx context.Context, packet *content.Packet) (Result, error) {
	t, err := p.resolve(ctx, packet)
	if err != nil {
		return Result{}, err
	}
	checked, valid, err := p.check(t)
	if err != nil {
		return Result{}, err
	}
	result := Result{Packet: checked}
	if !valid {
		t.logger.Info("content invalid",
			logging.String(logging.FieldEventType, "content_invalid"),
			logging.Int("content_length", len(checked.Content)),
		)
		p.saveInvalid(ctx, t, checked)
		result, err = p.recover(ctx, t, checked)
		if err != nil {
			return result, err
		}
	}
	if err := p.store.SaveEphemeral(ctx, result.Packet); err != nil {
		return result, services.Wrap(services.ErrTransient, t.stage, "persist content", t.phase, err)
	}
	return result, nil
}

func (p *Processor) saveInvalid(ctx context.Context, t *target, checked *content.Packet) {
	audit := checked.Derive(content.InvalidIdentifier(p.opts.Now()), checked.Content)
	audit.Metadata[content.MetaContentType] = content.ContentTypeInvalid
	if err := p.store.SaveEphemeral(ctx, audit); err != nil {
		logging.WarnWithContext(t.logger, "failed to save invalid content", "content_invalid",
			logging.String(logging.FieldErrorHint, "check ephemeral storage permissions"),
			logging.String(logging.FieldImpact, "invalid content is not available for inspection"),
			logging.Error(err),
		)
	}
}

func (p *Processor) recover(ctx context.Context, t *target, checked *content.Packet) (Result, error) {
	result := Result{Packet: checked}

	if p.plugins.RepairEnabled(t.name) {
		repaired, err := p.repair(ctx, t, checked)
		if err == nil {
			result.Packet = checked.WithContent(repaired)
			result.Repaired = true
			t.logger.Info("content repaired", logging.String(logging.FieldEventType, "repair_attempt"))
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, services.Wrap(services.ErrTimeout, t.stage, "repair content", t.phase, ctxErr)
		}
		if errors.Is(err, plugins.ErrRepairUnsupported) {
			t.logger.Debug("format has no repair path", logging.Error(err))
		} else {
			logging.WarnWithContext(t.logger, "repair failed", "repair_attempt",
				logging.String(logging.FieldErrorHint, "inspect repair_prompt and repaired_content in ephemeral storage"),
				logging.String(logging.FieldImpact, "falling back to regeneration if enabled"),
				logging.Error(err),
			)
		}
	}

	if p.opts.Strategy == StrategyDefault && p.plugins.RetryEnabled(t.name) {
		return p.retry(ctx, t, checked)
	}

	return result, services.Wrap(services.ErrProcessing, t.stage, "process content",
		fmt.Sprintf("failed to process content for %s_%s", t.stage, t.phase), nil)
}

func (p *Processor) repair(ctx context.Context, t *target, checked *content.Packet) (string, error) {
	t.logger.Info("attempting repair",
		logging.String(logging.FieldEventType, "repair_attempt"),
		logging.Float64("temperature", p.opts.RepairTemperature),
		logging.Duration("timeout", p.opts.RepairTimeout),
	)
	return t.plugin.AttemptRepair(ctx, plugins.RepairRequest{
		Content:     checked.Content,
		Schema:      t.schema,
		Stage:       t.stage,
		Phase:       t.phase,
		Timeout:     p.opts.RepairTimeout,
		Temperature: p.opts.RepairTemperature,
		Generator:   p.generator,
		Store:       p.store,
	})
}

// retry regenerates from the originating prompt. Failed attempts, including
// malformed responses, are logged and counted.
func (p *Processor) retry(ctx context.Context, t *target, checked *content.Packet) (Result, error) {
	result := Result{Packet: checked}
	prompt := checked.Prompt()
	if strings.TrimSpace(prompt) == "" {
		return result, services.Wrap(services.ErrProcessing, t.stage, "retry content", t.phase+": packet carries no originating prompt", nil)
	}
	temperature, err := p.phases.TemperatureFor(t.stage, t.phase)
	if err != nil {
		return result, services.Wrap(services.ErrConfiguration, t.stage, "retry content", t.phase, err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxRetries; attempt++ {
		result.Retries = attempt
		attemptLogger := t.logger.With(logging.Int(logging.FieldAttempt, attempt))
		attemptLogger.Info("regenerating content",
			logging.String(logging.FieldEventType, "retry_attempt"),
			logging.Int("max_retries", p.opts.MaxRetries),
			logging.Float64("temperature", temperature),
		)

		raw, err := p.generator.Generate(ctx, prompt, temperature)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, services.Wrap(services.ErrTimeout, t.stage, "retry content", t.phase, ctxErr)
			}
			lastErr = err
			attemptLogger.Warn("regeneration failed", logging.Error(err))
			continue
		}
		processed, err := normalize(t.plugin, raw)
		if err != nil {
			lastErr = err
			attemptLogger.Warn("regenerated content is malformed", logging.Error(err))
			continue
		}
		valid, err := validate(t, processed)
		if err != nil {
			return result, err
		}
		if valid {
			result.Packet = checked.WithContent(processed)
			attemptLogger.Info("content regenerated", logging.String(logging.FieldEventType, "retry_attempt"))
			return result, nil
		}
		lastErr = nil
	}

	return result, services.Wrap(services.ErrProcessing, t.stage, "retry content",
		fmt.Sprintf("failed to generate valid content for %s_%s after %d retries", t.stage, t.phase, p.opts.MaxRetries), lastErr)
}

// ProcessBatch processes packets concurrently. Results keep input order; the
// first error cancels the remaining work and is returned alone.
func (p *Processor) ProcessBatch(ctx context.Context, packets []*content.Packet) ([]Result, error) {
	results := make([]Result, len(packets))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, packet := range packets {
		group.Go(func() error {
			result, err := p.Process(groupCtx, packet)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
