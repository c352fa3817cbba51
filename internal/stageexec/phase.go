package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tachyon-beep/storyteller/internal/content"
	"github.com/tachyon-beep/storyteller/internal/logging"
	"github.com/tachyon-beep/storyteller/internal/plugins"
	"github.com/tachyon-beep/storyteller/internal/processor"
	"github.com/tachyon-beep/storyteller/internal/services"
	"github.com/tachyon-beep/storyteller/internal/services/llm"
	"github.com/tachyon-beep/storyteller/internal/stage"
)

// DefaultPlugin is used for phases that name no plugin.
const DefaultPlugin = "text"

// Model is the slice of the model adapter a phase needs.
type Model interface {
	llm.Generator
	SetSchema(schema string) error
}

// PromptPreparer builds the prompt for a phase.
type PromptPreparer interface {
	PreparePrompt(ctx context.Context, stg stage.Stage, phase stage.Phase) (string, error)
}

// ContentProcessor accepts or rejects generated content.
type ContentProcessor interface {
	Process(ctx context.Context, packet *content.Packet) (processor.Result, error)
}

// PluginLookup resolves format plugins by name.
type PluginLookup interface {
	Get(name string) (plugins.Plugin, error)
}

// Storage persists audit copies and accepted output.
type Storage interface {
	SaveEphemeral(ctx context.Context, packet *content.Packet) error
	SaveBatch(ctx context.Context, packet *content.Packet) error
}

// PhaseOutcome reports one phase execution.
type PhaseOutcome struct {
	Stage     string
	Phase     string
	Plugin    string
	RequestID string
	Repaired  bool
	Retries   int
	Duration  time.Duration
	Err       error
}

// PhaseOptions wires a PhaseExecutor. OnPhase, when set, is called after
// every phase attempt with its outcome. LevelOverrides maps stage names to
// log levels (logging.stage_overrides).
type PhaseOptions struct {
	Stages    *stage.Registry
	Progress  *stage.Progress
	Plugins   PluginLookup
	Prompts   PromptPreparer
	Model     Model
	Processor ContentProcessor
	Storage   Storage
	Logger    *slog.Logger
	OnPhase   func(PhaseOutcome)

	LevelOverrides map[string]string
}

// PhaseExecutor runs one phase end to end.
type PhaseExecutor struct {
	stages    *stage.Registry
	progress  *stage.Progress
	plugins   PluginLookup
	prompts   PromptPreparer
	model     Model
	processor ContentProcessor
	storage   Storage
	logger    *slog.Logger
	onPhase   func(PhaseOutcome)
	overrides map[string]string
}

// NewPhaseExecutor validates the collaborators.
func NewPhaseExecutor(opts PhaseOptions) (*PhaseExecutor, error) {
	var missing []string
	for name, ok := range map[string]bool{
		"stages":    opts.Stages != nil,
		"progress":  opts.Progress != nil,
		"plugins":   opts.Plugins != nil,
		"prompts":   opts.Prompts != nil,
		"model":     opts.Model != nil,
		"processor": opts.Processor != nil,
		"storage":   opts.Storage != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("phase executor: missing %s", strings.Join(missing, ", "))
	}
	return &PhaseExecutor{
		stages:    opts.Stages,
		progress:  opts.Progress,
		plugins:   opts.Plugins,
		prompts:   opts.Prompts,
		model:     opts.Model,
		processor: opts.Processor,
		storage:   opts.Storage,
		logger:    logging.NewComponentLogger(opts.Logger, "phase_executor"),
		onPhase:   opts.OnPhase,
		overrides: opts.LevelOverrides,
	}, nil
}

// Execute runs phase of stg. Any failure is returned wrapped with the
// stage and phase names and is fatal for the stage.
func (e *PhaseExecutor) Execute(ctx context.Context, stg stage.Stage, phase stage.Phase) (PhaseOutcome, error) {
	start := time.Now()
	pluginName := strings.ToLower(strings.TrimSpace(phase.Plugin))
	if pluginName == "" {
		pluginName = DefaultPlugin
	}
	outcome := PhaseOutcome{Stage: stg.Name, Phase: phase.Name, Plugin: pluginName, RequestID: uuid.NewString()}

	ctx = services.WithStage(ctx, stg.Name)
	ctx = services.WithPhase(ctx, phase.Name)
	ctx = services.WithRequestID(ctx, outcome.RequestID)
	logger := logging.WithContext(ctx, logging.ForStage(e.logger, stg.Name, e.overrides)).With(logging.String(logging.FieldPlugin, pluginName))

	logger.Info("phase started",
		logging.String(logging.FieldEventType, "phase_start"),
		logging.String("prompt_file", phase.PromptFile),
		logging.String("schema_file", phase.Schema),
	)

	result, err := e.run(ctx, logger, stg, phase, pluginName, outcome.RequestID)
	outcome.Duration = time.Since(start)
	outcome.Repaired = result.Repaired
	outcome.Retries = result.Retries
	if err != nil {
		err = fmt.Errorf("error in %s_%s: %w", stg.Name, phase.Name, err)
		outcome.Err = err
		logging.ErrorWithContext(logger, "phase failed", "phase_failure",
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, phaseHint(err)),
		)
	} else {
		logger.Info("phase completed",
			logging.String(logging.FieldEventType, "phase_complete"),
			logging.Bool("repaired", result.Repaired),
			logging.Int("retries", result.Retries),
			logging.Duration("duration", outcome.Duration),
		)
	}
	if e.onPhase != nil {
		e.onPhase(outcome)
	}
	return outcome, err
}

func (e *PhaseExecutor) run(ctx context.Context, logger *slog.Logger, stg stage.Stage, phase stage.Phase, pluginName, requestID string) (processor.Result, error) {
	plugin, err := e.plugins.Get(pluginName)
	if err != nil {
		return processor.Result{}, services.Wrap(services.ErrPlugin, stg.Name, "resolve plugin", "unsupported plugin: "+pluginName, err)
	}
	temperature, err := e.stages.TemperatureFor(stg.Name, phase.Name)
	if err != nil {
		return processor.Result{}, services.Wrap(services.ErrConfiguration, stg.Name, "resolve temperature", phase.Name, err)
	}

	prompt, err := e.prompts.PreparePrompt(ctx, stg, phase)
	if err != nil {
		return processor.Result{}, err
	}
	promptPacket := content.New(prompt, content.Identity{
		Stage: stg.Name, Phase: phase.Name, Plugin: pluginName,
		Identifier: content.IdentifierPrompt, Extension: "txt",
	}, map[string]string{content.MetaContentType: "text/plain", content.MetaRequestID: requestID})
	if err := e.storage.SaveEphemeral(ctx, promptPacket); err != nil {
		return processor.Result{}, fmt.Errorf("save prompt: %w", err)
	}

	schema, err := e.effectiveSchema(plugin, stg.Name, phase.Name)
	if err != nil {
		return processor.Result{}, err
	}
	if err := e.model.SetSchema(schema); err != nil {
		return processor.Result{}, services.Wrap(services.ErrConfiguration, stg.Name, "set schema", phase.Name, err)
	}

	logger.Debug("generating content", logging.Float64("temperature", temperature), logging.Bool("schema", schema != ""))
	raw, err := e.model.Generate(ctx, prompt, temperature)
	if err != nil {
		return processor.Result{}, fmt.Errorf("generate content: %w", err)
	}

	response := content.New(raw, content.Identity{
		Stage: stg.Name, Phase: phase.Name, Plugin: pluginName,
		Identifier: content.IdentifierResponse, Extension: plugin.Extension(),
	}, map[string]string{content.MetaPrompt: prompt, content.MetaRequestID: requestID})
	result, err := e.processor.Process(ctx, response)
	if err != nil {
		return result, err
	}

	stored, err := storageForm(plugin, result.Packet.Content)
	if err != nil {
		return result, services.Wrap(services.ErrFormat, stg.Name, "serialize", phase.Name, err)
	}
	result.Packet = result.Packet.WithContent(stored)

	if err := e.storage.SaveBatch(ctx, result.Packet); err != nil {
		return result, fmt.Errorf("save batch content: %w", err)
	}
	if err := e.storage.SaveEphemeral(ctx, result.Packet); err != nil {
		return result, fmt.Errorf("save ephemeral content: %w", err)
	}
	if err := e.progress.UpdateStoryData(stg.Name, phase.Name, result.Packet); err != nil {
		return result, fmt.Errorf("record story data: %w", err)
	}
	return result, nil
}

// storageForm serializes accepted content and checks that the stored text
// parses back through the same plugin.
func storageForm(plugin plugins.Plugin, text string) (string, error) {
	stored, err := plugin.Serialize(text)
	if err != nil {
		return "", err
	}
	if _, err := plugin.Deserialize(stored); err != nil {
		return "", fmt.Errorf("stored form does not parse: %w", err)
	}
	return stored, nil
}

// effectiveSchema prefers the phase schema over the plugin default.
func (e *PhaseExecutor) effectiveSchema(plugin plugins.Plugin, stageName, phaseName string) (string, error) {
	schema, found, err := e.stages.PhaseSchema(stageName, phaseName)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, stageName, "resolve schema", phaseName, err)
	}
	if found {
		return schema, nil
	}
	return plugin.DefaultSchema(), nil
}

func phaseHint(err error) string {
	switch {
	case errors.Is(err, services.ErrFormat):
		return "the model returned malformed content; inspect the response in ephemeral storage"
	case errors.Is(err, services.ErrProcessing):
		return "content stayed invalid after repair and retry; inspect invalid_* files in ephemeral storage"
	case errors.Is(err, services.ErrPlugin), errors.Is(err, services.ErrConfiguration):
		return "check the plugin and phase configuration"
	default:
		return "check model connectivity and storage permissions"
	}
}
