package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/tachyon-beep/storyteller/internal/content"
	"github.com/tachyon-beep/storyteller/internal/logging"
	"github.com/tachyon-beep/storyteller/internal/plugins"
	"github.com/tachyon-beep/storyteller/internal/services"
	"github.com/tachyon-beep/storyteller/internal/stage"
)

// GenericGuidanceFile is the guidance file behind {GUIDANCE:TYPE:generic}.
const GenericGuidanceFile = "generic.txt"

var (
	outputPattern         = regexp.MustCompile(`\{OUTPUT:STAGE:(\w+)(?::PHASE:(\w+))?(?::FORMAT:(\w+))?\}`)
	guidancePattern       = regexp.MustCompile(`\{GUIDANCE:TYPE:(\w+)(?::(\w+))?(?::(\w+))?\}`)
	pluginSchemaPattern   = regexp.MustCompile(`\{SCHEMA:PLUGIN:(\w+)\}`)
	batchPattern          = regexp.MustCompile(`\{BATCH_(NAME|ID)\}`)
	pluginGuidancePattern = regexp.MustCompile(`\{GUIDANCE:PLUGIN:(\w+)\}`)
)

// Resources reads prompt templates and guidance files.
type Resources interface {
	LoadPrompt(name string) (string, error)
	LoadGuidance(name string) (string, error)
}

// PluginLookup resolves format plugins by name.
type PluginLookup interface {
	Get(name string) (plugins.Plugin, error)
}

// StoryReader exposes the outputs accepted so far in the current run.
type StoryReader interface {
	StoryData(stageName, phaseName string) (*content.Packet, bool)
}

// Options wires a Manager. Library may be nil.
type Options struct {
	Resources Resources
	Stages    *stage.Registry
	Story     StoryReader
	Plugins   PluginLookup
	Library   *Library
	Logger    *slog.Logger
}

// Manager prepares the prompt for a phase.
type Manager struct {
	resources Resources
	stages    *stage.Registry
	story     StoryReader
	plugins   PluginLookup
	library   *Library
	logger    *slog.Logger

	mu        sync.RWMutex
	batchName string
	batchID   int
}

// NewManager validates the collaborators and returns a Manager.
func NewManager(opts Options) (*Manager, error) {
	switch {
	case opts.Resources == nil:
		return nil, errors.New("prompt: resources are required")
	case opts.Stages == nil:
		return nil, errors.New("prompt: stage registry is required")
	case opts.Story == nil:
		return nil, errors.New("prompt: story reader is required")
	case opts.Plugins == nil:
		return nil, errors.New("prompt: plugin lookup is required")
	}
	return &Manager{
		resources: opts.Resources,
		stages:    opts.Stages,
		story:     opts.Story,
		plugins:   opts.Plugins,
		library:   opts.Library,
		logger:    logging.NewComponentLogger(opts.Logger, "prompt"),
	}, nil
}

// SetBatch records the batch name and id used by {BATCH_NAME} and {BATCH_ID}.
func (m *Manager) SetBatch(name string, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchName = name
	m.batchID = id
}

func (m *Manager) batch() (string, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchName, m.batchID
}

// PreparePrompt loads the phase's template and expands its placeholders.
// Only a missing or unreadable template is an error.
func (m *Manager) PreparePrompt(ctx context.Context, stg stage.Stage, phase stage.Phase) (string, error) {
	logger := logging.WithContext(ctx, m.logger).With(
		logging.String(logging.FieldStage, stg.Name),
		logging.String(logging.FieldPhase, phase.Name),
	)
	if strings.TrimSpace(phase.PromptFile) == "" {
		return "", services.Wrap(services.ErrConfiguration, stg.Name, "prepare prompt", phase.Name+" has no prompt_file", nil)
	}
	template, err := m.resources.LoadPrompt(phase.PromptFile)
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, stg.Name, "prepare prompt", phase.PromptFile, err)
	}
	if strings.TrimSpace(template) == "" {
		logging.WarnWithContext(logger, "prompt template is empty", "prompt_empty",
			logging.String("prompt_file", phase.PromptFile),
			logging.String(logging.FieldImpact, "the model receives an empty prompt"),
			logging.String(logging.FieldErrorHint, "fill in the prompt template"),
		)
	}
	logger.Debug("preparing prompt", logging.String("prompt_file", phase.PromptFile))

	prompt := m.replaceLibrary(template, logger)
	prompt = expand(prompt, outputPattern, logger, m.resolveOutput)
	prompt = expand(prompt, guidancePattern, logger, m.resolveGuidance)
	prompt = expand(prompt, pluginSchemaPattern, logger, func(groups []string) (string, error) {
		return m.resolveSchema(stg.Name, phase.Name, groups[1])
	})
	prompt = expand(prompt, batchPattern, logger, m.resolveBatch)
	prompt = expand(prompt, pluginGuidancePattern, logger, func(groups []string) (string, error) {
		return m.pluginGuidance(groups[1])
	})
	return prompt, nil
}

// expand replaces every match of pattern. A resolver error becomes an
// inline "[Error: ...]" marker.
func expand(prompt string, pattern *regexp.Regexp, logger *slog.Logger, resolve func(groups []string) (string, error)) string {
	return pattern.ReplaceAllStringFunc(prompt, func(match string) string {
		value, err := resolve(pattern.FindStringSubmatch(match))
		if err != nil {
			logging.WarnWithContext(logger, "placeholder could not be resolved", "placeholder_error",
				logging.String("placeholder", match),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the prompt carries an inline error marker"),
				logging.String(logging.FieldErrorHint, "check stage order, plugin resources and guidance files"),
			)
			return fmt.Sprintf("[Error: %v]", err)
		}
		return value
	})
}

func (m *Manager) replaceLibrary(prompt string, logger *slog.Logger) string {
	for _, key := range m.library.Keys() {
		tag, _ := m.library.Tag(key)
		curly, square := "{"+tag+"}", "["+tag+"]"
		if !strings.Contains(prompt, curly) && !strings.Contains(prompt, square) {
			continue
		}
		values, err := m.library.Sample(key)
		if err != nil {
			logger.Error("library placeholder failed", logging.String("placeholder", key), logging.Error(err))
			continue
		}
		replacement := strings.Join(values, ", ")
		prompt = strings.ReplaceAll(prompt, curly, replacement)
		prompt = strings.ReplaceAll(prompt, square, replacement)
	}
	return prompt
}

func (m *Manager) resolveOutput(groups []string) (string, error) {
	stageName, phaseName, format := groups[1], groups[2], groups[3]
	stg, err := m.stages.StageByName(stageName)
	if err != nil {
		return "", fmt.Errorf("invalid stage: %s", stageName)
	}
	if phaseName == "" {
		phaseName = stg.Phases[len(stg.Phases)-1].Name
	} else if !m.stages.Contains(stageName, phaseName) {
		return "", fmt.Errorf("invalid phase: %s/%s", stageName, phaseName)
	}
	packet, ok := m.story.StoryData(stageName, phaseName)
	if !ok {
		return "", fmt.Errorf("no content found for stage '%s' and phase '%s'", stageName, phaseName)
	}
	if format == "" {
		return packet.Content, nil
	}
	plugin, err := m.plugins.Get(strings.ToLower(format))
	if err != nil {
		return "", err
	}
	return plugin.Process(plugin.ExtractContent(packet.Content))
}

func (m *Manager) resolveGuidance(groups []string) (string, error) {
	kind, target := strings.ToLower(groups[1]), groups[2]
	switch kind {
	case "stage":
		if target == "" {
			return "", errors.New("stage name is required for stage-specific guidance")
		}
		stg, err := m.stages.StageByName(target)
		if err != nil {
			return "", err
		}
		if stg.Guidance == "" {
			return "", fmt.Errorf("stage %s has no guidance file", target)
		}
		return m.resources.LoadGuidance(stg.Guidance)
	case "generic":
		return m.resources.LoadGuidance(GenericGuidanceFile)
	default:
		return m.pluginGuidance(kind)
	}
}

// resolveSchema prefers the current phase's schema, then the named plugin's
// default schema.
func (m *Manager) resolveSchema(stageName, phaseName, pluginName string) (string, error) {
	schema, found, err := m.stages.PhaseSchema(stageName, phaseName)
	if err != nil {
		return "", err
	}
	if found && schema != "" {
		return schema, nil
	}
	plugin, err := m.plugins.Get(strings.ToLower(pluginName))
	if err != nil {
		return "", err
	}
	if plugin.DefaultSchema() == "" {
		return "", fmt.Errorf("no schema found for plugin: %s", pluginName)
	}
	return plugin.DefaultSchema(), nil
}

func (m *Manager) resolveBatch(groups []string) (string, error) {
	name, id := m.batch()
	if groups[1] == "NAME" {
		return name, nil
	}
	return strconv.Itoa(id), nil
}

func (m *Manager) pluginGuidance(name string) (string, error) {
	plugin, err := m.plugins.Get(strings.ToLower(name))
	if err != nil {
		return "", err
	}
	if plugin.Guidance() == "" {
		return "", fmt.Errorf("no guidance file specified for plugin: %s", name)
	}
	return plugin.Guidance(), nil
}
