package stage

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tachyon-beep/storyteller/internal/config"
	"github.com/tachyon-beep/storyteller/internal/textutil"
)

var (
	// ErrStageNotFound reports a stage name lookup miss.
	ErrStageNotFound = errors.New("stage not found")
	// ErrPhaseNotFound reports a phase name lookup miss.
	ErrPhaseNotFound = errors.New("phase not found")
	// ErrIndexOutOfRange reports a stage or phase index outside the registry bounds.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// SchemaLoader reads schema text by file name.
type SchemaLoader interface {
	LoadSchema(name string) (string, error)
}

// Phase is one prompt -> generate -> validate unit.
type Phase struct {
	Name        string
	PromptFile  string
	Plugin      string
	Temperature *float64
	Schema      string
}

func (p Phase) clone() Phase {
	if p.Temperature != nil {
		t := *p.Temperature
		p.Temperature = &t
	}
	return p
}

// Stage is an ordered group of phases.
type Stage struct {
	Name        string
	DisplayName string
	Description string
	Order       int
	Guidance    string
	Phases      []Phase
}

func (s Stage) clone() Stage {
	phases := make([]Phase, len(s.Phases))
	for i, phase := range s.Phases {
		phases[i] = phase.clone()
	}
	s.Phases = phases
	return s
}

// Registry is the load-once catalog of enabled stages in execution order.
// Every accessor returns a deep copy, so callers cannot change it.
type Registry struct {
	stages             []Stage
	stageIndex         map[string]int
	phaseIndex         map[string]map[string]int
	defaultTemperature float64
	schemas            SchemaLoader
}

// NewRegistry copies stages (already in execution order) into a registry.
func NewRegistry(stages []Stage, defaultTemperature float64, schemas SchemaLoader) (*Registry, error) {
	r := &Registry{
		stages:             make([]Stage, 0, len(stages)),
		stageIndex:         make(map[string]int, len(stages)),
		phaseIndex:         make(map[string]map[string]int, len(stages)),
		defaultTemperature: defaultTemperature,
		schemas:            schemas,
	}
	for i, stg := range stages {
		if _, dup := r.stageIndex[stg.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", stg.Name)
		}
		if len(stg.Phases) == 0 {
			return nil, fmt.Errorf("stage %q has no phases", stg.Name)
		}
		stg = stg.clone()
		phases := make(map[string]int, len(stg.Phases))
		for j, phase := range stg.Phases {
			if _, dup := phases[phase.Name]; dup {
				return nil, fmt.Errorf("stage %q: duplicate phase %q", stg.Name, phase.Name)
			}
			phases[phase.Name] = j
		}
		r.stages = append(r.stages, stg)
		r.stageIndex[stg.Name] = i
		r.phaseIndex[stg.Name] = phases
	}
	return r, nil
}

// FromConfig builds a registry from the enabled stages of cfg.
func FromConfig(cfg *config.Config) (*Registry, error) {
	enabled := cfg.EnabledStages()
	stages := make([]Stage, 0, len(enabled))
	for _, stg := range enabled {
		display := strings.TrimSpace(stg.DisplayName)
		if display == "" {
			display = textutil.TitleCase(stg.Name)
		}
		phases := make([]Phase, 0, len(stg.Phases))
		for _, phase := range stg.Phases {
			phases = append(phases, Phase{
				Name:        phase.Name,
				PromptFile:  phase.PromptFile,
				Plugin:      phase.Plugin,
				Temperature: phase.Temperature,
				Schema:      phase.Schema,
			})
		}
		stages = append(stages, Stage{
			Name:        stg.Name,
			DisplayName: display,
			Description: stg.Description,
			Order:       stg.Order,
			Guidance:    stg.Guidance,
			Phases:      phases,
		})
	}
	return NewRegistry(stages, cfg.LLM.DefaultTemperature, cfg)
}

// Len returns the number of stages.
func (r *Registry) Len() int { return len(r.stages) }

// TotalPhases returns the number of phases across all stages.
func (r *Registry) TotalPhases() int {
	total := 0
	for _, stg := range r.stages {
		total += len(stg.Phases)
	}
	return total
}

// Stages returns a copy of the stages in execution order.
func (r *Registry) Stages() []Stage {
	out := make([]Stage, len(r.stages))
	for i, stg := range r.stages {
		out[i] = stg.clone()
	}
	return out
}

// Stage returns the stage at index.
func (r *Registry) Stage(index int) (Stage, error) {
	if index < 0 || index >= len(r.stages) {
		return Stage{}, fmt.Errorf("%w: stage index %d (have %d stages)", ErrIndexOutOfRange, index, len(r.stages))
	}
	return r.stages[index].clone(), nil
}

// Phase returns the phase at (stageIndex, phaseIndex).
func (r *Registry) Phase(stageIndex, phaseIndex int) (Phase, error) {
	stg, err := r.Stage(stageIndex)
	if err != nil {
		return Phase{}, err
	}
	if phaseIndex < 0 || phaseIndex >= len(stg.Phases) {
		return Phase{}, fmt.Errorf("%w: phase index %d in stage %q (have %d phases)", ErrIndexOutOfRange, phaseIndex, stg.Name, len(stg.Phases))
	}
	return stg.Phases[phaseIndex], nil
}

// StageByName returns the named stage.
func (r *Registry) StageByName(name string) (Stage, error) {
	idx, err := r.StageIndex(name)
	if err != nil {
		return Stage{}, err
	}
	return r.stages[idx].clone(), nil
}

// StageIndex resolves a stage name to its execution index.
func (r *Registry) StageIndex(name string) (int, error) {
	idx, ok := r.stageIndex[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrStageNotFound, name)
	}
	return idx, nil
}

// PhaseIndex resolves a phase name within a stage.
func (r *Registry) PhaseIndex(stageName, phaseName string) (int, error) {
	phases, ok := r.phaseIndex[stageName]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrStageNotFound, stageName)
	}
	idx, ok := phases[phaseName]
	if !ok {
		return 0, fmt.Errorf("%w: %q in stage %q", ErrPhaseNotFound, phaseName, stageName)
	}
	return idx, nil
}

// PhaseByName returns the named phase.
func (r *Registry) PhaseByName(stageName, phaseName string) (Phase, error) {
	idx, err := r.PhaseIndex(stageName, phaseName)
	if err != nil {
		return Phase{}, err
	}
	return r.stages[r.stageIndex[stageName]].Phases[idx].clone(), nil
}

// Contains reports whether the stage/phase pair exists.
func (r *Registry) Contains(stageName, phaseName string) bool {
	_, err := r.PhaseIndex(stageName, phaseName)
	return err == nil
}

// PhaseTemperature returns the phase's explicit temperature or the global
// default. A non-finite result is a configuration error.
func (r *Registry) PhaseTemperature(stageIndex, phaseIndex int) (float64, error) {
	phase, err := r.Phase(stageIndex, phaseIndex)
	if err != nil {
		return 0, err
	}
	temperature := r.defaultTemperature
	if phase.Temperature != nil {
		temperature = *phase.Temperature
	}
	if math.IsNaN(temperature) || math.IsInf(temperature, 0) {
		return 0, fmt.Errorf("phase %q has no usable temperature", phase.Name)
	}
	return temperature, nil
}

// TemperatureFor is PhaseTemperature keyed by stage and phase name.
func (r *Registry) TemperatureFor(stageName, phaseName string) (float64, error) {
	stageIndex, err := r.StageIndex(stageName)
	if err != nil {
		return 0, err
	}
	phaseIndex, err := r.PhaseIndex(stageName, phaseName)
	if err != nil {
		return 0, err
	}
	return r.PhaseTemperature(stageIndex, phaseIndex)
}

// PhaseSchema loads the schema configured for a phase. found is false when
// the phase has no schema field; that is not an error.
func (r *Registry) PhaseSchema(stageName, phaseName string) (schema string, found bool, err error) {
	phase, err := r.PhaseByName(stageName, phaseName)
	if err != nil {
		return "", false, err
	}
	if phase.Schema == "" {
		return "", false, nil
	}
	if r.schemas == nil {
		return "", false, fmt.Errorf("phase %q declares schema %q but no schema loader is configured", phaseName, phase.Schema)
	}
	text, err := r.schemas.LoadSchema(phase.Schema)
	if err != nil {
		return "", false, fmt.Errorf("load schema for %s/%s: %w", stageName, phaseName, err)
	}
	return text, true, nil
}
