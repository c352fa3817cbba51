package stage

import (
	"fmt"

	"github.com/tachyon-beep/storyteller/internal/content"
)

// Progress is the (stage, phase) cursor plus the outputs of phases that
// completed in the current run. It has no internal locking; the executors
// are its only writer.
type Progress struct {
	registry   *Registry
	stageIndex int
	phaseIndex int
	data       map[string]map[string]*content.Packet
}

// NewProgress returns a progress tracker positioned at (0, 0).
func NewProgress(registry *Registry) *Progress {
	p := &Progress{registry: registry}
	p.Reset()
	return p
}

// Reset moves the cursor to (0, 0) and forgets all story data.
func (p *Progress) Reset() {
	p.stageIndex = 0
	p.phaseIndex = 0
	p.data = make(map[string]map[string]*content.Packet)
}

// Position returns the current cursor.
func (p *Progress) Position() (stageIndex, phaseIndex int) {
	return p.stageIndex, p.phaseIndex
}

// SetProgress moves the cursor, rejecting indices outside the registry.
func (p *Progress) SetProgress(stageIndex, phaseIndex int) error {
	if _, err := p.registry.Phase(stageIndex, phaseIndex); err != nil {
		return err
	}
	p.stageIndex = stageIndex
	p.phaseIndex = phaseIndex
	return nil
}

// UpdateStoryData records the accepted output of a phase. Re-recording the
// same pair overwrites the previous entry.
func (p *Progress) UpdateStoryData(stageName, phaseName string, pkt *content.Packet) error {
	if _, err := p.registry.PhaseIndex(stageName, phaseName); err != nil {
		return err
	}
	if pkt == nil {
		return fmt.Errorf("nil packet for %s/%s", stageName, phaseName)
	}
	phases, ok := p.data[stageName]
	if !ok {
		phases = make(map[string]*content.Packet)
		p.data[stageName] = phases
	}
	phases[phaseName] = pkt
	return nil
}

// StoryData returns the recorded output for a phase.
func (p *Progress) StoryData(stageName, phaseName string) (*content.Packet, bool) {
	pkt, ok := p.data[stageName][phaseName]
	return pkt, ok
}

// LastStageOutput returns the output of the last phase of a stage, which
// is only present once the whole stage has completed.
func (p *Progress) LastStageOutput(stageName string) (*content.Packet, bool) {
	stg, err := p.registry.StageByName(stageName)
	if err != nil {
		return nil, false
	}
	return p.StoryData(stageName, stg.Phases[len(stg.Phases)-1].Name)
}

// AllStoryData returns a copy of the completed-output map.
func (p *Progress) AllStoryData() map[string]map[string]*content.Packet {
	out := make(map[string]map[string]*content.Packet, len(p.data))
	for stageName, phases := range p.data {
		copied := make(map[string]*content.Packet, len(phases))
		for phaseName, pkt := range phases {
			copied[phaseName] = pkt
		}
		out[stageName] = copied
	}
	return out
}

// Completed returns how many phases have recorded output.
func (p *Progress) Completed() int {
	total := 0
	for _, phases := range p.data {
		total += len(phases)
	}
	return total
}

// Summary renders the cursor and completion count for logs and the CLI.
func (p *Progress) Summary() string {
	stageName, phaseName := "-", "-"
	if stg, err := p.registry.Stage(p.stageIndex); err == nil {
		stageName = stg.Name
		if phase, err := p.registry.Phase(p.stageIndex, p.phaseIndex); err == nil {
			phaseName = phase.Name
		}
	}
	return fmt.Sprintf("Current progress: Stage '%s', Phase '%s'. Completed %d out of %d total phases.",
		stageName, phaseName, p.Completed(), p.registry.TotalPhases())
}
