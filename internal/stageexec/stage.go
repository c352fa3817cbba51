package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tachyon-beep/storyteller/internal/logging"
	"github.com/tachyon-beep/storyteller/internal/services"
	"github.com/tachyon-beep/storyteller/internal/stage"
)

// PhaseRunner executes a single phase.
type PhaseRunner interface {
	Execute(ctx context.Context, stg stage.Stage, phase stage.Phase) (PhaseOutcome, error)
}

// StageExecutor runs the phases of one stage in order.
type StageExecutor struct {
	phases    PhaseRunner
	progress  *stage.Progress
	logger    *slog.Logger
	overrides map[string]string
}

// NewStageExecutor returns a StageExecutor over phases and progress.
func NewStageExecutor(phases PhaseRunner, progress *stage.Progress, logger *slog.Logger) (*StageExecutor, error) {
	if phases == nil {
		return nil, errors.New("stage executor: phase runner is required")
	}
	if progress == nil {
		return nil, errors.New("stage executor: progress is required")
	}
	return &StageExecutor{
		phases:   phases,
		progress: progress,
		logger:   logging.NewComponentLogger(logger, "stage_executor"),
	}, nil
}

// SetLevelOverrides installs per-stage log levels keyed by stage name.
func (s *StageExecutor) SetLevelOverrides(overrides map[string]string) {
	s.overrides = overrides
}

// Run executes every phase of stg, which sits at stageIndex in the
// registry. After each non-final phase the cursor moves to the next phase;
// moving to the next stage is left to the caller. The first phase error
// stops the stage and is returned.
func (s *StageExecutor) Run(ctx context.Context, stageIndex int, stg stage.Stage) ([]PhaseOutcome, error) {
	stageCtx := services.WithStage(ctx, stg.Name)
	logger := logging.WithContext(stageCtx, logging.ForStage(s.logger, stg.Name, s.overrides))
	start := time.Now()

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("display_name", stg.DisplayName),
		logging.String("description", stg.Description),
		logging.Int("phases", len(stg.Phases)),
	)

	outcomes := make([]PhaseOutcome, 0, len(stg.Phases))
	for phaseIndex, phase := range stg.Phases {
		if err := ctx.Err(); err != nil {
			return outcomes, services.Wrap(services.ErrTimeout, stg.Name, "run stage", "cancelled before "+phase.Name, err)
		}
		outcome, err := s.phases.Execute(stageCtx, stg, phase)
		outcomes = append(outcomes, outcome)
		if err != nil {
			// The phase executor already logged the full error.
			logger.Info("stage stopped",
				logging.String(logging.FieldEventType, "stage_failure"),
				logging.String(logging.FieldPhase, phase.Name),
				logging.String(logging.FieldErrorKind, services.Kind(err)),
			)
			return outcomes, err
		}
		if phaseIndex+1 < len(stg.Phases) {
			if err := s.progress.SetProgress(stageIndex, phaseIndex+1); err != nil {
				return outcomes, fmt.Errorf("advance progress in %s: %w", stg.Name, err)
			}
		}
	}

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("duration", time.Since(start)),
	)
	return outcomes, nil
}
