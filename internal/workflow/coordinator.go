package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tachyon-beep/storyteller/internal/logging"
	"github.com/tachyon-beep/storyteller/internal/services"
	"github.com/tachyon-beep/storyteller/internal/stage"
	"github.com/tachyon-beep/storyteller/internal/stageexec"
)

// StageRunner executes every phase of one stage.
type StageRunner interface {
	Run(ctx context.Context, stageIndex int, stg stage.Stage) ([]stageexec.PhaseOutcome, error)
}

// RunResult describes one pipeline run.
type RunResult struct {
	CompletedStages int
	CompletedPhases int
	FailedStage     string
	FailedPhase     string
	Outcomes        []stageexec.PhaseOutcome
	Err             error
	Duration        time.Duration
}

// Succeeded reports whether the run finished every stage.
func (r RunResult) Succeeded() bool { return r.Err == nil }

// Coordinator runs the enabled stages of a registry in order.
type Coordinator struct {
	stages   *stage.Registry
	progress *stage.Progress
	runner   StageRunner
	logger   *slog.Logger
}

// NewCoordinator validates its collaborators.
func NewCoordinator(stages *stage.Registry, progress *stage.Progress, runner StageRunner, logger *slog.Logger) (*Coordinator, error) {
	switch {
	case stages == nil:
		return nil, errors.New("coordinator: stage registry is required")
	case progress == nil:
		return nil, errors.New("coordinator: progress is required")
	case runner == nil:
		return nil, errors.New("coordinator: stage runner is required")
	}
	return &Coordinator{
		stages:   stages,
		progress: progress,
		runner:   runner,
		logger:   logging.NewComponentLogger(logger, "coordinator"),
	}, nil
}

// RunPipeline executes all stages. The first stage error stops the run and
// is returned; the RunResult is filled in either way.
func (c *Coordinator) RunPipeline(ctx context.Context) (RunResult, error) {
	start := time.Now()
	logger := logging.WithContext(ctx, c.logger)
	stages := c.stages.Stages()
	logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "pipeline_start"),
		logging.Int("stages", len(stages)),
		logging.Int("phases", c.stages.TotalPhases()),
	)

	var result RunResult
	finish := func(err error) (RunResult, error) {
		result.Err = err
		result.Duration = time.Since(start)
		return result, err
	}

	for i, stg := range stages {
		if err := ctx.Err(); err != nil {
			result.FailedStage = stg.Name
			return finish(services.Wrap(services.ErrTimeout, stg.Name, "run pipeline", "cancelled", err))
		}
		outcomes, err := c.runner.Run(ctx, i, stg)
		result.Outcomes = append(result.Outcomes, outcomes...)
		for _, o := range outcomes {
			if o.Err == nil {
				result.CompletedPhases++
			}
		}
		if err != nil {
			result.FailedStage = stg.Name
			if n := len(outcomes); n > 0 && outcomes[n-1].Err != nil {
				result.FailedPhase = outcomes[n-1].Phase
			}
			logging.WarnWithContext(logger, "pipeline stopped", "pipeline_failure",
				logging.String(logging.FieldStage, stg.Name),
				logging.String(logging.FieldPhase, result.FailedPhase),
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.Int("completed_phases", result.CompletedPhases),
				logging.String(logging.FieldErrorHint, "fix the failing phase and start a new batch"),
				logging.String(logging.FieldImpact, "remaining stages skipped"),
			)
			return finish(err)
		}
		result.CompletedStages++
		if i+1 < len(stages) {
			if err := c.progress.SetProgress(i+1, 0); err != nil {
				return finish(fmt.Errorf("advance progress to %s: %w", stages[i+1].Name, err))
			}
		}
	}

	result, err := finish(nil)
	logger.Info("pipeline completed",
		logging.String(logging.FieldEventType, "pipeline_complete"),
		logging.Int("stages", result.CompletedStages),
		logging.Int("phases", result.CompletedPhases),
		logging.Duration("duration", result.Duration),
		logging.String("progress", c.progress.Summary()),
	)
	return result, err
}
