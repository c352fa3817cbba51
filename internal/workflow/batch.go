package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tachyon-beep/storyteller/internal/content"
	"github.com/tachyon-beep/storyteller/internal/ledger"
	"github.com/tachyon-beep/storyteller/internal/logging"
	"github.com/tachyon-beep/storyteller/internal/services"
	"github.com/tachyon-beep/storyteller/internal/stage"
)

// Pipeline runs every stage once.
type Pipeline interface {
	RunPipeline(ctx context.Context) (RunResult, error)
}

// BatchStorage is the slice of the storage manager a batch needs.
type BatchStorage interface {
	StartNewBatch() (string, error)
	ClearEphemeral() (int, error)
	CreateBatchRun(batchName string, id int) (string, error)
	Export(ctx context.Context, packets []*content.Packet) error
}

// BatchNamer receives the name and id of the active batch run.
type BatchNamer interface {
	SetBatch(name string, id int)
}

// RunRecorder persists run history.
type RunRecorder interface {
	StartRun(ctx context.Context, start ledger.RunStart) (string, error)
	RecordPhase(ctx context.Context, p ledger.Phase) error
	FinishRun(ctx context.Context, id string, completed, total int, runErr error) error
}

// BatchOptions wires a BatchRunner. Ledger and Prompts are optional.
type BatchOptions struct {
	Size       int
	Name       string
	StartingID int
	Strategy   string

	Stages   *stage.Registry
	Progress *stage.Progress
	Pipeline Pipeline
	Storage  BatchStorage
	Prompts  BatchNamer
	Ledger   RunRecorder
	Logger   *slog.Logger
}

// BatchRun is the outcome of one run within a batch.
type BatchRun struct {
	BatchID  int
	Folder   string
	LedgerID string
	Result   RunResult
}

// BatchResult lists the runs a batch attempted, in order.
type BatchResult struct {
	Datetime string
	Runs     []BatchRun
}

// Completed counts the runs that finished every stage.
func (b BatchResult) Completed() int {
	n := 0
	for _, r := range b.Runs {
		if r.Result.Succeeded() {
			n++
		}
	}
	return n
}

// BatchRunner executes a batch of sequential pipeline runs.
type BatchRunner struct {
	opts   BatchOptions
	logger *slog.Logger
}

// NewBatchRunner validates opts.
func NewBatchRunner(opts BatchOptions) (*BatchRunner, error) {
	switch {
	case opts.Stages == nil:
		return nil, errors.New("batch: stage registry is required")
	case opts.Progress == nil:
		return nil, errors.New("batch: progress is required")
	case opts.Pipeline == nil:
		return nil, errors.New("batch: pipeline is required")
	case opts.Storage == nil:
		return nil, errors.New("batch: storage is required")
	case opts.Size < 1:
		return nil, fmt.Errorf("batch: size must be at least 1, got %d", opts.Size)
	case opts.Name == "":
		return nil, errors.New("batch: name is required")
	}
	return &BatchRunner{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "batch")}, nil
}

// Run executes the batch. It stops at the first failed run and returns its
// error alongside the runs attempted so far.
func (b *BatchRunner) Run(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	datetime, err := b.opts.Storage.StartNewBatch()
	if err != nil {
		return result, fmt.Errorf("start batch: %w", err)
	}
	result.Datetime = datetime

	for i := range b.opts.Size {
		if err := ctx.Err(); err != nil {
			return result, services.Wrap(services.ErrTimeout, "", "run batch", "cancelled", err)
		}
		run, err := b.runOnce(ctx, b.opts.StartingID+i)
		result.Runs = append(result.Runs, run)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func (b *BatchRunner) runOnce(ctx context.Context, id int) (BatchRun, error) {
	run := BatchRun{BatchID: id}
	removed, err := b.opts.Storage.ClearEphemeral()
	if err != nil {
		return run, fmt.Errorf("clear ephemeral storage: %w", err)
	}
	folder, err := b.opts.Storage.CreateBatchRun(b.opts.Name, id)
	if err != nil {
		return run, fmt.Errorf("create batch run %d: %w", id, err)
	}
	run.Folder = folder
	if b.opts.Prompts != nil {
		b.opts.Prompts.SetBatch(b.opts.Name, id)
	}
	b.opts.Progress.Reset()

	ctx = services.WithBatchRun(ctx, folder)
	logger := logging.WithContext(ctx, b.logger)
	logger.Info("batch run started",
		logging.String(logging.FieldEventType, "batch_run_start"),
		logging.Int("batch_id", id),
		logging.Int("ephemeral_cleared", removed),
	)

	total := b.opts.Stages.TotalPhases()
	if b.opts.Ledger != nil {
		ledgerID, err := b.opts.Ledger.StartRun(ctx, ledger.RunStart{
			BatchName: b.opts.Name, BatchID: id, Folder: folder, Strategy: b.opts.Strategy, TotalPhases: total,
		})
		if err != nil {
			logging.WarnWithContext(logger, "run ledger unavailable", "ledger_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "this run is missing from `storyteller runs`"),
				logging.String(logging.FieldErrorHint, "check permissions on the log directory"),
			)
		}
		run.LedgerID = ledgerID
	}

	result, runErr := b.opts.Pipeline.RunPipeline(ctx)
	run.Result = result
	exportFailed := false
	if runErr == nil {
		if err := b.opts.Storage.Export(ctx, b.storyPackets()); err != nil {
			runErr = fmt.Errorf("export story data: %w", err)
			run.Result.Err = runErr
			exportFailed = true
		}
	}
	b.record(ctx, logger, run, total)

	if runErr != nil {
		// Pipeline failures were already logged in full by the failing phase.
		if exportFailed {
			logging.ErrorWithContext(logger, "batch run failed", "batch_run_failure",
				logging.Int("batch_id", id),
				logging.String(logging.FieldErrorKind, services.Kind(runErr)),
				logging.Error(runErr),
			)
		} else {
			logging.WarnWithContext(logger, "batch run failed", "batch_run_failure",
				logging.Int("batch_id", id),
				logging.String(logging.FieldStage, result.FailedStage),
				logging.String(logging.FieldErrorKind, services.Kind(runErr)),
				logging.String(logging.FieldImpact, "batch run stopped"),
			)
		}
		return run, fmt.Errorf("batch run %s: %w", folder, runErr)
	}
	logger.Info("batch run completed",
		logging.String(logging.FieldEventType, "batch_run_complete"),
		logging.Int("batch_id", id),
		logging.Int("phases", result.CompletedPhases),
		logging.Duration("duration", result.Duration),
	)
	return run, nil
}

// storyPackets flattens story data in stage and phase order.
func (b *BatchRunner) storyPackets() []*content.Packet {
	var packets []*content.Packet
	for _, stg := range b.opts.Stages.Stages() {
		for _, phase := range stg.Phases {
			if p, ok := b.opts.Progress.StoryData(stg.Name, phase.Name); ok {
				packets = append(packets, p)
			}
		}
	}
	return packets
}

func (b *BatchRunner) record(ctx context.Context, logger *slog.Logger, run BatchRun, total int) {
	if b.opts.Ledger == nil || run.LedgerID == "" {
		return
	}
	// A cancelled run still gets its history written.
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, o := range run.Result.Outcomes {
		p := ledger.Phase{
			RunID:     run.LedgerID,
			Stage:     o.Stage,
			Phase:     o.Phase,
			Plugin:    o.Plugin,
			RequestID: o.RequestID,
			Repaired:  o.Repaired,
			Retries:   o.Retries,
			Duration:  o.Duration.Round(time.Millisecond),
		}
		if o.Err != nil {
			p.ErrorKind = services.Kind(o.Err)
			p.ErrorMessage = o.Err.Error()
		}
		errs = append(errs, b.opts.Ledger.RecordPhase(ctx, p))
	}
	errs = append(errs, b.opts.Ledger.FinishRun(ctx, run.LedgerID, run.Result.CompletedPhases, total, run.Result.Err))
	if err := errors.Join(errs...); err != nil {
		logging.WarnWithContext(logger, "run ledger update failed", "ledger_error",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run history may be incomplete"),
			logging.String(logging.FieldErrorHint, "check permissions on the log directory"),
		)
	}
}
