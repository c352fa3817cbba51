package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tachyon-beep/storyteller/internal/config"
	"github.com/tachyon-beep/storyteller/internal/ledger"
	"github.com/tachyon-beep/storyteller/internal/plugins"
	"github.com/tachyon-beep/storyteller/internal/processor"
	"github.com/tachyon-beep/storyteller/internal/prompt"
	"github.com/tachyon-beep/storyteller/internal/services/llm"
	"github.com/tachyon-beep/storyteller/internal/stage"
	"github.com/tachyon-beep/storyteller/internal/stageexec"
	"github.com/tachyon-beep/storyteller/internal/storage"
	"github.com/tachyon-beep/storyteller/internal/workflow"
)

// newModel builds the model adapter. Tests replace it with a fake.
var newModel = llm.New

type engineOptions struct {
	batchSize int
	strategy  string
}

// engine is one fully wired pipeline.
type engine struct {
	cfg      *config.Config
	stages   *stage.Registry
	plugins  *plugins.Registry
	progress *stage.Progress
	store    *storage.Manager
	ledger   *ledger.Ledger
	model    llm.Adapter
	batch    *workflow.BatchRunner
	strategy processor.Strategy
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts engineOptions) (*engine, error) {
	strategyName := cfg.ContentProcessing.Strategy
	if opts.strategy != "" {
		strategyName = opts.strategy
	}
	strategy, err := processor.ParseStrategy(strategyName)
	if err != nil {
		return nil, err
	}
	batchSize := cfg.Batch.Size
	if opts.batchSize > 0 {
		batchSize = opts.batchSize
	}

	stages, err := stage.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("load stages: %w", err)
	}
	if stages.Len() == 0 {
		return nil, errors.New("no enabled stages configured")
	}
	registry, err := plugins.NewRegistry(cfg.Plugins, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("load plugins: %w", err)
	}
	library, err := prompt.NewLibrary(cfg.Placeholders, cfg.DataPath, nil)
	if err != nil {
		return nil, fmt.Errorf("load placeholder library: %w", err)
	}
	store, err := storage.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	model, err := newModel(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("build model adapter: %w", err)
	}
	if err := model.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize model adapter: %w", err)
	}

	progress := stage.NewProgress(stages)
	prompts, err := prompt.NewManager(prompt.Options{
		Resources: cfg,
		Stages:    stages,
		Story:     progress,
		Plugins:   registry,
		Library:   library,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	proc, err := processor.New(registry, stages, model, store, processor.Options{
		Strategy:          strategy,
		MaxRetries:        cfg.ContentProcessing.MaxRetries,
		RepairTemperature: cfg.ContentProcessing.RepairTemperature,
		RepairTimeout:     time.Duration(cfg.ContentProcessing.RepairTimeoutSeconds) * time.Second,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	phases, err := stageexec.NewPhaseExecutor(stageexec.PhaseOptions{
		Stages:    stages,
		Progress:  progress,
		Plugins:   registry,
		Prompts:   prompts,
		Model:     model,
		Processor: proc,
		Storage:   store,
		Logger:    logger,

		LevelOverrides: cfg.Logging.StageOverrides,
	})
	if err != nil {
		return nil, err
	}
	stageExec, err := stageexec.NewStageExecutor(phases, progress, logger)
	if err != nil {
		return nil, err
	}
	stageExec.SetLevelOverrides(cfg.Logging.StageOverrides)
	coordinator, err := workflow.NewCoordinator(stages, progress, stageExec, logger)
	if err != nil {
		return nil, err
	}

	runLedger, err := ledger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	batch, err := workflow.NewBatchRunner(workflow.BatchOptions{
		Size:       batchSize,
		Name:       cfg.Batch.Name,
		StartingID: cfg.Batch.StartingID,
		Strategy:   strategy.String(),
		Stages:     stages,
		Progress:   progress,
		Pipeline:   coordinator,
		Storage:    store,
		Prompts:    prompts,
		Ledger:     runLedger,
		Logger:     logger,
	})
	if err != nil {
		_ = runLedger.Close()
		return nil, err
	}

	return &engine{
		cfg:      cfg,
		stages:   stages,
		plugins:  registry,
		progress: progress,
		store:    store,
		ledger:   runLedger,
		model:    model,
		batch:    batch,
		strategy: strategy,
	}, nil
}

func (e *engine) Close() error {
	return e.ledger.Close()
}
