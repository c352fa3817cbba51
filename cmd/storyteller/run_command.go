package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tachyon-beep/storyteller/internal/preflight"
	"github.com/tachyon-beep/storyteller/internal/storage"
	"github.com/tachyon-beep/storyteller/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var batchSize int
	var strategy string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch of pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if batchSize < 0 {
				return fmt.Errorf("--batch-size must be positive (got %d)", batchSize)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if failed := preflight.Failed(preflight.RunAll(runCtx, cfg, preflight.Options{})); len(failed) > 0 {
				details := make([]string, 0, len(failed))
				for _, r := range failed {
					details = append(details, r.Name+": "+r.Detail)
				}
				return fmt.Errorf("preflight failed:\n  %s", strings.Join(details, "\n  "))
			}

			eng, err := buildEngine(runCtx, cfg, logger, engineOptions{batchSize: batchSize, strategy: strategy})
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.store.Lock(); err != nil {
				if errors.Is(err, storage.ErrLocked) {
					return errors.New("another storyteller run holds the batch storage lock")
				}
				return err
			}
			defer eng.store.Unlock()

			result, runErr := eng.batch.Run(runCtx)
			out := cmd.OutOrStdout()
			if len(result.Runs) > 0 {
				fmt.Fprintln(out, renderBatchResult(result))
			}
			fmt.Fprintf(out, "Completed %d of %d runs (%s strategy)\n", result.Completed(), len(result.Runs), eng.strategy)
			fmt.Fprintln(out, eng.progress.Summary())
			return runErr
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Number of runs in this batch (defaults to batch.size)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Content processing strategy: default or repair_only")
	return cmd
}

func renderBatchResult(result workflow.BatchResult) string {
	rows := make([][]string, 0, len(result.Runs))
	for _, run := range result.Runs {
		status, detail := "completed", ""
		if run.Result.Err != nil {
			status = "failed"
			detail = run.Result.FailedStage
			if run.Result.FailedPhase != "" {
				detail += "/" + run.Result.FailedPhase
			}
		}
		rows = append(rows, []string{
			strconv.Itoa(run.BatchID),
			run.Folder,
			status,
			strconv.Itoa(run.Result.CompletedPhases),
			formatDuration(run.Result.Duration),
			detail,
		})
	}
	return renderTable(
		[]string{"ID", "Folder", "Status", "Phases", "Duration", "Failed at"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}
