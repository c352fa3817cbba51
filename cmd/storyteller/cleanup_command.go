package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tachyon-beep/storyteller/internal/storage"
)

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	var maxFolders int
	var maxDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove old batch folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-folders") {
				maxFolders = cfg.Batch.KeepFolders
			}
			if !cmd.Flags().Changed("max-days") {
				maxDays = cfg.Batch.MaxAgeDays
			}
			if maxFolders <= 0 && maxDays <= 0 {
				return errors.New("set --max-folders or --max-days (or batch.keep_folders / batch.max_age_days)")
			}

			store, err := storage.NewFromConfig(cfg, logger)
			if err != nil {
				return err
			}
			if err := store.Lock(); err != nil {
				return err
			}
			defer store.Unlock()

			result, err := store.CleanupOldBatchRuns(cmd.Context(), storage.CleanupOptions{
				MaxFolders: maxFolders,
				MaxAge:     time.Duration(maxDays) * 24 * time.Hour,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, path := range result.Removed {
				fmt.Fprintf(out, "removed %s\n", path)
			}
			for _, path := range result.Skipped {
				fmt.Fprintf(out, "skipped %s\n", path)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "failed  %s: %v\n", e.Path, e.Error)
			}
			fmt.Fprintf(out, "Removed %d, skipped %d, failed %d\n", len(result.Removed), len(result.Skipped), len(result.Errors))
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d folders could not be removed", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxFolders, "max-folders", 0, "Keep at most this many batch folders")
	cmd.Flags().IntVar(&maxDays, "max-days", 0, "Remove batch folders older than this many days")
	return cmd
}
