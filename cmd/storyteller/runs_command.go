package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tachyon-beep/storyteller/internal/ledger"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show recent batch runs, or the phases of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			l, err := ledger.Open(cfg)
			if err != nil {
				return err
			}
			defer l.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				return showRun(cmd, l, args[0])
			}
			runs, err := l.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.ID,
					run.Folder,
					string(run.Status),
					fmt.Sprintf("%d/%d", run.CompletedPhases, run.TotalPhases),
					run.StartedAt.Local().Format(time.DateTime),
					formatDuration(run.Duration()),
					orDash(run.ErrorKind),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Folder", "Status", "Phases", "Started", "Duration", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	return cmd
}

func showRun(cmd *cobra.Command, l *ledger.Ledger, id string) error {
	run, err := l.Run(cmd.Context(), id)
	if err != nil {
		return err
	}
	phases, err := l.Phases(cmd.Context(), id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s, %s strategy): %s\n", run.ID, run.Folder, orDash(run.Strategy), run.Status)
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error: %s\n", run.ErrorMessage)
	}
	rows := make([][]string, 0, len(phases))
	for _, p := range phases {
		rows = append(rows, []string{
			p.Stage,
			p.Phase,
			p.Plugin,
			string(p.Status),
			yesNo(p.Repaired),
			strconv.Itoa(p.Retries),
			formatDuration(p.Duration),
			orDash(p.ErrorKind),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Stage", "Phase", "Plugin", "Status", "Repaired", "Retries", "Duration", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	))
	return nil
}
