package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tachyon-beep/storyteller/internal/logging"
	"github.com/tachyon-beep/storyteller/internal/plugins"
	"github.com/tachyon-beep/storyteller/internal/stage"
)

func newStagesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List enabled stages and their phases in execution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			reg, err := stage.FromConfig(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if reg.Len() == 0 {
				fmt.Fprintln(out, "No enabled stages configured")
				return nil
			}

			var rows [][]string
			for _, stg := range reg.Stages() {
				for _, phase := range stg.Phases {
					temperature, err := reg.TemperatureFor(stg.Name, phase.Name)
					if err != nil {
						return err
					}
					rows = append(rows, []string{
						strconv.Itoa(stg.Order),
						stg.DisplayName,
						phase.Name,
						orDash(phase.Plugin),
						formatTemperature(temperature),
						orDash(phase.Schema),
						phase.PromptFile,
					})
				}
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Order", "Stage", "Phase", "Plugin", "Temp", "Schema", "Prompt"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
			))
			fmt.Fprintf(out, "%d stages, %d phases\n", reg.Len(), reg.TotalPhases())
			return nil
		},
	}
}

func newPluginsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List loaded format plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			reg, err := plugins.NewRegistry(cfg.Plugins, cfg, logging.NewNop())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, reg.Len())
			for _, info := range reg.Info() {
				rows = append(rows, []string{
					info.Name,
					info.Format,
					info.Extension,
					yesNo(info.Repair),
					yesNo(info.Retry),
					yesNo(info.DefaultSchema),
					yesNo(info.Guidance),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Plugin", "Format", "Ext", "Repair", "Retry", "Schema", "Guidance"},
				rows,
				nil,
			))
			return nil
		},
	}
}
