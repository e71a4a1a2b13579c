package command

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check an experiment config and print the resolved schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			schedule, err := cfg.Schedule()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s / %s\n", cfg.Session.SessionName, cfg.Session.GroupName)
			fmt.Fprintf(out, "participants (%d): %s\n", len(schedule.Participants), strings.Join(schedule.Participants, ", "))
			fmt.Fprintf(out, "flow: mode=%s end=%s turn=%gs cooldown=%gs\n",
				orDefault(string(schedule.FlowMode), "turns"),
				orDefault(string(schedule.EndCondition), "derived"),
				schedule.TurnDurationSeconds,
				schedule.CooldownSeconds,
			)
			modules := cfg.EnabledModules()
			if len(modules) == 0 {
				modules = []string{"none"}
			}
			fmt.Fprintf(out, "modules: %s\n", strings.Join(modules, ", "))
			return nil
		},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
