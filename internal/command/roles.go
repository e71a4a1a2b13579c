package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewRolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List the event-name to analysis-role bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			reg, err := cfg.Roles()
			if err != nil {
				return err
			}
			for _, e := range reg.Entries() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-26s %s\n", e.Event, e.Role)
			}
			return nil
		},
	}
}
