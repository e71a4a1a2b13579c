// Package command holds the vrflow cobra commands.
package command

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vrflow/internal/config"
)

const AppName = "vrflow"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

// Execute runs the root command until it returns or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd(Version).ExecuteContext(ctx)
}

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "vrflow - participant turn scheduler for VR experiments",
		Long:          "vrflow rotates participants through timed turns and records session telemetry to MongoDB.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().StringP("config", "c", "", "experiment config file (YAML or JSON)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")

	cmd.AddCommand(
		NewRunCmd(),
		NewValidateCmd(),
		NewRolesCmd(),
	)
	return cmd
}

// loadConfig reads --config, applies the environment and validates.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
