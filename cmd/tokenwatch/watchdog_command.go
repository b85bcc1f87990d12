package main

import (
	"github.com/spf13/cobra"

	"tokenwatch/internal/watchdogrun"
)

func newWatchdogRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:          "watchdog",
		Short:        "Run the watchdog in the foreground",
		Long:         "Supervises the worker and restarts it when the watch file changes, unless the\nprocess lock is held. Use `tokenwatch start` to run it detached.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return watchdogrun.Run(cmd.Context(), cfg, watchdogrun.Options{LogLevel: logLevel})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for this run")
	return cmd
}
