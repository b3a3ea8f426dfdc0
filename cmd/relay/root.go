package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Claim funnel relay: HTTP endpoints in, Telegram notifications out",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "Configuration file (json or yaml); optional")

	rootCmd.AddCommand(newServeCommand(&configPath))
	rootCmd.AddCommand(newConfigCommand(&configPath))
	rootCmd.AddCommand(newStatsCommand(&configPath))
	return rootCmd
}
