package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"claimrelay/internal/app"
)

func newConfigCommand(configPath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigValidateCommand(configPath))
	return configCmd
}

func newConfigValidateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration (file plus environment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", *configPath)
			fmt.Fprintf(out, "Listen port: %d\n", cfg.HTTP.Port)
			fmt.Fprintf(out, "Storage: %s %s (save every %s)\n", cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.SaveEvery)
			fmt.Fprintf(out, "Chat id set: %t, token set: %t\n",
				strings.TrimSpace(cfg.Telegram.ChatID) != "", strings.TrimSpace(cfg.Telegram.Token) != "")
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
