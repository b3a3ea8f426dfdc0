package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"claimrelay/internal/app"
)

func newStatsCommand(configPath *string) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the saved participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st, err := app.ReadStats(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("read stats: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total: %d  Completed: %d  Pending: %d\n", st.Total, st.Completed, st.Pending)
			if list {
				for _, u := range st.Users {
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", u.UserID, u.Username, u.DisplayName, u.Stage())
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "List every participant")
	return cmd
}
