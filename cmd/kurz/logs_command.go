package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Show the progress log for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Logs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No log entries")
				return nil
			}
			for _, entry := range entries {
				fmt.Fprintf(out, "%s  %s\n", entry.CreatedAt.Local().Format(time.DateTime), entry.Message)
			}
			return nil
		},
	}
}
