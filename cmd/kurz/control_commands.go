package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kurz/internal/engine"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel an in-flight run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			outcome, err := rt.engine.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch outcome.Status {
			case engine.CancelStatusAlreadyTerminated:
				fmt.Fprintf(out, "Run %s already finished; nothing to cancel\n", args[0])
			default:
				fmt.Fprintf(out, "Run %s cancelled, %d job(s) revoked\n", args[0], outcome.RevokedCount)
			}
			return nil
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <run-id>",
		Short: "Resume a failed run from the stage it failed in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.engine.Retry(cmd.Context(), args[0]); err != nil {
				return err
			}

			run, err := rt.store.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s finished in state %s\n", run.RunID, run.State)
			if run.OutputPath != "" {
				fmt.Fprintf(out, "Output written to %s\n", run.OutputPath)
			}
			return nil
		},
	}
}
