package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kurz/internal/fsm"
	"kurz/internal/runstore"
)

const promptPreviewLimit = 48

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show run status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := store.GetByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printRunDetail(out, run)
				return nil
			}

			runs, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs yet; create one with `kurz run`")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.RunID,
					string(run.State),
					fmt.Sprintf("%3.0f%%", run.Progress*100),
					run.CreatedAt.Local().Format(time.DateTime),
					previewPrompt(run.Spec.Prompt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"RUN", "STATE", "PROGRESS", "CREATED", "PROMPT"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, formatStats(stats))
			return nil
		},
	}
}

func printRunDetail(out io.Writer, run *runstore.Run) {
	fmt.Fprintf(out, "Run:      %s\n", run.RunID)
	fmt.Fprintf(out, "Prompt:   %s\n", run.Spec.Prompt)
	fmt.Fprintf(out, "Mode:     %s\n", run.Spec.Mode)
	fmt.Fprintf(out, "State:    %s\n", run.State)
	fmt.Fprintf(out, "Progress: %3.0f%%\n", run.Progress*100)
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:    %s\n", run.ErrorMessage)
	}
	if run.OutputPath != "" {
		fmt.Fprintf(out, "Output:   %s\n", run.OutputPath)
	}

	if len(run.History) == 0 {
		return
	}
	rows := make([][]string, 0, len(run.History))
	for _, entry := range run.History {
		var notes []string
		for key, value := range entry.Metadata {
			notes = append(notes, key+"="+value)
		}
		rows = append(rows, []string{
			string(entry.State),
			entry.At.Local().Format(time.DateTime),
			strings.Join(notes, " "),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"STATE", "AT", "NOTES"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft},
	))
}

func formatStats(stats map[fsm.State]int) string {
	states := make([]string, 0, len(stats))
	total := 0
	for state, count := range stats {
		states = append(states, string(state))
		total += count
	}
	sort.Strings(states)

	parts := make([]string, 0, len(states))
	for _, state := range states {
		parts = append(parts, fmt.Sprintf("%s %d", state, stats[fsm.State(state)]))
	}
	return fmt.Sprintf("%d run(s): %s", total, strings.Join(parts, ", "))
}

func previewPrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if len(prompt) <= promptPreviewLimit {
		return prompt
	}
	return prompt[:promptPreviewLimit-3] + "..."
}
