package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"kurz/internal/deps"
	"kurz/internal/progress"
	"kurz/internal/runstore"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		mode       string
		sceneCount int
		style      string
		voice      string
		includeBGM bool
		detach     bool
	)

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Generate a video from a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			spec := runstore.RunSpec{
				Prompt:     strings.Join(args, " "),
				Mode:       mode,
				SceneCount: sceneCount,
				Style:      style,
				Voice:      voice,
				IncludeBGM: includeBGM,
			}

			cmdCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			run, err := rt.engine.CreateRun(cmdCtx, spec)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s created\n", run.RunID)
			if detach {
				fmt.Fprintln(out, "Run queued; start `kurz serve` to process it")
				return nil
			}

			if err := deps.Missing(deps.Check(rt.cfg)); err != nil {
				return err
			}

			rt.publisher.Subscribe(progress.ListenerFunc(func(_ context.Context, event progress.Event) error {
				if event.Progress != nil {
					fmt.Fprintf(out, "[%3.0f%%] %s\n", *event.Progress*100, event.State)
				}
				if event.Log != "" {
					fmt.Fprintf(out, "       %s\n", event.Log)
				}
				return nil
			}))

			if err := rt.engine.ExecuteRun(cmdCtx, run.RunID); err != nil {
				return err
			}

			final, err := rt.store.GetByID(cmdCtx, run.RunID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Output written to %s\n", final.OutputPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Generation mode: general, story, or ad")
	cmd.Flags().IntVar(&sceneCount, "scenes", 0, "Number of scenes to plan")
	cmd.Flags().StringVar(&style, "style", "", "Visual style hint for image generation")
	cmd.Flags().StringVar(&voice, "voice", "", "Narration voice")
	cmd.Flags().BoolVar(&includeBGM, "bgm", false, "Add background music to the final video")
	cmd.Flags().BoolVar(&detach, "detach", false, "Queue the run instead of processing it now")

	return cmd
}
