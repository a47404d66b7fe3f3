package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"kurz/internal/logging"
	"kurz/internal/manifest"
	"kurz/internal/services"
)

// Result describes a finished render.
type Result struct {
	OutputPath      string
	TotalDurationMS int64
	SceneDurations  map[string]int64
}

// Renderer assembles the final video for one run.
type Renderer struct {
	opts   Options
	logger *slog.Logger
}

// New builds a renderer with the given options.
func New(opts Options, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Renderer{opts: opts, logger: logger}
}

// Render builds every scene clip in sequence order, concatenates them
// by stream copy, and mixes in the global background track when one
// is present. Intermediate clips live under workDir and are removed
// after success. Any scene failure aborts the whole render.
func (r *Renderer) Render(ctx context.Context, m *manifest.Manifest, workDir, outputPath string) (Result, error) {
	result := Result{SceneDurations: make(map[string]int64)}

	if err := m.Validate(); err != nil {
		return result, err
	}
	if missing := m.Unresolved(); len(missing) > 0 {
		return result, services.Wrap(services.ErrRender, "render", "prepare",
			fmt.Sprintf("manifest has %d unresolved required slots, first %s", len(missing), missing[0]), nil)
	}
	if err := os.MkdirAll(filepath.Join(workDir, "scenes"), 0o755); err != nil {
		return result, services.Wrap(services.ErrRender, "render", "prepare", "create scene dir", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return result, services.Wrap(services.ErrRender, "render", "prepare", "create output dir", err)
	}

	ordered := m.Clone()
	ordered.SortScenes()

	clips := make([]string, 0, len(ordered.Scenes))
	layout := ComputeLayout(r.opts.Width, r.opts.Height, r.opts.TitleFontSize, r.opts.CaptionFontSize)

	for _, scene := range ordered.Scenes {
		plan, err := planScene(ctx, r.opts, layout, scene, workDir)
		if err != nil {
			return result, err
		}
		r.logger.Info("building scene clip",
			logging.String(logging.FieldRunID, m.RunID),
			logging.String("scene_id", plan.sceneID),
			logging.Int64("effective_ms", plan.effectiveMS),
			logging.Int64("freeze_frame_ms", plan.freezeFrameMS))

		if err := runFFmpeg(ctx, r.opts.FFmpegBinary, plan.args); err != nil {
			return result, fmt.Errorf("scene %s: %w", plan.sceneID, err)
		}
		clips = append(clips, plan.output)
		result.SceneDurations[plan.sceneID] = plan.effectiveMS
		result.TotalDurationMS += plan.effectiveMS
	}

	concatenated := filepath.Join(workDir, "scenes", "timeline.mp4")
	if err := concatScenes(ctx, r.opts, clips, workDir, concatenated); err != nil {
		return result, err
	}

	if err := finishWithBGM(ctx, r.opts, r.logger, ordered.GlobalBGM, concatenated, result.TotalDurationMS, outputPath); err != nil {
		return result, services.Wrap(services.ErrRender, "render", "finish", "promote final output", err)
	}
	result.OutputPath = outputPath

	r.cleanup(workDir, clips, concatenated)
	return result, nil
}

// VerifyOutput probes the rendered file and checks that it carries
// both streams at the configured frame size and roughly the expected
// length. Used by the QA step.
func (r *Renderer) VerifyOutput(ctx context.Context, path string, expectedMS int64) error {
	probed, err := probeMedia(ctx, r.opts.FFprobeBinary, path)
	if err != nil {
		return services.Wrap(services.ErrRender, "qa", "verify", fmt.Sprintf("probe %s", path), err)
	}
	if !probed.HasVideo || !probed.HasAudio {
		return services.Wrap(services.ErrRender, "qa", "verify",
			fmt.Sprintf("output %s is missing a stream (video=%v audio=%v)", path, probed.HasVideo, probed.HasAudio), nil)
	}
	if probed.Width != r.opts.Width || probed.Height != r.opts.Height {
		return services.Wrap(services.ErrRender, "qa", "verify",
			fmt.Sprintf("output frame size %dx%d, want %dx%d", probed.Width, probed.Height, r.opts.Width, r.opts.Height), nil)
	}
	if probed.DurationMS <= 0 {
		return services.Wrap(services.ErrRender, "qa", "verify",
			fmt.Sprintf("output %s has no duration", path), nil)
	}
	// Container timestamps round; allow half a second of slack.
	const toleranceMS = 500
	if expectedMS > 0 {
		diff := probed.DurationMS - expectedMS
		if diff < -toleranceMS || diff > toleranceMS {
			return services.Wrap(services.ErrRender, "qa", "verify",
				fmt.Sprintf("output duration %dms deviates from expected %dms", probed.DurationMS, expectedMS), nil)
		}
	}
	return nil
}

func (r *Renderer) cleanup(workDir string, clips []string, concatenated string) {
	for _, clip := range clips {
		if err := os.Remove(clip); err != nil && !os.IsNotExist(err) {
			r.logger.Debug("leaving intermediate clip behind", logging.String("path", clip), logging.Error(err))
		}
	}
	_ = os.Remove(concatenated)
	_ = os.Remove(filepath.Join(workDir, "scenes", "concat.txt"))
}
