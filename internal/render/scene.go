package render

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"kurz/internal/config"
	"kurz/internal/manifest"
	"kurz/internal/services"
)

// Options carries the global composition settings for one render.
type Options struct {
	Width           int
	Height          int
	FPS             int
	VideoCodec      string
	AudioCodec      string
	Preset          string
	CRF             int
	BGMVolume       float64
	TitleFontSize   int
	CaptionFontSize int
	FontFile        string
	FFmpegBinary    string
	FFprobeBinary   string
}

// OptionsFromConfig copies the render section of the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Width:           cfg.Render.Width,
		Height:          cfg.Render.Height,
		FPS:             cfg.Render.FPS,
		VideoCodec:      cfg.Render.VideoCodec,
		AudioCodec:      cfg.Render.AudioCodec,
		Preset:          cfg.Render.Preset,
		CRF:             cfg.Render.CRF,
		BGMVolume:       cfg.Render.BGMVolume,
		TitleFontSize:   cfg.Render.TitleFontSize,
		CaptionFontSize: cfg.Render.CaptionFontSize,
		FontFile:        cfg.Render.FontFile,
		FFmpegBinary:    cfg.Render.FFmpegBinary,
		FFprobeBinary:   cfg.Render.FFprobeBinary,
	}
}

// scenePlan is the fully computed build for one scene clip.
type scenePlan struct {
	sceneID         string
	sequence        int
	output          string
	args            []string
	effectiveMS     int64
	videoDurationMS int64
	narrationMS     int64
	freezeFrameMS   int64
}

// planScene computes the effective duration and the complete ffmpeg
// invocation for a scene. Narration wins over video length: a shorter
// clip gets freeze-frame padding, never the other way around.
func planScene(ctx context.Context, opts Options, layout Layout, scene manifest.Scene, workDir string) (scenePlan, error) {
	plan := scenePlan{
		sceneID:  scene.SceneID,
		sequence: scene.Sequence,
		output:   filepath.Join(workDir, "scenes", fmt.Sprintf("scene-%03d.mp4", scene.Sequence)),
	}

	visualPath, visualIsVideo, err := sceneVisual(scene)
	if err != nil {
		return plan, err
	}

	if visualIsVideo {
		plan.videoDurationMS, err = assetDurationMS(ctx, opts, scene.Video.Ref)
		if err != nil {
			return plan, err
		}
	}

	type audioInput struct {
		path    string
		startMS int64
		volume  float64
	}
	var audio []audioInput
	for _, line := range scene.Dialogue {
		if line.Ref.Empty() {
			continue
		}
		durMS := line.DurationMS
		if durMS == 0 {
			durMS, err = assetDurationMS(ctx, opts, line.Ref)
			if err != nil {
				return plan, err
			}
		}
		audio = append(audio, audioInput{path: line.Ref.URI, startMS: line.StartMS, volume: 1.0})
		if end := line.StartMS + durMS; end > plan.narrationMS {
			plan.narrationMS = end
		}
	}
	for _, sfx := range scene.SFX {
		if sfx.Ref.Empty() {
			continue
		}
		volume := sfx.Volume
		if volume <= 0 {
			volume = 1.0
		}
		audio = append(audio, audioInput{path: sfx.Ref.URI, startMS: sfx.StartMS, volume: volume})
	}

	plan.effectiveMS = plan.videoDurationMS
	if plan.narrationMS > plan.effectiveMS {
		plan.effectiveMS = plan.narrationMS
	}
	if plan.effectiveMS == 0 {
		plan.effectiveMS = scene.DurationMS
	}
	if plan.effectiveMS <= 0 {
		return plan, services.Wrap(services.ErrRender, "render", "plan",
			fmt.Sprintf("scene %s has no usable duration", scene.SceneID), nil)
	}
	if visualIsVideo && plan.videoDurationMS < plan.effectiveMS {
		plan.freezeFrameMS = plan.effectiveMS - plan.videoDurationMS
	}

	durationArg := msToSeconds(plan.effectiveMS)

	args := []string{"-y"}
	if visualIsVideo {
		args = append(args, "-i", visualPath)
	} else {
		args = append(args, "-loop", "1", "-t", durationArg, "-i", visualPath)
	}
	for _, in := range audio {
		args = append(args, "-i", in.path)
	}

	var filters []string

	// Visual chain: freeze-frame pad, center-crop into the media band,
	// then place onto the black canvas.
	visual := "[0:v]"
	if plan.freezeFrameMS > 0 {
		visual += fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%s,", msToSeconds(plan.freezeFrameMS))
	}
	visual += fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1[media]",
		layout.Media.W, layout.Media.H, layout.Media.W, layout.Media.H)
	filters = append(filters, visual)

	filters = append(filters, fmt.Sprintf(
		"color=c=black:s=%dx%d:r=%d:d=%s[canvas]",
		layout.Canvas.W, layout.Canvas.H, opts.FPS, durationArg))
	filters = append(filters, fmt.Sprintf(
		"[canvas][media]overlay=x=%d:y=%d[comp]", layout.Media.X, layout.Media.Y))

	videoLabel := "[comp]"
	if title := strings.TrimSpace(scene.Title); title != "" {
		filters = append(filters, fmt.Sprintf(
			"%sdrawtext=%stext='%s':fontsize=%d:fontcolor=white:x=(w-text_w)/2:y=%d+(%d-text_h)/2[titled]",
			videoLabel, fontFileArg(opts), escapeFilterText(title),
			opts.TitleFontSize, layout.Title.Y, layout.Title.H))
		videoLabel = "[titled]"
	}
	for i, sub := range scene.Subtitles {
		if strings.TrimSpace(sub.Text) == "" {
			continue
		}
		band := layout.SubtitleBand(sub.Position)
		label := fmt.Sprintf("[cap%d]", i)
		filters = append(filters, fmt.Sprintf(
			"%sdrawtext=%stext='%s':fontsize=%d:fontcolor=white:x=(w-text_w)/2:y=%d+(%d-text_h)/2:enable='between(t,%s,%s)'%s",
			videoLabel, fontFileArg(opts), escapeFilterText(sub.Text),
			opts.CaptionFontSize, band.Y, band.H,
			msToSeconds(sub.StartMS), msToSeconds(sub.StartMS+sub.DurationMS), label))
		videoLabel = label
	}
	filters = append(filters, fmt.Sprintf("%sformat=yuv420p[vout]", videoLabel))

	// Audio chain: delay each track to its start, mix, then pad with
	// trailing silence to exactly the effective duration.
	if len(audio) == 0 {
		filters = append(filters, fmt.Sprintf(
			"anullsrc=channel_layout=stereo:sample_rate=48000:d=%s[aout]", durationArg))
	} else {
		mixLabels := make([]string, 0, len(audio))
		for i := range audio {
			in := audio[i]
			label := fmt.Sprintf("[a%d]", i)
			chain := fmt.Sprintf("[%d:a]", i+1)
			if in.volume != 1.0 {
				chain += fmt.Sprintf("volume=%.2f,", in.volume)
			}
			chain += fmt.Sprintf("adelay=%d|%d%s", in.startMS, in.startMS, label)
			filters = append(filters, chain)
			mixLabels = append(mixLabels, label)
		}
		mixed := mixLabels[0]
		if len(mixLabels) > 1 {
			mixed = "[amixed]"
			filters = append(filters, fmt.Sprintf(
				"%samix=inputs=%d:duration=longest:normalize=0%s",
				strings.Join(mixLabels, ""), len(mixLabels), mixed))
		}
		filters = append(filters, fmt.Sprintf(
			"%sapad=whole_dur=%s,atrim=0:%s[aout]", mixed, durationArg, durationArg))
	}

	args = append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", "[vout]",
		"-map", "[aout]",
		"-c:v", opts.VideoCodec,
		"-preset", opts.Preset,
		"-crf", fmt.Sprintf("%d", opts.CRF),
		"-r", fmt.Sprintf("%d", opts.FPS),
		"-c:a", opts.AudioCodec,
		"-b:a", "192k",
		"-ar", "48000",
		"-ac", "2",
		"-t", durationArg,
		"-movflags", "+faststart",
		plan.output,
	)
	plan.args = args
	return plan, nil
}

// sceneVisual picks the scene's visual asset: a synthesized clip when
// present, otherwise the first resolved image.
func sceneVisual(scene manifest.Scene) (path string, isVideo bool, err error) {
	if scene.Video != nil && !scene.Video.Ref.Empty() {
		return scene.Video.Ref.URI, true, nil
	}
	for _, img := range scene.Images {
		if !img.Ref.Empty() {
			return img.Ref.URI, false, nil
		}
	}
	return "", false, services.Wrap(services.ErrRender, "render", "plan",
		fmt.Sprintf("scene %s has no resolved visual asset", scene.SceneID), nil)
}

// assetDurationMS prefers the duration recorded at merge time and
// probes the file only when the manifest does not know it.
func assetDurationMS(ctx context.Context, opts Options, ref manifest.AssetRef) (int64, error) {
	if ref.DurationMS > 0 {
		return ref.DurationMS, nil
	}
	probed, err := probeMedia(ctx, opts.FFprobeBinary, ref.URI)
	if err != nil {
		return 0, services.Wrap(services.ErrRender, "render", "probe",
			fmt.Sprintf("probe %s", ref.URI), err)
	}
	return probed.DurationMS, nil
}

func fontFileArg(opts Options) string {
	if strings.TrimSpace(opts.FontFile) == "" {
		return ""
	}
	return fmt.Sprintf("fontfile='%s':", opts.FontFile)
}
