package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"kurz/internal/logging"
	"kurz/internal/manifest"
)

// mixBGM loops the background track to cover the whole timeline,
// trims it to the exact total duration, attenuates it, and mixes it
// under the existing narration audio. The video stream is copied.
func mixBGM(ctx context.Context, opts Options, track *manifest.BGMTrack, input string, totalMS int64, output string) error {
	volume := track.Volume
	if volume <= 0 || volume > 1 {
		volume = opts.BGMVolume
	}
	duration := msToSeconds(totalMS)

	filter := fmt.Sprintf(
		"[1:a]atrim=0:%s,volume=%.2f[bgm];[0:a][bgm]amix=inputs=2:duration=first:normalize=0[aout]",
		duration, volume)

	args := []string{
		"-y",
		"-i", input,
		"-stream_loop", "-1",
		"-i", track.Ref.URI,
		"-filter_complex", filter,
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy",
		"-c:a", opts.AudioCodec,
		"-b:a", "192k",
		"-t", duration,
		"-movflags", "+faststart",
		output,
	}
	return runFFmpeg(ctx, opts.FFmpegBinary, args)
}

// finishWithBGM tries the background mix and falls back to the
// narration-only track when mixing fails. A missing track is not an
// error; the unmixed file is promoted as-is.
func finishWithBGM(ctx context.Context, opts Options, logger *slog.Logger, track *manifest.BGMTrack, unmixed string, totalMS int64, output string) error {
	if track == nil || track.Ref.Empty() {
		return copyFile(unmixed, output)
	}
	if err := mixBGM(ctx, opts, track, unmixed, totalMS, output); err != nil {
		logger.Warn("background mix failed, emitting narration-only track",
			logging.Error(err))
		return copyFile(unmixed, output)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}
