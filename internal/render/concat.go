package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kurz/internal/services"
)

// writeConcatList writes the concat demuxer input file. Paths are
// single-quoted with embedded quotes escaped the way ffmpeg expects.
func writeConcatList(path string, clips []string) error {
	var b strings.Builder
	for _, clip := range clips {
		escaped := strings.ReplaceAll(clip, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create concat dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

// concatScenes joins the finished scene clips by stream copy. Clips
// must already share codec parameters; planScene guarantees that by
// re-encoding every scene with the same settings.
func concatScenes(ctx context.Context, opts Options, clips []string, workDir, output string) error {
	if len(clips) == 0 {
		return services.Wrap(services.ErrRender, "render", "concat", "no scene clips to concatenate", nil)
	}

	listFile := filepath.Join(workDir, "scenes", "concat.txt")
	if err := writeConcatList(listFile, clips); err != nil {
		return services.Wrap(services.ErrRender, "render", "concat", "prepare concat list", err)
	}

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	}
	return runFFmpeg(ctx, opts.FFmpegBinary, args)
}
