package render

import "context"

// probeMedia and runFFmpeg are package-level variables so tests can
// exercise the renderer without the ffmpeg tools installed.
var (
	probeMedia = Inspect
	runFFmpeg  = execFFmpeg
)

// SetProbeForTests overrides the ffprobe runner during tests.
func SetProbeForTests(fn func(context.Context, string, string) (ProbeResult, error)) func() {
	previous := probeMedia
	probeMedia = fn
	return func() {
		probeMedia = previous
	}
}

// SetFFmpegForTests overrides the ffmpeg runner during tests.
func SetFFmpegForTests(fn func(ctx context.Context, binary string, args []string) error) func() {
	previous := runFFmpeg
	runFFmpeg = fn
	return func() {
		runFFmpeg = previous
	}
}
