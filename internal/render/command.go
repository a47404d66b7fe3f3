package render

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"kurz/internal/services"
)

// stderrTailLimit keeps failure messages readable; ffmpeg logs can be
// thousands of lines.
const stderrTailLimit = 2048

func execFFmpeg(ctx context.Context, binary string, args []string) error {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		tail := strings.TrimSpace(string(output))
		if len(tail) > stderrTailLimit {
			tail = tail[len(tail)-stderrTailLimit:]
		}
		return services.Wrap(services.ErrRender, "render", "ffmpeg",
			fmt.Sprintf("ffmpeg failed: %v: %s", err, tail), nil)
	}
	return nil
}

// msToSeconds formats a millisecond value the way ffmpeg filter
// arguments expect.
func msToSeconds(ms int64) string {
	return fmt.Sprintf("%.3f", float64(ms)/1000.0)
}

// escapeFilterText quotes text for use inside a drawtext filter.
func escapeFilterText(text string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
		`,`, `\,`,
		`[`, `\[`,
		`]`, `\]`,
	)
	return replacer.Replace(text)
}
