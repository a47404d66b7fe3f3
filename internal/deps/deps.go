package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"kurz/internal/config"
)

// Requirement defines an external tool or file kurz relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Required lists the external dependencies for the configured setup.
// The font file is optional; the renderer falls back to the drawtext
// default when it is absent.
func Required(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{Name: "FFmpeg", Command: cfg.Render.FFmpegBinary, Description: "Renders scenes and assembles the final video"},
		{Name: "FFprobe", Command: cfg.Render.FFprobeBinary, Description: "Measures asset durations and verifies output"},
	}
	if cfg.Render.FontFile != "" {
		reqs = append(reqs, Requirement{
			Name: "Font", Command: cfg.Render.FontFile,
			Description: "Title and caption font", Optional: true,
		})
	}
	return reqs
}

// Check evaluates the configured requirements and reports availability.
func Check(cfg *config.Config) []Status {
	return CheckBinaries(Required(cfg))
}

// Missing returns an error naming every unavailable required
// dependency, or nil when the setup is complete.
func Missing(statuses []Status) error {
	var missing []string
	for _, status := range statuses {
		if status.Available || status.Optional {
			continue
		}
		missing = append(missing, fmt.Sprintf("%s (%s)", status.Name, status.Detail))
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing dependencies: %s", strings.Join(missing, ", "))
}

// CheckBinaries evaluates the provided requirements and reports availability.
// Commands containing a path separator are checked on disk; bare names are
// resolved through PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		case strings.ContainsRune(cmd, filepath.Separator):
			if _, err := os.Stat(cmd); err != nil {
				status.Detail = fmt.Sprintf("file %q not found", cmd)
			} else {
				status.Available = true
			}
		default:
			if _, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}
