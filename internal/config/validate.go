package config

import (
	"errors"
	"fmt"
	"strings"
)

// Provider implementation modes.
const (
	ModeStub  = "stub"
	ModeLocal = "local"
	ModeHTTP  = "http"
)

var providerModes = map[string]map[string]struct{}{
	"script": {ModeStub: {}, ModeHTTP: {}},
	"image":  {ModeStub: {}, ModeHTTP: {}},
	"voice":  {ModeStub: {}, ModeHTTP: {}},
	"music":  {ModeStub: {}, ModeLocal: {}, ModeHTTP: {}},
	"video":  {ModeStub: {}, ModeHTTP: {}},
}

// Validate reports every configuration problem it finds.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		problems = append(problems, "paths.work_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		problems = append(problems, "paths.output_dir must be set")
	}

	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		problems = append(problems, "render.width and render.height must be positive")
	}
	if c.Render.Width%2 != 0 || c.Render.Height%2 != 0 {
		problems = append(problems, "render.width and render.height must be even for yuv420p output")
	}
	if c.Render.FPS <= 0 {
		problems = append(problems, "render.fps must be positive")
	}
	if c.Render.BGMVolume < 0 || c.Render.BGMVolume > 1 {
		problems = append(problems, "render.bgm_volume must be within [0, 1]")
	}
	if c.Render.TitleFontSize <= 0 || c.Render.CaptionFontSize <= 0 {
		problems = append(problems, "render font sizes must be positive")
	}

	for name, p := range map[string]Provider{
		"script": c.Providers.Script,
		"image":  c.Providers.Image,
		"voice":  c.Providers.Voice,
		"music":  c.Providers.Music,
		"video":  c.Providers.Video,
	} {
		allowed := providerModes[name]
		if _, ok := allowed[p.Mode]; !ok {
			problems = append(problems, fmt.Sprintf("providers.%s.mode %q is not supported", name, p.Mode))
			continue
		}
		if p.Mode == "http" && strings.TrimSpace(p.BaseURL) == "" {
			problems = append(problems, fmt.Sprintf("providers.%s.base_url is required for http mode", name))
		}
	}
	if c.Providers.Music.Mode == "local" && strings.TrimSpace(c.Paths.AssetsDir) == "" {
		problems = append(problems, "paths.assets_dir is required for providers.music.mode = \"local\"")
	}

	if c.Scheduler.JobSoftCeiling >= c.Scheduler.JobHardCeiling {
		problems = append(problems, "scheduler.job_soft_ceiling_seconds must be below job_hard_ceiling_seconds")
	}
	if c.Scheduler.BackoffBaseSeconds > c.Scheduler.BackoffCapSeconds {
		problems = append(problems, "scheduler.backoff_base_seconds must not exceed backoff_cap_seconds")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported (console, json)", c.Logging.Format))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
}
