package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kurz/internal/config"
	"kurz/internal/logging"
	"kurz/internal/manifest"
)

// PlanSpec is the input to the planning step.
type PlanSpec struct {
	RunID      string
	Prompt     string
	Mode       string
	SceneCount int
	Style      string
	Voice      string
	IncludeBGM bool
}

// JobSpec identifies one asset generation job. The same spec may be
// submitted more than once; generators must treat repeats as harmless.
type JobSpec struct {
	RunID      string
	SceneID    string
	Kind       manifest.SlotKind
	SlotID     string
	Prompt     string
	Text       string
	Voice      string
	Tags       []string
	Style      string
	DurationMS int64
	OutputPath string
}

// Key returns the manifest slot this job resolves.
func (j JobSpec) Key() manifest.SlotKey {
	return manifest.SlotKey{SceneID: j.SceneID, Kind: j.Kind, SlotID: j.SlotID}
}

// ScriptGenerator produces a structurally valid scene manifest from a
// plan spec, or a typed validation error. Never a partial manifest.
type ScriptGenerator interface {
	GeneratePlan(ctx context.Context, spec PlanSpec) (*manifest.Manifest, error)
}

// ImageGenerator resolves an image slot.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, job JobSpec) (manifest.AssetRef, error)
}

// VoiceSynthesizer resolves a narration slot and reports the measured
// audio duration in the returned ref.
type VoiceSynthesizer interface {
	SynthesizeVoice(ctx context.Context, job JobSpec) (manifest.AssetRef, error)
}

// MusicSelector resolves a bgm or sfx slot.
type MusicSelector interface {
	SelectMusic(ctx context.Context, job JobSpec) (manifest.AssetRef, error)
}

// VideoSynthesizer resolves a synthesized-video slot.
type VideoSynthesizer interface {
	SynthesizeVideo(ctx context.Context, job JobSpec) (manifest.AssetRef, error)
}

// Set bundles one concrete generator per capability.
type Set struct {
	Script ScriptGenerator
	Image  ImageGenerator
	Voice  VoiceSynthesizer
	Music  MusicSelector
	Video  VideoSynthesizer
}

// ForKind returns the generator function handling the given slot kind.
func (s *Set) ForKind(kind manifest.SlotKind) (func(context.Context, JobSpec) (manifest.AssetRef, error), error) {
	switch kind {
	case manifest.KindImage:
		return s.Image.GenerateImage, nil
	case manifest.KindNarration:
		return s.Voice.SynthesizeVoice, nil
	case manifest.KindBGM, manifest.KindSFX:
		return s.Music.SelectMusic, nil
	case manifest.KindVideo:
		return s.Video.SynthesizeVideo, nil
	}
	return nil, fmt.Errorf("no generator for slot kind %q", kind)
}

// NewSet builds the generator set selected by configuration. The
// choice is made once here; callers never probe modes at runtime.
func NewSet(cfg *config.Config, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	set := &Set{}

	switch cfg.Providers.Script.Mode {
	case config.ModeStub:
		set.Script = newStubScript(cfg)
	case config.ModeHTTP:
		set.Script = newHTTPScript(cfg.Providers.Script, logger)
	default:
		return nil, fmt.Errorf("unsupported script provider mode %q", cfg.Providers.Script.Mode)
	}

	switch cfg.Providers.Image.Mode {
	case config.ModeStub:
		set.Image = newStubImage(cfg)
	case config.ModeHTTP:
		set.Image = newHTTPImage(cfg.Providers.Image, cfg.Render.Width, cfg.Render.Height, logger)
	default:
		return nil, fmt.Errorf("unsupported image provider mode %q", cfg.Providers.Image.Mode)
	}

	switch cfg.Providers.Voice.Mode {
	case config.ModeStub:
		set.Voice = newStubVoice(cfg)
	case config.ModeHTTP:
		set.Voice = newHTTPVoice(cfg.Providers.Voice, logger)
	default:
		return nil, fmt.Errorf("unsupported voice provider mode %q", cfg.Providers.Voice.Mode)
	}

	switch cfg.Providers.Music.Mode {
	case config.ModeStub:
		set.Music = newStubMusic(cfg)
	case config.ModeLocal:
		set.Music = newLocalMusic(cfg.Paths.AssetsDir, logger)
	case config.ModeHTTP:
		set.Music = newHTTPMusic(cfg.Providers.Music, logger)
	default:
		return nil, fmt.Errorf("unsupported music provider mode %q", cfg.Providers.Music.Mode)
	}

	switch cfg.Providers.Video.Mode {
	case config.ModeStub:
		set.Video = newStubVideo(cfg)
	case config.ModeHTTP:
		set.Video = newHTTPVideo(cfg.Providers.Video, logger)
	default:
		return nil, fmt.Errorf("unsupported video provider mode %q", cfg.Providers.Video.Mode)
	}

	return set, nil
}

func providerTimeout(p config.Provider) time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}
