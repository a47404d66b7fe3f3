package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kurz/internal/config"
	"kurz/internal/manifest"
	"kurz/internal/services"
)

const (
	stubSceneDurationMS = 5000
	stubWordDurationMS  = 400
	stubMinSpeechMS     = 1500
)

// stubScript produces a deterministic manifest from the plan spec so
// the full pipeline can run without any remote service.
type stubScript struct {
	cfg *config.Config
}

func newStubScript(cfg *config.Config) *stubScript {
	return &stubScript{cfg: cfg}
}

func (s *stubScript) GeneratePlan(ctx context.Context, spec PlanSpec) (*manifest.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Prompt) == "" {
		return nil, services.Wrap(services.ErrValidation, "planner", "plan", "plan spec has no prompt", nil)
	}
	count := spec.SceneCount
	if count <= 0 {
		count = 3
	}

	m := &manifest.Manifest{
		RunID: spec.RunID,
		Title: spec.Prompt,
		FPS:   s.cfg.Render.FPS,
	}
	for i := 1; i <= count; i++ {
		line := sceneLine(spec, i, count)
		scene := manifest.Scene{
			SceneID:    fmt.Sprintf("scene-%d", i),
			Sequence:   i,
			Title:      spec.Prompt,
			DurationMS: stubSceneDurationMS,
			Images: []manifest.ImageSlot{
				{SlotID: "center", Prompt: fmt.Sprintf("%s, part %d of %d, %s", spec.Prompt, i, count, spec.Style)},
			},
			Dialogue: []manifest.DialogueLine{
				{SlotID: "line-1", Text: line, Speaker: spec.Voice},
			},
			Subtitles: []manifest.Subtitle{
				{Position: "bottom", Text: line, StartMS: 0, DurationMS: stubSceneDurationMS},
			},
		}
		m.Scenes = append(m.Scenes, scene)
	}
	m.TotalDurationMS = int64(count) * stubSceneDurationMS
	if spec.IncludeBGM {
		m.GlobalBGM = &manifest.BGMTrack{Genre: "ambient", Volume: s.cfg.Render.BGMVolume}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func sceneLine(spec PlanSpec, i, count int) string {
	switch spec.Mode {
	case "story":
		switch {
		case i == 1:
			return fmt.Sprintf("Our story begins: %s.", spec.Prompt)
		case i == count:
			return "And that is how it ended."
		default:
			return fmt.Sprintf("Then came part %d.", i)
		}
	case "ad":
		if i == count {
			return fmt.Sprintf("Get %s today.", spec.Prompt)
		}
		return fmt.Sprintf("Reason %d to love %s.", i, spec.Prompt)
	default:
		return fmt.Sprintf("%s, scene %d.", spec.Prompt, i)
	}
}

// stubAsset writes a small placeholder file and returns its ref.
// Writes are idempotent; an existing file is reused untouched.
func stubAsset(cfg *config.Config, job JobSpec, ext string, durationMS int64) (manifest.AssetRef, error) {
	path := job.OutputPath
	if path == "" {
		path = filepath.Join(cfg.Paths.WorkDir, job.RunID, "assets",
			fmt.Sprintf("%s-%s-%s%s", job.SceneID, job.Kind, job.SlotID, ext))
	}
	if _, err := os.Stat(path); err == nil {
		return manifest.AssetRef{URI: path, DurationMS: durationMS}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return manifest.AssetRef{}, services.Wrap(services.ErrProvider, "stub", string(job.Kind), "create asset dir", err)
	}
	content := fmt.Sprintf("stub %s for %s\n", job.Kind, job.Key())
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return manifest.AssetRef{}, services.Wrap(services.ErrProvider, "stub", string(job.Kind), "write asset", err)
	}
	return manifest.AssetRef{URI: path, DurationMS: durationMS}, nil
}

type stubImage struct{ cfg *config.Config }

func newStubImage(cfg *config.Config) *stubImage { return &stubImage{cfg: cfg} }

func (s *stubImage) GenerateImage(ctx context.Context, job JobSpec) (manifest.AssetRef, error) {
	if err := ctx.Err(); err != nil {
		return manifest.AssetRef{}, err
	}
	return stubAsset(s.cfg, job, ".png", 0)
}

type stubVoice struct{ cfg *config.Config }

func newStubVoice(cfg *config.Config) *stubVoice { return &stubVoice{cfg: cfg} }

func (s *stubVoice) SynthesizeVoice(ctx context.Context, job JobSpec) (manifest.AssetRef, error) {
	if err := ctx.Err(); err != nil {
		return manifest.AssetRef{}, err
	}
	return stubAsset(s.cfg, job, ".wav", speechDurationMS(job.Text))
}

// speechDurationMS estimates narration length from word count so the
// renderer's timing math has something realistic to work with.
func speechDurationMS(text string) int64 {
	words := len(strings.Fields(text))
	d := int64(words) * stubWordDurationMS
	if d < stubMinSpeechMS {
		d = stubMinSpeechMS
	}
	return d
}

type stubMusic struct{ cfg *config.Config }

func newStubMusic(cfg *config.Config) *stubMusic { return &stubMusic{cfg: cfg} }

func (s *stubMusic) SelectMusic(ctx context.Context, job JobSpec) (manifest.AssetRef, error) {
	if err := ctx.Err(); err != nil {
		return manifest.AssetRef{}, err
	}
	return stubAsset(s.cfg, job, ".mp3", job.DurationMS)
}

type stubVideo struct{ cfg *config.Config }

func newStubVideo(cfg *config.Config) *stubVideo { return &stubVideo{cfg: cfg} }

func (s *stubVideo) SynthesizeVideo(ctx context.Context, job JobSpec) (manifest.AssetRef, error) {
	if err := ctx.Err(); err != nil {
		return manifest.AssetRef{}, err
	}
	duration := job.DurationMS
	if duration <= 0 {
		duration = stubSceneDurationMS
	}
	return stubAsset(s.cfg, job, ".mp4", duration)
}
