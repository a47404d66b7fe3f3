package providers_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"kurz/internal/config"
	"kurz/internal/manifest"
	"kurz/internal/providers"
	"kurz/internal/services"
	"kurz/internal/testsupport"
)

func TestNewSetDefaultsToStubs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Providers.Music.Mode = config.ModeStub

	set, err := providers.NewSet(cfg, nil)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	for _, kind := range []manifest.SlotKind{
		manifest.KindImage, manifest.KindNarration, manifest.KindBGM, manifest.KindVideo,
	} {
		if _, err := set.ForKind(kind); err != nil {
			t.Errorf("ForKind(%s): %v", kind, err)
		}
	}
}

func TestStubPlanIsValidAndDeterministic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Providers.Music.Mode = config.ModeStub
	set, err := providers.NewSet(cfg, nil)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	spec := providers.PlanSpec{
		RunID:      "run-1",
		Prompt:     "the lighthouse keeper",
		Mode:       "story",
		SceneCount: 4,
		IncludeBGM: true,
	}
	m, err := set.Script.GeneratePlan(context.Background(), spec)
	if err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	if len(m.Scenes) != 4 {
		t.Fatalf("expected 4 scenes, got %d", len(m.Scenes))
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("plan does not validate: %v", err)
	}
	if m.GlobalBGM == nil {
		t.Fatal("expected global bgm track")
	}

	again, err := set.Script.GeneratePlan(context.Background(), spec)
	if err != nil {
		t.Fatalf("second GeneratePlan: %v", err)
	}
	if len(again.Scenes) != len(m.Scenes) || again.Scenes[0].Dialogue[0].Text != m.Scenes[0].Dialogue[0].Text {
		t.Fatal("plan is not deterministic")
	}
}

func TestStubPlanRejectsEmptyPrompt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Providers.Music.Mode = config.ModeStub
	set, err := providers.NewSet(cfg, nil)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	_, err = set.Script.GeneratePlan(context.Background(), providers.PlanSpec{RunID: "run-1"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStubAssetIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Providers.Music.Mode = config.ModeStub
	set, err := providers.NewSet(cfg, nil)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	job := providers.JobSpec{
		RunID:   "run-1",
		SceneID: "scene-1",
		Kind:    manifest.KindNarration,
		SlotID:  "line-1",
		Text:    "one two three four five",
	}
	first, err := set.Voice.SynthesizeVoice(context.Background(), job)
	if err != nil {
		t.Fatalf("SynthesizeVoice: %v", err)
	}
	if first.DurationMS != 2000 {
		t.Fatalf("5 words should estimate 2000ms, got %d", first.DurationMS)
	}
	info, err := os.Stat(first.URI)
	if err != nil {
		t.Fatalf("stat asset: %v", err)
	}

	second, err := set.Voice.SynthesizeVoice(context.Background(), job)
	if err != nil {
		t.Fatalf("repeat SynthesizeVoice: %v", err)
	}
	if second.URI != first.URI {
		t.Fatalf("repeat produced a different path: %s vs %s", second.URI, first.URI)
	}
	after, err := os.Stat(first.URI)
	if err != nil {
		t.Fatalf("stat asset: %v", err)
	}
	if !after.ModTime().Equal(info.ModTime()) {
		t.Fatal("repeat rewrote the asset file")
	}
}

func TestLocalMusicSelection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.AssetsDir, "ambient", "waves.mp3"), 256)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.AssetsDir, "drums.mp3"), 256)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.AssetsDir, "notes.txt"), 16)

	set, err := providers.NewSet(cfg, nil)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	job := providers.JobSpec{
		RunID: "run-1", SceneID: "scene-1", Kind: manifest.KindBGM, SlotID: "bgm",
		Tags: []string{"ambient"}, DurationMS: 15000,
	}
	ref, err := set.Music.SelectMusic(context.Background(), job)
	if err != nil {
		t.Fatalf("SelectMusic: %v", err)
	}
	if filepath.Base(ref.URI) != "waves.mp3" {
		t.Fatalf("expected tagged subdirectory track, got %s", ref.URI)
	}

	// Same job picks the same track again.
	again, err := set.Music.SelectMusic(context.Background(), job)
	if err != nil || again.URI != ref.URI {
		t.Fatalf("selection not deterministic: %s vs %s (%v)", again.URI, ref.URI, err)
	}

	// Unknown tag falls back to the library root, skipping non-audio.
	job.Tags = []string{"jazz"}
	ref, err = set.Music.SelectMusic(context.Background(), job)
	if err != nil {
		t.Fatalf("fallback SelectMusic: %v", err)
	}
	if filepath.Base(ref.URI) != "drums.mp3" {
		t.Fatalf("expected root library track, got %s", ref.URI)
	}
}

func TestLocalMusicEmptyLibrary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	set, err := providers.NewSet(cfg, nil)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	job := providers.JobSpec{RunID: "run-1", SceneID: "scene-1", Kind: manifest.KindBGM, SlotID: "bgm"}
	if _, err := set.Music.SelectMusic(context.Background(), job); !errors.Is(err, services.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestHTTPImageFetch(t *testing.T) {
	payload := bytes.Repeat([]byte{0x89, 0x50, 0x4e, 0x47}, 64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Providers.Image.Mode = config.ModeHTTP
	cfg.Providers.Image.BaseURL = server.URL
	cfg.Providers.Music.Mode = config.ModeStub

	set, err := providers.NewSet(cfg, nil)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	out := filepath.Join(t.TempDir(), "scene-1-image.png")
	job := providers.JobSpec{
		RunID: "run-1", SceneID: "scene-1", Kind: manifest.KindImage, SlotID: "center",
		Prompt: "a lighthouse at dusk", OutputPath: out,
	}
	ref, err := set.Image.GenerateImage(context.Background(), job)
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	data, err := os.ReadFile(ref.URI)
	if err != nil {
		t.Fatalf("read fetched image: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("fetched image does not match server payload")
	}
}

func TestHTTPImageRejectsTinyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("nope"))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Providers.Image.Mode = config.ModeHTTP
	cfg.Providers.Image.BaseURL = server.URL
	cfg.Providers.Music.Mode = config.ModeStub

	set, err := providers.NewSet(cfg, nil)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	job := providers.JobSpec{
		RunID: "run-1", SceneID: "scene-1", Kind: manifest.KindImage, SlotID: "center",
		Prompt: "anything", OutputPath: filepath.Join(t.TempDir(), "img.png"),
	}
	if _, err := set.Image.GenerateImage(context.Background(), job); !errors.Is(err, services.ErrProvider) {
		t.Fatalf("expected provider error for tiny body, got %v", err)
	}
}

func TestHTTPVoiceClassifiesStatuses(t *testing.T) {
	status := http.StatusInternalServerError
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Providers.Voice.Mode = config.ModeHTTP
	cfg.Providers.Voice.BaseURL = server.URL
	cfg.Providers.Music.Mode = config.ModeStub

	set, err := providers.NewSet(cfg, nil)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	job := providers.JobSpec{RunID: "run-1", SceneID: "scene-1", Kind: manifest.KindNarration, SlotID: "line-1", Text: "hello"}

	_, err = set.Voice.SynthesizeVoice(context.Background(), job)
	if !services.IsRetryable(err) {
		t.Fatalf("5xx should be retryable, got %v", err)
	}

	status = http.StatusBadRequest
	_, err = set.Voice.SynthesizeVoice(context.Background(), job)
	if err == nil || services.IsRetryable(err) {
		t.Fatalf("4xx should be fatal, got %v", err)
	}
}
