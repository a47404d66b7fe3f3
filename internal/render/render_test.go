package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kurz/internal/manifest"
	"kurz/internal/services"
)

func testOptions() Options {
	return Options{
		Width:           1080,
		Height:          1920,
		FPS:             30,
		VideoCodec:      "libx264",
		AudioCodec:      "aac",
		Preset:          "medium",
		CRF:             23,
		BGMVolume:       0.3,
		TitleFontSize:   72,
		CaptionFontSize: 48,
	}
}

func TestComputeLayoutTilesCanvas(t *testing.T) {
	layout := ComputeLayout(1080, 1920, 72, 48)
	if !layout.Valid() {
		t.Fatalf("layout does not tile the canvas: %#v", layout)
	}
	if layout.Title.Bottom() > layout.Media.Y || layout.Media.Bottom() > layout.Caption.Y {
		t.Fatalf("bands overlap: %#v", layout)
	}
	if layout.Media.H < 1920/2 {
		t.Fatalf("media band squeezed too small: %d", layout.Media.H)
	}
}

func TestComputeLayoutClampsHugeFonts(t *testing.T) {
	layout := ComputeLayout(1080, 1920, 800, 800)
	if !layout.Valid() {
		t.Fatalf("clamped layout invalid: %#v", layout)
	}
	if layout.Media.H <= 0 {
		t.Fatal("media band vanished")
	}
}

func TestSubtitleBandByPosition(t *testing.T) {
	layout := ComputeLayout(1080, 1920, 72, 48)
	if got := layout.SubtitleBand("top"); got != layout.Title {
		t.Fatalf("top band = %#v, want title band", got)
	}
	if got := layout.SubtitleBand("center"); got != layout.Media {
		t.Fatalf("center band = %#v, want media band", got)
	}
	if got := layout.SubtitleBand("bottom"); got != layout.Caption {
		t.Fatalf("bottom band = %#v, want caption band", got)
	}
	if got := layout.SubtitleBand(""); got != layout.Caption {
		t.Fatalf("empty position band = %#v, want caption band", got)
	}
}

func resolvedScene(seq int, videoMS, narrationMS int64) manifest.Scene {
	id := fmt.Sprintf("scene-%d", seq)
	return manifest.Scene{
		SceneID:    id,
		Sequence:   seq,
		Title:      "Test Title",
		DurationMS: 5000,
		Video: &manifest.VideoSlot{
			SlotID: "clip",
			Ref:    manifest.AssetRef{URI: "/assets/" + id + ".mp4", DurationMS: videoMS},
		},
		Dialogue: []manifest.DialogueLine{
			{
				SlotID:     "line-1",
				Text:       "hello there",
				Ref:        manifest.AssetRef{URI: "/assets/" + id + ".wav", DurationMS: narrationMS},
				DurationMS: narrationMS,
			},
		},
		Subtitles: []manifest.Subtitle{
			{Position: "bottom", Text: "hello there", StartMS: 0, DurationMS: 2000},
		},
	}
}

func TestPlanSceneNarrationWins(t *testing.T) {
	layout := ComputeLayout(1080, 1920, 72, 48)
	scene := resolvedScene(2, 5000, 7000)

	plan, err := planScene(context.Background(), testOptions(), layout, scene, t.TempDir())
	if err != nil {
		t.Fatalf("planScene: %v", err)
	}
	if plan.effectiveMS != 7000 {
		t.Fatalf("effective duration %d, want 7000", plan.effectiveMS)
	}
	if plan.freezeFrameMS != 2000 {
		t.Fatalf("freeze frame %d, want 2000", plan.freezeFrameMS)
	}

	joined := strings.Join(plan.args, " ")
	if !strings.Contains(joined, "tpad=stop_mode=clone:stop_duration=2.000") {
		t.Fatalf("freeze-frame pad missing from filters: %s", joined)
	}
	if !strings.Contains(joined, "apad=whole_dur=7.000") {
		t.Fatalf("narration padding missing from filters: %s", joined)
	}
	if !strings.Contains(joined, "-t 7.000") {
		t.Fatalf("output not bounded to effective duration: %s", joined)
	}
}

func TestPlanSceneVideoLongerThanNarration(t *testing.T) {
	layout := ComputeLayout(1080, 1920, 72, 48)
	scene := resolvedScene(1, 9000, 4000)

	plan, err := planScene(context.Background(), testOptions(), layout, scene, t.TempDir())
	if err != nil {
		t.Fatalf("planScene: %v", err)
	}
	if plan.effectiveMS != 9000 {
		t.Fatalf("effective duration %d, want 9000", plan.effectiveMS)
	}
	if plan.freezeFrameMS != 0 {
		t.Fatalf("unexpected freeze frame: %d", plan.freezeFrameMS)
	}
	if strings.Contains(strings.Join(plan.args, " "), "tpad=") {
		t.Fatal("tpad applied when video already covers narration")
	}
}

func TestPlanSceneImageFallback(t *testing.T) {
	layout := ComputeLayout(1080, 1920, 72, 48)
	scene := manifest.Scene{
		SceneID:    "scene-1",
		Sequence:   1,
		DurationMS: 5000,
		Images: []manifest.ImageSlot{
			{SlotID: "center", Ref: manifest.AssetRef{URI: "/assets/still.png"}},
		},
		Dialogue: []manifest.DialogueLine{
			{SlotID: "line-1", Ref: manifest.AssetRef{URI: "/assets/line.wav", DurationMS: 3000}, DurationMS: 3000},
		},
	}

	plan, err := planScene(context.Background(), testOptions(), layout, scene, t.TempDir())
	if err != nil {
		t.Fatalf("planScene: %v", err)
	}
	if plan.effectiveMS != 3000 {
		t.Fatalf("effective duration %d, want narration length 3000", plan.effectiveMS)
	}
	joined := strings.Join(plan.args, " ")
	if !strings.Contains(joined, "-loop 1 -t 3.000") {
		t.Fatalf("image not looped for scene duration: %s", joined)
	}
	if strings.Contains(joined, "tpad=") {
		t.Fatal("looping images never need freeze-frame padding")
	}
}

func TestPlanSceneProbesUnknownDurations(t *testing.T) {
	restore := SetProbeForTests(func(ctx context.Context, binary, path string) (ProbeResult, error) {
		if strings.HasSuffix(path, ".wav") {
			return ProbeResult{DurationMS: 6200, HasAudio: true}, nil
		}
		return ProbeResult{DurationMS: 5000, HasVideo: true}, nil
	})
	defer restore()

	layout := ComputeLayout(1080, 1920, 72, 48)
	scene := resolvedScene(1, 0, 0)
	scene.Video.Ref.DurationMS = 0
	scene.Dialogue[0].Ref.DurationMS = 0
	scene.Dialogue[0].DurationMS = 0

	plan, err := planScene(context.Background(), testOptions(), layout, scene, t.TempDir())
	if err != nil {
		t.Fatalf("planScene: %v", err)
	}
	if plan.effectiveMS != 6200 {
		t.Fatalf("effective duration %d, want probed 6200", plan.effectiveMS)
	}
}

func TestPlanSceneMissingVisual(t *testing.T) {
	layout := ComputeLayout(1080, 1920, 72, 48)
	scene := manifest.Scene{SceneID: "scene-1", Sequence: 1, DurationMS: 5000}
	_, err := planScene(context.Background(), testOptions(), layout, scene, t.TempDir())
	if !errors.Is(err, services.ErrRender) {
		t.Fatalf("expected render error, got %v", err)
	}
}

func renderManifest(scenes ...manifest.Scene) *manifest.Manifest {
	m := &manifest.Manifest{RunID: "run-1", FPS: 30, Scenes: scenes}
	for _, s := range scenes {
		m.TotalDurationMS += s.DurationMS
	}
	return m
}

// fakeFFmpeg records every invocation and fabricates the output file
// each command would have produced.
type fakeFFmpeg struct {
	calls   [][]string
	failOn  func(args []string) bool
	concats []string
}

func (f *fakeFFmpeg) run(ctx context.Context, binary string, args []string) error {
	f.calls = append(f.calls, args)
	if f.failOn != nil && f.failOn(args) {
		return services.Wrap(services.ErrRender, "render", "ffmpeg", "forced failure", nil)
	}
	for i, arg := range args {
		if arg == "-i" && strings.HasSuffix(args[i+1], "concat.txt") {
			data, err := os.ReadFile(args[i+1])
			if err != nil {
				return err
			}
			f.concats = append(f.concats, string(data))
		}
	}
	out := args[len(args)-1]
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return os.WriteFile(out, []byte("clip"), 0o644)
}

func TestRenderHappyPath(t *testing.T) {
	fake := &fakeFFmpeg{}
	defer SetFFmpegForTests(fake.run)()

	m := renderManifest(
		resolvedScene(1, 5000, 4000),
		resolvedScene(2, 5000, 7000),
		resolvedScene(3, 5000, 5000),
	)

	work := t.TempDir()
	out := filepath.Join(t.TempDir(), "final.mp4")
	r := New(testOptions(), nil)

	result, err := r.Render(context.Background(), m, work, out)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if result.OutputPath != out {
		t.Fatalf("output path %s, want %s", result.OutputPath, out)
	}
	if result.TotalDurationMS != 5000+7000+5000 {
		t.Fatalf("total duration %d, want 17000", result.TotalDurationMS)
	}
	if result.SceneDurations["scene-2"] != 7000 {
		t.Fatalf("scene-2 duration %d, want 7000", result.SceneDurations["scene-2"])
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("final output missing: %v", err)
	}

	// 3 scene builds + 1 concat; no bgm command without a global track.
	if len(fake.calls) != 4 {
		t.Fatalf("%d ffmpeg calls, want 4", len(fake.calls))
	}
}

func TestRenderConcatOrderFollowsSequence(t *testing.T) {
	fake := &fakeFFmpeg{}
	defer SetFFmpegForTests(fake.run)()

	// Scenes supplied out of order must still concatenate by sequence.
	m := renderManifest(
		resolvedScene(3, 5000, 5000),
		resolvedScene(1, 5000, 5000),
		resolvedScene(2, 5000, 5000),
	)

	r := New(testOptions(), nil)
	if _, err := r.Render(context.Background(), m, t.TempDir(), filepath.Join(t.TempDir(), "final.mp4")); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(fake.concats) != 1 {
		t.Fatalf("expected one concat invocation, got %d", len(fake.concats))
	}
	list := fake.concats[0]
	first := strings.Index(list, "scene-001.mp4")
	second := strings.Index(list, "scene-002.mp4")
	third := strings.Index(list, "scene-003.mp4")
	if first < 0 || second < 0 || third < 0 || !(first < second && second < third) {
		t.Fatalf("concat list out of order:\n%s", list)
	}
}

func TestRenderMixesGlobalBGM(t *testing.T) {
	fake := &fakeFFmpeg{}
	defer SetFFmpegForTests(fake.run)()

	m := renderManifest(resolvedScene(1, 5000, 5000))
	m.GlobalBGM = &manifest.BGMTrack{
		Ref:    manifest.AssetRef{URI: "/assets/bgm.mp3"},
		Volume: 0.3,
	}

	r := New(testOptions(), nil)
	if _, err := r.Render(context.Background(), m, t.TempDir(), filepath.Join(t.TempDir(), "final.mp4")); err != nil {
		t.Fatalf("Render: %v", err)
	}

	last := strings.Join(fake.calls[len(fake.calls)-1], " ")
	if !strings.Contains(last, "-stream_loop -1") {
		t.Fatalf("bgm not looped: %s", last)
	}
	if !strings.Contains(last, "volume=0.30") {
		t.Fatalf("bgm not attenuated: %s", last)
	}
	if !strings.Contains(last, "amix=inputs=2:duration=first:normalize=0") {
		t.Fatalf("bgm not mixed under narration: %s", last)
	}
	if !strings.Contains(last, "-c:v copy") {
		t.Fatalf("bgm mix re-encoded video: %s", last)
	}
}

func TestRenderBGMFailureFallsBackToUnmixed(t *testing.T) {
	fake := &fakeFFmpeg{
		failOn: func(args []string) bool {
			return strings.Contains(strings.Join(args, " "), "-stream_loop")
		},
	}
	defer SetFFmpegForTests(fake.run)()

	m := renderManifest(resolvedScene(1, 5000, 5000))
	m.GlobalBGM = &manifest.BGMTrack{Ref: manifest.AssetRef{URI: "/assets/bgm.mp3"}}

	out := filepath.Join(t.TempDir(), "final.mp4")
	r := New(testOptions(), nil)
	result, err := r.Render(context.Background(), m, t.TempDir(), out)
	if err != nil {
		t.Fatalf("Render should fall back, got: %v", err)
	}
	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("read fallback output: %v", err)
	}
	if string(data) != "clip" {
		t.Fatal("fallback output is not the unmixed track")
	}
}

func TestRenderSceneFailureAborts(t *testing.T) {
	fake := &fakeFFmpeg{
		failOn: func(args []string) bool {
			return strings.Contains(strings.Join(args, " "), "scene-002")
		},
	}
	defer SetFFmpegForTests(fake.run)()

	m := renderManifest(
		resolvedScene(1, 5000, 5000),
		resolvedScene(2, 5000, 5000),
	)

	r := New(testOptions(), nil)
	out := filepath.Join(t.TempDir(), "final.mp4")
	_, err := r.Render(context.Background(), m, t.TempDir(), out)
	if !errors.Is(err, services.ErrRender) {
		t.Fatalf("expected render error, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("partial output surfaced after failure")
	}
}

func TestRenderRejectsUnresolvedManifest(t *testing.T) {
	fake := &fakeFFmpeg{}
	defer SetFFmpegForTests(fake.run)()

	scene := resolvedScene(1, 5000, 5000)
	scene.Dialogue[0].Ref = manifest.AssetRef{}
	m := renderManifest(scene)

	r := New(testOptions(), nil)
	_, err := r.Render(context.Background(), m, t.TempDir(), filepath.Join(t.TempDir(), "final.mp4"))
	if !errors.Is(err, services.ErrRender) {
		t.Fatalf("expected render error for unresolved slot, got %v", err)
	}
	if len(fake.calls) != 0 {
		t.Fatal("render ran ffmpeg despite unresolved slots")
	}
}

func TestVerifyOutput(t *testing.T) {
	probed := ProbeResult{DurationMS: 17000, Width: 1080, Height: 1920, HasVideo: true, HasAudio: true}
	restore := SetProbeForTests(func(ctx context.Context, binary, path string) (ProbeResult, error) {
		return probed, nil
	})
	defer restore()

	r := New(testOptions(), nil)
	if err := r.VerifyOutput(context.Background(), "/out/final.mp4", 17000); err != nil {
		t.Fatalf("VerifyOutput: %v", err)
	}

	probed.HasAudio = false
	if err := r.VerifyOutput(context.Background(), "/out/final.mp4", 17000); !errors.Is(err, services.ErrRender) {
		t.Fatalf("expected missing-stream error, got %v", err)
	}

	probed.HasAudio = true
	probed.DurationMS = 12000
	if err := r.VerifyOutput(context.Background(), "/out/final.mp4", 17000); !errors.Is(err, services.ErrRender) {
		t.Fatalf("expected duration-deviation error, got %v", err)
	}

	probed.DurationMS = 0
	if err := r.VerifyOutput(context.Background(), "/out/final.mp4", 0); !errors.Is(err, services.ErrRender) {
		t.Fatalf("expected empty-output error, got %v", err)
	}
}

func TestWriteConcatListEscapesQuotes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concat.txt")
	if err := writeConcatList(path, []string{"/tmp/it's a clip.mp4"}); err != nil {
		t.Fatalf("writeConcatList: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read list: %v", err)
	}
	if !strings.Contains(string(data), `file '/tmp/it'\''s a clip.mp4'`) {
		t.Fatalf("quote not escaped: %s", data)
	}
}
