package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// SlotKind identifies what an asset slot holds.
type SlotKind string

const (
	KindImage     SlotKind = "image"
	KindNarration SlotKind = "narration-audio"
	KindSFX       SlotKind = "sfx"
	KindBGM       SlotKind = "bgm"
	KindVideo     SlotKind = "synthesized-video"
)

// AssetRef is the resolved output of one generation job.
type AssetRef struct {
	URI        string `json:"uri"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Empty reports whether the ref has been assigned.
func (r AssetRef) Empty() bool {
	return strings.TrimSpace(r.URI) == ""
}

// SlotKey addresses a slot for merge and cancellation bookkeeping.
type SlotKey struct {
	SceneID string   `json:"scene_id"`
	Kind    SlotKind `json:"kind"`
	SlotID  string   `json:"slot_id"`
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.SceneID, k.Kind, k.SlotID)
}

// ImageSlot positions one generated image inside a scene.
type ImageSlot struct {
	SlotID  string   `json:"slot_id"`
	Prompt  string   `json:"prompt,omitempty"`
	Ref     AssetRef `json:"ref"`
	ZIndex  int      `json:"z_index,omitempty"`
	StartMS int64    `json:"start_ms"`
	// DurationMS of zero means "full scene".
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// DialogueLine is one narrated line with its synthesized audio.
type DialogueLine struct {
	SlotID     string   `json:"slot_id"`
	Speaker    string   `json:"speaker,omitempty"`
	Text       string   `json:"text"`
	Emotion    string   `json:"emotion,omitempty"`
	Ref        AssetRef `json:"ref"`
	StartMS    int64    `json:"start_ms"`
	DurationMS int64    `json:"duration_ms"`
}

// Subtitle is an overlay text block rendered into a layout band.
type Subtitle struct {
	Position   string `json:"position"` // top, center, bottom
	Text       string `json:"text"`
	StartMS    int64  `json:"start_ms"`
	DurationMS int64  `json:"duration_ms"`
}

// SFXSlot is a timed sound effect.
type SFXSlot struct {
	SlotID     string   `json:"slot_id"`
	Tags       []string `json:"tags,omitempty"`
	Ref        AssetRef `json:"ref"`
	StartMS    int64    `json:"start_ms"`
	DurationMS int64    `json:"duration_ms,omitempty"`
	Volume     float64  `json:"volume,omitempty"`
}

// VideoSlot is a synthesized video clip for a scene.
type VideoSlot struct {
	SlotID  string   `json:"slot_id"`
	Prompt  string   `json:"prompt,omitempty"`
	Ref     AssetRef `json:"ref"`
	StartMS int64    `json:"start_ms"`
	// DurationMS records the clip's measured length once resolved.
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// BGMTrack is background music, either global or scene-scoped.
type BGMTrack struct {
	Genre      string   `json:"genre,omitempty"`
	Mood       string   `json:"mood,omitempty"`
	Ref        AssetRef `json:"ref"`
	StartMS    int64    `json:"start_ms"`
	DurationMS int64    `json:"duration_ms,omitempty"`
	Volume     float64  `json:"volume,omitempty"`
}

// Scene is one timed unit of the output video.
type Scene struct {
	SceneID    string         `json:"scene_id"`
	Sequence   int            `json:"sequence"`
	Title      string         `json:"title,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Images     []ImageSlot    `json:"images"`
	Dialogue   []DialogueLine `json:"dialogue"`
	Subtitles  []Subtitle     `json:"subtitles,omitempty"`
	SFX        []SFXSlot      `json:"sfx,omitempty"`
	Video      *VideoSlot     `json:"video,omitempty"`
	BGM        *BGMTrack      `json:"bgm,omitempty"`
}

// Manifest is the full structured record for one run.
type Manifest struct {
	RunID           string    `json:"run_id"`
	Title           string    `json:"title,omitempty"`
	FPS             int       `json:"fps,omitempty"`
	TotalDurationMS int64     `json:"total_duration_ms"`
	Scenes          []Scene   `json:"scenes"`
	GlobalBGM       *BGMTrack `json:"global_bgm,omitempty"`
}

// Decode parses the persisted JSON form.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// Encode produces the persisted JSON form. Round-tripping Encode and Decode
// is lossless for every field the renderer depends on.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

// Save writes the manifest to path atomically.
func (m *Manifest) Save(path string) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

// LoadFile reads a persisted manifest from disk.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Decode(data)
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var cp Manifest
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil
	}
	return &cp
}

// SceneByID returns the scene with the given identifier.
func (m *Manifest) SceneByID(id string) (*Scene, bool) {
	for i := range m.Scenes {
		if m.Scenes[i].SceneID == id {
			return &m.Scenes[i], true
		}
	}
	return nil, false
}
