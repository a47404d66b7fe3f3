package runstore

import (
	"strings"
	"time"

	"kurz/internal/fsm"
	"kurz/internal/manifest"
)

// Run modes supported by the planner.
const (
	ModeGeneral = "general"
	ModeStory   = "story"
	ModeAd      = "ad"
)

// RunSpec is the immutable request that created a run.
type RunSpec struct {
	Prompt     string `json:"prompt"`
	Mode       string `json:"mode"`
	SceneCount int    `json:"scene_count,omitempty"`
	Style      string `json:"style,omitempty"`
	Voice      string `json:"voice,omitempty"`
	IncludeBGM bool   `json:"include_bgm,omitempty"`
}

// Normalize fills defaults for optional spec fields.
func (s *RunSpec) Normalize() {
	s.Prompt = strings.TrimSpace(s.Prompt)
	s.Mode = strings.ToLower(strings.TrimSpace(s.Mode))
	if s.Mode == "" {
		s.Mode = ModeGeneral
	}
	if s.SceneCount <= 0 {
		s.SceneCount = 3
	}
}

// Valid reports whether the spec names a usable prompt and mode.
func (s RunSpec) Valid() bool {
	if s.Prompt == "" {
		return false
	}
	switch s.Mode {
	case ModeGeneral, ModeStory, ModeAd:
		return true
	}
	return false
}

// Run is one persisted generation request.
type Run struct {
	RunID        string
	Spec         RunSpec
	State        fsm.State
	Progress     float64
	Manifest     *manifest.Manifest
	History      []fsm.HistoryEntry
	ErrorMessage string
	OutputPath   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsTerminal reports whether the run can no longer make progress
// without an explicit retry.
func (r *Run) IsTerminal() bool {
	return r.State == fsm.StateCompleted || r.State == fsm.StateFailed
}

// LogEntry is one append-only run log line.
type LogEntry struct {
	RunID     string
	Message   string
	CreatedAt time.Time
}
