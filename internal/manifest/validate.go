package manifest

import (
	"fmt"
	"sort"
	"strings"

	"kurz/internal/services"
)

// Validate checks the structural invariants planning must satisfy before the
// run may enter asset generation:
//
//   - at least one scene, each with a unique non-empty scene_id
//   - sequence numbers contiguous and gapless starting at 1
//   - positive scene durations
//   - slot timing within the owning scene once finalized
//
// Violations are validation errors and fail the run without retry.
func (m *Manifest) Validate() error {
	if m == nil || len(m.Scenes) == 0 {
		return services.Wrap(services.ErrValidation, "manifest", "validate", "manifest has no scenes", nil)
	}

	seen := make(map[string]struct{}, len(m.Scenes))
	sequences := make([]int, 0, len(m.Scenes))
	var problems []string

	for i := range m.Scenes {
		s := &m.Scenes[i]
		id := strings.TrimSpace(s.SceneID)
		if id == "" {
			problems = append(problems, fmt.Sprintf("scene %d has empty scene_id", i))
			continue
		}
		if _, dup := seen[id]; dup {
			problems = append(problems, fmt.Sprintf("duplicate scene_id %q", id))
		}
		seen[id] = struct{}{}
		sequences = append(sequences, s.Sequence)

		if s.DurationMS <= 0 {
			problems = append(problems, fmt.Sprintf("scene %s has non-positive duration %dms", id, s.DurationMS))
		}
		problems = append(problems, s.timingProblems()...)
	}

	sort.Ints(sequences)
	for i, seq := range sequences {
		if seq != i+1 {
			problems = append(problems, fmt.Sprintf("scene sequence must be contiguous from 1; found %v", sequences))
			break
		}
	}

	if len(problems) > 0 {
		return services.Wrap(services.ErrValidation, "manifest", "validate", strings.Join(problems, "; "), nil)
	}
	return nil
}

func (s *Scene) timingProblems() []string {
	var problems []string
	check := func(label string, start, duration int64) {
		if start < 0 {
			problems = append(problems, fmt.Sprintf("scene %s %s has negative start %dms", s.SceneID, label, start))
		}
		// Zero duration means "not yet finalized" for slots measured at merge.
		if duration > 0 && start+duration > s.DurationMS {
			problems = append(problems, fmt.Sprintf(
				"scene %s %s overruns scene: %d+%d > %dms", s.SceneID, label, start, duration, s.DurationMS))
		}
	}
	for _, img := range s.Images {
		check("image "+img.SlotID, img.StartMS, img.DurationMS)
	}
	for _, sub := range s.Subtitles {
		check("subtitle", sub.StartMS, sub.DurationMS)
	}
	for _, fx := range s.SFX {
		check("sfx "+fx.SlotID, fx.StartMS, fx.DurationMS)
	}
	return problems
}

// SortScenes orders scenes by sequence for deterministic playback order.
func (m *Manifest) SortScenes() {
	sort.SliceStable(m.Scenes, func(i, j int) bool {
		return m.Scenes[i].Sequence < m.Scenes[j].Sequence
	})
}
