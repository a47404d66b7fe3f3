package manifest

import (
	"fmt"

	"kurz/internal/services"
)

// Merge assigns a resolved asset ref to the slot addressed by key. The
// operation is idempotent: delivering the same ref to an already-resolved
// slot reports no change. Assigning a different ref to a resolved slot is a
// write-once violation.
func (m *Manifest) Merge(key SlotKey, ref AssetRef) (changed bool, err error) {
	if ref.Empty() {
		return false, services.Wrap(services.ErrValidation, "merge", "assign slot", fmt.Sprintf("empty ref for %s", key), nil)
	}

	scene, ok := m.SceneByID(key.SceneID)
	if !ok {
		return false, services.Wrap(services.ErrValidation, "merge", "assign slot", fmt.Sprintf("unknown scene %q", key.SceneID), nil)
	}

	slot := scene.slotRef(key)
	if slot == nil {
		return false, services.Wrap(services.ErrValidation, "merge", "assign slot", fmt.Sprintf("unknown slot %s", key), nil)
	}

	if !slot.Empty() {
		if slot.URI == ref.URI {
			return false, nil
		}
		return false, services.Wrap(services.ErrValidation, "merge", "assign slot",
			fmt.Sprintf("slot %s already resolved to %s", key, slot.URI), nil)
	}

	*slot = ref
	scene.absorbDuration(key, ref)
	return true, nil
}

// slotRef locates the AssetRef storage for a key, or nil when absent.
// A global BGM result is addressed with an empty scene lookup handled by
// MergeGlobalBGM instead.
func (s *Scene) slotRef(key SlotKey) *AssetRef {
	switch key.Kind {
	case KindImage:
		for i := range s.Images {
			if s.Images[i].SlotID == key.SlotID {
				return &s.Images[i].Ref
			}
		}
	case KindNarration:
		for i := range s.Dialogue {
			if s.Dialogue[i].SlotID == key.SlotID {
				return &s.Dialogue[i].Ref
			}
		}
	case KindSFX:
		for i := range s.SFX {
			if s.SFX[i].SlotID == key.SlotID {
				return &s.SFX[i].Ref
			}
		}
	case KindVideo:
		if s.Video != nil && s.Video.SlotID == key.SlotID {
			return &s.Video.Ref
		}
	case KindBGM:
		if s.BGM != nil {
			return &s.BGM.Ref
		}
	}
	return nil
}

// absorbDuration records measured asset lengths the renderer needs.
func (s *Scene) absorbDuration(key SlotKey, ref AssetRef) {
	if ref.DurationMS <= 0 {
		return
	}
	switch key.Kind {
	case KindNarration:
		for i := range s.Dialogue {
			if s.Dialogue[i].SlotID == key.SlotID && s.Dialogue[i].DurationMS == 0 {
				s.Dialogue[i].DurationMS = ref.DurationMS
			}
		}
	case KindVideo:
		if s.Video != nil && s.Video.SlotID == key.SlotID && s.Video.DurationMS == 0 {
			s.Video.DurationMS = ref.DurationMS
		}
	}
}

// MergeGlobalBGM assigns the run-wide background track, creating the record
// when planning produced none. Idempotent like Merge.
func (m *Manifest) MergeGlobalBGM(ref AssetRef, volume float64) (bool, error) {
	if ref.Empty() {
		return false, services.Wrap(services.ErrValidation, "merge", "assign global bgm", "empty ref", nil)
	}
	if m.GlobalBGM == nil {
		m.GlobalBGM = &BGMTrack{Volume: volume, DurationMS: m.TotalDurationMS}
	}
	if !m.GlobalBGM.Ref.Empty() {
		if m.GlobalBGM.Ref.URI == ref.URI {
			return false, nil
		}
		return false, services.Wrap(services.ErrValidation, "merge", "assign global bgm",
			fmt.Sprintf("already resolved to %s", m.GlobalBGM.Ref.URI), nil)
	}
	m.GlobalBGM.Ref = ref
	return true, nil
}

// RequiredSlots lists every slot that must be resolved before rendering.
// Sound effects and background music degrade gracefully and are optional.
func (m *Manifest) RequiredSlots() []SlotKey {
	var keys []SlotKey
	for i := range m.Scenes {
		s := &m.Scenes[i]
		for _, img := range s.Images {
			keys = append(keys, SlotKey{SceneID: s.SceneID, Kind: KindImage, SlotID: img.SlotID})
		}
		for _, line := range s.Dialogue {
			keys = append(keys, SlotKey{SceneID: s.SceneID, Kind: KindNarration, SlotID: line.SlotID})
		}
		if s.Video != nil {
			keys = append(keys, SlotKey{SceneID: s.SceneID, Kind: KindVideo, SlotID: s.Video.SlotID})
		}
	}
	return keys
}

// OptionalSlots lists slots whose absence degrades gracefully.
func (m *Manifest) OptionalSlots() []SlotKey {
	var keys []SlotKey
	for i := range m.Scenes {
		s := &m.Scenes[i]
		for _, fx := range s.SFX {
			keys = append(keys, SlotKey{SceneID: s.SceneID, Kind: KindSFX, SlotID: fx.SlotID})
		}
		if s.BGM != nil {
			keys = append(keys, SlotKey{SceneID: s.SceneID, Kind: KindBGM})
		}
	}
	return keys
}

// Unresolved returns the required slots that still have no ref.
func (m *Manifest) Unresolved() []SlotKey {
	var missing []SlotKey
	for _, key := range m.RequiredSlots() {
		scene, ok := m.SceneByID(key.SceneID)
		if !ok {
			missing = append(missing, key)
			continue
		}
		if slot := scene.slotRef(key); slot == nil || slot.Empty() {
			missing = append(missing, key)
		}
	}
	return missing
}
