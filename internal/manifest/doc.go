// Package manifest defines the structured record of scenes and asset slots
// for one run. The manifest is produced by planning, filled in by the
// barrier-join merge, and consumed read-only by the timeline renderer.
//
// Slot references are write-once: the merge step assigns each slot's ref
// exactly once, and re-delivering the same result is a no-op so scheduler
// restarts cannot corrupt state.
package manifest
