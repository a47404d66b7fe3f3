// Package render turns a fully resolved manifest into one encoded
// vertical video.
//
// Each scene is built as an independent clip: the visual asset is
// cropped and scaled into a fixed media band, title and caption text
// are drawn into their own bands, narration is padded to the scene's
// effective duration, and the clip is re-encoded to a uniform codec.
// Finished scenes are concatenated by stream copy and an optional
// background track is mixed in afterwards.
//
// Narration is the timing authority: when audio outlasts the visual,
// the last frame is held rather than trimming or speeding anything up.
package render
