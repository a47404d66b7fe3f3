package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"kurz/internal/logging"
	"kurz/internal/manifest"
	"kurz/internal/services"
)

var localAudioExtensions = map[string]struct{}{
	".mp3":  {},
	".wav":  {},
	".ogg":  {},
	".flac": {},
	".m4a":  {},
}

// localMusic picks tracks from a local asset library instead of
// calling a remote service. Selection is deterministic for a given
// job so retries return the same track.
type localMusic struct {
	dir    string
	logger *slog.Logger
}

func newLocalMusic(dir string, logger *slog.Logger) *localMusic {
	return &localMusic{dir: dir, logger: logger}
}

func (l *localMusic) SelectMusic(ctx context.Context, job JobSpec) (manifest.AssetRef, error) {
	if err := ctx.Err(); err != nil {
		return manifest.AssetRef{}, err
	}

	tracks, err := l.listTracks(job.Tags)
	if err != nil {
		return manifest.AssetRef{}, err
	}
	if len(tracks) == 0 {
		return manifest.AssetRef{}, services.Wrap(services.ErrProvider, "music", "select",
			fmt.Sprintf("no audio tracks under %s match tags %v", l.dir, job.Tags), nil)
	}

	h := fnv.New32a()
	h.Write([]byte(job.Key().String()))
	pick := tracks[int(h.Sum32())%len(tracks)]

	l.logger.Debug("selected local track",
		logging.String(logging.FieldRunID, job.RunID),
		logging.String("track", pick),
		logging.Any("tags", job.Tags))
	return manifest.AssetRef{URI: pick, DurationMS: job.DurationMS}, nil
}

// listTracks returns audio files under the library dir, preferring a
// tag-named subdirectory when one exists.
func (l *localMusic) listTracks(tags []string) ([]string, error) {
	for _, tag := range tags {
		sub := filepath.Join(l.dir, strings.ToLower(tag))
		if tracks, err := audioFilesIn(sub); err == nil && len(tracks) > 0 {
			return tracks, nil
		}
	}
	return audioFilesIn(l.dir)
}

func audioFilesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrProvider, "music", "select", "read asset library", err)
	}
	var tracks []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := localAudioExtensions[ext]; ok {
			tracks = append(tracks, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(tracks)
	return tracks, nil
}
