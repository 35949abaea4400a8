package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Layout resolves artifact locations beneath the bulk and work roots.
type Layout struct {
	bulkRoot string
	workRoot string
}

// NewLayout constructs a Layout over the two storage roots.
func NewLayout(bulkRoot, workRoot string) Layout {
	return Layout{bulkRoot: bulkRoot, workRoot: workRoot}
}

// BulkRoot returns the bulk storage root (videos).
func (l Layout) BulkRoot() string {
	return l.bulkRoot
}

// WorkRoot returns the working storage root (everything else).
func (l Layout) WorkRoot() string {
	return l.workRoot
}

// VideoDir returns the episode directory for an anime on bulk storage.
func (l Layout) VideoDir(malID int64) string {
	return filepath.Join(l.bulkRoot, strconv.FormatInt(malID, 10), "episodes")
}

// VideoFile returns the canonical video path for an episode. The extension
// is whatever the downloader produced ("mp4", "mkv", ...).
func (l Layout) VideoFile(malID int64, episode int, ext string) string {
	return filepath.Join(l.VideoDir(malID), EpisodeName(episode)+"."+strings.TrimPrefix(ext, "."))
}

// AudioDir returns the intermediate audio directory for an anime.
func (l Layout) AudioDir(malID int64) string {
	return filepath.Join(l.workRoot, "audio", strconv.FormatInt(malID, 10))
}

// AudioFile returns the extracted WAV path for an episode.
func (l Layout) AudioFile(malID int64, episode int) string {
	return filepath.Join(l.AudioDir(malID), EpisodeName(episode)+".wav")
}

// TranscriptDir returns the transcript directory for an anime.
func (l Layout) TranscriptDir(malID int64) string {
	return filepath.Join(l.workRoot, "transcripts", strconv.FormatInt(malID, 10))
}

// TranscriptFile returns the plain-text transcript path for an episode.
func (l Layout) TranscriptFile(malID int64, episode int) string {
	return filepath.Join(l.TranscriptDir(malID), EpisodeName(episode)+".txt")
}

// DatabaseFile returns the queue database path.
func (l Layout) DatabaseFile() string {
	return filepath.Join(l.workRoot, "jobs.db")
}

// CacheDir returns the metadata cache directory. Its contents are opaque to
// the coordinator; the disk monitor only measures it.
func (l Layout) CacheDir() string {
	return filepath.Join(l.workRoot, "cache")
}

// LogDir returns the log directory.
func (l Layout) LogDir() string {
	return filepath.Join(l.workRoot, "logs")
}

// LockFile returns the daemon lock path.
func (l Layout) LockFile() string {
	return filepath.Join(l.workRoot, "hanasu.lock")
}

// EnsureBaseDirs creates the fixed directory skeleton under both roots.
// Per-anime directories are created lazily by the stage adapters.
func (l Layout) EnsureBaseDirs() error {
	dirs := []string{
		l.bulkRoot,
		filepath.Join(l.workRoot, "audio"),
		filepath.Join(l.workRoot, "transcripts"),
		l.CacheDir(),
		l.LogDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// EpisodeName returns the zero-padded base name for an episode ("ep001").
func EpisodeName(episode int) string {
	return fmt.Sprintf("ep%03d", episode)
}
