package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"hanasu/internal/config"
	"hanasu/internal/fileutil"
	"hanasu/internal/logging"
	"hanasu/internal/paths"
	"hanasu/internal/queue"
	"hanasu/internal/services"
)

const stageName = "download"

// videoExtensions are the container formats the downloader is known to
// produce.
var videoExtensions = map[string]struct{}{
	".mp4":  {},
	".mkv":  {},
	".webm": {},
	".avi":  {},
}

// Stage executes download jobs.
type Stage struct {
	store  *queue.Store
	layout paths.Layout
	client *Client
	logger *slog.Logger
}

// NewStage constructs the download stage with the real tool runner.
func NewStage(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Stage {
	return NewStageWithRunner(cfg, store, logger, services.ExecRunner{})
}

// NewStageWithRunner constructs the stage with a custom tool runner. Tests
// substitute stubs here.
func NewStageWithRunner(cfg *config.Config, store *queue.Store, logger *slog.Logger, runner services.Runner) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		store:  store,
		layout: paths.NewLayout(cfg.Paths.BulkRoot, cfg.Paths.WorkRoot),
		client: NewClient(cfg.Tools.Downloader, time.Duration(cfg.Tools.DownloadTimeoutSeconds)*time.Second, runner),
		logger: logger.With(logging.String("component", stageName)),
	}
}

// Execute downloads the episode for job and returns the commit patch.
func (s *Stage) Execute(ctx context.Context, job *queue.Job) (queue.StagePatch, error) {
	selection, err := s.store.GetSelection(ctx, job.MALID)
	if err != nil {
		return queue.StagePatch{}, services.Wrap(services.ErrStore, stageName, "load selection", err)
	}
	if selection == nil {
		return queue.StagePatch{}, services.Wrapf(services.ErrMissingSelection, stageName, "selection",
			"no cached selection for mal_id %d; populate the selection cache and retry", job.MALID)
	}
	if selection.Unselectable() {
		return queue.StagePatch{}, services.Wrapf(services.ErrUnselectable, stageName, "selection",
			"%q has no usable source candidates", job.AnimeTitle)
	}

	outputDir := s.layout.VideoDir(job.MALID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return queue.StagePatch{}, services.Wrap(ioMarker(err), stageName, "create output directory", err)
	}

	// A prior interrupted attempt may already have landed the file.
	if existing, ok := s.findCanonical(outputDir, job.Episode); ok {
		s.logger.Info("video already present, skipping download",
			logging.Int64("job_id", job.ID),
			logging.String("path", existing),
		)
		return s.patchFor(existing, job)
	}

	before, err := listFiles(outputDir)
	if err != nil {
		return queue.StagePatch{}, services.Wrap(services.ErrDownloader, stageName, "snapshot output directory", err)
	}

	title := selection.SearchTitle()
	s.logger.Info("starting download",
		logging.Int64("job_id", job.ID),
		logging.String("search_title", title),
		logging.Int("selected_index", selection.SelectedIndex),
		logging.Int("episode", job.Episode),
		logging.String("confidence", selection.Confidence),
	)

	output, err := s.client.Fetch(ctx, outputDir, title, selection.SelectedIndex, job.Episode)
	if err != nil {
		if errors.Is(err, services.ErrTimeout) {
			return queue.StagePatch{}, services.Wrap(services.ErrTimeout, stageName, "downloader", err)
		}
		return queue.StagePatch{}, services.Wrap(services.ErrDownloader, stageName, "downloader", err)
	}
	if output != "" {
		s.logger.Debug("downloader output", logging.Int64("job_id", job.ID), logging.String("output", tailLines(output)))
	}

	produced, err := s.locateOutput(outputDir, before)
	if err != nil {
		return queue.StagePatch{}, err
	}

	canonical := s.layout.VideoFile(job.MALID, job.Episode, strings.TrimPrefix(filepath.Ext(produced), "."))
	if produced != canonical {
		if err := fileutil.MoveFile(produced, canonical); err != nil {
			return queue.StagePatch{}, services.Wrap(ioMarker(err), stageName, "move video into place", err)
		}
	}
	return s.patchFor(canonical, job)
}

func (s *Stage) patchFor(videoPath string, job *queue.Job) (queue.StagePatch, error) {
	size, err := fileutil.FileSize(videoPath)
	if err != nil {
		return queue.StagePatch{}, services.Wrap(services.ErrDownloader, stageName, "measure video", err)
	}
	rel, err := filepath.Rel(s.layout.BulkRoot(), videoPath)
	if err != nil {
		return queue.StagePatch{}, services.Wrap(services.ErrDownloader, stageName, "relativize video path", err)
	}
	s.logger.Info("download complete",
		logging.Int64("job_id", job.ID),
		logging.String("video_path", rel),
		logging.Int64("video_size_bytes", size),
	)
	return queue.StagePatch{VideoPath: rel, VideoSizeBytes: &size}, nil
}

// findCanonical looks for an existing ep{NNN}.* video in dir.
func (s *Stage) findCanonical(dir string, episode int) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(dir, paths.EpisodeName(episode)+".*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	for _, match := range matches {
		if _, ok := videoExtensions[strings.ToLower(filepath.Ext(match))]; ok {
			return match, true
		}
	}
	return "", false
}

// locateOutput diffs dir against the pre-run snapshot and returns the
// produced video. When the tool leaves several new files (fragments plus
// the merged result), the largest wins.
func (s *Stage) locateOutput(dir string, before map[string]struct{}) (string, error) {
	after, err := listFiles(dir)
	if err != nil {
		return "", services.Wrap(services.ErrDownloader, stageName, "list output directory", err)
	}

	var (
		best     string
		bestSize int64
		count    int
	)
	for name := range after {
		if _, existed := before[name]; existed {
			continue
		}
		if _, ok := videoExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		count++
		path := filepath.Join(dir, name)
		size, err := fileutil.FileSize(path)
		if err != nil {
			continue
		}
		if size > bestSize || best == "" {
			best, bestSize = path, size
		}
	}
	if best == "" {
		return "", services.Wrapf(services.ErrDownloader, stageName, "locate output",
			"tool exited cleanly but produced no video file in %s", dir)
	}
	if count > 1 {
		s.logger.Warn("downloader produced multiple files, keeping largest",
			logging.String("kept", best),
			logging.Int("candidates", count),
		)
	}
	return best, nil
}

func listFiles(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names[entry.Name()] = struct{}{}
	}
	return names, nil
}

func ioMarker(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return services.ErrDiskFull
	}
	return services.ErrDownloader
}

func tailLines(s string) string {
	const max = 400
	if len(s) <= max {
		return s
	}
	return fmt.Sprintf("...%s", s[len(s)-max:])
}
