package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"hanasu/internal/config"
	"hanasu/internal/fileutil"
	"hanasu/internal/logging"
	"hanasu/internal/paths"
	"hanasu/internal/queue"
	"hanasu/internal/services"
)

const stageName = "transcribe"

// Stage executes transcription jobs.
type Stage struct {
	store      *queue.Store
	layout     paths.Layout
	runner     services.Runner
	logger     *slog.Logger
	invalidate func()

	ffmpegBinary      string
	whisperBinary     string
	model             string
	language          string
	extractTimeout    time.Duration
	transcribeTimeout time.Duration
}

// NewStage constructs the transcription stage with the real tool runner.
// invalidate is called after cleanup frees disk space; pass the disk
// monitor's Invalidate.
func NewStage(cfg *config.Config, store *queue.Store, logger *slog.Logger, invalidate func()) *Stage {
	return NewStageWithRunner(cfg, store, logger, invalidate, services.ExecRunner{})
}

// NewStageWithRunner constructs the stage with a custom tool runner.
func NewStageWithRunner(cfg *config.Config, store *queue.Store, logger *slog.Logger, invalidate func(), runner services.Runner) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	if invalidate == nil {
		invalidate = func() {}
	}
	return &Stage{
		store:             store,
		layout:            paths.NewLayout(cfg.Paths.BulkRoot, cfg.Paths.WorkRoot),
		runner:            runner,
		logger:            logger.With(logging.String("component", stageName)),
		invalidate:        invalidate,
		ffmpegBinary:      cfg.Tools.FFmpeg,
		whisperBinary:     cfg.Tools.Whisper,
		model:             cfg.Tools.WhisperModel,
		language:          cfg.Tools.Language,
		extractTimeout:    time.Duration(cfg.Tools.ExtractTimeoutSeconds) * time.Second,
		transcribeTimeout: time.Duration(cfg.Tools.TranscribeTimeoutSeconds) * time.Second,
	}
}

// Execute transcribes the episode for job and returns the commit patch.
// Artifacts are left in place on any failure before cleanup so a retry can
// resume from whatever survived.
func (s *Stage) Execute(ctx context.Context, job *queue.Job) (queue.StagePatch, error) {
	if job.VideoPath == "" {
		return queue.StagePatch{}, services.Wrapf(services.ErrMissingInput, stageName, "resolve video",
			"job %d carries no video path", job.ID)
	}
	videoPath := filepath.Join(s.layout.BulkRoot(), job.VideoPath)
	if _, err := os.Stat(videoPath); err != nil {
		return queue.StagePatch{}, services.Wrapf(services.ErrMissingInput, stageName, "resolve video",
			"video file %s is gone; re-run the download stage", job.VideoPath)
	}

	audioPath, audioSize, err := s.ensureAudio(ctx, job, videoPath)
	if err != nil {
		return queue.StagePatch{}, err
	}
	_ = s.store.UpdateProgress(ctx, job.ID, 0.4)

	transcriptPath, transcriptSize, err := s.ensureTranscript(ctx, job, audioPath)
	if err != nil {
		return queue.StagePatch{}, err
	}
	_ = s.store.UpdateProgress(ctx, job.ID, 0.9)

	s.cleanup(ctx, job, videoPath, audioPath)

	rel, err := filepath.Rel(s.layout.WorkRoot(), transcriptPath)
	if err != nil {
		return queue.StagePatch{}, services.Wrap(services.ErrTranscription, stageName, "relativize transcript path", err)
	}
	s.logger.Info("transcription complete",
		logging.Int64("job_id", job.ID),
		logging.String("transcript_path", rel),
		logging.Int64("audio_size_bytes", audioSize),
		logging.Int64("transcript_size_bytes", transcriptSize),
	)
	return queue.StagePatch{
		TranscriptPath:      rel,
		AudioSizeBytes:      &audioSize,
		TranscriptSizeBytes: &transcriptSize,
	}, nil
}

func (s *Stage) ensureAudio(ctx context.Context, job *queue.Job, videoPath string) (string, int64, error) {
	audioPath := s.layout.AudioFile(job.MALID, job.Episode)
	if err := os.MkdirAll(filepath.Dir(audioPath), 0o755); err != nil {
		return "", 0, services.Wrap(ioMarker(err, services.ErrExtraction), stageName, "create audio directory", err)
	}

	if size, err := fileutil.FileSize(audioPath); err == nil && size > 0 {
		s.logger.Info("audio already extracted, skipping",
			logging.Int64("job_id", job.ID),
			logging.String("path", audioPath),
		)
		return audioPath, size, nil
	}

	if _, err := extractAudio(ctx, s.runner, s.ffmpegBinary, videoPath, audioPath, s.extractTimeout); err != nil {
		if errors.Is(err, services.ErrTimeout) {
			return "", 0, services.Wrap(services.ErrTimeout, stageName, "extract audio", err)
		}
		return "", 0, services.Wrap(services.ErrExtraction, stageName, "extract audio", err)
	}
	size, err := fileutil.FileSize(audioPath)
	if err != nil {
		return "", 0, services.Wrapf(services.ErrExtraction, stageName, "extract audio",
			"tool exited cleanly but %s is missing", audioPath)
	}
	return audioPath, size, nil
}

func (s *Stage) ensureTranscript(ctx context.Context, job *queue.Job, audioPath string) (string, int64, error) {
	transcriptPath := s.layout.TranscriptFile(job.MALID, job.Episode)
	if err := os.MkdirAll(filepath.Dir(transcriptPath), 0o755); err != nil {
		return "", 0, services.Wrap(ioMarker(err, services.ErrTranscription), stageName, "create transcript directory", err)
	}

	if size, err := fileutil.FileSize(transcriptPath); err == nil && size > 0 {
		s.logger.Info("transcript already exists, skipping",
			logging.Int64("job_id", job.ID),
			logging.String("path", transcriptPath),
		)
		return transcriptPath, size, nil
	}

	if _, err := runWhisper(ctx, s.runner, s.whisperBinary, audioPath, filepath.Dir(transcriptPath), s.model, s.language, s.transcribeTimeout); err != nil {
		if errors.Is(err, services.ErrTimeout) {
			return "", 0, services.Wrap(services.ErrTimeout, stageName, "speech to text", err)
		}
		return "", 0, services.Wrap(services.ErrTranscription, stageName, "speech to text", err)
	}
	if _, err := os.Stat(transcriptPath); err != nil {
		return "", 0, services.Wrapf(services.ErrTranscription, stageName, "speech to text",
			"tool exited cleanly but %s is missing", transcriptPath)
	}

	if removed, err := cleanTranscript(transcriptPath); err != nil {
		s.logger.Warn("transcript scrub failed", logging.Int64("job_id", job.ID), logging.Error(err))
	} else if removed > 0 {
		s.logger.Info("scrubbed transcript",
			logging.Int64("job_id", job.ID),
			logging.Int("lines_removed", removed),
		)
	}

	size, err := fileutil.FileSize(transcriptPath)
	if err != nil {
		return "", 0, services.Wrap(services.ErrTranscription, stageName, "measure transcript", err)
	}
	return transcriptPath, size, nil
}

// cleanup deletes the audio and video artifacts, flagging each deletion in
// the queue and invalidating the disk cache. Failures are logged, never
// returned: the transcript exists, and the unset flag tells operators which
// file survived.
func (s *Stage) cleanup(ctx context.Context, job *queue.Job, videoPath, audioPath string) {
	freed := int64(0)

	if size, err := fileutil.FileSize(audioPath); err == nil {
		if err := os.Remove(audioPath); err != nil {
			s.logger.Warn("audio deletion failed",
				logging.Int64("job_id", job.ID),
				logging.String("path", audioPath),
				logging.Error(services.Wrap(services.ErrCleanup, stageName, "delete audio", err)),
			)
		} else {
			freed += size
			if err := s.store.MarkFileDeleted(ctx, job.ID, queue.FileAudio); err != nil {
				s.logger.Warn("failed to flag audio deletion", logging.Int64("job_id", job.ID), logging.Error(err))
			}
		}
	}

	if size, err := fileutil.FileSize(videoPath); err == nil {
		if err := os.Remove(videoPath); err != nil {
			s.logger.Warn("video deletion failed",
				logging.Int64("job_id", job.ID),
				logging.String("path", videoPath),
				logging.Error(services.Wrap(services.ErrCleanup, stageName, "delete video", err)),
			)
		} else {
			freed += size
			if err := s.store.MarkFileDeleted(ctx, job.ID, queue.FileVideo); err != nil {
				s.logger.Warn("failed to flag video deletion", logging.Int64("job_id", job.ID), logging.Error(err))
			}
		}
	}

	if freed > 0 {
		s.invalidate()
		s.logger.Info("freed disk space",
			logging.Int64("job_id", job.ID),
			logging.Int64("freed_bytes", freed),
		)
	}
}

func ioMarker(err, fallback error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return services.ErrDiskFull
	}
	return fallback
}
