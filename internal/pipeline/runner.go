package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"hanasu/internal/diskspace"
	"hanasu/internal/logging"
	"hanasu/internal/queue"
	"hanasu/internal/services"
)

// Adapter executes one claimed job and returns the fields to commit.
type Adapter interface {
	Execute(ctx context.Context, job *queue.Job) (queue.StagePatch, error)
}

// RunnerOptions parameterize a StageRunner.
type RunnerOptions struct {
	Name        string
	From        queue.Stage
	Transient   queue.Stage
	Done        queue.Stage
	Concurrency int

	PollInterval       time.Duration
	ErrorRetryInterval time.Duration
	PauseCheckInterval time.Duration
	HeartbeatInterval  time.Duration

	// Monitor supplies the pause predicate; nil disables pausing (the
	// transcription pool).
	Monitor *diskspace.Monitor
}

// StageRunner owns one worker pool for one stage.
type StageRunner struct {
	opts    RunnerOptions
	store   *queue.Store
	adapter Adapter
	logger  *slog.Logger
}

// NewStageRunner constructs a runner.
func NewStageRunner(opts RunnerOptions, store *queue.Store, adapter Adapter, logger *slog.Logger) *StageRunner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StageRunner{
		opts:    opts,
		store:   store,
		adapter: adapter,
		logger:  logger.With(logging.String("component", opts.Name)),
	}
}

// Run starts the worker pool and blocks until claimCtx is cancelled and
// every worker has exited. execCtx outlives claimCtx by the shutdown grace
// period so in-flight jobs can finish.
func (r *StageRunner) Run(claimCtx, execCtx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.opts.Concurrency; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("%s-%d-%s", r.opts.Name, i+1, shortID())
		go func() {
			defer wg.Done()
			r.workerLoop(claimCtx, execCtx, workerID)
		}()
	}
	wg.Wait()
}

func (r *StageRunner) workerLoop(claimCtx, execCtx context.Context, workerID string) {
	logger := r.logger.With(logging.String("worker_id", workerID))

	if err := r.store.RegisterWorker(claimCtx, workerID, r.opts.Name); err != nil {
		logger.Warn("worker registration failed", logging.Error(err))
	}
	logger.Info("worker started")

	for {
		select {
		case <-claimCtx.Done():
			logger.Info("worker stopped")
			return
		default:
		}

		if r.opts.Monitor != nil {
			if paused := r.waitForSpace(claimCtx, logger); paused && claimCtx.Err() != nil {
				logger.Info("worker stopped")
				return
			}
		}

		job, err := r.store.ClaimNext(claimCtx, r.opts.From, r.opts.Transient, workerID)
		if err != nil {
			if claimCtx.Err() != nil {
				logger.Info("worker stopped")
				return
			}
			logger.Error("claim failed",
				logging.Error(err),
				logging.String("hint", "check queue database access"),
			)
			sleepCtx(claimCtx, r.opts.ErrorRetryInterval)
			continue
		}
		if job == nil {
			sleepCtx(claimCtx, r.opts.PollInterval)
			continue
		}

		r.processJob(execCtx, logger, workerID, job)
	}
}

// processJob executes one claimed job and applies commit/retry/fail
// semantics. A job interrupted by shutdown stays in its transient stage and
// is reaped at the next startup.
func (r *StageRunner) processJob(execCtx context.Context, logger *slog.Logger, workerID string, job *queue.Job) {
	jobLogger := logger.With(
		logging.Int64("job_id", job.ID),
		logging.String("anime_title", job.AnimeTitle),
		logging.Int("episode", job.Episode),
	)
	jobLogger.Info("stage started", logging.String("stage", string(r.opts.Transient)))
	stageStart := time.Now()

	patch, execErr := r.executeWithHeartbeat(execCtx, workerID, job)
	if execErr != nil {
		if execCtx.Err() != nil {
			jobLogger.Info("stage interrupted by shutdown; job left for reap")
			return
		}
		r.handleFailure(execCtx, jobLogger, job, execErr)
		return
	}

	if err := r.store.CommitStage(execCtx, job.ID, r.opts.Transient, r.opts.Done, patch); err != nil {
		jobLogger.Error("stage commit failed", logging.Error(err))
		return
	}
	if r.opts.Monitor != nil {
		// A fresh download changed the usage picture.
		r.opts.Monitor.Invalidate()
	}
	jobLogger.Info("stage completed",
		logging.String("stage", string(r.opts.Done)),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
}

func (r *StageRunner) executeWithHeartbeat(ctx context.Context, workerID string, job *queue.Job) (queue.StagePatch, error) {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go r.heartbeatLoop(hbCtx, &hbWG, workerID, job.ID)

	patch, err := r.adapter.Execute(ctx, job)
	hbCancel()
	hbWG.Wait()
	return patch, err
}

func (r *StageRunner) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, workerID string, jobID int64) {
	defer wg.Done()
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.UpdateHeartbeat(ctx, jobID); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("heartbeat update failed", logging.Int64("job_id", jobID), logging.Error(err))
			}
			if err := r.store.TouchWorker(ctx, workerID); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Debug("worker heartbeat failed", logging.String("worker_id", workerID), logging.Error(err))
			}
		}
	}
}

func (r *StageRunner) handleFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, execErr error) {
	message := fmt.Sprintf("%s: %s", services.Kind(execErr), strings.TrimSpace(execErr.Error()))

	switch {
	case services.Terminal(execErr):
		logger.Error("stage failed terminally",
			logging.String("kind", services.Kind(execErr)),
			logging.Error(execErr),
		)
		if err := r.store.FailJob(ctx, job.ID, message); err != nil {
			logger.Error("failed to persist terminal failure", logging.Error(err))
		}
	case job.RetryCount+1 >= job.MaxRetries:
		logger.Error("stage failed, retries exhausted",
			logging.String("kind", services.Kind(execErr)),
			logging.Int("retry_count", job.RetryCount+1),
			logging.Int("max_retries", job.MaxRetries),
			logging.Error(execErr),
		)
		if err := r.store.FailJob(ctx, job.ID, message); err != nil {
			logger.Error("failed to persist failure", logging.Error(err))
		}
	default:
		logger.Warn("stage failed, will retry",
			logging.String("kind", services.Kind(execErr)),
			logging.Int("retry_count", job.RetryCount+1),
			logging.Int("max_retries", job.MaxRetries),
			logging.Error(execErr),
		)
		if err := r.store.Revert(ctx, job.ID, r.opts.Transient, message); err != nil {
			logger.Error("failed to revert job for retry", logging.Error(err))
		}
	}

	if errors.Is(execErr, services.ErrDiskFull) || errors.Is(execErr, services.ErrStore) {
		// Give the transcribers a window before hammering the disk again, or
		// the store a moment to recover.
		sleepCtx(ctx, r.opts.ErrorRetryInterval)
	}
}

// waitForSpace blocks while the disk monitor demands a pause. Returns true
// when the worker actually paused. Each check logs current usage so a
// stalled pipeline is diagnosable from the logs alone.
func (r *StageRunner) waitForSpace(ctx context.Context, logger *slog.Logger) bool {
	pause, err := r.opts.Monitor.ShouldPause()
	if err != nil {
		logger.Warn("disk usage check failed", logging.Error(err))
		return false
	}
	if !pause {
		return false
	}

	if usage, err := r.opts.Monitor.Usage(); err == nil {
		logger.Info("disk threshold reached, pausing downloads",
			logging.String("used", humanize.IBytes(uint64(usage.TotalBytes))),
			logging.String("hard_limit", humanize.IBytes(uint64(r.opts.Monitor.HardLimitBytes()))),
		)
	}

	for {
		if !sleepCtx(ctx, r.opts.PauseCheckInterval) {
			return true
		}
		resume, err := r.opts.Monitor.CanResume()
		if err != nil {
			logger.Warn("disk usage check failed", logging.Error(err))
			continue
		}
		if resume {
			logger.Info("disk space freed, resuming downloads")
			return true
		}
		if usage, err := r.opts.Monitor.Usage(); err == nil {
			logger.Debug("waiting for space",
				logging.String("used", humanize.IBytes(uint64(usage.TotalBytes))),
			)
		}
	}
}

// sleepCtx sleeps for d or until ctx is done. Returns false when the
// context ended the sleep.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func shortID() string {
	return uuid.NewString()[:8]
}
