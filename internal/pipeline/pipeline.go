package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"hanasu/internal/config"
	"hanasu/internal/diskspace"
	"hanasu/internal/logging"
	"hanasu/internal/paths"
	"hanasu/internal/queue"
)

// Pipeline coordinates the download and transcription pools over one queue.
type Pipeline struct {
	cfg     *config.Config
	store   *queue.Store
	monitor *diskspace.Monitor
	logger  *slog.Logger
	runners []*StageRunner

	mu         sync.Mutex
	running    bool
	claimStop  context.CancelFunc
	execStop   context.CancelFunc
	graceTimer *time.Timer
	wg         sync.WaitGroup
}

// New wires the two stage runners from configuration.
func New(cfg *config.Config, store *queue.Store, monitor *diskspace.Monitor, logger *slog.Logger, downloadAdapter, transcribeAdapter Adapter) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	workers := cfg.Workers

	downloadRunner := NewStageRunner(RunnerOptions{
		Name:               "download",
		From:               queue.StageQueued,
		Transient:          queue.StageDownloading,
		Done:               queue.StageDownloaded,
		Concurrency:        workers.DownloadConcurrency,
		PollInterval:       time.Duration(workers.PollIntervalSeconds) * time.Second,
		ErrorRetryInterval: time.Duration(workers.ErrorRetrySeconds) * time.Second,
		PauseCheckInterval: time.Duration(cfg.Disk.CheckIntervalSeconds) * time.Second,
		HeartbeatInterval:  time.Duration(workers.HeartbeatSeconds) * time.Second,
		Monitor:            monitor,
	}, store, downloadAdapter, logger)

	transcribeRunner := NewStageRunner(RunnerOptions{
		Name:               "transcribe",
		From:               queue.StageDownloaded,
		Transient:          queue.StageTranscribing,
		Done:               queue.StageTranscribed,
		Concurrency:        workers.TranscribeConcurrency,
		PollInterval:       time.Duration(workers.PollIntervalSeconds) * time.Second,
		ErrorRetryInterval: time.Duration(workers.ErrorRetrySeconds) * time.Second,
		HeartbeatInterval:  time.Duration(workers.HeartbeatSeconds) * time.Second,
	}, store, transcribeAdapter, logger)

	return &Pipeline{
		cfg:     cfg,
		store:   store,
		monitor: monitor,
		logger:  logger.With(logging.String("component", "pipeline")),
		runners: []*StageRunner{downloadRunner, transcribeRunner},
	}
}

// Start reaps orphaned claims from a prior crash, then launches both pools.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("pipeline already running")
	}

	layout := paths.NewLayout(p.cfg.Paths.BulkRoot, p.cfg.Paths.WorkRoot)
	if err := layout.EnsureBaseDirs(); err != nil {
		return err
	}

	staleAfter := time.Duration(p.cfg.Workers.ReapStaleAfterSeconds) * time.Second
	reaped, err := p.store.ReapOrphans(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		return err
	}
	if reaped > 0 {
		p.logger.Info("reaped orphaned jobs from previous run", logging.Int64("count", reaped))
	}

	claimCtx, claimStop := context.WithCancel(ctx)
	execCtx, execStop := context.WithCancel(context.WithoutCancel(ctx))
	p.claimStop = claimStop
	p.execStop = execStop
	p.running = true

	for _, runner := range p.runners {
		runner := runner
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			runner.Run(claimCtx, execCtx)
		}()
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reapLoop(claimCtx)
	}()

	p.logger.Info("pipeline started",
		logging.Int("download_workers", p.cfg.Workers.DownloadConcurrency),
		logging.Int("transcribe_workers", p.cfg.Workers.TranscribeConcurrency),
	)
	return nil
}

// Stop ends claiming immediately and gives in-flight work the configured
// grace period before its context is cancelled. Blocks until every worker
// has exited.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	claimStop := p.claimStop
	execStop := p.execStop
	grace := time.Duration(p.cfg.Workers.ShutdownGraceSeconds) * time.Second
	p.running = false
	p.claimStop = nil
	p.execStop = nil
	p.mu.Unlock()

	claimStop()
	timer := time.AfterFunc(grace, execStop)
	p.wg.Wait()
	timer.Stop()
	execStop()
	p.logger.Info("pipeline stopped")
}

// reapLoop periodically reclaims jobs whose workers stopped heartbeating,
// covering workers that die without a full process crash.
func (p *Pipeline) reapLoop(ctx context.Context) {
	staleAfter := time.Duration(p.cfg.Workers.ReapStaleAfterSeconds) * time.Second
	interval := staleAfter
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := p.store.ReapOrphans(ctx, time.Now().Add(-staleAfter))
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					p.logger.Warn("orphan reap failed", logging.Error(err))
				}
				continue
			}
			if reaped > 0 {
				p.logger.Info("reaped stale jobs", logging.Int64("count", reaped))
			}
		}
	}
}
