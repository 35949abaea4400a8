package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hanasu/internal/config"
	"hanasu/internal/diskspace"
	"hanasu/internal/pipeline"
	"hanasu/internal/queue"
	"hanasu/internal/services"
	"hanasu/internal/testsupport"
)

// adapterFunc adapts a function to the pipeline.Adapter interface.
type adapterFunc func(ctx context.Context, job *queue.Job) (queue.StagePatch, error)

func (f adapterFunc) Execute(ctx context.Context, job *queue.Job) (queue.StagePatch, error) {
	return f(ctx, job)
}

func fastConfig(t *testing.T) *config.Config {
	cfg := testsupport.NewConfig(t)
	cfg.Workers.PollIntervalSeconds = 0
	cfg.Workers.ErrorRetrySeconds = 0
	cfg.Workers.HeartbeatSeconds = 1
	cfg.Workers.ShutdownGraceSeconds = 1
	cfg.Disk.CheckIntervalSeconds = 0
	cfg.Disk.CacheDurationSeconds = 0
	return cfg
}

func seedPipelineJob(t *testing.T, store *queue.Store, malID int64, episode int) int64 {
	t.Helper()
	ctx := context.Background()
	animeID, err := store.UpsertAnime(ctx, &queue.Anime{MALID: malID, Title: "Test Anime"})
	if err != nil {
		t.Fatalf("UpsertAnime: %v", err)
	}
	jobID, err := store.Enqueue(ctx, queue.NewJob{
		AnimeID: animeID, MALID: malID, AnimeTitle: "Test Anime",
		Episode: episode, MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return jobID
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func runRunner(t *testing.T, runner *pipeline.StageRunner) context.CancelFunc {
	t.Helper()
	claimCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Run(claimCtx, context.Background())
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return cancel
}

func downloadOptions(cfg *config.Config, monitor *diskspace.Monitor) pipeline.RunnerOptions {
	return pipeline.RunnerOptions{
		Name:               "download",
		From:               queue.StageQueued,
		Transient:          queue.StageDownloading,
		Done:               queue.StageDownloaded,
		Concurrency:        1,
		PollInterval:       5 * time.Millisecond,
		ErrorRetryInterval: 5 * time.Millisecond,
		PauseCheckInterval: 5 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
		Monitor:            monitor,
	}
}

func TestRunnerCommitsSuccessfulJob(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	jobID := seedPipelineJob(t, store, 1, 1)

	size := int64(777)
	adapter := adapterFunc(func(ctx context.Context, job *queue.Job) (queue.StagePatch, error) {
		return queue.StagePatch{VideoPath: "1/episodes/ep001.mp4", VideoSizeBytes: &size}, nil
	})
	runner := pipeline.NewStageRunner(downloadOptions(cfg, nil), store, adapter, nil)
	runRunner(t, runner)

	waitFor(t, 2*time.Second, func() bool {
		job, err := store.JobByID(context.Background(), jobID)
		return err == nil && job.Stage == queue.StageDownloaded
	})

	job, _ := store.JobByID(context.Background(), jobID)
	if job.VideoSizeBytes == nil || *job.VideoSizeBytes != 777 {
		t.Fatalf("expected patch applied, got %v", job.VideoSizeBytes)
	}
	if job.Progress != 1.0 {
		t.Fatalf("expected progress 1.0, got %f", job.Progress)
	}
}

func TestRunnerRetriesThenFails(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	animeID, _ := store.UpsertAnime(ctx, &queue.Anime{MALID: 2, Title: "Flaky"})
	jobID, err := store.Enqueue(ctx, queue.NewJob{
		AnimeID: animeID, MALID: 2, AnimeTitle: "Flaky", Episode: 1, MaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var mu sync.Mutex
	attempts := 0
	adapter := adapterFunc(func(ctx context.Context, job *queue.Job) (queue.StagePatch, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return queue.StagePatch{}, services.Wrap(services.ErrDownloader, "download", "tool", errors.New("exit status 1"))
	})
	runner := pipeline.NewStageRunner(downloadOptions(cfg, nil), store, adapter, nil)
	runRunner(t, runner)

	waitFor(t, 2*time.Second, func() bool {
		job, err := store.JobByID(context.Background(), jobID)
		return err == nil && job.Stage == queue.StageFailed
	})

	job, _ := store.JobByID(context.Background(), jobID)
	if job.RetryCount != 2 {
		t.Fatalf("expected retry_count 2 at failure, got %d", job.RetryCount)
	}
	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 2 {
		t.Fatalf("expected exactly max_retries attempts, got %d", got)
	}
	if !strings.HasPrefix(job.ErrorMessage, "DownloaderError") {
		t.Fatalf("expected kind-labelled error message, got %q", job.ErrorMessage)
	}
}

func TestRunnerTerminalFailureSkipsRetry(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	jobID := seedPipelineJob(t, store, 1564, 1)

	var mu sync.Mutex
	attempts := 0
	adapter := adapterFunc(func(ctx context.Context, job *queue.Job) (queue.StagePatch, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return queue.StagePatch{}, services.Wrapf(services.ErrUnselectable, "download", "selection", "no candidates")
	})
	runner := pipeline.NewStageRunner(downloadOptions(cfg, nil), store, adapter, nil)
	runRunner(t, runner)

	waitFor(t, 2*time.Second, func() bool {
		job, err := store.JobByID(context.Background(), jobID)
		return err == nil && job.Stage == queue.StageFailed
	})

	job, _ := store.JobByID(context.Background(), jobID)
	if job.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", job.RetryCount)
	}
	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestRunnerPausesOnDiskPressure(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	jobID := seedPipelineJob(t, store, 1, 1)

	// Usage includes the queue database and its WAL under the work root, so
	// the thresholds sit above that baseline: hard +4 MiB, pause +2 MiB,
	// resume +1 MiB. The 3 MiB sentinel puts usage above pause.
	baseline, err := diskspace.NewMonitor(cfg).Usage()
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	const mib = 1 << 20
	base := baseline.TotalBytes
	monitor := diskspace.NewMonitorWithThresholds(cfg, base+4*mib, base+2*mib, base+mib)
	sentinel := filepath.Join(cfg.Paths.BulkRoot, "sentinel.bin")
	if err := os.WriteFile(sentinel, make([]byte, 3*mib), 0o644); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	var mu sync.Mutex
	executions := 0
	adapter := adapterFunc(func(ctx context.Context, job *queue.Job) (queue.StagePatch, error) {
		mu.Lock()
		executions++
		mu.Unlock()
		return queue.StagePatch{}, nil
	})
	runner := pipeline.NewStageRunner(downloadOptions(cfg, monitor), store, adapter, nil)
	runRunner(t, runner)

	// Above the pause threshold nothing may leave queued.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	ran := executions
	mu.Unlock()
	if ran != 0 {
		t.Fatalf("expected no executions while paused, got %d", ran)
	}
	job, _ := store.JobByID(context.Background(), jobID)
	if job.Stage != queue.StageQueued {
		t.Fatalf("expected job still queued under pressure, got %s", job.Stage)
	}

	// Freeing space below the resume threshold unblocks the worker.
	if err := os.Remove(sentinel); err != nil {
		t.Fatalf("remove sentinel: %v", err)
	}
	monitor.Invalidate()

	waitFor(t, 2*time.Second, func() bool {
		job, err := store.JobByID(context.Background(), jobID)
		return err == nil && job.Stage == queue.StageDownloaded
	})
}
