package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"hanasu/internal/queue"
	"hanasu/internal/testsupport"
)

func seedAnime(t *testing.T, store *queue.Store, malID int64, title string) int64 {
	t.Helper()
	id, err := store.UpsertAnime(context.Background(), &queue.Anime{MALID: malID, Title: title})
	if err != nil {
		t.Fatalf("UpsertAnime: %v", err)
	}
	return id
}

func seedJob(t *testing.T, store *queue.Store, animeID, malID int64, episode, priority int) int64 {
	t.Helper()
	jobID, err := store.Enqueue(context.Background(), queue.NewJob{
		AnimeID:    animeID,
		MALID:      malID,
		AnimeTitle: "Test Anime",
		Episode:    episode,
		Priority:   priority,
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return jobID
}

func TestUpsertAnimeIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := store.UpsertAnime(ctx, &queue.Anime{MALID: 5114, Title: "Fullmetal Alchemist: Brotherhood"})
	if err != nil {
		t.Fatalf("UpsertAnime: %v", err)
	}
	second, err := store.UpsertAnime(ctx, &queue.Anime{
		MALID:        5114,
		Title:        "Fullmetal Alchemist: Brotherhood",
		TitleEnglish: "Fullmetal Alchemist: Brotherhood",
		Genres:       []string{"Action", "Adventure"},
		Score:        9.1,
		Rank:         1,
	})
	if err != nil {
		t.Fatalf("UpsertAnime second: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable id, got %d then %d", first, second)
	}

	anime, err := store.AnimeByMAL(ctx, 5114)
	if err != nil {
		t.Fatalf("AnimeByMAL: %v", err)
	}
	if anime == nil || anime.TitleEnglish == "" || anime.Score != 9.1 {
		t.Fatalf("expected merged metadata, got %+v", anime)
	}
	if len(anime.Genres) != 2 {
		t.Fatalf("expected genres persisted, got %v", anime.Genres)
	}
}

func TestEnqueueIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	animeID := seedAnime(t, store, 5114, "FMA:B")

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, seedJob(t, store, animeID, 5114, 1, 0))
	}
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected one job id, got %v", ids)
		}
	}

	jobs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one row, got %d", len(jobs))
	}
}

func TestClaimNextEmpty(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job, err := store.ClaimNext(context.Background(), queue.StageQueued, queue.StageDownloading, "w1")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job != nil {
		t.Fatalf("expected no claimable job, got %+v", job)
	}
}

func TestClaimNextOrdering(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	animeID := seedAnime(t, store, 1, "A")
	low := seedJob(t, store, animeID, 1, 1, 0)
	high := seedJob(t, store, animeID, 1, 2, 5)

	first, err := store.ClaimNext(ctx, queue.StageQueued, queue.StageDownloading, "w1")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if first == nil || first.ID != high {
		t.Fatalf("expected high-priority job %d first, got %+v", high, first)
	}
	if first.Stage != queue.StageDownloading {
		t.Fatalf("expected transient stage stamped, got %s", first.Stage)
	}
	if first.StartedAt == nil {
		t.Fatal("expected started_at stamped at claim")
	}
	if first.WorkerID != "w1" {
		t.Fatalf("expected claiming worker recorded, got %q", first.WorkerID)
	}

	second, err := store.ClaimNext(ctx, queue.StageQueued, queue.StageDownloading, "w2")
	if err != nil {
		t.Fatalf("ClaimNext second: %v", err)
	}
	if second == nil || second.ID != low {
		t.Fatalf("expected remaining job %d, got %+v", low, second)
	}
}

func TestClaimNextConcurrentDistinct(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	animeID := seedAnime(t, store, 1, "A")
	const jobs = 8
	for episode := 1; episode <= jobs; episode++ {
		seedJob(t, store, animeID, 1, episode, 0)
	}

	var (
		mu      sync.Mutex
		claimed = map[int64]struct{}{}
		wg      sync.WaitGroup
	)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			job, err := store.ClaimNext(ctx, queue.StageQueued, queue.StageDownloading, fmt.Sprintf("w%d", worker))
			if err != nil {
				t.Errorf("ClaimNext: %v", err)
				return
			}
			if job == nil {
				t.Error("expected a job for every worker")
				return
			}
			mu.Lock()
			claimed[job.ID] = struct{}{}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Fatalf("expected %d distinct claims, got %d", jobs, len(claimed))
	}
	remaining, err := store.JobsByStage(ctx, queue.StageQueued)
	if err != nil {
		t.Fatalf("JobsByStage: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected queue drained, %d remain", len(remaining))
	}
}

func TestCommitStageGuard(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	animeID := seedAnime(t, store, 1, "A")
	seedJob(t, store, animeID, 1, 1, 0)
	job, err := store.ClaimNext(ctx, queue.StageQueued, queue.StageDownloading, "w1")
	if err != nil || job == nil {
		t.Fatalf("ClaimNext: %v %v", job, err)
	}

	size := int64(1_500_000)
	patch := queue.StagePatch{VideoPath: "1/episodes/ep001.mp4", VideoSizeBytes: &size}
	if err := store.CommitStage(ctx, job.ID, queue.StageDownloading, queue.StageDownloaded, patch); err != nil {
		t.Fatalf("CommitStage: %v", err)
	}

	// A second commit must fail: the job left the transient stage.
	err = store.CommitStage(ctx, job.ID, queue.StageDownloading, queue.StageDownloaded, patch)
	if err == nil {
		t.Fatal("expected stage conflict on double commit")
	}

	committed, err := store.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if committed.Stage != queue.StageDownloaded {
		t.Fatalf("expected downloaded, got %s", committed.Stage)
	}
	if committed.VideoSizeBytes == nil || *committed.VideoSizeBytes != size {
		t.Fatalf("expected video size recorded, got %v", committed.VideoSizeBytes)
	}
	if committed.WorkerID != "" || committed.LastHeartbeat != nil {
		t.Fatal("expected claim bookkeeping cleared on commit")
	}
}

func TestSizeFieldsAreWriteOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	animeID := seedAnime(t, store, 1, "A")
	seedJob(t, store, animeID, 1, 1, 0)

	job, _ := store.ClaimNext(ctx, queue.StageQueued, queue.StageDownloading, "w1")
	first := int64(100)
	if err := store.CommitStage(ctx, job.ID, queue.StageDownloading, queue.StageDownloaded, queue.StagePatch{VideoSizeBytes: &first}); err != nil {
		t.Fatalf("CommitStage: %v", err)
	}

	// Retry path: revert and re-commit with a different measurement.
	job, _ = store.ClaimNext(ctx, queue.StageDownloaded, queue.StageTranscribing, "w2")
	if err := store.Revert(ctx, job.ID, queue.StageTranscribing, "boom"); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	job, _ = store.ClaimNext(ctx, queue.StageDownloaded, queue.StageTranscribing, "w2")
	second := int64(999)
	if err := store.CommitStage(ctx, job.ID, queue.StageTranscribing, queue.StageTranscribed, queue.StagePatch{VideoSizeBytes: &second}); err != nil {
		t.Fatalf("CommitStage: %v", err)
	}

	final, err := store.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if final.VideoSizeBytes == nil || *final.VideoSizeBytes != first {
		t.Fatalf("expected first size preserved, got %v", final.VideoSizeBytes)
	}
}

func TestRevertIncrementsRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	animeID := seedAnime(t, store, 1, "A")
	seedJob(t, store, animeID, 1, 1, 0)
	job, _ := store.ClaimNext(ctx, queue.StageQueued, queue.StageDownloading, "w1")

	if err := store.Revert(ctx, job.ID, queue.StageDownloading, "tool exploded"); err != nil {
		t.Fatalf("Revert: %v", err)
	}

	reverted, _ := store.JobByID(ctx, job.ID)
	if reverted.Stage != queue.StageQueued {
		t.Fatalf("expected queued, got %s", reverted.Stage)
	}
	if reverted.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", reverted.RetryCount)
	}
	if reverted.ErrorMessage != "tool exploded" {
		t.Fatalf("expected error recorded, got %q", reverted.ErrorMessage)
	}
	if reverted.WorkerID != "" {
		t.Fatal("expected worker cleared on revert")
	}
}

func TestFailAndRetryFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	animeID := seedAnime(t, store, 1, "A")
	fresh := seedJob(t, store, animeID, 1, 1, 0)
	downloaded := seedJob(t, store, animeID, 1, 2, 0)
	exhausted := seedJob(t, store, animeID, 1, 3, 0)

	if err := store.FailJob(ctx, fresh, "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	// The second job failed after its download survived.
	job, _ := store.ClaimNext(ctx, queue.StageQueued, queue.StageDownloading, "w1")
	size := int64(10)
	if err := store.CommitStage(ctx, job.ID, queue.StageDownloading, queue.StageDownloaded, queue.StagePatch{VideoSizeBytes: &size}); err != nil {
		t.Fatalf("CommitStage: %v", err)
	}
	if err := store.FailJob(ctx, downloaded, "whisper broke"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	// Exhaust the third job's budget.
	for i := 0; i < 3; i++ {
		if err := store.FailJob(ctx, exhausted, "repeatedly"); err != nil {
			t.Fatalf("FailJob: %v", err)
		}
	}

	count, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 jobs retried, got %d", count)
	}

	a, _ := store.JobByID(ctx, fresh)
	if a.Stage != queue.StageQueued || a.ErrorMessage != "" {
		t.Fatalf("expected fresh job requeued clean, got %s %q", a.Stage, a.ErrorMessage)
	}
	b, _ := store.JobByID(ctx, downloaded)
	if b.Stage != queue.StageDownloaded {
		t.Fatalf("expected downloaded job to resume at downloaded, got %s", b.Stage)
	}
	c, _ := store.JobByID(ctx, exhausted)
	if c.Stage != queue.StageFailed {
		t.Fatalf("expected exhausted job to remain failed, got %s", c.Stage)
	}

	// Idempotent once the only failed job has no budget left.
	again, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed again: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected idempotent retry, got %d", again)
	}
}

func TestMarkFileDeletedPreservesSizes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	animeID := seedAnime(t, store, 1, "A")
	seedJob(t, store, animeID, 1, 1, 0)
	job, _ := store.ClaimNext(ctx, queue.StageQueued, queue.StageDownloading, "w1")
	size := int64(123456)
	if err := store.CommitStage(ctx, job.ID, queue.StageDownloading, queue.StageDownloaded, queue.StagePatch{VideoSizeBytes: &size}); err != nil {
		t.Fatalf("CommitStage: %v", err)
	}

	if err := store.MarkFileDeleted(ctx, job.ID, queue.FileVideo); err != nil {
		t.Fatalf("MarkFileDeleted: %v", err)
	}

	updated, _ := store.JobByID(ctx, job.ID)
	if !updated.VideoDeleted {
		t.Fatal("expected video_deleted set")
	}
	if updated.VideoSizeBytes == nil || *updated.VideoSizeBytes != size {
		t.Fatalf("expected size preserved after deletion, got %v", updated.VideoSizeBytes)
	}
}

func TestReapOrphans(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	animeID := seedAnime(t, store, 1, "A")
	seedJob(t, store, animeID, 1, 1, 0)
	seedJob(t, store, animeID, 1, 2, 0)

	stranded, _ := store.ClaimNext(ctx, queue.StageQueued, queue.StageDownloading, "w1")
	live, _ := store.ClaimNext(ctx, queue.StageQueued, queue.StageDownloading, "w2")

	// The live worker heartbeats after the cutoff; the stranded one never
	// does again.
	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	if err := store.UpdateHeartbeat(ctx, live.ID); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	count, err := store.ReapOrphans(ctx, cutoff)
	if err != nil {
		t.Fatalf("ReapOrphans: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 orphan reaped, got %d", count)
	}

	reaped, _ := store.JobByID(ctx, stranded.ID)
	if reaped.Stage != queue.StageQueued {
		t.Fatalf("expected orphan reverted to queued, got %s", reaped.Stage)
	}
	if reaped.RetryCount != 1 {
		t.Fatalf("expected retry_count 1 after reap, got %d", reaped.RetryCount)
	}
	untouched, _ := store.JobByID(ctx, live.ID)
	if untouched.Stage != queue.StageDownloading {
		t.Fatalf("expected live claim untouched, got %s", untouched.Stage)
	}
}

func TestReapOrphansTranscribing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	animeID := seedAnime(t, store, 1, "A")
	seedJob(t, store, animeID, 1, 1, 0)
	job, _ := store.ClaimNext(ctx, queue.StageQueued, queue.StageDownloading, "w1")
	if err := store.CommitStage(ctx, job.ID, queue.StageDownloading, queue.StageDownloaded, queue.StagePatch{}); err != nil {
		t.Fatalf("CommitStage: %v", err)
	}
	if _, err := store.ClaimNext(ctx, queue.StageDownloaded, queue.StageTranscribing, "w1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	count, err := store.ReapOrphans(ctx, time.Now())
	if err != nil {
		t.Fatalf("ReapOrphans: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 orphan reaped, got %d", count)
	}
	reaped, _ := store.JobByID(ctx, job.ID)
	if reaped.Stage != queue.StageDownloaded {
		t.Fatalf("expected transcribing orphan reverted to downloaded, got %s", reaped.Stage)
	}
}

func TestClearFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	animeID := seedAnime(t, store, 1, "A")
	failed := seedJob(t, store, animeID, 1, 1, 0)
	kept := seedJob(t, store, animeID, 1, 2, 0)
	if err := store.FailJob(ctx, failed, "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	count, err := store.ClearFailed(ctx)
	if err != nil {
		t.Fatalf("ClearFailed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 job removed, got %d", count)
	}
	if job, _ := store.JobByID(ctx, failed); job != nil {
		t.Fatal("expected failed job removed")
	}
	if job, _ := store.JobByID(ctx, kept); job == nil {
		t.Fatal("expected queued job kept")
	}
}

func TestStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	animeID := seedAnime(t, store, 1, "A")
	seedJob(t, store, animeID, 1, 1, 0)
	seedJob(t, store, animeID, 1, 2, 0)
	job, _ := store.ClaimNext(ctx, queue.StageQueued, queue.StageDownloading, "w1")
	size := int64(2048)
	if err := store.CommitStage(ctx, job.ID, queue.StageDownloading, queue.StageDownloaded, queue.StagePatch{VideoSizeBytes: &size}); err != nil {
		t.Fatalf("CommitStage: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 jobs, got %d", stats.Total)
	}
	if stats.ByStage[queue.StageQueued] != 1 || stats.ByStage[queue.StageDownloaded] != 1 {
		t.Fatalf("unexpected stage counts: %+v", stats.ByStage)
	}
	if stats.VideoBytes != 2048 {
		t.Fatalf("expected 2048 video bytes, got %d", stats.VideoBytes)
	}
}
