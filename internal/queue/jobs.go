package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Enqueue inserts a job in stage queued. When a job for the same
// (anime, episode) already exists, the existing job id is returned rather
// than an error, which makes discovery re-runnable.
func (s *Store) Enqueue(ctx context.Context, job NewJob) (int64, error) {
	timestamp := nowStamp()
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO jobs (
            anime_id, mal_id, anime_title, episode, stage, priority,
            max_retries, depends_on, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.AnimeID,
		job.MALID,
		job.AnimeTitle,
		job.Episode,
		StageQueued,
		job.Priority,
		maxRetries,
		nullableInt64(job.DependsOn),
		timestamp,
		timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("last insert id: %w", err)
		}
		return id, nil
	}

	var existing int64
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id FROM jobs WHERE anime_id = ? AND episode = ?`,
		job.AnimeID, job.Episode,
	)
	if err := row.Scan(&existing); err != nil {
		return 0, fmt.Errorf("resolve existing job: %w", err)
	}
	return existing, nil
}

// JobByID fetches a job by identifier. Returns nil when absent.
func (s *Store) JobByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimNext atomically selects the best claimable job in from, flips it to
// the transient stage, stamps started_at and the claiming worker, and
// returns the row. Claim order is priority DESC, created_at ASC, id ASC.
// Returns nil when nothing is claimable. Concurrent callers are serialized
// through the store's single database connection, so N concurrent claims
// return N distinct jobs.
func (s *Store) ClaimNext(ctx context.Context, from, transient Stage, workerID string) (*Job, error) {
	if !IsTransient(transient) {
		return nil, fmt.Errorf("claim: %q is not a transient stage", transient)
	}
	timestamp := nowStamp()

	row := s.db.QueryRowContext(
		ctx,
		`UPDATE jobs SET
            stage = ?, started_at = ?, worker_id = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = (
             SELECT id FROM jobs
             WHERE stage = ?
             ORDER BY priority DESC, created_at ASC, id ASC
             LIMIT 1
         )
         RETURNING `+jobColumns,
		transient, timestamp, workerID, timestamp, timestamp,
		from,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

// CommitStage finalizes a claimed job: the stage moves from the expected
// transient value to done and the patch fields are applied. Size fields are
// write-once. Returns ErrStageConflict when the job is no longer held in
// the transient stage.
func (s *Store) CommitStage(ctx context.Context, jobID int64, transient, done Stage, patch StagePatch) error {
	timestamp := nowStamp()

	sets := []string{
		"stage = ?",
		"progress = 1.0",
		"error_message = NULL",
		"worker_id = NULL",
		"last_heartbeat = NULL",
		"updated_at = ?",
	}
	args := []any{done, timestamp}

	if done == StageTranscribed {
		sets = append(sets, "completed_at = ?")
		args = append(args, timestamp)
	}
	if patch.VideoPath != "" {
		sets = append(sets, "video_path = ?")
		args = append(args, patch.VideoPath)
	}
	if patch.TranscriptPath != "" {
		sets = append(sets, "transcript_path = ?")
		args = append(args, patch.TranscriptPath)
	}
	if patch.VideoSizeBytes != nil {
		sets = append(sets, "video_size_bytes = COALESCE(video_size_bytes, ?)")
		args = append(args, *patch.VideoSizeBytes)
	}
	if patch.AudioSizeBytes != nil {
		sets = append(sets, "audio_size_bytes = COALESCE(audio_size_bytes, ?)")
		args = append(args, *patch.AudioSizeBytes)
	}
	if patch.TranscriptSizeBytes != nil {
		sets = append(sets, "transcript_size_bytes = COALESCE(transcript_size_bytes, ?)")
		args = append(args, *patch.TranscriptSizeBytes)
	}
	args = append(args, jobID, transient)

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ? AND stage = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("commit stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("commit job %d to %s: %w", jobID, done, ErrStageConflict)
	}
	return nil
}

// UpdateProgress records execution progress in [0, 1] for an in-flight job.
func (s *Store) UpdateProgress(ctx context.Context, jobID int64, progress float64) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?`,
		progress, nowStamp(), jobID,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// Revert returns a claimed job to its predecessor stage for another attempt,
// incrementing retry_count and recording the failure for operator
// inspection. Guarded by the expected transient stage.
func (s *Store) Revert(ctx context.Context, jobID int64, transient Stage, errMsg string) error {
	to, ok := RollbackStage(transient)
	if !ok {
		return fmt.Errorf("revert: %q is not a transient stage", transient)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET
            stage = ?, retry_count = retry_count + 1, error_message = ?,
            progress = 0, worker_id = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND stage = ?`,
		to, nullableString(errMsg), nowStamp(), jobID, transient,
	)
	if err != nil {
		return fmt.Errorf("revert job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("revert job %d from %s: %w", jobID, transient, ErrStageConflict)
	}
	return nil
}

// FailJob marks a job failed, increments retry_count, and records the error.
func (s *Store) FailJob(ctx context.Context, jobID int64, errMsg string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET
            stage = ?, retry_count = retry_count + 1, error_message = ?,
            progress = 0, worker_id = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ?`,
		StageFailed, errMsg, nowStamp(), jobID,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// RetryFailed bulk-resets every failed job with remaining retry budget back
// to the stage it was attempting: jobs whose video survives resume at
// downloaded, everything else starts over at queued. Idempotent once all
// failed jobs have exhausted their retries.
func (s *Store) RetryFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET
            stage = CASE
                WHEN video_size_bytes IS NOT NULL AND video_deleted = 0 THEN ?
                ELSE ?
            END,
            error_message = NULL, progress = 0, updated_at = ?
         WHERE stage = ? AND retry_count < max_retries`,
		StageDownloaded, StageQueued, nowStamp(), StageFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("retry failed jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes failed jobs from the queue entirely. Used when an
// operator gives up on a batch; re-running discovery recreates the rows.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE stage = ?`, StageFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed jobs: %w", err)
	}
	return res.RowsAffected()
}

// MarkFileDeleted sets a deletion flag. Size fields are untouched so the
// preserved byte counts survive the artifact.
func (s *Store) MarkFileDeleted(ctx context.Context, jobID int64, kind FileKind) error {
	var column string
	switch kind {
	case FileVideo:
		column = "video_deleted"
	case FileAudio:
		column = "audio_deleted"
	default:
		return fmt.Errorf("unknown file kind %q", kind)
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET `+column+` = 1, updated_at = ? WHERE id = ?`,
		nowStamp(), jobID,
	)
	if err != nil {
		return fmt.Errorf("mark %s deleted: %w", kind, err)
	}
	return nil
}

// UpdateHeartbeat refreshes the claim heartbeat for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, jobID int64) error {
	timestamp := nowStamp()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		timestamp, timestamp, jobID,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReapOrphans reverts every transient-stage job whose heartbeat is older
// than cutoff to its predecessor terminal stage, incrementing retry_count.
// Returns the number of jobs reclaimed.
func (s *Store) ReapOrphans(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffStamp := cutoff.UTC().Format(time.RFC3339Nano)
	var total int64
	for transient, terminal := range stageRollbacks {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs SET
                stage = ?, retry_count = retry_count + 1, progress = 0,
                worker_id = NULL, last_heartbeat = NULL, updated_at = ?
             WHERE stage = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
			terminal, nowStamp(), transient, cutoffStamp,
		)
		if err != nil {
			return total, fmt.Errorf("reap %s jobs: %w", transient, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += affected
	}
	return total, nil
}

// JobsByStage returns jobs in a stage in claim order.
func (s *Store) JobsByStage(ctx context.Context, stage Stage) ([]*Job, error) {
	return s.List(ctx, stage)
}

// List returns jobs filtered by stage set (or all jobs when no stage is
// provided), in claim order.
func (s *Store) List(ctx context.Context, stages ...Stage) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY priority DESC, created_at ASC, id ASC`

	var (
		rows *sql.Rows
		err  error
	)
	if len(stages) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(stages))
		args := make([]any, len(stages))
		for i, stage := range stages {
			args[i] = stage
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE stage IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns job counts per stage and the preserved byte totals.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStage: make(map[Stage]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM jobs GROUP BY stage`)
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var stage Stage
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return stats, err
		}
		stats.ByStage[stage] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT
        COALESCE(SUM(video_size_bytes), 0),
        COALESCE(SUM(audio_size_bytes), 0),
        COALESCE(SUM(transcript_size_bytes), 0)
        FROM jobs`)
	if err := row.Scan(&stats.VideoBytes, &stats.AudioBytes, &stats.TranscriptBytes); err != nil {
		return stats, fmt.Errorf("size totals: %w", err)
	}
	return stats, nil
}

const jobColumns = "id, anime_id, mal_id, anime_title, episode, stage, progress, created_at, updated_at, started_at, completed_at, error_message, retry_count, max_retries, video_path, transcript_path, video_size_bytes, audio_size_bytes, transcript_size_bytes, video_deleted, audio_deleted, priority, depends_on, worker_id, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id             int64
		animeID        int64
		malID          int64
		animeTitle     string
		episode        int64
		stageStr       string
		progress       float64
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
		startedRaw     sql.NullString
		completedRaw   sql.NullString
		errorMessage   sql.NullString
		retryCount     int64
		maxRetries     int64
		videoPath      sql.NullString
		transcriptPath sql.NullString
		videoSize      sql.NullInt64
		audioSize      sql.NullInt64
		transcriptSize sql.NullInt64
		videoDeleted   int64
		audioDeleted   int64
		priority       int64
		dependsOn      sql.NullInt64
		workerID       sql.NullString
		heartbeatRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id, &animeID, &malID, &animeTitle, &episode, &stageStr, &progress,
		&createdRaw, &updatedRaw, &startedRaw, &completedRaw,
		&errorMessage, &retryCount, &maxRetries,
		&videoPath, &transcriptPath, &videoSize, &audioSize, &transcriptSize,
		&videoDeleted, &audioDeleted, &priority, &dependsOn, &workerID, &heartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		AnimeID:        animeID,
		MALID:          malID,
		AnimeTitle:     animeTitle,
		Episode:        int(episode),
		Stage:          Stage(stageStr),
		Progress:       progress,
		CreatedAt:      scanTime(createdRaw),
		UpdatedAt:      scanTime(updatedRaw),
		StartedAt:      scanTimePtr(startedRaw),
		CompletedAt:    scanTimePtr(completedRaw),
		ErrorMessage:   errorMessage.String,
		RetryCount:     int(retryCount),
		MaxRetries:     int(maxRetries),
		VideoPath:      videoPath.String,
		TranscriptPath: transcriptPath.String,
		VideoDeleted:   videoDeleted != 0,
		AudioDeleted:   audioDeleted != 0,
		Priority:       int(priority),
		WorkerID:       workerID.String,
		LastHeartbeat:  scanTimePtr(heartbeatRaw),
	}
	if videoSize.Valid {
		v := videoSize.Int64
		job.VideoSizeBytes = &v
	}
	if audioSize.Valid {
		v := audioSize.Int64
		job.AudioSizeBytes = &v
	}
	if transcriptSize.Valid {
		v := transcriptSize.Int64
		job.TranscriptSizeBytes = &v
	}
	if dependsOn.Valid {
		v := dependsOn.Int64
		job.DependsOn = &v
	}
	return job, nil
}
