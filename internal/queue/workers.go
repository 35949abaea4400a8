package queue

import (
	"context"
	"fmt"
)

// RegisterWorker records a logical worker's identity and type. Re-registering
// an id refreshes its heartbeat.
func (s *Store) RegisterWorker(ctx context.Context, id, workerType string) error {
	timestamp := nowStamp()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO workers (id, worker_type, started_at, last_heartbeat)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
            worker_type = excluded.worker_type,
            last_heartbeat = excluded.last_heartbeat`,
		id, workerType, timestamp, timestamp,
	)
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	return nil
}

// TouchWorker refreshes a worker's registry heartbeat.
func (s *Store) TouchWorker(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE workers SET last_heartbeat = ? WHERE id = ?`,
		nowStamp(), id,
	)
	if err != nil {
		return fmt.Errorf("touch worker: %w", err)
	}
	return nil
}

// Workers lists the registered workers ordered by registration time.
func (s *Store) Workers(ctx context.Context) ([]*Worker, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, worker_type, started_at, last_heartbeat FROM workers ORDER BY started_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []*Worker
	for rows.Next() {
		var (
			worker     Worker
			startedRaw string
			beatRaw    string
		)
		if err := rows.Scan(&worker.ID, &worker.WorkerType, &startedRaw, &beatRaw); err != nil {
			return nil, err
		}
		if t, err := parseTimeString(startedRaw); err == nil {
			worker.StartedAt = t
		}
		if t, err := parseTimeString(beatRaw); err == nil {
			worker.LastHeartbeat = t
		}
		workers = append(workers, &worker)
	}
	return workers, rows.Err()
}
