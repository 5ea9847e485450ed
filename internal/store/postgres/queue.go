package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"advsandbox/internal/store"

	"github.com/lib/pq"
)

// Enqueue adds a job to the attack_queue.
func (s *Store) Enqueue(ctx context.Context, tx store.DBTransaction, jobID string, payload json.RawMessage, visibleAfter time.Time) (int64, error) {
	if visibleAfter.IsZero() {
		visibleAfter = time.Now()
	}

	var id int64
	err := s.getExecutor(tx).QueryRowContext(ctx, `
		INSERT INTO attack_queue (job_id, payload, visible_after)
		VALUES ($1, $2, $3)
		RETURNING id
	`, jobID, []byte(payload), visibleAfter).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return id, nil
}

// DequeueBatch claims up to 'limit' visible jobs atomically using SELECT ... FOR UPDATE SKIP LOCKED,
// leases them and moves their jobs to in_progress in the same transaction.
// Returns nil slice if no jobs are available.
func (s *Store) DequeueBatch(ctx context.Context, limit int, lease time.Duration) ([]store.QueueItem, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, job_id, payload
		FROM attack_queue
		WHERE visible_after <= NOW()
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("batch dequeue query failed: %w", err)
	}

	var (
		items    []store.QueueItem
		queueIDs []int64
		jobIDs   []string
	)
	for rows.Next() {
		var (
			queueID int64
			item    store.QueueItem
		)
		if err := rows.Scan(&queueID, &item.JobID, &item.Payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("batch dequeue scan failed: %w", err)
		}
		items = append(items, item)
		queueIDs = append(queueIDs, queueID)
		jobIDs = append(jobIDs, item.JobID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch dequeue rows error: %w", err)
	}

	if len(items) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE attack_queue
		SET visible_after = NOW() + ($1 * INTERVAL '1 second')
		WHERE id = ANY($2)
	`, lease.Seconds(), pq.Array(queueIDs))
	if err != nil {
		return nil, fmt.Errorf("batch visibility update failed: %w", err)
	}

	// Terminal jobs still in the queue are handed out unchanged so the
	// consumer can acknowledge them.
	claimed, err := tx.QueryContext(ctx, `
		UPDATE attack_jobs
		SET status = $1, stage = 'claimed', attempt = attempt + 1,
		    started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		WHERE id = ANY($2) AND status = ANY($3)
		RETURNING id, attempt
	`, store.JobStatusInProgress, pq.Array(jobIDs), pq.Array(statusStrings(store.SourcesOf(store.JobStatusInProgress))))
	if err != nil {
		return nil, fmt.Errorf("batch status update failed: %w", err)
	}
	attempts := make(map[string]int, len(items))
	for claimed.Next() {
		var (
			id      string
			attempt int
		)
		if err := claimed.Scan(&id, &attempt); err != nil {
			claimed.Close()
			return nil, fmt.Errorf("batch status scan failed: %w", err)
		}
		attempts[id] = attempt
	}
	claimed.Close()
	if err := claimed.Err(); err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Attempt = attempts[items[i].JobID]
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

// Ack removes a job from the queue.
func (s *Store) Ack(ctx context.Context, tx store.DBTransaction, jobID string) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, "DELETE FROM attack_queue WHERE job_id = $1", jobID)
	return err
}

// SetVisibleAfter extends the lease (heartbeat).
func (s *Store) SetVisibleAfter(ctx context.Context, tx store.DBTransaction, jobID string, visibleAfter time.Time) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE attack_queue
		SET visible_after = $1
		WHERE job_id = $2
	`, visibleAfter, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Count returns the queue depth.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attack_queue").Scan(&n)
	return n, err
}
