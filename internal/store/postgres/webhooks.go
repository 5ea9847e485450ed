package postgres

import (
	"context"
	"fmt"

	"advsandbox/internal/store"
)

// RecordWebhookAttempt appends to the delivery audit trail.
func (s *Store) RecordWebhookAttempt(ctx context.Context, a *store.WebhookDeliveryAttempt) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO webhook_attempts (job_id, url, attempt, success, status_code, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, attempted_at
	`, a.JobID, a.URL, a.Attempt, a.Success, a.StatusCode, a.Error).Scan(&a.ID, &a.AttemptedAt)
	if err != nil {
		return fmt.Errorf("failed to record webhook attempt for %s: %w", a.JobID, err)
	}
	return nil
}

func (s *Store) ListWebhookAttempts(ctx context.Context, jobID string) ([]store.WebhookDeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, url, attempt, success, status_code, error_message, attempted_at
		FROM webhook_attempts
		WHERE job_id = $1
		ORDER BY attempted_at ASC, id ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []store.WebhookDeliveryAttempt{}
	for rows.Next() {
		var a store.WebhookDeliveryAttempt
		if err := rows.Scan(&a.ID, &a.JobID, &a.URL, &a.Attempt, &a.Success, &a.StatusCode, &a.Error, &a.AttemptedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
