package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"advsandbox/internal/store"

	"github.com/lib/pq"
)

const jobColumns = `id, caller_id, model_id, attack_method_id, input, target_label, parameters, callback_url,
	status, progress, stage, attempt, cancel_requested, result, error_message, webhook_status,
	created_at, updated_at, started_at, completed_at`

var jobSortColumns = map[string]string{
	"":             "created_at",
	"created_at":   "created_at",
	"completed_at": "completed_at",
	"model_id":     "model_id",
	"status":       "status",
}

// CreateJob inserts a new job row in the queued state.
func (s *Store) CreateJob(ctx context.Context, tx store.DBTransaction, job *store.AttackJob) error {
	params, err := json.Marshal(nonNilMap(job.Parameters))
	if err != nil {
		return err
	}
	if job.Status == "" {
		job.Status = store.JobStatusQueued
	}

	err = s.getExecutor(tx).QueryRowContext(ctx, `
		INSERT INTO attack_jobs (id, caller_id, model_id, attack_method_id, input, target_label, parameters, callback_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`,
		job.ID,
		job.CallerID,
		job.ModelID,
		job.AttackMethodID,
		[]byte(job.Input),
		job.TargetLabel,
		params,
		job.CallbackURL,
		job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*store.AttackJob, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM attack_jobs WHERE id = $1", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, f store.JobFilter) ([]store.AttackJob, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CallerID != "" {
		add("caller_id = $%d", f.CallerID)
	}
	if f.ModelID != "" {
		add("model_id = $%d", f.ModelID)
	}
	if f.AttackMethodID != "" {
		add("attack_method_id = $%d", f.AttackMethodID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.AttackSuccess != nil {
		add("(result->>'AttackSuccess')::boolean = $%d", *f.AttackSuccess)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attack_jobs"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	col, ok := jobSortColumns[f.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported sort column %q", f.SortBy)
	}
	query := fmt.Sprintf("SELECT %s FROM attack_jobs%s ORDER BY %s %s NULLS LAST, id %s%s",
		jobColumns, clause, col, direction(f.SortDesc), direction(f.SortDesc), limitOffset(&args, f.Limit, f.Offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []store.AttackJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, total, rows.Err()
}

// UpdateProgress never lowers progress and only touches in-progress jobs.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress int, stage string) (bool, error) {
	progress = min(100, max(0, progress))

	var cancelRequested bool
	err := s.db.QueryRowContext(ctx, `
		UPDATE attack_jobs
		SET progress = GREATEST(progress, $2), stage = COALESCE(NULLIF($3, ''), stage), updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING cancel_requested
	`, id, progress, stage, store.JobStatusInProgress).Scan(&cancelRequested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to update progress for %s: %w", id, err)
	}
	return cancelRequested, nil
}

// RequestCancel locks the job row, then cancels or flags it.
func (s *Store) RequestCancel(ctx context.Context, id string) (store.JobStatus, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var status store.JobStatus
	err = tx.QueryRowContext(ctx, "SELECT status FROM attack_jobs WHERE id = $1 FOR UPDATE", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}

	switch status {
	case store.JobStatusQueued:
		if _, err := tx.ExecContext(ctx, `
			UPDATE attack_jobs
			SET status = $2, stage = $2, completed_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, id, store.JobStatusCancelled); err != nil {
			return "", err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM attack_queue WHERE job_id = $1", id); err != nil {
			return "", err
		}
		status = store.JobStatusCancelled
	case store.JobStatusInProgress:
		if _, err := tx.ExecContext(ctx,
			"UPDATE attack_jobs SET cancel_requested = TRUE, updated_at = NOW() WHERE id = $1", id); err != nil {
			return "", err
		}
	default:
		return status, fmt.Errorf("%w: job is already %s", store.ErrConflict, status)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return status, nil
}

// Finalize is a single conditional write: only a job in a status that may
// transition to fin.Status is updated, so a redelivered or racing worker
// cannot overwrite a terminal record.
func (s *Store) Finalize(ctx context.Context, id string, fin store.Finalization) (bool, error) {
	if !fin.Status.IsTerminal() {
		return false, fmt.Errorf("finalize requires a terminal status, got %s", fin.Status)
	}

	var result []byte
	if fin.Result != nil {
		b, err := json.Marshal(fin.Result)
		if err != nil {
			return false, err
		}
		result = b
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE attack_jobs
		SET status = $2,
		    stage = $2,
		    result = $3,
		    error_message = NULLIF($4, ''),
		    progress = CASE WHEN $2 = 'completed' THEN 100 ELSE progress END,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($5)
	`, id, fin.Status, result, fin.Error, pq.Array(statusStrings(store.SourcesOf(fin.Status))))
	if err != nil {
		return false, fmt.Errorf("failed to finalize job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM attack_jobs WHERE id = $1)", id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, store.ErrNotFound
		}
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM attack_queue WHERE job_id = $1", id); err != nil {
		return false, fmt.Errorf("failed to dequeue finalized job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) AnnotateWebhook(ctx context.Context, id string, status store.WebhookStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE attack_jobs SET webhook_status = $2, updated_at = NOW() WHERE id = $1", id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanJob(row scanner) (*store.AttackJob, error) {
	var (
		j       store.AttackJob
		input   []byte
		params  []byte
		result  []byte
		errMsg  sql.NullString
		started sql.NullTime
		done    sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.CallerID, &j.ModelID, &j.AttackMethodID, &input, &j.TargetLabel, &params, &j.CallbackURL,
		&j.Status, &j.Progress, &j.Stage, &j.Attempt, &j.CancelRequested, &result, &errMsg, &j.WebhookStatus,
		&j.CreatedAt, &j.UpdatedAt, &started, &done,
	)
	if err != nil {
		return nil, err
	}

	j.Input = json.RawMessage(input)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Parameters); err != nil {
			return nil, fmt.Errorf("corrupt parameters for job %s: %w", j.ID, err)
		}
	}
	if len(result) > 0 {
		j.Result = &store.AttackResult{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, fmt.Errorf("corrupt result for job %s: %w", j.ID, err)
		}
	}
	if errMsg.Valid {
		j.Error = &errMsg.String
	}
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if done.Valid {
		j.CompletedAt = &done.Time
	}
	return &j, nil
}

func statusStrings(statuses []store.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
