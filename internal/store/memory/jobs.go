package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"advsandbox/internal/store"
)

func cloneJob(j *store.AttackJob) store.AttackJob {
	cp := *j
	cp.Input = slices.Clone(j.Input)
	cp.Parameters = maps.Clone(j.Parameters)
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return cp
}

// CreateJob implements store.JobStore.
func (s *Store) CreateJob(ctx context.Context, exec store.DBTransaction, job *store.AttackJob) error {
	s.mu.Lock()
	_, exists := s.jobs[job.ID]
	now := s.now()
	s.mu.Unlock()
	if exists {
		return store.ErrConflict
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = store.JobStatusQueued
	}
	cp := cloneJob(job)
	s.apply(exec, func() {
		s.jobs[cp.ID] = &cp
	})
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*store.AttackJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := cloneJob(j)
	return &cp, nil
}

func (s *Store) ListJobs(ctx context.Context, f store.JobFilter) ([]store.AttackJob, int, error) {
	s.mu.Lock()
	var out []store.AttackJob
	for _, j := range s.jobs {
		if f.CallerID != "" && j.CallerID != f.CallerID {
			continue
		}
		if f.ModelID != "" && j.ModelID != f.ModelID {
			continue
		}
		if f.AttackMethodID != "" && j.AttackMethodID != f.AttackMethodID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.AttackSuccess != nil && (j.Result == nil || j.Result.AttackSuccess != *f.AttackSuccess) {
			continue
		}
		out = append(out, cloneJob(j))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		a, b := out[i], out[k]
		var c int
		switch f.SortBy {
		case "completed_at":
			c = compareTimes(a.CompletedAt, b.CompletedAt)
		case "model_id":
			c = strings.Compare(a.ModelID, b.ModelID)
		case "status":
			c = strings.Compare(string(a.Status), string(b.Status))
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if f.SortDesc {
			return c > 0
		}
		return c < 0
	})
	return page(out, f.Offset, f.Limit), len(out), nil
}

// compareTimes orders nil after every set time.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

func (s *Store) UpdateProgress(ctx context.Context, id string, progress int, stage string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != store.JobStatusInProgress {
		return false, store.ErrNotFound
	}
	j.Progress = max(j.Progress, min(100, max(0, progress)))
	if stage != "" {
		j.Stage = stage
	}
	j.UpdatedAt = s.now()
	return j.CancelRequested, nil
}

func (s *Store) RequestCancel(ctx context.Context, id string) (store.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return "", store.ErrNotFound
	}

	now := s.now()
	switch j.Status {
	case store.JobStatusQueued:
		j.Status = store.JobStatusCancelled
		j.Stage = "cancelled"
		j.CompletedAt = &now
		j.UpdatedAt = now
		delete(s.queue, id)
	case store.JobStatusInProgress:
		j.CancelRequested = true
		j.UpdatedAt = now
	default:
		return j.Status, fmt.Errorf("%w: job is already %s", store.ErrConflict, j.Status)
	}
	return j.Status, nil
}

func (s *Store) Finalize(ctx context.Context, id string, fin store.Finalization) (bool, error) {
	if !fin.Status.IsTerminal() {
		return false, fmt.Errorf("finalize requires a terminal status, got %s", fin.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if !store.CanTransition(j.Status, fin.Status) {
		return false, nil
	}

	now := s.now()
	j.Status = fin.Status
	j.Stage = string(fin.Status)
	j.CompletedAt = &now
	j.UpdatedAt = now
	if fin.Result != nil {
		r := *fin.Result
		j.Result = &r
	}
	if fin.Error != "" {
		e := fin.Error
		j.Error = &e
	}
	if fin.Status == store.JobStatusCompleted {
		j.Progress = 100
	}
	delete(s.queue, id)
	return true, nil
}

func (s *Store) AnnotateWebhook(ctx context.Context, id string, status store.WebhookStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.WebhookStatus = status
	j.UpdatedAt = s.now()
	return nil
}

// Enqueue implements store.Queue.
func (s *Store) Enqueue(ctx context.Context, exec store.DBTransaction, jobID string, payload json.RawMessage, visibleAfter time.Time) (int64, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	row := &queueRow{id: id, jobID: jobID, payload: slices.Clone(payload), visibleAfter: visibleAfter}
	s.apply(exec, func() {
		s.queue[jobID] = row
	})
	return id, nil
}

// DequeueBatch claims visible rows oldest first and moves their jobs to in_progress.
func (s *Store) DequeueBatch(ctx context.Context, limit int, lease time.Duration) ([]store.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var visible []*queueRow
	for _, row := range s.queue {
		if !row.visibleAfter.After(now) {
			visible = append(visible, row)
		}
	}
	if len(visible) == 0 {
		return nil, nil
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].id < visible[j].id })
	if len(visible) > limit {
		visible = visible[:limit]
	}

	items := make([]store.QueueItem, 0, len(visible))
	for _, row := range visible {
		row.visibleAfter = now.Add(lease)
		item := store.QueueItem{JobID: row.jobID, Payload: slices.Clone(row.payload)}
		if j, ok := s.jobs[row.jobID]; ok && store.CanTransition(j.Status, store.JobStatusInProgress) {
			j.Status = store.JobStatusInProgress
			j.Stage = "claimed"
			j.Attempt++
			j.UpdatedAt = now
			if j.StartedAt == nil {
				started := now
				j.StartedAt = &started
			}
			item.Attempt = j.Attempt
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Store) Ack(ctx context.Context, exec store.DBTransaction, jobID string) error {
	s.apply(exec, func() {
		delete(s.queue, jobID)
	})
	return nil
}

func (s *Store) SetVisibleAfter(ctx context.Context, exec store.DBTransaction, jobID string, visibleAfter time.Time) error {
	s.mu.Lock()
	_, ok := s.queue[jobID]
	s.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}
	s.apply(exec, func() {
		if row, ok := s.queue[jobID]; ok {
			row.visibleAfter = visibleAfter
		}
	})
	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.queue)), nil
}
