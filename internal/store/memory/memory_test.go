package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"advsandbox/internal/store"
)

func newJob(id string) *store.AttackJob {
	return &store.AttackJob{
		ID:             id,
		CallerID:       "caller",
		ModelID:        "m1",
		AttackMethodID: "textfooler",
		Input:          json.RawMessage(`"hello"`),
	}
}

// submit creates and enqueues a job in one transaction.
func submit(t *testing.T, s *Store, id string) {
	t.Helper()
	ctx := context.Background()
	tx, _ := s.BeginTx(ctx)
	if err := s.CreateJob(ctx, tx, newJob(id)); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := s.Enqueue(ctx, tx, id, json.RawMessage(`{}`), s.now()); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestTx_RollbackDiscardsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, _ := s.BeginTx(ctx)
	_ = s.CreateJob(ctx, tx, newJob("atk_1"))
	_, _ = s.Enqueue(ctx, tx, "atk_1", nil, time.Now())

	if _, err := s.GetJob(ctx, "atk_1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("staged job visible before commit")
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if _, err := s.GetJob(ctx, "atk_1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("rolled back job is visible")
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
	if err := tx.Commit(); err == nil {
		t.Error("expected commit after rollback to fail")
	}
}

func TestDequeueBatch_LeasesAndClaims(t *testing.T) {
	s := New()
	ctx := context.Background()
	submit(t, s, "atk_1")
	submit(t, s, "atk_2")

	items, err := s.DequeueBatch(ctx, 1, time.Minute)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(items) != 1 || items[0].JobID != "atk_1" {
		t.Fatalf("expected atk_1 first, got %+v", items)
	}
	if items[0].Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", items[0].Attempt)
	}

	job, _ := s.GetJob(ctx, "atk_1")
	if job.Status != store.JobStatusInProgress || job.StartedAt == nil {
		t.Errorf("expected in_progress with start time, got %s", job.Status)
	}

	items, _ = s.DequeueBatch(ctx, 5, time.Minute)
	if len(items) != 1 || items[0].JobID != "atk_2" {
		t.Fatalf("expected only atk_2 to be visible, got %+v", items)
	}

	items, _ = s.DequeueBatch(ctx, 5, time.Minute)
	if len(items) != 0 {
		t.Errorf("leased items were handed out twice: %+v", items)
	}
}

func TestDequeueBatch_RedeliversExpiredLease(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }
	submit(t, s, "atk_1")

	if items, _ := s.DequeueBatch(ctx, 1, time.Minute); len(items) != 1 {
		t.Fatal("expected first claim")
	}

	now = now.Add(2 * time.Minute)
	items, _ := s.DequeueBatch(ctx, 1, time.Minute)
	if len(items) != 1 {
		t.Fatal("expected redelivery after lease expiry")
	}
	if items[0].Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", items[0].Attempt)
	}
	job, _ := s.GetJob(ctx, "atk_1")
	if job.Status != store.JobStatusInProgress {
		t.Errorf("expected in_progress after redelivery, got %s", job.Status)
	}
}

func TestSetVisibleAfter_ExtendsLease(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }
	submit(t, s, "atk_1")

	s.DequeueBatch(ctx, 1, time.Minute)
	if err := s.SetVisibleAfter(ctx, nil, "atk_1", now.Add(10*time.Minute)); err != nil {
		t.Fatalf("SetVisibleAfter failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if items, _ := s.DequeueBatch(ctx, 1, time.Minute); len(items) != 0 {
		t.Error("heartbeat did not extend the lease")
	}

	if err := s.SetVisibleAfter(ctx, nil, "missing", now); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFinalize_IsConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	submit(t, s, "atk_1")
	s.DequeueBatch(ctx, 1, time.Minute)

	changed, err := s.Finalize(ctx, "atk_1", store.Finalization{
		Status: store.JobStatusCompleted,
		Result: &store.AttackResult{AttackSuccess: true},
	})
	if err != nil || !changed {
		t.Fatalf("expected first finalize to apply, got changed=%v err=%v", changed, err)
	}

	changed, err = s.Finalize(ctx, "atk_1", store.Finalization{Status: store.JobStatusFailed, Error: "late"})
	if err != nil {
		t.Fatalf("second finalize failed: %v", err)
	}
	if changed {
		t.Error("terminal job was finalized twice")
	}

	job, _ := s.GetJob(ctx, "atk_1")
	if job.Status != store.JobStatusCompleted || job.Error != nil || job.Progress != 100 {
		t.Errorf("unexpected job after finalize: status=%s progress=%d", job.Status, job.Progress)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("expected finalized job to leave the queue, got %d", n)
	}

	if _, err := s.Finalize(ctx, "atk_1", store.Finalization{Status: store.JobStatusInProgress}); err == nil {
		t.Error("expected error for non-terminal finalization")
	}
}

func TestFinalize_QueuedJobCannotComplete(t *testing.T) {
	s := New()
	ctx := context.Background()
	submit(t, s, "atk_1")

	changed, err := s.Finalize(ctx, "atk_1", store.Finalization{Status: store.JobStatusCompleted})
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if changed {
		t.Error("queued job must not jump to completed")
	}
}

func TestUpdateProgress(t *testing.T) {
	s := New()
	ctx := context.Background()
	submit(t, s, "atk_1")

	if _, err := s.UpdateProgress(ctx, "atk_1", 10, "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for queued job, got %v", err)
	}

	s.DequeueBatch(ctx, 1, time.Minute)
	s.UpdateProgress(ctx, "atk_1", 60, "perturbing")
	s.UpdateProgress(ctx, "atk_1", 30, "stale")

	job, _ := s.GetJob(ctx, "atk_1")
	if job.Progress != 60 {
		t.Errorf("progress decreased to %d", job.Progress)
	}
}

func TestRequestCancel(t *testing.T) {
	s := New()
	ctx := context.Background()
	submit(t, s, "queued")
	submit(t, s, "running")
	s.DequeueBatch(ctx, 1, time.Minute) // claims "queued" (oldest)

	// "queued" is now in progress; "running" is still queued.
	status, err := s.RequestCancel(ctx, "running")
	if err != nil || status != store.JobStatusCancelled {
		t.Fatalf("expected queued job to cancel outright, got %s %v", status, err)
	}

	status, err = s.RequestCancel(ctx, "queued")
	if err != nil || status != store.JobStatusInProgress {
		t.Fatalf("expected in-progress job to be flagged, got %s %v", status, err)
	}
	cancel, _ := s.UpdateProgress(ctx, "queued", 50, "")
	if !cancel {
		t.Error("expected cancel flag on progress update")
	}

	if _, err := s.RequestCancel(ctx, "running"); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for terminal job, got %v", err)
	}
	if _, err := s.RequestCancel(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("expected cancelled job removed from queue, count=%d", n)
	}
}

func TestListJobs_FiltersAndPages(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		ts := base.Add(time.Duration(i) * time.Second)
		s.now = func() time.Time { return ts }
		submit(t, s, id)
	}
	s.jobs["c"].CallerID = "other"

	jobs, total, err := s.ListJobs(ctx, store.JobFilter{CallerID: "caller", SortDesc: true, Limit: 1})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if total != 2 {
		t.Errorf("expected total 2, got %d", total)
	}
	if len(jobs) != 1 || jobs[0].ID != "b" {
		t.Errorf("expected newest job b, got %+v", jobs)
	}

	success := true
	jobs, total, _ = s.ListJobs(ctx, store.JobFilter{AttackSuccess: &success})
	if total != 0 || len(jobs) != 0 {
		t.Errorf("expected no successful jobs, got %d", total)
	}
}

func TestModels(t *testing.T) {
	s := New()
	ctx := context.Background()

	m := &store.Model{ID: "m1", Name: "Sentiment", Type: store.ModalityNLP, Status: store.ModelStatusActive, Metadata: map[string]string{"bias": "0"}}
	if err := s.CreateModel(ctx, m); err != nil {
		t.Fatalf("CreateModel failed: %v", err)
	}
	if err := s.CreateModel(ctx, m); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	got, _ := s.GetModel(ctx, "m1")
	got.Metadata["bias"] = "5"
	again, _ := s.GetModel(ctx, "m1")
	if again.Metadata["bias"] != "0" {
		t.Error("GetModel leaked internal metadata map")
	}

	if err := s.UpdateModelStatus(ctx, "m1", store.ModelStatusDeprecated); err != nil {
		t.Fatalf("UpdateModelStatus failed: %v", err)
	}
	models, total, _ := s.ListModels(ctx, store.ModelFilter{Status: store.ModelStatusActive})
	if total != 0 || len(models) != 0 {
		t.Errorf("expected no active models, got %d", total)
	}
	if err := s.UpdateModelStatus(ctx, "nope", store.ModelStatusActive); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWebhookAttempts(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		s.RecordWebhookAttempt(ctx, &store.WebhookDeliveryAttempt{JobID: "atk_1", Attempt: i, Success: i == 3})
	}
	attempts, err := s.ListWebhookAttempts(ctx, "atk_1")
	if err != nil {
		t.Fatalf("ListWebhookAttempts failed: %v", err)
	}
	if len(attempts) != 3 || attempts[2].Attempt != 3 || !attempts[2].Success {
		t.Errorf("unexpected attempts: %+v", attempts)
	}
}
