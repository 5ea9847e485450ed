// Package memory is an in-process store.Backend for single-binary deployments
// and tests. Everything is lost on restart.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"advsandbox/internal/store"
)

var errNoSQL = errors.New("memory store does not execute SQL")

type queueRow struct {
	id           int64
	jobID        string
	payload      []byte
	visibleAfter time.Time
}

// Store implements store.Backend with maps guarded by one mutex.
type Store struct {
	mu       sync.Mutex
	models   map[string]store.Model
	jobs     map[string]*store.AttackJob
	queue    map[string]*queueRow
	attempts map[string][]store.WebhookDeliveryAttempt
	nextID   int64
	closed   bool

	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		models:   make(map[string]store.Model),
		jobs:     make(map[string]*store.AttackJob),
		queue:    make(map[string]*queueRow),
		attempts: make(map[string][]store.WebhookDeliveryAttempt),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ store.Backend = (*Store)(nil)

// tx stages writes and applies them atomically on Commit.
type tx struct {
	s    *Store
	ops  []func()
	done bool
}

func (t *tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, errNoSQL
}

func (t *tx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, errNoSQL
}

func (t *tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, op := range t.ops {
		op()
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.ops = nil
	return nil
}

// BeginTx starts a staged transaction.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	return &tx{s: s}, nil
}

// apply runs op now under the lock, or on Commit when called inside a tx.
func (s *Store) apply(exec store.DBTransaction, op func()) {
	if t, ok := exec.(*tx); ok && t != nil {
		t.ops = append(t.ops, op)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	op()
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("memory store is closed")
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// CreateModel implements store.ModelStore.
func (s *Store) CreateModel(ctx context.Context, m *store.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[m.ID]; ok {
		return store.ErrConflict
	}
	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	cp := *m
	cp.Metadata = maps.Clone(m.Metadata)
	s.models[m.ID] = cp
	return nil
}

func (s *Store) GetModel(ctx context.Context, id string) (*store.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	m.Metadata = maps.Clone(m.Metadata)
	return &m, nil
}

func (s *Store) ListModels(ctx context.Context, f store.ModelFilter) ([]store.Model, int, error) {
	s.mu.Lock()
	var out []store.Model
	for _, m := range s.models {
		if f.Type != "" && m.Type != f.Type {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		m.Metadata = maps.Clone(m.Metadata)
		out = append(out, m)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		var c int
		switch f.SortBy {
		case "name":
			c = strings.Compare(out[i].Name, out[j].Name)
		case "id":
			c = strings.Compare(out[i].ID, out[j].ID)
		default:
			c = out[i].CreatedAt.Compare(out[j].CreatedAt)
		}
		if c == 0 {
			c = strings.Compare(out[i].ID, out[j].ID)
		}
		if f.SortDesc {
			return c > 0
		}
		return c < 0
	})
	return page(out, f.Offset, f.Limit), len(out), nil
}

func (s *Store) UpdateModelStatus(ctx context.Context, id string, status store.ModelStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Status = status
	m.UpdatedAt = s.now()
	s.models[id] = m
	return nil
}

// RecordWebhookAttempt implements store.WebhookAttemptStore.
func (s *Store) RecordWebhookAttempt(ctx context.Context, a *store.WebhookDeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	a.ID = s.nextID
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = s.now()
	}
	s.attempts[a.JobID] = append(s.attempts[a.JobID], *a)
	return nil
}

func (s *Store) ListWebhookAttempts(ctx context.Context, jobID string) ([]store.WebhookDeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.attempts[jobID]), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
