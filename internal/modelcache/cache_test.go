package modelcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"advsandbox/internal/inference"
	"advsandbox/internal/store"
)

// mockLookup serves models from a map.
type mockLookup struct {
	models map[string]store.Model
}

func (m *mockLookup) GetModel(ctx context.Context, id string) (*store.Model, error) {
	model, ok := m.models[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &model, nil
}

func newLookup(ids ...string) *mockLookup {
	m := &mockLookup{models: make(map[string]store.Model)}
	for _, id := range ids {
		m.models[id] = store.Model{ID: id, Type: store.ModalityNLP, Status: store.ModelStatusActive}
	}
	return m
}

// mockPredictor records Close calls.
type mockPredictor struct {
	id     string
	closed atomic.Bool
}

func (p *mockPredictor) Predict(ctx context.Context, in inference.Input) (inference.Prediction, error) {
	return inference.Prediction{Label: "x", Confidence: 1}, nil
}
func (p *mockPredictor) Labels() []string { return []string{"x"} }
func (p *mockPredictor) Close() error {
	p.closed.Store(true)
	return nil
}

// mockLoader counts loads and can block or fail them.
type mockLoader struct {
	mu      sync.Mutex
	loads   map[string]int
	loaded  []*mockPredictor
	failIDs map[string]error
	gate    chan struct{} // when non-nil, loads wait for it to close
}

func newLoader() *mockLoader {
	return &mockLoader{loads: make(map[string]int), failIDs: make(map[string]error)}
}

func (l *mockLoader) Load(ctx context.Context, m store.Model) (inference.Predictor, error) {
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads[m.ID]++
	if err := l.failIDs[m.ID]; err != nil {
		return nil, err
	}
	p := &mockPredictor{id: m.ID}
	l.loaded = append(l.loaded, p)
	return p, nil
}

func (l *mockLoader) count(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[id]
}

func TestAcquire_HitAfterMiss(t *testing.T) {
	loader := newLoader()
	c := New(newLookup("m1"), loader, Config{Capacity: 2}, nil)
	ctx := context.Background()

	h1, err := c.Acquire(ctx, "m1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	h1.Release()

	h2, err := c.Acquire(ctx, "m1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer h2.Release()

	if h1.Predictor() != h2.Predictor() {
		t.Error("expected the same loaded predictor on a hit")
	}
	if got := loader.count("m1"); got != 1 {
		t.Errorf("expected 1 load, got %d", got)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %+v", stats)
	}
}

func TestAcquire_EvictsLeastRecentlyAcquired(t *testing.T) {
	loader := newLoader()
	c := New(newLookup("m1", "m2", "m3"), loader, Config{Capacity: 2}, nil)
	ctx := context.Background()

	acquireRelease := func(id string) *Handle {
		t.Helper()
		h, err := c.Acquire(ctx, id)
		if err != nil {
			t.Fatalf("Acquire(%s) failed: %v", id, err)
		}
		h.Release()
		return h
	}

	h1 := acquireRelease("m1")
	acquireRelease("m2")
	acquireRelease("m1") // m2 is now least recently acquired
	acquireRelease("m3")

	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}
	if c.Contains("m2") {
		t.Error("expected m2 to be evicted")
	}
	if !c.Contains("m1") || !c.Contains("m3") {
		t.Error("expected m1 and m3 to remain")
	}
	if h1.Predictor().(*mockPredictor).closed.Load() {
		t.Error("m1 predictor should not be closed")
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", c.Stats().Evictions)
	}
}

func TestAcquire_PinnedEntryNotEvicted(t *testing.T) {
	c := New(newLookup("m1", "m2", "m3"), newLoader(), Config{Capacity: 2, Wait: 50 * time.Millisecond}, nil)
	ctx := context.Background()

	h1, _ := c.Acquire(ctx, "m1")
	h2, _ := c.Acquire(ctx, "m2")
	defer h1.Release()

	h2.Release()

	h3, err := c.Acquire(ctx, "m3")
	if err != nil {
		t.Fatalf("Acquire(m3) failed: %v", err)
	}
	defer h3.Release()

	if !c.Contains("m1") {
		t.Error("pinned m1 must not be evicted")
	}
	if c.Contains("m2") {
		t.Error("expected unpinned m2 to be evicted")
	}
	if h1.Predictor().(*mockPredictor).closed.Load() {
		t.Error("pinned predictor was closed")
	}
}

func TestAcquire_CapacityOneBlocksUntilRelease(t *testing.T) {
	loader := newLoader()
	c := New(newLookup("m1", "m2"), loader, Config{Capacity: 1, Wait: 5 * time.Second}, nil)
	ctx := context.Background()

	hA, err := c.Acquire(ctx, "m1")
	if err != nil {
		t.Fatalf("Acquire(m1) failed: %v", err)
	}

	acquired := make(chan *Handle, 1)
	errs := make(chan error, 1)
	go func() {
		h, err := c.Acquire(ctx, "m2")
		if err != nil {
			errs <- err
			return
		}
		acquired <- h
	}()

	select {
	case <-acquired:
		t.Fatal("Acquire(m2) returned while m1 was pinned")
	case err := <-errs:
		t.Fatalf("Acquire(m2) failed: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	if c.Len() != 1 {
		t.Errorf("cache exceeded capacity: %d entries", c.Len())
	}

	pA := hA.Predictor().(*mockPredictor)
	hA.Release()

	select {
	case hB := <-acquired:
		defer hB.Release()
		if hB.Model().ID != "m2" {
			t.Errorf("expected m2, got %s", hB.Model().ID)
		}
	case err := <-errs:
		t.Fatalf("Acquire(m2) failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire(m2) did not proceed after release")
	}

	if c.Contains("m1") {
		t.Error("expected m1 to be evicted")
	}
	if !pA.closed.Load() {
		t.Error("expected evicted predictor to be closed")
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}

func TestAcquire_Exhausted(t *testing.T) {
	c := New(newLookup("m1", "m2"), newLoader(), Config{Capacity: 1, Wait: 30 * time.Millisecond}, nil)
	ctx := context.Background()

	h, _ := c.Acquire(ctx, "m1")
	defer h.Release()

	_, err := c.Acquire(ctx, "m2")
	if !errors.Is(err, ErrCacheExhausted) {
		t.Errorf("expected ErrCacheExhausted, got %v", err)
	}
}

func TestAcquire_ContextCancelledWhileWaiting(t *testing.T) {
	c := New(newLookup("m1", "m2"), newLoader(), Config{Capacity: 1, Wait: time.Minute}, nil)

	h, _ := c.Acquire(context.Background(), "m1")
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Acquire(ctx, "m2")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context deadline, got %v", err)
	}
}

func TestAcquire_UnknownModel(t *testing.T) {
	loader := newLoader()
	c := New(newLookup(), loader, Config{}, nil)

	_, err := c.Acquire(context.Background(), "missing")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expected no entries, got %d", c.Len())
	}
	if loader.count("missing") != 0 {
		t.Error("loader should not be called for unknown models")
	}
}

func TestAcquire_LoadFailureFreesSlot(t *testing.T) {
	loader := newLoader()
	loader.failIDs["m1"] = fmt.Errorf("artifact storage unreachable")
	c := New(newLookup("m1", "m2"), loader, Config{Capacity: 1}, nil)
	ctx := context.Background()

	_, err := c.Acquire(ctx, "m1")
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
	if c.Contains("m1") {
		t.Error("failed load must not stay in the cache")
	}

	h, err := c.Acquire(ctx, "m2")
	if err != nil {
		t.Fatalf("slot was not freed after failed load: %v", err)
	}
	h.Release()
}

func TestAcquire_ConcurrentLoadsShareOne(t *testing.T) {
	loader := newLoader()
	loader.gate = make(chan struct{})
	c := New(newLookup("m1"), loader, Config{Capacity: 2}, nil)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	handles := make([]*Handle, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = c.Acquire(ctx, "m1")
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(loader.gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Acquire %d failed: %v", i, errs[i])
		}
		if handles[i].Predictor() != handles[0].Predictor() {
			t.Error("expected all callers to share one predictor")
		}
	}
	if got := loader.count("m1"); got != 1 {
		t.Errorf("expected a single load, got %d", got)
	}
	if got := c.Pinned("m1"); got != n {
		t.Errorf("expected %d pins, got %d", n, got)
	}
	for _, h := range handles {
		h.Release()
	}
	if got := c.Pinned("m1"); got != 0 {
		t.Errorf("expected 0 pins after release, got %d", got)
	}
}

func TestRelease_Twice(t *testing.T) {
	c := New(newLookup("m1"), newLoader(), Config{}, nil)
	ctx := context.Background()

	h1, _ := c.Acquire(ctx, "m1")
	h2, _ := c.Acquire(ctx, "m1")

	h1.Release()
	h1.Release()

	if got := c.Pinned("m1"); got != 1 {
		t.Errorf("double release changed pin count: got %d, want 1", got)
	}
	h2.Release()

	var nilHandle *Handle
	nilHandle.Release()
}

func TestAcquire_ReloadAfterEviction(t *testing.T) {
	loader := newLoader()
	c := New(newLookup("m1", "m2"), loader, Config{Capacity: 1}, nil)
	ctx := context.Background()

	h, _ := c.Acquire(ctx, "m1")
	first := h.Predictor().(*mockPredictor)
	h.Release()

	h, _ = c.Acquire(ctx, "m2")
	h.Release()

	h, err := c.Acquire(ctx, "m1")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	defer h.Release()

	second := h.Predictor().(*mockPredictor)
	if first == second {
		t.Error("expected a freshly loaded predictor after eviction")
	}
	if !first.closed.Load() {
		t.Error("expected evicted predictor to be closed")
	}
	if second.closed.Load() {
		t.Error("reloaded predictor must be usable")
	}
	if got := loader.count("m1"); got != 2 {
		t.Errorf("expected 2 loads of m1, got %d", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(newLookup(), newLoader(), Config{}, nil)
	if c.Stats().Capacity != DefaultCapacity {
		t.Errorf("expected default capacity %d, got %d", DefaultCapacity, c.Stats().Capacity)
	}
}
