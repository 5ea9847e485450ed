// Package modelcache keeps a bounded set of loaded models shared across
// concurrent attack jobs.
//
// Entries are pinned by reference count while a job uses them. On a miss at
// capacity the least-recently-acquired unpinned entry is evicted; when every
// entry is pinned, Acquire waits for a Release up to the configured bound.
package modelcache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"advsandbox/internal/inference"
	"advsandbox/internal/observability"
	"advsandbox/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrModelNotFound is returned when the model id is not registered.
	ErrModelNotFound = errors.New("model not found")

	// ErrModelLoad is returned when a model could not be materialized.
	ErrModelLoad = errors.New("model load failed")

	// ErrCacheExhausted is returned when every slot stayed pinned for the whole wait.
	ErrCacheExhausted = errors.New("model cache exhausted")
)

// DefaultCapacity is the number of loaded models kept when none is configured.
const DefaultCapacity = 5

// ModelLookup resolves registered models.
type ModelLookup interface {
	GetModel(ctx context.Context, id string) (*store.Model, error)
}

// Loader materializes a registered model.
type Loader interface {
	Load(ctx context.Context, m store.Model) (inference.Predictor, error)
}

// Config tunes the cache.
type Config struct {
	Capacity int           // Maximum loaded or loading entries (default: 5)
	Wait     time.Duration // How long Acquire waits for a pinned slot to free (default: 30s)
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
}

type entry struct {
	model store.Model
	pred  inference.Predictor
	refs  int

	// ready is closed once the load finished; err holds its failure.
	ready chan struct{}
	err   error

	elem *list.Element // position in the recency list, nil while loading
}

func (e *entry) loading() bool {
	select {
	case <-e.ready:
		return false
	default:
		return true
	}
}

// Cache is a bounded, concurrency-safe LRU of loaded models with pinning.
type Cache struct {
	lookup ModelLookup
	loader Loader
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List    // front is most recently acquired
	changed chan struct{} // closed and replaced whenever a slot may have freed

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	hitCounter      metric.Int64Counter
	missCounter     metric.Int64Counter
	evictionCounter metric.Int64Counter
}

// New creates a cache.
func New(lookup ModelLookup, loader Loader, config Config, logger *slog.Logger) *Cache {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.Wait <= 0 {
		config.Wait = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		lookup:  lookup,
		loader:  loader,
		config:  config,
		logger:  logger,
		entries: make(map[string]*entry),
		lru:     list.New(),
		changed: make(chan struct{}),
	}

	meter := observability.Meter("modelcache")
	c.hitCounter, _ = meter.Int64Counter("advsandbox.model_cache.hits",
		metric.WithDescription("Model cache acquisitions served from a loaded entry"))
	c.missCounter, _ = meter.Int64Counter("advsandbox.model_cache.misses",
		metric.WithDescription("Model cache acquisitions that triggered a load"))
	c.evictionCounter, _ = meter.Int64Counter("advsandbox.model_cache.evictions",
		metric.WithDescription("Loaded models evicted from the cache"))
	_, _ = meter.Int64ObservableGauge("advsandbox.model_cache.size",
		metric.WithDescription("Loaded or loading models held by the cache"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(c.Len()))
			return nil
		}),
	)

	return c
}

// Handle pins a loaded model until Release is called.
type Handle struct {
	cache    *Cache
	entry    *entry
	released atomic.Bool
}

// Predictor returns the loaded model.
func (h *Handle) Predictor() inference.Predictor {
	return h.entry.pred
}

// Model returns the registry record the handle was loaded from.
func (h *Handle) Model() store.Model {
	return h.entry.model
}

// Release unpins the handle. Calling it more than once has no effect.
func (h *Handle) Release() {
	if h == nil || h.released.Swap(true) {
		return
	}
	h.cache.release(h.entry)
}

// Acquire returns a pinned handle for the model, loading it on a miss.
func (c *Cache) Acquire(ctx context.Context, modelID string) (*Handle, error) {
	var (
		model    *store.Model
		deadline <-chan time.Time
	)

	c.mu.Lock()
	for {
		if e, ok := c.entries[modelID]; ok {
			if e.loading() {
				// Another caller is loading this model; share its result.
				c.mu.Unlock()
				select {
				case <-e.ready:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				if e.err != nil {
					return nil, e.err
				}
				c.mu.Lock()
				continue
			}

			e.refs++
			c.lru.MoveToFront(e.elem)
			c.mu.Unlock()
			c.hits.Add(1)
			c.hitCounter.Add(ctx, 1)
			return &Handle{cache: c, entry: e}, nil
		}

		if model == nil {
			c.mu.Unlock()
			m, err := c.lookup.GetModel(ctx, modelID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
				}
				return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, modelID, err)
			}
			model = m
			c.mu.Lock()
			continue
		}

		if len(c.entries) < c.config.Capacity {
			break
		}
		if victim := c.evictLocked(); victim != nil {
			c.mu.Unlock()
			c.closeVictim(victim)
			c.mu.Lock()
			continue
		}

		// Every slot is pinned or loading. Wait for a release.
		changed := c.changed
		c.mu.Unlock()
		if deadline == nil {
			timer := time.NewTimer(c.config.Wait)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-changed:
		case <-deadline:
			return nil, fmt.Errorf("%w: all %d slots pinned for %v", ErrCacheExhausted, c.config.Capacity, c.config.Wait)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
	}

	// Reserve the slot, then load outside the lock.
	e := &entry{model: *model, refs: 1, ready: make(chan struct{})}
	c.entries[modelID] = e
	c.mu.Unlock()
	c.misses.Add(1)
	c.missCounter.Add(ctx, 1)

	start := time.Now()
	pred, err := c.loader.Load(ctx, *model)

	c.mu.Lock()
	if err != nil {
		e.err = fmt.Errorf("%w: %s: %v", ErrModelLoad, modelID, err)
		delete(c.entries, modelID)
		close(e.ready)
		c.broadcastLocked()
		c.mu.Unlock()
		c.logger.Warn("model load failed", "model_id", modelID, "error", err)
		return nil, e.err
	}
	e.pred = pred
	e.elem = c.lru.PushFront(e)
	close(e.ready)
	c.mu.Unlock()

	c.logger.Info("model loaded", "model_id", modelID, "duration", time.Since(start))
	return &Handle{cache: c, entry: e}, nil
}

func (c *Cache) release(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		c.broadcastLocked()
	}
}

// evictLocked removes the least recently acquired unpinned entry.
func (c *Cache) evictLocked() *entry {
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.refs > 0 {
			continue
		}
		c.lru.Remove(el)
		e.elem = nil
		delete(c.entries, e.model.ID)
		return e
	}
	return nil
}

func (c *Cache) closeVictim(e *entry) {
	c.evictions.Add(1)
	c.evictionCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("model.id", e.model.ID)))
	if err := e.pred.Close(); err != nil {
		c.logger.Warn("failed to close evicted model", "model_id", e.model.ID, "error", err)
	}
	c.logger.Info("model evicted", "model_id", e.model.ID)
}

func (c *Cache) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Len returns the number of loaded or loading entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether the model is loaded (or loading).
func (c *Cache) Contains(modelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[modelID]
	return ok
}

// Pinned returns the active reference count of a model.
func (c *Cache) Pinned(modelID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[modelID]; ok {
		return e.refs
	}
	return 0
}

// Stats returns cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
		Capacity:  c.config.Capacity,
	}
}
