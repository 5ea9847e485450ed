// Package app wires the long-running advsandbox components from configuration.
// The controller and worker binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"advsandbox/internal/attack"
	"advsandbox/internal/catalog"
	"advsandbox/internal/config"
	"advsandbox/internal/inference"
	"advsandbox/internal/modelcache"
	"advsandbox/internal/store"
	"advsandbox/internal/store/memory"
	"advsandbox/internal/store/postgres"
	"advsandbox/internal/webhook"
	"advsandbox/internal/worker"
)

// OpenStore connects the configured backend. Postgres migrations run first
// when migrate is set.
func OpenStore(ctx context.Context, cfg *config.Config, migrate bool, log *slog.Logger) (store.Backend, error) {
	if cfg.StoreBackend == "memory" {
		log.Info("using in-memory store")
		return memory.New(), nil
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	if migrate {
		log.Info("running database migrations")
		version, err := postgres.Migrate(db.DB())
		if err != nil {
			db.Close()
			return nil, err
		}
		log.Info("migrations completed", "version", version)
	}
	return db, nil
}

// SeedCatalog registers the configured model catalog, or the embedded
// default catalog when no path is set.
func SeedCatalog(ctx context.Context, cfg *config.Config, models store.ModelStore, log *slog.Logger) error {
	var (
		entries []catalog.Entry
		err     error
	)
	if cfg.ModelCatalogPath != "" {
		entries, err = catalog.Load(cfg.ModelCatalogPath)
	} else {
		entries, err = catalog.Default()
	}
	if err != nil {
		return err
	}
	_, err = catalog.Seed(ctx, models, entries, log)
	return err
}

// Worker bundles an attack agent with the notifier it reports to. Both must
// be run.
type Worker struct {
	Agent    *worker.Agent
	Notifier *webhook.Notifier
	Cache    *modelcache.Cache
}

// NewModelCache builds the loaded-model cache. Artifacts are fetched from
// MinIO when an endpoint is configured.
func NewModelCache(cfg *config.Config, models modelcache.ModelLookup, log *slog.Logger) (*modelcache.Cache, error) {
	var fetcher inference.ObjectFetcher
	if cfg.MinioEndpoint != "" {
		minioFetcher, err := inference.NewMinioFetcher(inference.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create artifact fetcher: %w", err)
		}
		fetcher = minioFetcher
	}

	return modelcache.New(models, inference.NewArtifactLoader(fetcher), modelcache.Config{
		Capacity: cfg.ModelCacheCapacity,
		Wait:     cfg.ModelCacheWait,
	}, log), nil
}

// NewWorker builds the execution side around a model cache: webhook notifier
// and agent.
func NewWorker(cfg *config.Config, backend store.Backend, cache *modelcache.Cache, id string, log *slog.Logger) *Worker {
	notifier := webhook.New(backend, webhook.Config{
		MaxAttempts:    cfg.WebhookMaxAttempts,
		InitialBackoff: cfg.WebhookInitialBackoff,
		MaxBackoff:     cfg.WebhookMaxBackoff,
		Timeout:        cfg.WebhookTimeout,
		Secret:         cfg.WebhookSecret,
		Workers:        cfg.WebhookWorkers,
		QueueSize:      cfg.WebhookQueueSize,
	}, nil, log)

	agent := worker.New(backend, cache, attack.DefaultRegistry(), notifier, worker.AgentConfig{
		ID:                id,
		Concurrency:       cfg.WorkerConcurrency,
		PollInterval:      cfg.WorkerPollInterval,
		MaxBackoff:        cfg.WorkerMaxBackoff,
		HeartbeatInterval: cfg.WorkerHeartbeatInterval,
		LeaseDuration:     cfg.WorkerLeaseDuration,
		PublicURL:         cfg.PublicURL,
		Timeout:           cfg.TimeoutFor,
	}, log)

	return &Worker{Agent: agent, Notifier: notifier, Cache: cache}
}

// Run drives the agent and the notifier until ctx is cancelled. The notifier
// is stopped only after the agent has drained its in-flight attacks.
func (w *Worker) Run(ctx context.Context) error {
	notifyCtx, stopNotifier := context.WithCancel(context.WithoutCancel(ctx))
	defer stopNotifier()

	notifierDone := make(chan error, 1)
	go func() { notifierDone <- w.Notifier.Run(notifyCtx) }()

	err := w.Agent.Run(ctx)
	<-w.Agent.Done()
	stopNotifier()
	<-notifierDone

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
