// Package main is the entry point for the advsandbox controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"advsandbox/internal/app"
	"advsandbox/internal/attack"
	"advsandbox/internal/config"
	"advsandbox/internal/controller"
	"advsandbox/internal/dispatch"
	"advsandbox/internal/logger"
	"advsandbox/internal/observability"

	"golang.org/x/sync/errgroup"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: advsandbox.yaml in current directory)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithOptions(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Setup the store
	backend, err := app.OpenStore(ctx, cfg, *migrateFlag, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	if err := app.SeedCatalog(ctx, cfg, backend, log); err != nil {
		log.Error("failed to seed model catalog", "error", err)
		os.Exit(1)
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "advsandbox-controller", cfg.OTELEndpoint)
	if err != nil {
		log.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()

	// Serves POST /predict and is shared with the embedded worker.
	cache, err := app.NewModelCache(cfg, backend, log)
	if err != nil {
		log.Error("failed to create model cache", "error", err)
		os.Exit(1)
	}

	svc := dispatch.New(backend, attack.DefaultRegistry(), log, dispatch.WithModelCache(cache))
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(controller.Options{
		Addr:       addr,
		RateLimit:  cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
		AdminToken: cfg.AdminToken,
		Metrics:    metricsHandler,
	}, svc, backend, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("advsandbox controller starting", "addr", addr, "store", cfg.StoreBackend)
		return srv.Run(gctx)
	})

	// The embedded worker shares the process and the store; required for the
	// memory backend since its queue is not visible to other processes.
	if cfg.EmbeddedWorker {
		hostname, _ := os.Hostname()
		w := app.NewWorker(cfg, backend, cache, "embedded-"+hostname, log)
		g.Go(func() error { return w.Run(gctx) })
	} else if cfg.StoreBackend == "memory" {
		log.Warn("memory store without an embedded worker; attacks will stay queued")
	}

	if err := g.Wait(); err != nil {
		log.Error("controller stopped", "error", err)
		os.Exit(1)
	}
	log.Info("controller exited properly")
}
