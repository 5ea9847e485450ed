// Package main is the entry point for the advsandbox worker.
// The worker claims queued attacks, executes them against cached models and
// delivers completion webhooks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"advsandbox/internal/app"
	"advsandbox/internal/config"
	"advsandbox/internal/logger"
	"advsandbox/internal/observability"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// metricsAddr is where the worker exposes /metrics.
const metricsAddr = ":6162"

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file (default: advsandbox.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithOptions(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	if cfg.StoreBackend == "memory" {
		log.Error("a standalone worker needs the postgres store; use embedded_worker with the memory store")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := app.OpenStore(ctx, cfg, false, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "advsandbox-worker", cfg.OTELEndpoint)
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

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
	cache, err := app.NewModelCache(cfg, backend, log)
	if err != nil {
		log.Error("failed to create model cache", "error", err)
		os.Exit(1)
	}
	w := app.NewWorker(cfg, backend, cache, workerID, log.With("worker_id", workerID))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux, ReadTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("worker started", "worker_id", workerID, "concurrency", cfg.WorkerConcurrency)
		return w.Run(gctx)
	})
	g.Go(func() error {
		log.Info("worker metrics listening", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	log.Info("worker exited properly")
}
