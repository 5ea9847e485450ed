// Package main runs the flaky webhook listener used to exercise delivery
// retries end to end.
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

	"advsandbox/internal/config"
	"advsandbox/internal/logger"
	"advsandbox/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: advsandbox.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithOptions(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	receiver := webhook.NewReceiver(webhook.ReceiverConfig{
		FailureRate: cfg.ListenerFailureRate,
		Delay:       cfg.ListenerDelay,
		AlwaysFail:  cfg.ListenerAlwaysFail,
		FailFirst:   cfg.ListenerFailFirst,
		Secret:      cfg.WebhookSecret,
	}, log)

	addr := fmt.Sprintf(":%d", cfg.ListenerPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      receiver.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.ListenerDelay + 10*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("webhook listener starting", "addr", addr,
			"failure_rate", cfg.ListenerFailureRate, "fail_first", cfg.ListenerFailFirst, "always_fail", cfg.ListenerAlwaysFail)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listener stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("listener forced to shutdown", "error", err)
	}
}
