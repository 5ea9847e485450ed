// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"advsandbox/internal/controller/handlers"
	"advsandbox/internal/controller/middleware"
)

// Options configures the controller server.
type Options struct {
	Addr       string
	RateLimit  float64 // requests per second per caller, <= 0 disables limiting
	RateBurst  int
	AdminToken string       // guards model registry writes when set
	Metrics    http.Handler // served at /metrics when non-nil
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(opts Options, svc handlers.Dispatcher, db handlers.Pinger, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      NewHandler(opts, svc, db, log),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// NewHandler builds the routed and instrumented API handler.
func NewHandler(opts Options, svc handlers.Dispatcher, db handlers.Pinger, log *slog.Logger) http.Handler {
	h := handlers.New(svc, db, log)
	limiter := middleware.NewRateLimiter(opts.RateLimit, opts.RateBurst)

	// Caller-scoped apis
	caller := func(fn http.HandlerFunc) http.Handler {
		return middleware.Auth(limiter.Middleware()(fn))
	}
	// Operator apis
	admin := func(fn http.HandlerFunc) http.Handler {
		return middleware.RequireAdminToken(opts.AdminToken)(caller(fn))
	}

	mux := http.NewServeMux()

	mux.Handle("POST /attacks", caller(h.SubmitAttack))
	mux.Handle("GET /attacks", caller(h.ListAttacks))
	mux.Handle("GET /attacks/{id}/status", caller(h.GetAttackStatus))
	mux.Handle("GET /attacks/{id}/results", caller(h.GetAttackResults))
	mux.Handle("POST /attacks/{id}/cancel", caller(h.CancelAttack))
	mux.Handle("GET /attacks/{id}/webhooks", caller(h.GetWebhookAttempts))

	mux.Handle("POST /models", admin(h.RegisterModel))
	mux.Handle("PATCH /models/{id}/status", admin(h.UpdateModelStatus))
	mux.Handle("GET /models", caller(h.ListModels))
	mux.Handle("GET /models/{id}", caller(h.GetModel))
	mux.Handle("GET /attack-methods", caller(h.ListAttackMethods))
	mux.Handle("POST /predict", caller(h.Predict))

	// Probes and metrics are unauthenticated
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	return middleware.RequestID(middleware.Logging(log, mux)(mux))
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
