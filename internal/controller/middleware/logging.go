package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"advsandbox/internal/logger"
	"advsandbox/internal/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID tags the request context with the caller-supplied request id, or
// a fresh one, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Logging logs every request and records its duration. mux resolves the
// route pattern so metrics are labelled by route, not raw path.
func Logging(log *slog.Logger, mux *http.ServeMux) func(http.Handler) http.Handler {
	duration, _ := observability.Meter("http").Float64Histogram("advsandbox.http.request.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(observability.DurationBuckets...))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			route := "unmatched"
			if mux != nil {
				if _, pattern := mux.Handler(r); pattern != "" {
					route = pattern
				}
			}
			duration.Record(r.Context(), elapsed.Seconds(), metric.WithAttributes(
				attribute.String("http.route", route),
				attribute.String("http.status_code", strconv.Itoa(rec.status)),
			))

			l := logger.FromContext(r.Context(), log)
			attrs := []any{"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", elapsed}
			if rec.status >= 500 {
				l.Error("request failed", attrs...)
			} else {
				l.Info("request completed", attrs...)
			}
		})
	}
}
