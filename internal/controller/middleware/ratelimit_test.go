package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func callerRequest(callerID string) *http.Request {
	ctx := NewContextWithCaller(context.Background(), callerID)
	return httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
}

func TestRateLimitMiddleware_NoCallerInContext(t *testing.T) {
	handler := NewRateLimiter(10, 10).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called when no caller in context")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRateLimitMiddleware_AllowsRequestUnderLimit(t *testing.T) {
	handler := NewRateLimiter(100, 200).Middleware()(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, callerRequest("caller-a"))

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_RejectsRequestOverLimit(t *testing.T) {
	handler := NewRateLimiter(1, 1).Middleware()(okHandler())

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, callerRequest("caller-a"))
	if rr1.Code != http.StatusOK {
		t.Errorf("first request: got status %d, want %d", rr1.Code, http.StatusOK)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, callerRequest("caller-a"))
	if rr2.Code != http.StatusTooManyRequests {
		t.Errorf("second request: got status %d, want %d", rr2.Code, http.StatusTooManyRequests)
	}
	if got := rr2.Header().Get("Retry-After"); got != "1" {
		t.Errorf("got Retry-After %q, want %q", got, "1")
	}
}

func TestRateLimitMiddleware_IndependentLimitsPerCaller(t *testing.T) {
	handler := NewRateLimiter(1, 1).Middleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), callerRequest("caller-a"))
	rrA := httptest.NewRecorder()
	handler.ServeHTTP(rrA, callerRequest("caller-a"))
	if rrA.Code != http.StatusTooManyRequests {
		t.Errorf("caller A second request: got status %d, want %d", rrA.Code, http.StatusTooManyRequests)
	}

	rrB := httptest.NewRecorder()
	handler.ServeHTTP(rrB, callerRequest("caller-b"))
	if rrB.Code != http.StatusOK {
		t.Errorf("caller B request: got status %d, want %d", rrB.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_UnlimitedWhenRateZero(t *testing.T) {
	handler := NewRateLimiter(0, 0).Middleware()(okHandler())

	for i := range 10 {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, callerRequest("caller-a"))
		if rr.Code != http.StatusOK {
			t.Errorf("request %d: got status %d, want %d", i, rr.Code, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_ExpiredLimiterIsReplaced(t *testing.T) {
	rl := NewRateLimiter(1, 1, WithTTL(time.Minute))
	now := time.Now()
	rl.now = func() time.Time { return now }
	handler := rl.Middleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), callerRequest("caller-a"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, callerRequest("caller-a"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusTooManyRequests)
	}

	now = now.Add(2 * time.Minute)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, callerRequest("caller-a"))
	if rr.Code != http.StatusOK {
		t.Errorf("after TTL: got status %d, want %d", rr.Code, http.StatusOK)
	}
}
