package middleware

import (
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

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerSecond: 1, Burst: 1}, nil)
	handler := limiter.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/supply", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestRateLimiterSeparatesCallers(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerSecond: 1, Burst: 1}, nil)
	handler := limiter.Middleware(okHandler())

	for _, caller := range []string{"organiser-a", "organiser-b"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/events/E1/images", nil)
		req = req.WithContext(WithCaller(req.Context(), caller))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("caller %s should have its own bucket, got %d", caller, res.Code)
		}
	}
}

func TestRateLimiterDisabledAndSweep(t *testing.T) {
	disabled := NewRateLimiter(RateLimit{}, nil)
	handler := disabled.Middleware(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("disabled limiter must not throttle, got %d", res.Code)
		}
	}

	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(RateLimit{RequestsPerSecond: 1, Burst: 1}, nil)
	limiter.clockNow = func() time.Time { return now }
	limiter.allow("ip:1.2.3.4")
	now = now.Add(10 * time.Minute)
	if removed := limiter.Sweep(); removed != 1 {
		t.Fatalf("expected idle visitor to be swept, removed %d", removed)
	}
}

func TestClientIPPrefersForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("unexpected client ip %s", got)
	}
}
