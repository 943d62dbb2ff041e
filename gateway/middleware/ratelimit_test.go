package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"exports": {RatePerSecond: 1, Burst: 1},
	}, nil)

	handler := limiter.Middleware("exports")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/positions/export.csv", nil)
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
}

func TestRateLimiterUnknownKeyPassesThrough(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{}, nil)
	handler := limiter.Middleware("exports")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/holders.csv", nil)
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, res.Code)
		}
	}
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"exports": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("exports")(okHandler())

	reqA := httptest.NewRequest(http.MethodGet, "/v1/holders.csv", nil)
	reqA.Header.Set("X-Real-IP", "10.0.0.1")
	resA := httptest.NewRecorder()
	handler.ServeHTTP(resA, reqA)
	if resA.Code != http.StatusOK {
		t.Fatalf("client A: got %d", resA.Code)
	}

	reqB := httptest.NewRequest(http.MethodGet, "/v1/holders.csv", nil)
	reqB.Header.Set("X-Real-IP", "10.0.0.2")
	resB := httptest.NewRecorder()
	handler.ServeHTTP(resB, reqB)
	if resB.Code != http.StatusOK {
		t.Fatalf("client B must have its own bucket, got %d", resB.Code)
	}
}
