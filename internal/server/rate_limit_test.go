package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hanjang/internal/config"
)

func TestRateLimit429AndRetryAfter(t *testing.T) {
	ts := newTestServer(t, "", func(c *config.Config) { c.RateLimitGlobalRPS = 1 })

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.RemoteAddr = "203.0.113.1:12345"
	rr1 := httptest.NewRecorder()
	ts.h.ServeHTTP(rr1, req)
	if rr1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	ts.h.ServeHTTP(rr2, req)
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", rr2.Code)
	}
	if v := rr2.Header().Get("Retry-After"); v != "1" {
		t.Fatalf("expected Retry-After 1, got %q", v)
	}
}

func TestRateLimitDisabledByDefault(t *testing.T) {
	ts := newTestServer(t, "", nil)
	for i := 0; i < 20; i++ {
		rr := ts.do(http.MethodGet, "/api/stats", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d expected 200 with limiter disabled, got %d", i, rr.Code)
		}
	}
}

func TestHealthIsNotRateLimited(t *testing.T) {
	ts := newTestServer(t, "", func(c *config.Config) { c.RateLimitGlobalRPS = 1 })
	for i := 0; i < 3; i++ {
		if rr := ts.do(http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
			t.Fatalf("health %d expected 200, got %d", i, rr.Code)
		}
	}
}

func TestPathRateLimitSeparateFromGlobal(t *testing.T) {
	ts := newTestServer(t, "", func(c *config.Config) { c.RateLimitPathRPS = 1 })

	if rr := ts.do(http.MethodGet, "/api/stats", nil); rr.Code != http.StatusOK {
		t.Fatalf("first /api/stats expected 200, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodGet, "/api/stats", nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second /api/stats expected 429, got %d", rr.Code)
	}
	// a different path has its own bucket
	if rr := ts.do(http.MethodGet, "/api/reviews/stats", nil); rr.Code != http.StatusOK {
		t.Fatalf("/api/reviews/stats expected 200, got %d", rr.Code)
	}
}

func TestIPRateLimitPerClient(t *testing.T) {
	ts := newTestServer(t, "", func(c *config.Config) { c.RateLimitIPRPS = 1 })
	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
		req.RemoteAddr = ip + ":2222"
		rr := httptest.NewRecorder()
		ts.h.ServeHTTP(rr, req)
		return rr.Code
	}
	if c := send("192.0.2.10"); c != http.StatusOK {
		t.Fatalf("A1 expected 200, got %d", c)
	}
	if c := send("192.0.2.10"); c != http.StatusTooManyRequests {
		t.Fatalf("A2 expected 429, got %d", c)
	}
	if c := send("192.0.2.11"); c != http.StatusOK {
		t.Fatalf("B1 expected 200, got %d", c)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := newRateLimiter(2)
	rl.now = func() time.Time { return now }
	for i := 0; i < 2; i++ {
		if ok, _ := rl.allow("k"); !ok {
			t.Fatalf("token %d should be available", i)
		}
	}
	if ok, wait := rl.allow("k"); ok || wait != 1 {
		t.Fatalf("expected denial with wait 1, got ok=%v wait=%d", ok, wait)
	}
	now = now.Add(500 * time.Millisecond)
	if ok, _ := rl.allow("k"); !ok {
		t.Fatal("expected a refilled token after 500ms at 2 rps")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(r); got != "10.0.0.1" {
		t.Fatalf("remote addr: got %q", got)
	}
	r.Header.Set("X-Real-IP", "10.0.0.2")
	if got := clientIP(r); got != "10.0.0.2" {
		t.Fatalf("x-real-ip: got %q", got)
	}
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.3")
	if got := clientIP(r); got != "198.51.100.7" {
		t.Fatalf("x-forwarded-for: got %q", got)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/api/notes/abc":       "/api/notes/:id",
		"/api/notes/upload":    "/api/notes/upload",
		"/api/questions/q1":    "/api/questions/:id",
		"/api/reviews/due":     "/api/reviews/due",
		"/api/reviews/n1":      "/api/reviews/:id",
		"/api/notes":           "/api/notes",
		"/api/chat/ask/stream": "/api/chat/ask/stream",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
