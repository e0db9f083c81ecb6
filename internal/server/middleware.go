package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	nbytes int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.nbytes += n
	return n, err
}

// Flush keeps SSE working through the recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// clientIP extracts the best-effort client IP from headers or RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		return host[:i]
	}
	return host
}

var staticRoutes = map[string]bool{
	"/api/notes/upload":     true,
	"/api/notes/upload-url": true,
	"/api/notes/process":    true,
	"/api/notes/analyze":    true,
	"/api/reviews/due":      true,
	"/api/reviews/priority": true,
	"/api/reviews/stats":    true,
}

// normalizePath collapses id segments so metric labels stay bounded.
func normalizePath(p string) string {
	if staticRoutes[p] {
		return p
	}
	for _, prefix := range []string{"/api/notes/", "/api/questions/", "/api/reviews/"} {
		if rest, ok := strings.CutPrefix(p, prefix); ok && rest != "" && !strings.Contains(rest, "/") {
			return prefix + ":id"
		}
	}
	return p
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, reqID)))
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		dur := time.Since(start)
		s.log.Info("http.req",
			zap.String("req_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("userAgent", r.UserAgent()),
			zap.String("remoteIP", clientIP(r)),
			zap.Int("status", rec.status),
			zap.Int64("duration_ms", dur.Milliseconds()),
			zap.Int("bytes", rec.nbytes),
		)
		s.app.Metrics.ObserveRequest(r.Method, normalizePath(r.URL.Path), rec.status, dur)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.log.Error("http.panic", zap.String("req_id", RequestID(r.Context())), zap.Any("panic", v), zap.Stack("stack"))
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origin := s.app.Config.CORSOrigin
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			h.Set("Access-Control-Expose-Headers", "X-Request-ID")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces the optional API token. Accepts
// Authorization: Bearer <token> or the ?token= query parameter.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	tok := s.app.Config.APIToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		hdr := r.Header.Get("Authorization")
		if strings.HasPrefix(hdr, "Bearer ") && strings.TrimSpace(hdr[len("Bearer "):]) == tok {
			next.ServeHTTP(w, r)
			return
		}
		if r.URL.Query().Get("token") == tok {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
	})
}

// rateLimiter provides token-bucket rate limiting by key.
type rateLimiter struct {
	mu      sync.Mutex
	rps     float64
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rps float64) *rateLimiter {
	return &rateLimiter{rps: rps, buckets: make(map[string]*bucket), now: time.Now}
}

// allow reports whether a request with key is allowed now and, if not, the
// seconds until the next token.
func (rl *rateLimiter) allow(key string) (bool, int) {
	if rl.rps <= 0 {
		return true, 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	b := rl.buckets[key]
	if b == nil {
		b = &bucket{tokens: max(rl.rps, 1), last: now}
		rl.buckets[key] = b
	}
	b.tokens = min(b.tokens+now.Sub(b.last).Seconds()*rl.rps, max(rl.rps, 1))
	b.last = now
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := int((1-b.tokens)/rl.rps + 0.999)
	return false, max(wait, 1)
}

type limiters struct {
	global, path, ip *rateLimiter
}

func newLimiters(global, path, ip float64) *limiters {
	return &limiters{global: newRateLimiter(global), path: newRateLimiter(path), ip: newRateLimiter(ip)}
}

func (l *limiters) enabled() bool {
	return l.global.rps > 0 || l.path.rps > 0 || l.ip.rps > 0
}

// rateLimitMiddleware denies a request when any scope (global, path,
// client IP) is out of tokens.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	l := s.limiter
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.enabled() || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		checks := []struct {
			rl  *rateLimiter
			key string
		}{
			{l.global, "global"},
			{l.path, "path:" + normalizePath(r.URL.Path)},
			{l.ip, "ip:" + clientIP(r)},
		}
		for _, c := range checks {
			if ok, wait := c.rl.allow(c.key); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(wait))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
