package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rede-afiliados/api/internal/platform/httpx"
)

type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts requests per key within a rolling fixed window.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]rateEntry
}

type rateEntry struct {
	count int
	reset time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) *fixedWindowLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]rateEntry),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || now.After(entry.reset) {
		l.store[key] = rateEntry{count: 1, reset: now.Add(l.window)}
		l.pruneExpiredLocked(now)
		return true
	}

	if entry.count >= l.limit {
		return false
	}
	entry.count++
	l.store[key] = entry
	return true
}

func (l *fixedWindowLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if now.After(entry.reset) {
			delete(l.store, key)
		}
	}
}

// RateLimitOption customises RateLimit.
type RateLimitOption func(*rateLimitConfig)

type rateLimitConfig struct {
	authenticatedPerMinute int
	clock                  func() time.Time
}

// WithAuthenticatedLimit grants requests carrying a bearer token a separate, usually higher, per-minute budget.
func WithAuthenticatedLimit(perMinute int) RateLimitOption {
	return func(cfg *rateLimitConfig) {
		cfg.authenticatedPerMinute = perMinute
	}
}

// WithRateLimitClock overrides the limiter clock.
func WithRateLimitClock(clock func() time.Time) RateLimitOption {
	return func(cfg *rateLimitConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// RateLimit throttles requests per client IP. It runs ahead of authentication, so
// bearer requests are only budgeted separately, not verified. A non-positive limit
// disables throttling.
func RateLimit(perMinute int, opts ...RateLimitOption) func(http.Handler) http.Handler {
	cfg := rateLimitConfig{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	anonymous := newFixedWindowLimiter(perMinute, time.Minute, cfg.clock)
	authenticated := newFixedWindowLimiter(cfg.authenticatedPerMinute, time.Minute, cfg.clock)

	return func(next http.Handler) http.Handler {
		if anonymous == nil && authenticated == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				limiter rateLimiter = anonymous
				limit               = perMinute
				key                 = "ip:" + clientIP(r)
			)
			if authenticated != nil && strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
				limiter, limit, key = authenticated, cfg.authenticatedPerMinute, "bearer:"+clientIP(r)
			}
			if limiter != nil && !limiter.Allow(key) {
				w.Header().Set("Retry-After", "60")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
