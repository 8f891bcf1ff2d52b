package httpx

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/tenancy"
)

// KeyFunc derives the rate-limit bucket for a request.
type KeyFunc func(*http.Request) string

// RateLimiter is a per-process fixed-window limiter, used when no Redis is configured.
type RateLimiter struct {
	limit   int
	window  time.Duration
	keyFunc KeyFunc

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(limit int, w time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if w <= 0 {
		w = time.Minute
	}
	return &RateLimiter{limit: limit, window: w, keyFunc: ClientIP, windows: map[string]*window{}}
}

// WithKeyFunc replaces the default client-IP bucket key.
func (rl *RateLimiter) WithKeyFunc(fn KeyFunc) *RateLimiter {
	if fn != nil {
		rl.keyFunc = fn
	}
	return rl
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(rl.keyFunc(r), time.Now()) {
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cur := rl.windows[key]
	if cur == nil || !now.Before(cur.resetAt) {
		rl.windows[key] = &window{count: 1, resetAt: now.Add(rl.window)}
		if len(rl.windows) > 4096 {
			rl.sweep(now)
		}
		return true
	}
	if cur.count >= rl.limit {
		return false
	}
	cur.count++
	return true
}

func (rl *RateLimiter) sweep(now time.Time) {
	for k, v := range rl.windows {
		if !now.Before(v.resetAt) {
			delete(rl.windows, k)
		}
	}
}

// ClientIP keys on the first X-Forwarded-For hop, falling back to the peer address.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		first, _, _ := strings.Cut(ip, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// OrganizationOrIP buckets tenant traffic together so one clinic cannot starve the
// others. The organization is read from the authenticated principal, so it only takes
// effect behind the auth middleware; anonymous requests fall back to the client address.
func OrganizationOrIP(r *http.Request) string {
	if org, ok := tenancy.OrganizationID(r.Context()); ok {
		return "org:" + org
	}
	return "ip:" + ClientIP(r)
}
