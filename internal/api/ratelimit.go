package api

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// maxTrackedIPs bounds the limiter map; stale windows are swept once it
// is exceeded.
const maxTrackedIPs = 10000

// ipLimiter counts requests per client IP in fixed windows. It guards
// the unauthenticated endpoints (login, refresh, activation) against
// credential brute force; authenticated traffic is not limited.
type ipLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	counts map[string]*windowCount
}

type windowCount struct {
	start time.Time
	n     int
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		limit:  limit,
		window: window,
		counts: make(map[string]*windowCount),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	wc, ok := l.counts[ip]
	if !ok || now.Sub(wc.start) >= l.window {
		if len(l.counts) >= maxTrackedIPs {
			l.sweep(now)
		}
		l.counts[ip] = &windowCount{start: now, n: 1}
		return true
	}

	wc.n++
	return wc.n <= l.limit
}

// sweep drops windows that have already elapsed. Caller holds the lock.
func (l *ipLimiter) sweep(now time.Time) {
	for ip, wc := range l.counts {
		if now.Sub(wc.start) >= l.window {
			delete(l.counts, ip)
		}
	}
}

// rateLimitMiddleware rejects requests over the per-IP budget with 429.
// A nil limiter (rate limiting disabled) passes everything through.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if !s.limiter.allow(ip) {
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
