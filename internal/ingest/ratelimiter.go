// Package ingest handles intake of alerts from the detection pipeline.
package ingest

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"argus-vms/internal/config"
)

// ipLimiter enforces a fixed-window request budget per client IP.
type ipLimiter struct {
	cfg     config.RateLimitConfig
	mu      sync.Mutex
	windows map[string]*ipWindow
	done    chan struct{}
}

type ipWindow struct {
	count   int64
	resetAt time.Time
}

func newIPLimiter(cfg config.RateLimitConfig) *ipLimiter {
	l := &ipLimiter{
		cfg:     cfg,
		windows: make(map[string]*ipWindow),
		done:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// allow counts a request against the IP's current window and reports
// whether it fits the budget, how much budget remains, and when the
// window resets.
func (l *ipLimiter) allow(ip string) (bool, int, time.Time) {
	now := time.Now()
	limit := int64(l.cfg.RequestsPerIP + l.cfg.BurstSize)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[ip]
	if !ok || now.After(w.resetAt) {
		w = &ipWindow{resetAt: now.Add(l.cfg.WindowSize)}
		l.windows[ip] = w
	}

	if w.count >= limit {
		return false, 0, w.resetAt
	}
	w.count++

	remaining := limit - w.count
	return true, int(remaining), w.resetAt
}

func (l *ipLimiter) sweepLoop() {
	ticker := time.NewTicker(l.cfg.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.done:
			return
		}
	}
}

// sweep drops windows idle for two full periods.
func (l *ipLimiter) sweep() {
	cutoff := time.Now().Add(-2 * l.cfg.WindowSize)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, w := range l.windows {
		if w.resetAt.Before(cutoff) {
			delete(l.windows, ip)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("rate limiter sweep", "removed", removed, "tracked", len(l.windows))
	}
}

func (l *ipLimiter) stop() {
	close(l.done)
}

// rateLimitMiddleware rejects clients that exceed their per-IP budget
// with a 429 and standard rate limit headers.
func rateLimitMiddleware(next http.Handler, cfg config.RateLimitConfig) http.Handler {
	limiter := newIPLimiter(cfg)

	exempt := make(map[string]bool, len(cfg.ExemptPaths))
	for _, path := range cfg.ExemptPaths {
		exempt[path] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r, cfg.TrustProxy)
		ok, remaining, resetAt := limiter.allow(ip)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerIP+cfg.BurstSize))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

		if !ok {
			slog.Warn("rate limit exceeded",
				"ip", ip,
				"path", r.URL.Path,
				"method", r.Method,
			)

			retryAfter := int(time.Until(resetAt).Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"code":"RATE_LIMITED","message":"too many requests","retry_after":%d}`, retryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the client address, honoring proxy headers only
// when the deployment says the proxy is trusted.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// First hop is the original client.
			if i := strings.IndexByte(xff, ','); i >= 0 {
				return strings.TrimSpace(xff[:i])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
