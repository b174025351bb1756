package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"slackrpc/pkg/metrics"

	"golang.org/x/time/rate"
)

// RateLimiter provides per-IP rate limiting for one route
type RateLimiter struct {
	route      string
	visitors   map[string]*visitor
	mu         sync.Mutex
	rate       rate.Limit
	burst      int
	trustProxy bool

	stop chan struct{}
	once sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limit is a request budget such as "4 per minute".
type Limit struct {
	Requests int
	Per      time.Duration
}

// PerMinute returns a limit of n requests per minute.
func PerMinute(n int) Limit { return Limit{Requests: n, Per: time.Minute} }

// PerSecond returns a limit of n requests per second.
func PerSecond(n int) Limit { return Limit{Requests: n, Per: time.Second} }

// NewRateLimiter creates a limiter for route that allows limit.Requests per
// limit.Per from each client IP, with a burst of limit.Requests. Idle
// visitors are dropped every cleanup interval until Stop is called.
//
// With trustProxy the client IP is taken from X-Real-IP or the first
// X-Forwarded-For entry; otherwise only the connection address counts.
func NewRateLimiter(route string, limit Limit, trustProxy bool, cleanup time.Duration) *RateLimiter {
	rl := &RateLimiter{
		route:      route,
		visitors:   make(map[string]*visitor),
		rate:       rate.Every(limit.Per / time.Duration(limit.Requests)),
		burst:      limit.Requests,
		trustProxy: trustProxy,
		stop:       make(chan struct{}),
	}

	go rl.cleanupLoop(cleanup)

	return rl
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()

	return v.limiter.Allow()
}

// Middleware returns a rate limiting middleware
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(ClientIP(r, rl.trustProxy)) {
			metrics.RateLimitHits.WithLabelValues(rl.route).Inc()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// cleanupLoop periodically removes visitors idle for a full interval
func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-interval)
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if v.lastSeen.Before(cutoff) {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// ClientIP returns the address rate limits are keyed on.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
