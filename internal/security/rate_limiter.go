// Package security holds request admission controls for the HTTP API.
package security

import (
	"context"
	"sync"
	"time"

	"github.com/raaihank/feedback-sentinel/internal/config"
	"golang.org/x/time/rate"
)

// idleTTL is how long an unused client limiter is kept
const idleTTL = time.Hour

// RateLimiter applies a token bucket per client IP
type RateLimiter struct {
	config  config.RateLimitConfig
	clients map[string]*clientLimiter
	mu      sync.Mutex
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  cfg,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow reports whether a request from clientIP may proceed
func (r *RateLimiter) Allow(clientIP string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.config.Enabled {
		return true
	}
	now := r.now()
	return r.getLocked(clientIP, now).AllowN(now, 1)
}

// Clients returns the number of tracked client IPs
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *RateLimiter) getLocked(clientIP string, now time.Time) *rate.Limiter {
	c, ok := r.clients[clientIP]
	if !ok {
		perSecond := rate.Limit(float64(r.config.RequestsPerMinute) / 60.0)
		c = &clientLimiter{limiter: rate.NewLimiter(perSecond, r.config.Burst)}
		r.clients[clientIP] = c
	}
	c.lastSeen = now
	return c.limiter
}

// Reconfigure applies new limits. Existing buckets are dropped so every client
// starts fresh under the new rate.
func (r *RateLimiter) Reconfigure(cfg config.RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.config = cfg
	r.clients = make(map[string]*clientLimiter)
}

// CleanupIdle removes limiters that have not been used for an hour
func (r *RateLimiter) CleanupIdle() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idleTTL)
	removed := 0
	for ip, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, ip)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine periodically drops idle limiters until ctx is done
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupIdle()
			}
		}
	}()
}
