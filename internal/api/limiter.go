package api

import (
	"sync"
	"time"

	"kostbook/internal/config"

	"golang.org/x/time/rate"
)

const (
	defaultBurst      = 5
	limiterIdleTTL    = 10 * time.Minute
	limiterPruneEvery = 1024
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per caller key, shared by the HTTP
// middleware and the gRPC interceptor. Buckets idle for limiterIdleTTL are
// dropped so per-IP keys do not accumulate.
type rateLimiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	calls   int
}

func newRateLimiter(cfg config.APIRateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return &rateLimiter{
		rps:     rate.Limit(cfg.RPS),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *rateLimiter) enabled() bool {
	return l != nil && l.rps > 0
}

// allow consumes a token for key. A disabled limiter always allows.
func (l *rateLimiter) allow(key string) bool {
	if !l.enabled() {
		return true
	}
	now := l.now()

	l.mu.Lock()
	l.calls++
	if l.calls%limiterPruneEvery == 0 {
		l.pruneLocked(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

func (l *rateLimiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(l.buckets, key)
		}
	}
}

func (l *rateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
