// Package ratelimiter implements the RateLimiter collaborator port named in
// the external interfaces: RateLimiter.check(key, limit, window) -> Allowed |
// TooManyRequests{retry_after}. cmd/relay passes a PortAdapter to
// ingest.New, which keeps it on the Engine; the ingest pipeline itself does
// not call Check, so no event is rejected as rate limited.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kukuri-network/community-node/internal/ports"
)

// Decision is the outcome of a check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter is a per-key token-bucket limiter. Each distinct key (typically a
// pubkey or peer id) gets its own independent bucket, created lazily and
// reused across calls with the same (limit, window) pair.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*entry
}

type entry struct {
	limiter    *rate.Limiter
	limit      int
	window     time.Duration
	lastAccess time.Time
}

// New returns an empty keyed limiter.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*entry)}
}

// Check evaluates whether key may perform one more action within limit
// occurrences per window. It satisfies the RateLimiter.check(key, limit,
// window) port: limit/window changes between calls reset that key's bucket.
func (l *Limiter) Check(key string, limit int, window time.Duration) Decision {
	if limit <= 0 || window <= 0 {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.buckets[key]
	if !ok || e.limit != limit || e.window != window {
		ratePerSec := rate.Limit(float64(limit) / window.Seconds())
		e = &entry{limiter: rate.NewLimiter(ratePerSec, limit), limit: limit, window: window}
		l.buckets[key] = e
	}
	e.lastAccess = time.Now()

	if e.limiter.Allow() {
		return Decision{Allowed: true}
	}
	reservation := e.limiter.Reserve()
	retryAfter := reservation.Delay()
	reservation.Cancel()
	return Decision{Allowed: false, RetryAfter: retryAfter}
}

// PortAdapter exposes a Limiter as a ports.RateLimiter, translating the
// port's integer-seconds window into the Limiter's time.Duration API.
type PortAdapter struct {
	*Limiter
}

// Check implements ports.RateLimiter.
func (p PortAdapter) Check(_ context.Context, key string, limit int, windowSeconds int) (ports.RateLimitDecision, error) {
	d := p.Limiter.Check(key, limit, time.Duration(windowSeconds)*time.Second)
	return ports.RateLimitDecision{
		Allowed:    d.Allowed,
		RetryAfter: int(d.RetryAfter.Round(time.Second) / time.Second),
	}, nil
}

var _ ports.RateLimiter = PortAdapter{}

// Sweep drops buckets untouched since before cutoff, bounding memory growth
// from keys (pubkeys, peer ids) that are no longer active.
func (l *Limiter) Sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.buckets {
		if e.lastAccess.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
