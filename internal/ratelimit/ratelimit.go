// Package ratelimit bounds how often POST /run may be invoked: token-bucket
// limiters backed by golang.org/x/time/rate, either one bucket shared across
// all callers (Allow) or one bucket per caller key (AllowKey, which the
// bridge uses with the caller's address).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedKeys caps the number of tracked per-key limiters to bound
// memory growth from callers rotating identifying keys.
const maxTrackedKeys = 4096

// Limiter rate-limits requests, optionally per caller-supplied key. A
// Limiter constructed with rps<=0 allows everything (disabled).
type Limiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	global   *rate.Limiter
	perKey   map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

// New constructs a Limiter allowing rps requests per second with the
// given burst. rps<=0 disables limiting entirely.
func New(rps float64, burst int) *Limiter {
	l := &Limiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		perKey:   make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
	if l.Enabled() {
		l.global = rate.NewLimiter(l.rps, burst)
	}
	return l
}

// Enabled reports whether this Limiter actually enforces a limit.
func (l *Limiter) Enabled() bool { return l.rps > 0 }

// Allow reports whether a request is permitted right now, against the
// single shared bucket.
func (l *Limiter) Allow() bool {
	if !l.Enabled() {
		return true
	}
	return l.global.Allow()
}

// AllowKey reports whether a request keyed by key (e.g. a remote address)
// is permitted right now, against a bucket tracked per key.
func (l *Limiter) AllowKey(key string) bool {
	if !l.Enabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.perKey) >= maxTrackedKeys {
		l.evictStaleLocked()
	}

	lim, ok := l.perKey[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.perKey[key] = lim
	}
	l.lastSeen[key] = time.Now()
	return lim.Allow()
}

func (l *Limiter) evictStaleLocked() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for k, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.perKey, k)
			delete(l.lastSeen, k)
		}
	}
	for len(l.perKey) >= maxTrackedKeys {
		for k := range l.perKey {
			delete(l.perKey, k)
			delete(l.lastSeen, k)
			break
		}
	}
}
