// Package ratelimit implements per-identity fixed-window request counting
// with an optional global token bucket in front of it. Rate accounting is
// based on admission: once a request is counted, the count is not rolled
// back if the downstream call later fails.
package ratelimit

import (
	"context"
	"math"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/time/rate"
)

type bucket struct {
	windowStart time.Time
	count       int
}

// Limiter tracks request counts per key over a fixed window. Incrementing is
// atomic relative to the limit check: the decision and the counter update
// happen under the same shard lock, so two concurrent requests can never
// both observe "under limit" for the last slot.
type Limiter struct {
	perWindow int
	window    time.Duration
	buckets   cmap.ConcurrentMap[string, bucket]
	global    *rate.Limiter
	now       func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithGlobalLimit installs a token bucket shared across all keys.
func WithGlobalLimit(perSecond, burst int) Option {
	return func(l *Limiter) {
		if perSecond > 0 {
			if burst <= 0 {
				burst = perSecond
			}
			l.global = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithClock overrides the time source. Useful for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New builds a limiter allowing perWindow requests per key per window.
func New(perWindow int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		perWindow: perWindow,
		window:    window,
		buckets:   cmap.New[bucket](),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one slot for key. When denied, retryAfter is the whole
// number of seconds until the key's window resets (at least 1).
func (l *Limiter) Allow(key string) (allowed bool, retryAfter int) {
	if key == "" {
		key = "unknown"
	}
	if l.global != nil && !l.global.Allow() {
		return false, 1
	}

	now := l.now()
	var remaining time.Duration
	l.buckets.Upsert(key, bucket{}, func(exists bool, current, _ bucket) bucket {
		if !exists || now.Sub(current.windowStart) >= l.window {
			allowed = true
			return bucket{windowStart: now, count: 1}
		}
		if current.count < l.perWindow {
			allowed = true
			current.count++
			return current
		}
		allowed = false
		remaining = l.window - now.Sub(current.windowStart)
		return current
	})
	if allowed {
		return true, 0
	}
	retryAfter = int(math.Ceil(remaining.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// StartJanitor periodically drops buckets whose window elapsed long ago.
// Returns when ctx is done.
func (l *Limiter) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	now := l.now()
	stale := make([]string, 0)
	l.buckets.IterCb(func(key string, b bucket) {
		if now.Sub(b.windowStart) >= 2*l.window {
			stale = append(stale, key)
		}
	})
	for _, key := range stale {
		l.buckets.RemoveCb(key, func(_ string, b bucket, exists bool) bool {
			return exists && now.Sub(b.windowStart) >= 2*l.window
		})
	}
}
