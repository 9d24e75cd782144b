// Package ratelimit implements the per-user fixed-window limiter used
// by the import endpoint. Counters live in memory; a window is keyed by
// its start instant and resets wholesale when the next window begins.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter counts requests per key over fixed windows.
type Limiter struct {
	window time.Duration
	max    int

	now func() time.Time

	mu      sync.Mutex
	starts  map[string]time.Time
	counts  map[string]int
	lastGC  time.Time
	gcEvery time.Duration
}

// New creates a limiter allowing max requests per window per key.
func New(window time.Duration, max int) *Limiter {
	return &Limiter{
		window:  window,
		max:     max,
		now:     time.Now,
		starts:  make(map[string]time.Time),
		counts:  make(map[string]int),
		gcEvery: 10 * window,
	}
}

// Allow records an attempt for key. When the attempt is rejected it
// returns false and the time remaining until the window resets, which
// callers surface as Retry-After.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.gc(now)

	start, ok := l.starts[key]
	if !ok || now.Sub(start) >= l.window {
		l.starts[key] = now
		l.counts[key] = 1
		return true, 0
	}

	if l.counts[key] < l.max {
		l.counts[key]++
		return true, 0
	}
	return false, l.window - now.Sub(start)
}

// Remaining reports how many requests key has left in its current
// window without consuming one.
func (l *Limiter) Remaining(key string) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	start, ok := l.starts[key]
	if !ok || now.Sub(start) >= l.window {
		return l.max
	}
	left := l.max - l.counts[key]
	if left < 0 {
		return 0
	}
	return left
}

// gc drops windows stale enough to never be consulted again. Caller
// holds the lock.
func (l *Limiter) gc(now time.Time) {
	if now.Sub(l.lastGC) < l.gcEvery {
		return
	}
	l.lastGC = now
	for key, start := range l.starts {
		if now.Sub(start) >= l.window {
			delete(l.starts, key)
			delete(l.counts, key)
		}
	}
}
