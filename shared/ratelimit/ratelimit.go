// Package ratelimit keeps one token bucket per key (wallet address or
// client IP) and forgets keys that have been idle for a while.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a keyed collection of token buckets.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*entry

	rps   float64
	burst int

	cleanupInterval time.Duration
	entryTTL        time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New creates a limiter allowing rps requests per second per key with the
// given burst, and starts its cleanup loop.
func New(rps float64, burst int) *Limiter {
	l := &Limiter{
		limiters:        make(map[string]*entry),
		rps:             rps,
		burst:           burst,
		cleanupInterval: 5 * time.Minute,
		entryTTL:        10 * time.Minute,
		stop:            make(chan struct{}),
		now:             time.Now,
	}

	go l.cleanupLoop()

	return l
}

// Allow reports whether one more request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.limiters[key] = e
	}
	e.lastAccess = now

	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Stop ends the cleanup loop.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

// cleanup drops keys not seen within entryTTL.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.entryTTL)
	for key, e := range l.limiters {
		if e.lastAccess.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}
