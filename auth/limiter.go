package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter rate-limits login attempts per client key.
type Limiter struct {
	mu     sync.Mutex
	limits map[string]*entry
	every  rate.Limit
	burst  int
	now    func() time.Time
}

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewLimiter allows burst attempts per key, refilled at n per interval.
func NewLimiter(n int, interval time.Duration, burst int) *Limiter {
	return &Limiter{
		limits: make(map[string]*entry),
		every:  rate.Every(interval / time.Duration(n)),
		burst:  burst,
		now:    time.Now,
	}
}

// NewLoginLimiter allows 5 attempts per minute per client.
func NewLoginLimiter() *Limiter {
	return NewLimiter(5, time.Minute, 5)
}

func (l *Limiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limits[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.every, l.burst)}
		l.limits[key] = e
	}
	e.seen = l.now()
	return e.lim
}

// Allow reports whether key may make another attempt now.
func (l *Limiter) Allow(key string) bool {
	return l.limiter(key).Allow()
}

// Reset forgets key, typically after a successful login.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.limits, key)
	l.mu.Unlock()
}

// Prune forgets keys with no attempt in the last idle and returns how many
// were dropped. idle should exceed the refill interval, otherwise a pruned
// client starts over with a full burst.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	n := 0
	for key, e := range l.limits {
		if e.seen.Before(cutoff) {
			delete(l.limits, key)
			n++
		}
	}
	return n
}
