package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// A Limiter rate limits writes per user. Limiters of users that have been idle
// for longer than TTL are dropped.
type Limiter struct {
	RPS   float64
	Burst int
	TTL   time.Duration

	// Now returns the current time. It defaults to time.Now.
	Now func() time.Time

	mu        sync.Mutex
	m         map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Limiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = make(map[string]*visitor)
		l.lastSweep = now
	}
	l.sweep(now)
	if v, ok := l.m[key]; ok {
		v.seen = now
		return v.lim
	}
	rps := l.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := l.Burst
	if burst <= 0 {
		burst = 10
	}
	v := &visitor{lim: rate.NewLimiter(rate.Limit(rps), burst), seen: now}
	l.m[key] = v
	return v.lim
}

// sweep must be called with mu held.
func (l *Limiter) sweep(now time.Time) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if now.Sub(l.lastSweep) < ttl {
		return
	}
	for key, v := range l.m {
		if now.Sub(v.seen) >= ttl {
			delete(l.m, key)
		}
	}
	l.lastSweep = now
}

// Allow reports whether key may perform one more write now. A nil Limiter
// allows everything.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	return l.get(key, now).AllowN(now, 1)
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
