// ABOUTME: Per-user token bucket limiting how often turns may start
// ABOUTME: Idle buckets are swept so the map does not grow without bound

package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type userBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userLimiter hands out one rate.Limiter per user. A nil *userLimiter, or
// one built with rps <= 0, allows everything.
type userLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*userBucket
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

func newUserLimiter(rps float64, burst int) *userLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	l := &userLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*userBucket),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.sweep(limiterIdleTTL)
	return l
}

// Allow reports whether userID may start a turn now.
func (l *userLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[userID]
	if !ok {
		b = &userBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[userID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// RetryAfter is a whole-second hint for the Retry-After header.
func (l *userLimiter) RetryAfter() int {
	if l == nil || l.rps <= 0 {
		return 1
	}
	secs := int(1 / float64(l.rps))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (l *userLimiter) sweep(ttl time.Duration) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.removeIdle(ttl)
		}
	}
}

func (l *userLimiter) removeIdle(ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-ttl)
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}

// Close stops the sweeper. Safe to call more than once and on nil.
func (l *userLimiter) Close() {
	if l == nil {
		return
	}
	l.once.Do(func() { close(l.stop) })
}
