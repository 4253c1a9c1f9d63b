package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// KeyedLimiter hands out a rate.Limiter per key (username or remote IP),
// used to slow down password and TOTP brute-force attempts (spec.md §4.2
// "login and TOTP verification are rate-limited per source"). The shape —
// a mutex-protected map with an explicit eviction path — is grounded on
// the per-agent connection accounting in the teacher's MCP transport.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewKeyedLimiter returns a limiter allowing r events/sec with the given
// burst, tracked independently per key.
func NewKeyedLimiter(r rate.Limit, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		burst:    burst,
	}
}

// Allow reports whether an event for key is permitted right now.
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.r, k.burst)
		k.limiters[key] = l
	}
	k.mu.Unlock()
	return l.Allow()
}

// Forget drops a key's limiter, e.g. after a successful login resets the
// backoff for that source.
func (k *KeyedLimiter) Forget(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.limiters, key)
}

// Len reports how many distinct keys currently hold a limiter, for tests
// and metrics.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}
