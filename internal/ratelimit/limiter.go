package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows at most one accepted submission per origin per cooldown.
// It is abuse deterrence keyed on a spoofable client address, not a security
// boundary.
type Limiter struct {
	mu           sync.Mutex
	lastAccepted map[string]time.Time
	cooldown     time.Duration
	retention    time.Duration
}

// New creates a limiter. Entries idle for longer than retention are dropped by Reap.
func New(cooldown, retention time.Duration) *Limiter {
	if retention < cooldown {
		retention = cooldown
	}
	return &Limiter{
		lastAccepted: make(map[string]time.Time),
		cooldown:     cooldown,
		retention:    retention,
	}
}

// TryAccept reports whether a submission from origin is allowed at now and,
// if so, records it
func (l *Limiter) TryAccept(origin string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.lastAccepted[origin]; ok && now.Sub(last) < l.cooldown {
		return false
	}
	l.lastAccepted[origin] = now
	return true
}

// Reap removes origins whose last accepted submission is older than the
// retention period
func (l *Limiter) Reap(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for origin, last := range l.lastAccepted {
		if now.Sub(last) > l.retention {
			delete(l.lastAccepted, origin)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked origins
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lastAccepted)
}
