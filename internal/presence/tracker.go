// Package presence tracks which players pinged recently so the service can
// report an online count.
package presence

import (
	"sync"
	"time"

	"github.com/clicker-leaderboard/internal/domain"
)

// Tracker records the last ping time per player identity
type Tracker struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
	window   time.Duration
}

// NewTracker creates a tracker that counts players seen within window as online
func NewTracker(window time.Duration) *Tracker {
	return &Tracker{
		lastSeen: make(map[string]time.Time),
		window:   window,
	}
}

// RecordPing marks a player as seen at now. Unusable usernames are ignored;
// presence is best-effort and never fails the caller.
func (t *Tracker) RecordPing(username string, now time.Time) {
	identity := domain.NormalizeIdentity(username)
	if !domain.ValidIdentity(identity) {
		return
	}

	t.mu.Lock()
	t.lastSeen[identity] = now
	t.mu.Unlock()
}

// CountOnline returns how many players pinged within the window ending at now
func (t *Tracker) CountOnline(now time.Time) int {
	cutoff := now.Add(-t.window)

	t.mu.RLock()
	defer t.mu.RUnlock()

	online := 0
	for _, seen := range t.lastSeen {
		if !seen.Before(cutoff) {
			online++
		}
	}
	return online
}

// Reap drops players last seen strictly before the window and returns how
// many were removed
func (t *Tracker) Reap(now time.Time) int {
	cutoff := now.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for identity, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			delete(t.lastSeen, identity)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identities, online or not
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.lastSeen)
}
