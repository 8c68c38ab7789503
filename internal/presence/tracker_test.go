package presence

import (
	"sync"
	"testing"
	"time"
)

func TestTracker_CountOnline(t *testing.T) {
	tr := NewTracker(60 * time.Second)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tr.RecordPing("bob", start)
	if got := tr.CountOnline(start); got != 1 {
		t.Fatalf("expected 1 online right after ping, got %d", got)
	}

	// The window is inclusive at exactly 60s.
	if got := tr.CountOnline(start.Add(60 * time.Second)); got != 1 {
		t.Errorf("expected bob online at the window edge, got %d", got)
	}

	if got := tr.CountOnline(start.Add(61 * time.Second)); got != 0 {
		t.Errorf("expected bob offline after 61s, got %d", got)
	}
}

func TestTracker_NormalizesAndDeduplicates(t *testing.T) {
	tr := NewTracker(time.Minute)
	now := time.Now()

	tr.RecordPing("Bob", now)
	tr.RecordPing("  bob ", now)
	tr.RecordPing("BOB", now)

	if got := tr.CountOnline(now); got != 1 {
		t.Errorf("expected one identity for bob variants, got %d", got)
	}
}

func TestTracker_IgnoresInvalidIdentity(t *testing.T) {
	tr := NewTracker(time.Minute)
	now := time.Now()

	for _, name := range []string{"", "   ", "ab!", "this_name_is_way_too_long"} {
		tr.RecordPing(name, now)
	}

	if tr.Len() != 0 {
		t.Errorf("expected invalid pings to be ignored, tracked %d", tr.Len())
	}
}

func TestTracker_Reap(t *testing.T) {
	tr := NewTracker(time.Minute)
	now := time.Now()

	tr.RecordPing("stale", now.Add(-2*time.Minute))
	tr.RecordPing("edge", now.Add(-time.Minute))
	tr.RecordPing("fresh", now)

	// Stale entries linger until reaped.
	if tr.Len() != 3 {
		t.Fatalf("expected 3 tracked before reap, got %d", tr.Len())
	}

	if removed := tr.Reap(now); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if got := tr.CountOnline(now); got != 2 {
		t.Errorf("expected 2 online after reap, got %d", got)
	}

	// Reaping an empty tracker is a no-op.
	empty := NewTracker(time.Minute)
	if removed := empty.Reap(now); removed != 0 {
		t.Errorf("expected nothing reaped from empty tracker, got %d", removed)
	}
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Minute)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			tr.RecordPing("player", now)
		}()
		go func() {
			defer wg.Done()
			tr.CountOnline(now)
		}()
		go func() {
			defer wg.Done()
			tr.Reap(now)
		}()
	}
	wg.Wait()

	if got := tr.CountOnline(now); got != 1 {
		t.Errorf("expected 1 online, got %d", got)
	}
}
