package window

import (
	"sync"
	"testing"
	"time"
)

func TestCountSince(t *testing.T) {
	tracker := NewTracker(time.Minute)
	key := JoinsKey("g1")
	now := time.Unix(1000, 0)

	if count := tracker.Record(key, now); count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}
	tracker.Record(key, now.Add(1*time.Second))
	tracker.Record(key, now.Add(2*time.Second))
	tracker.Record(key, now.Add(3*time.Second))

	if count := tracker.CountSince(key, now.Add(2*time.Second)); count != 2 {
		t.Fatalf("expected 2 at or after cutoff, got %d", count)
	}
	if count := tracker.CountSince(key, now.Add(-time.Second)); count != 4 {
		t.Fatalf("expected 4, got %d", count)
	}
	if count := tracker.CountSince(JoinsKey("g2"), now); count != 0 {
		t.Fatalf("expected 0 for unknown key, got %d", count)
	}
}

func TestEvictOlderThan(t *testing.T) {
	tracker := NewTracker(time.Minute)
	key := LinksKey("g1", "u1")
	now := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		tracker.Record(key, now.Add(time.Duration(i)*time.Second))
	}

	tracker.EvictOlderThan(key, now.Add(3*time.Second))
	if count := tracker.CountSince(key, time.Time{}); count != 2 {
		t.Fatalf("expected 2 after eviction, got %d", count)
	}
}

func TestRetentionBoundsMemory(t *testing.T) {
	tracker := NewTracker(5 * time.Second)
	key := JoinsKey("g1")
	now := time.Unix(1000, 0)

	tracker.Record(key, now)
	tracker.Record(key, now.Add(time.Second))
	if count := tracker.Record(key, now.Add(6*time.Second)); count != 2 {
		t.Fatalf("expected retention to drop the oldest entry, got %d", count)
	}
}

func TestOutOfOrderRecord(t *testing.T) {
	tracker := NewTracker(time.Minute)
	key := JoinsKey("g1")
	now := time.Unix(1000, 0)

	tracker.Record(key, now.Add(2*time.Second))
	tracker.Record(key, now)
	tracker.Record(key, now.Add(1*time.Second))

	if count := tracker.CountSince(key, now.Add(time.Second)); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	tracker := NewTracker(time.Minute)
	now := time.Unix(1000, 0)
	tracker.Record(LinksKey("g1", "u1"), now)
	tracker.Record(LinksKey("g1", "u1"), now)
	tracker.Record(LinksKey("g1", "u2"), now)

	if count := tracker.CountSince(LinksKey("g1", "u1"), now); count != 2 {
		t.Fatalf("expected 2 for u1, got %d", count)
	}
	tracker.Reset(LinksKey("g1", "u1"))
	if count := tracker.CountSince(LinksKey("g1", "u1"), now); count != 0 {
		t.Fatalf("expected reset series to be empty, got %d", count)
	}
	if count := tracker.CountSince(LinksKey("g1", "u2"), now); count != 1 {
		t.Fatalf("expected u2 untouched, got %d", count)
	}
}

func TestSweepDropsIdleSeries(t *testing.T) {
	tracker := NewTracker(10 * time.Second)
	now := time.Unix(1000, 0)
	tracker.Record(JoinsKey("g1"), now)
	tracker.Record(JoinsKey("g2"), now.Add(30*time.Second))

	if removed := tracker.Sweep(now.Add(31 * time.Second)); removed != 1 {
		t.Fatalf("expected 1 idle series removed, got %d", removed)
	}
	if count := tracker.CountSince(JoinsKey("g2"), now); count != 1 {
		t.Fatalf("expected active series kept, got %d", count)
	}
}

func TestConcurrentRecord(t *testing.T) {
	tracker := NewTracker(time.Hour)
	key := JoinsKey("g1")
	now := time.Unix(1000, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tracker.Record(key, now.Add(time.Duration(i)*time.Millisecond))
		}(i)
	}
	wg.Wait()

	if count := tracker.CountSince(key, now); count != 50 {
		t.Fatalf("expected 50, got %d", count)
	}
}
