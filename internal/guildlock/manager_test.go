package guildlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSameGuildSerialized(t *testing.T) {
	manager := New()
	ctx := context.Background()

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = manager.WithGuildLock(ctx, "g1", func(context.Context) error {
				current := atomic.AddInt32(&inside, 1)
				for {
					seen := atomic.LoadInt32(&maxInside)
					if current <= seen || atomic.CompareAndSwapInt32(&maxInside, seen, current) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected at most 1 concurrent section, got %d", maxInside)
	}
	if manager.Guilds() != 1 {
		t.Fatalf("expected 1 lock, got %d", manager.Guilds())
	}
}

func TestDifferentGuildsRunInParallel(t *testing.T) {
	manager := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- manager.WithGuildLock(ctx, "g1", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := manager.WithGuildLock(ctx, "g2", func(context.Context) error {
		close(release)
		return nil
	})
	if err != nil {
		t.Fatalf("g2 section blocked by g1: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("g1 section failed: %v", err)
	}
}

func TestErrorReleasesLock(t *testing.T) {
	manager := New()
	ctx := context.Background()
	boom := errors.New("persist failed")

	if err := manager.WithGuildLock(ctx, "g1", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}

	ran := false
	if err := manager.WithGuildLock(ctx, "g1", func(context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatalf("expected lock to be reusable after an error")
	}
}

func TestPanicReleasesLock(t *testing.T) {
	manager := New()
	ctx := context.Background()

	func() {
		defer func() { _ = recover() }()
		_ = manager.WithGuildLock(ctx, "g1", func(context.Context) error { panic("boom") })
	}()

	shortCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := manager.WithGuildLock(shortCtx, "g1", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected lock released after panic, got %v", err)
	}
}

func TestContextCancelledWhileWaiting(t *testing.T) {
	manager := New()
	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = manager.WithGuildLock(context.Background(), "g1", func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := manager.WithGuildLock(ctx, "g1", func(context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if ran {
		t.Fatalf("section must not run after the context ended")
	}
}
