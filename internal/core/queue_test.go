package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"invite-sentinel/internal/events"
)

// stallFirst holds up the first event so later ones would overtake it if the
// queue let them.
type stallFirst struct {
	next Dispatcher
	once sync.Once
}

func (s *stallFirst) Dispatch(ctx context.Context, ev events.Event) error {
	s.once.Do(func() { time.Sleep(20 * time.Millisecond) })
	return s.next.Dispatch(ctx, ev)
}

func TestQueueRecordsJoinsInSubmissionOrder(t *testing.T) {
	f := newFixture(t)
	queue := NewQueue(context.Background(), &stallFirst{next: f.core}, zap.NewNop(), time.Second)

	const n = 20
	for i := 0; i < n; i++ {
		queue.Submit(events.JoinEvent{
			EventID:          fmt.Sprintf("queued-%d", i),
			GuildID:          "g1",
			MemberID:         fmt.Sprintf("m%02d", i),
			AccountCreatedAt: f.base.Add(-365 * 24 * time.Hour),
			JoinedAt:         f.base.Add(time.Duration(i) * time.Hour),
		})
	}
	queue.Wait()

	joins, err := f.repo.ListJoins(context.Background(), "g1", 100)
	if err != nil {
		t.Fatalf("list joins: %v", err)
	}
	if len(joins) != n {
		t.Fatalf("expected %d joins, got %d", n, len(joins))
	}
	// ListJoins is newest first.
	for i, join := range joins {
		want := fmt.Sprintf("m%02d", n-1-i)
		if join.MemberID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, join.MemberID)
		}
	}
}

type gatedDispatcher struct {
	gate chan struct{}
	mu   sync.Mutex
	seen []string
}

func (d *gatedDispatcher) Dispatch(_ context.Context, ev events.Event) error {
	if ev.Guild() == "slow" {
		<-d.gate
	}
	d.mu.Lock()
	d.seen = append(d.seen, ev.Guild())
	d.mu.Unlock()
	return nil
}

func (d *gatedDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func TestQueueGuildsDrainIndependently(t *testing.T) {
	d := &gatedDispatcher{gate: make(chan struct{})}
	queue := NewQueue(context.Background(), d, zap.NewNop(), time.Second)

	queue.Submit(events.GuildAvailableEvent{GuildID: "slow"})
	queue.Submit(events.GuildAvailableEvent{GuildID: "slow"})
	queue.Submit(events.GuildAvailableEvent{GuildID: "fast"})

	deadline := time.Now().Add(time.Second)
	for d.count() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected the other guild to proceed while one is blocked")
		}
		time.Sleep(time.Millisecond)
	}

	close(d.gate)
	queue.Wait()
	if d.count() != 3 || d.seen[0] != "fast" {
		t.Fatalf("unexpected processing order: %v", d.seen)
	}
}
