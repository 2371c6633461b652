package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"invite-sentinel/internal/events"
	"invite-sentinel/internal/state"
)

// Dispatcher handles one event to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev events.Event) error
}

// Queue hands events to the dispatcher one guild at a time, in submission
// order. Each guild with pending events has a single draining goroutine, which
// exits once the guild's queue is empty. Different guilds drain in parallel.
type Queue struct {
	ctx        context.Context
	dispatcher Dispatcher
	logger     *zap.Logger
	timeout    time.Duration

	guilds *state.Registry[guildQueue]
	wg     sync.WaitGroup
}

type guildQueue struct {
	mu       sync.Mutex
	pending  []events.Event
	draining bool
}

func NewQueue(ctx context.Context, dispatcher Dispatcher, logger *zap.Logger, timeout time.Duration) *Queue {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Queue{
		ctx:        ctx,
		dispatcher: dispatcher,
		logger:     logger,
		timeout:    timeout,
		guilds:     state.NewRegistry(func(string) *guildQueue { return &guildQueue{} }),
	}
}

// Submit enqueues ev behind every earlier event of the same guild. It never blocks
// on event processing, so the caller's order is the processing order.
func (q *Queue) Submit(ev events.Event) {
	gq := q.guilds.Get(ev.Guild())

	gq.mu.Lock()
	gq.pending = append(gq.pending, ev)
	if gq.draining {
		gq.mu.Unlock()
		return
	}
	gq.draining = true
	gq.mu.Unlock()

	q.wg.Add(1)
	go q.drain(gq)
}

func (q *Queue) drain(gq *guildQueue) {
	defer q.wg.Done()
	for {
		gq.mu.Lock()
		if len(gq.pending) == 0 {
			gq.draining = false
			gq.mu.Unlock()
			return
		}
		ev := gq.pending[0]
		gq.pending[0] = nil
		gq.pending = gq.pending[1:]
		gq.mu.Unlock()

		q.run(ev)
	}
}

func (q *Queue) run(ev events.Event) {
	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()
	if err := q.dispatcher.Dispatch(ctx, ev); err != nil {
		q.logger.Error("event not processed",
			zap.String("event", events.Name(ev)),
			zap.String("guild_id", ev.Guild()),
			zap.Error(err),
		)
	}
}

// Wait blocks until every submitted event has been handled.
func (q *Queue) Wait() {
	q.wg.Wait()
}
