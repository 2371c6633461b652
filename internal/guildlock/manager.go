package guildlock

import (
	"context"
	"time"

	"invite-sentinel/internal/metrics"
	"invite-sentinel/internal/state"
)

// Manager serializes critical sections per guild. Sections for different guilds
// never wait on each other. Acquisition is not re-entrant.
type Manager struct {
	locks *state.Registry[guildLock]
}

type guildLock struct {
	sem chan struct{}
}

func New() *Manager {
	return &Manager{
		locks: state.NewRegistry(func(string) *guildLock {
			return &guildLock{sem: make(chan struct{}, 1)}
		}),
	}
}

// WithGuildLock runs fn while holding the guild's lock. The lock is released when fn
// returns or panics, and fn's error is returned unchanged. If ctx ends while waiting,
// fn is not run and ctx.Err() is returned.
func (m *Manager) WithGuildLock(ctx context.Context, guildID string, fn func(ctx context.Context) error) error {
	lock := m.locks.Get(guildID)

	started := time.Now()
	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	metrics.ObserveLockWait(started)
	defer func() { <-lock.sem }()

	return fn(ctx)
}

// Guilds reports how many guild locks have been created.
func (m *Manager) Guilds() int {
	return m.locks.Len()
}
