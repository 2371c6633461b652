package security

import (
	"context"
	"sync"
)

// SlowmodeBackup stores each channel's slowmode as it was before lockdown so
// unlock can put it back.
type SlowmodeBackup interface {
	Save(ctx context.Context, guildID string, prior map[string]int) error
	Load(ctx context.Context, guildID string) (map[string]int, bool, error)
	Clear(ctx context.Context, guildID string) error
}

// MemoryBackup keeps backups in process memory; they do not survive a restart.
type MemoryBackup struct {
	mu   sync.Mutex
	data map[string]map[string]int
}

func NewMemoryBackup() *MemoryBackup {
	return &MemoryBackup{data: make(map[string]map[string]int)}
}

func (b *MemoryBackup) Save(_ context.Context, guildID string, prior map[string]int) error {
	copied := make(map[string]int, len(prior))
	for id, seconds := range prior {
		copied[id] = seconds
	}
	b.mu.Lock()
	b.data[guildID] = copied
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackup) Load(_ context.Context, guildID string) (map[string]int, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prior, ok := b.data[guildID]
	if !ok {
		return nil, false, nil
	}
	copied := make(map[string]int, len(prior))
	for id, seconds := range prior {
		copied[id] = seconds
	}
	return copied, true, nil
}

func (b *MemoryBackup) Clear(_ context.Context, guildID string) error {
	b.mu.Lock()
	delete(b.data, guildID)
	b.mu.Unlock()
	return nil
}
