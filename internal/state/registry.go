package state

import "sync"

// Registry holds one lazily created partition per guild. Partitions live until
// Delete is called, so the cardinality is bounded by the number of active guilds.
type Registry[T any] struct {
	mu    sync.Mutex
	items map[string]*T
	newFn func(guildID string) *T
}

func NewRegistry[T any](newFn func(guildID string) *T) *Registry[T] {
	return &Registry[T]{
		items: make(map[string]*T),
		newFn: newFn,
	}
}

func (r *Registry[T]) Get(guildID string) *T {
	r.mu.Lock()
	defer r.mu.Unlock()
	item := r.items[guildID]
	if item == nil {
		item = r.newFn(guildID)
		r.items[guildID] = item
	}
	return item
}

// Peek returns the partition without creating it.
func (r *Registry[T]) Peek(guildID string) (*T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[guildID]
	return item, ok
}

func (r *Registry[T]) Delete(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, guildID)
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Range calls fn for a point-in-time copy of the partitions; fn may call back into the registry.
func (r *Registry[T]) Range(fn func(guildID string, item *T) bool) {
	r.mu.Lock()
	copied := make(map[string]*T, len(r.items))
	for key, item := range r.items {
		copied[key] = item
	}
	r.mu.Unlock()

	for key, item := range copied {
		if !fn(key, item) {
			return
		}
	}
}
