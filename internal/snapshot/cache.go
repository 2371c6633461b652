package snapshot

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"invite-sentinel/internal/host"
	"invite-sentinel/internal/metrics"
	"invite-sentinel/internal/state"
)

// Entry is one invite as of the last observation.
type Entry struct {
	InviterID string
	Uses      int
}

// Snapshot maps invite code to its last observed entry.
type Snapshot map[string]Entry

func (s Snapshot) clone() Snapshot {
	out := make(Snapshot, len(s))
	for code, entry := range s {
		out[code] = entry
	}
	return out
}

// FromInvites builds a snapshot from a live invite listing.
func FromInvites(invites []host.Invite) Snapshot {
	out := make(Snapshot, len(invites))
	for _, invite := range invites {
		out[invite.Code] = Entry{InviterID: invite.InviterID, Uses: invite.Uses}
	}
	return out
}

// InviteLister is the authoritative invite source used for reconciliation.
type InviteLister interface {
	ListActiveInvites(ctx context.Context, guildID string) ([]host.Invite, error)
}

// Cache mirrors each guild's invites in memory. A guild's partition is
// populated only by a successful reconciliation or Apply; until then Peek
// reports it as missing.
type Cache struct {
	lister InviteLister
	logger *zap.Logger
	guilds *state.Registry[partition]
	group  singleflight.Group
}

type partition struct {
	mu        sync.RWMutex
	invites   Snapshot
	populated bool
}

func New(lister InviteLister, logger *zap.Logger) *Cache {
	return &Cache{
		lister: lister,
		logger: logger,
		guilds: state.NewRegistry(func(string) *partition { return &partition{} }),
	}
}

// Peek returns a copy of the guild's snapshot without reconciling.
func (c *Cache) Peek(guildID string) (Snapshot, bool) {
	p, ok := c.guilds.Peek(guildID)
	if !ok {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.populated {
		return nil, false
	}
	return p.invites.clone(), true
}

// Get returns the guild's snapshot, reconciling first if it was never populated.
func (c *Cache) Get(ctx context.Context, guildID string) (Snapshot, error) {
	if snap, ok := c.Peek(guildID); ok {
		return snap, nil
	}
	return c.Reconcile(ctx, guildID)
}

// Reconcile replaces the guild's snapshot with the authoritative listing.
// Concurrent calls for the same guild share one listing.
func (c *Cache) Reconcile(ctx context.Context, guildID string) (Snapshot, error) {
	result, err, _ := c.group.Do(guildID, func() (any, error) {
		invites, err := c.lister.ListActiveInvites(ctx, guildID)
		if err != nil {
			metrics.SnapshotReconciles.WithLabelValues("failed").Inc()
			return nil, err
		}
		c.Apply(guildID, invites)
		metrics.SnapshotReconciles.WithLabelValues("ok").Inc()
		c.logger.Debug("invite snapshot reconciled", zap.String("guild_id", guildID), zap.Int("invites", len(invites)))
		return FromInvites(invites), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(Snapshot).clone(), nil
}

// Apply replaces the snapshot with live unconditionally. Invites absent from
// live are pruned.
func (c *Cache) Apply(guildID string, live []host.Invite) {
	p := c.guilds.Get(guildID)
	next := FromInvites(live)
	p.mu.Lock()
	p.invites = next
	p.populated = true
	p.mu.Unlock()
}

// OnInviteCreated records a new invite. Unpopulated partitions are left alone
// so a single patch never passes for a full reconciliation.
func (c *Cache) OnInviteCreated(guildID string, invite host.Invite) {
	c.patch(guildID, func(s Snapshot) {
		s[invite.Code] = Entry{InviterID: invite.InviterID, Uses: invite.Uses}
	})
}

func (c *Cache) OnInviteUpdated(guildID string, invite host.Invite) {
	c.patch(guildID, func(s Snapshot) {
		entry := s[invite.Code]
		if invite.InviterID != "" {
			entry.InviterID = invite.InviterID
		}
		entry.Uses = invite.Uses
		s[invite.Code] = entry
	})
}

func (c *Cache) OnInviteDeleted(guildID, code string) {
	c.patch(guildID, func(s Snapshot) {
		delete(s, code)
	})
}

// Evict drops the guild's partition; the next Get reconciles again.
func (c *Cache) Evict(guildID string) {
	c.guilds.Delete(guildID)
}

func (c *Cache) patch(guildID string, fn func(Snapshot)) {
	p, ok := c.guilds.Peek(guildID)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.populated {
		return
	}
	fn(p.invites)
}
