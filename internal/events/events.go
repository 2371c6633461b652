// Package events defines the inbound event variants consumed by the core
// dispatcher. Adapters translate transport callbacks into these values.
package events

import "time"

// Event is implemented only by the types in this package.
type Event interface {
	Guild() string
	event()
}

// JoinEvent is a member joining a guild. EventID is the idempotency key for
// the resulting join fact and must be stable across retries.
type JoinEvent struct {
	EventID          string
	GuildID          string
	MemberID         string
	AccountCreatedAt time.Time
	JoinedAt         time.Time
}

type LeaveEvent struct {
	EventID  string
	GuildID  string
	MemberID string
	LeftAt   time.Time
}

type MessageEvent struct {
	GuildID      string
	ChannelID    string
	MemberID     string
	ContainsLink bool
	SentAt       time.Time
}

type InviteChangeKind string

const (
	InviteCreated InviteChangeKind = "create"
	InviteUpdated InviteChangeKind = "update"
	InviteDeleted InviteChangeKind = "delete"
)

type InviteChangeEvent struct {
	Kind      InviteChangeKind
	GuildID   string
	Code      string
	InviterID string
	Uses      int
	MaxUses   int
	Temporary bool
	At        time.Time
}

// GuildAvailableEvent is emitted when the process gains access to a guild.
type GuildAvailableEvent struct {
	GuildID   string
	GuildName string
}

type GuildRemovedEvent struct {
	GuildID string
}

func (e JoinEvent) Guild() string           { return e.GuildID }
func (e LeaveEvent) Guild() string          { return e.GuildID }
func (e MessageEvent) Guild() string        { return e.GuildID }
func (e InviteChangeEvent) Guild() string   { return e.GuildID }
func (e GuildAvailableEvent) Guild() string { return e.GuildID }
func (e GuildRemovedEvent) Guild() string   { return e.GuildID }

func (JoinEvent) event()           {}
func (LeaveEvent) event()          {}
func (MessageEvent) event()        {}
func (InviteChangeEvent) event()   {}
func (GuildAvailableEvent) event() {}
func (GuildRemovedEvent) event()   {}

// Name returns a short label for logs and metrics.
func Name(e Event) string {
	switch e.(type) {
	case JoinEvent:
		return "join"
	case LeaveEvent:
		return "leave"
	case MessageEvent:
		return "message"
	case InviteChangeEvent:
		return "invite"
	case GuildAvailableEvent:
		return "guild_available"
	case GuildRemovedEvent:
		return "guild_removed"
	default:
		return "unknown"
	}
}
