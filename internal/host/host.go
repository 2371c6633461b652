// Package host declares what the core needs from the chat platform.
package host

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the platform refuses calls for a while,
// for example behind an open circuit breaker.
var ErrUnavailable = errors.New("host unavailable")

type Invite struct {
	Code      string
	InviterID string
	Uses      int
	MaxUses   int
	Temporary bool
}

type Channel struct {
	ID       string
	Name     string
	Slowmode int
}

// Host is the set of platform queries and mutators used by the core. Every
// call is fallible and safe to retry.
type Host interface {
	ListActiveInvites(ctx context.Context, guildID string) ([]Invite, error)
	DeleteInvite(ctx context.Context, guildID, code string) error
	ListTextChannels(ctx context.Context, guildID string) ([]Channel, error)
	SetChannelSlowmode(ctx context.Context, guildID, channelID string, seconds int) error
	FindOrCreateRole(ctx context.Context, guildID, name string) (string, error)
	AssignRole(ctx context.Context, guildID, memberID, roleID string) error
	KickMember(ctx context.Context, guildID, memberID, reason string) error
	TimeoutMember(ctx context.Context, guildID, memberID string, until time.Time, reason string) error
	SendMessage(ctx context.Context, channelID, content string) error
}
