// Package hostfake is an in-memory host.Host used by tests.
package hostfake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"invite-sentinel/internal/host"
)

var ErrForbidden = errors.New("missing permissions")

type Kick struct {
	GuildID  string
	MemberID string
	Reason   string
}

type Timeout struct {
	GuildID  string
	MemberID string
	Until    time.Time
}

type Message struct {
	ChannelID string
	Content   string
}

// Host records every mutation. Fail* fields inject errors per operation.
type Host struct {
	mu sync.Mutex

	invites  map[string]map[string]host.Invite
	channels map[string]map[string]host.Channel
	roles    map[string]map[string]string

	Assigned map[string][]string
	Kicks    []Kick
	Timeouts []Timeout
	Messages []Message
	Deleted  []string

	FailList     error
	FailSlowmode map[string]error
	FailKick     error
	FailAssign   error
	FailDelete   error
	FailTimeout  error
	FailRole     error

	ListCalls int
}

var _ host.Host = (*Host)(nil)

func New() *Host {
	return &Host{
		invites:      make(map[string]map[string]host.Invite),
		channels:     make(map[string]map[string]host.Channel),
		roles:        make(map[string]map[string]string),
		Assigned:     make(map[string][]string),
		FailSlowmode: make(map[string]error),
	}
}

// SetInvite creates or replaces an invite on the fake platform.
func (h *Host) SetInvite(guildID string, invite host.Invite) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.invites[guildID] == nil {
		h.invites[guildID] = make(map[string]host.Invite)
	}
	h.invites[guildID][invite.Code] = invite
}

// Use bumps an invite's use count by n.
func (h *Host) Use(guildID, code string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	invite := h.invites[guildID][code]
	invite.Uses += n
	h.invites[guildID][code] = invite
}

func (h *Host) SetChannel(guildID string, channel host.Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[guildID] == nil {
		h.channels[guildID] = make(map[string]host.Channel)
	}
	h.channels[guildID][channel.ID] = channel
}

func (h *Host) Slowmode(guildID, channelID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channels[guildID][channelID].Slowmode
}

func (h *Host) Snapshot() (kicks []Kick, timeouts []Timeout, messages []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Kick(nil), h.Kicks...), append([]Timeout(nil), h.Timeouts...), append([]Message(nil), h.Messages...)
}

func (h *Host) ListActiveInvites(_ context.Context, guildID string) ([]host.Invite, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ListCalls++
	if h.FailList != nil {
		return nil, h.FailList
	}
	invites := make([]host.Invite, 0, len(h.invites[guildID]))
	for _, invite := range h.invites[guildID] {
		invites = append(invites, invite)
	}
	sort.Slice(invites, func(i, j int) bool { return invites[i].Code < invites[j].Code })
	return invites, nil
}

func (h *Host) DeleteInvite(_ context.Context, guildID, code string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.FailDelete != nil {
		return h.FailDelete
	}
	delete(h.invites[guildID], code)
	h.Deleted = append(h.Deleted, code)
	return nil
}

func (h *Host) ListTextChannels(_ context.Context, guildID string) ([]host.Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	channels := make([]host.Channel, 0, len(h.channels[guildID]))
	for _, channel := range h.channels[guildID] {
		channels = append(channels, channel)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].ID < channels[j].ID })
	return channels, nil
}

func (h *Host) SetChannelSlowmode(_ context.Context, guildID, channelID string, seconds int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.FailSlowmode[channelID]; err != nil {
		return err
	}
	channel, ok := h.channels[guildID][channelID]
	if !ok {
		return fmt.Errorf("unknown channel %s", channelID)
	}
	channel.Slowmode = seconds
	h.channels[guildID][channelID] = channel
	return nil
}

func (h *Host) FindOrCreateRole(_ context.Context, guildID, name string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.FailRole != nil {
		return "", h.FailRole
	}
	if h.roles[guildID] == nil {
		h.roles[guildID] = make(map[string]string)
	}
	if id, ok := h.roles[guildID][name]; ok {
		return id, nil
	}
	id := fmt.Sprintf("role-%s-%d", name, len(h.roles[guildID])+1)
	h.roles[guildID][name] = id
	return id, nil
}

func (h *Host) AssignRole(_ context.Context, guildID, memberID, roleID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.FailAssign != nil {
		return h.FailAssign
	}
	h.Assigned[memberID] = append(h.Assigned[memberID], roleID)
	return nil
}

func (h *Host) KickMember(_ context.Context, guildID, memberID, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Kicks = append(h.Kicks, Kick{GuildID: guildID, MemberID: memberID, Reason: reason})
	return h.FailKick
}

func (h *Host) TimeoutMember(_ context.Context, guildID, memberID string, until time.Time, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.FailTimeout != nil {
		return h.FailTimeout
	}
	h.Timeouts = append(h.Timeouts, Timeout{GuildID: guildID, MemberID: memberID, Until: until})
	return nil
}

func (h *Host) SendMessage(_ context.Context, channelID, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Messages = append(h.Messages, Message{ChannelID: channelID, Content: content})
	return nil
}
