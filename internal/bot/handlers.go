package bot

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"invite-sentinel/internal/events"
	"invite-sentinel/internal/utils"
)

// eventNamespace scopes the name-based IDs derived for gateway events.
var eventNamespace = uuid.MustParse("3f1c9a52-7d0b-4c55-9a2e-4d6b8f0e21c7")

// stableID derives the same UUID for the same gateway payload so a resumed
// session replaying an event does not produce a second fact.
func stableID(parts ...any) string {
	return uuid.NewSHA1(eventNamespace, []byte(fmt.Sprint(parts...))).String()
}

func joinEvent(m *discordgo.GuildMemberAdd, received time.Time) (events.JoinEvent, bool) {
	if m == nil || m.Member == nil || m.User == nil || m.GuildID == "" {
		return events.JoinEvent{}, false
	}
	joinedAt := m.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = received
	}
	var created time.Time
	if ts, err := discordgo.SnowflakeTimestamp(m.User.ID); err == nil {
		created = ts
	}
	return events.JoinEvent{
		EventID:          stableID("join", m.GuildID, m.User.ID, joinedAt.UnixNano()),
		GuildID:          m.GuildID,
		MemberID:         m.User.ID,
		AccountCreatedAt: created,
		JoinedAt:         joinedAt,
	}, true
}

// leaveEvent carries a random ID: the gateway payload has no timestamp to
// derive a stable one from.
func leaveEvent(m *discordgo.GuildMemberRemove, received time.Time) (events.LeaveEvent, bool) {
	if m == nil || m.Member == nil || m.User == nil || m.GuildID == "" {
		return events.LeaveEvent{}, false
	}
	return events.LeaveEvent{
		EventID:  uuid.NewString(),
		GuildID:  m.GuildID,
		MemberID: m.User.ID,
		LeftAt:   received,
	}, true
}

func messageEvent(msg *discordgo.MessageCreate) (events.MessageEvent, bool) {
	if msg == nil || msg.Message == nil || msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return events.MessageEvent{}, false
	}
	return events.MessageEvent{
		GuildID:      msg.GuildID,
		ChannelID:    msg.ChannelID,
		MemberID:     msg.Author.ID,
		ContainsLink: utils.ContainsLink(msg.Content),
		SentAt:       msg.Timestamp,
	}, true
}

func inviteCreatedEvent(ev *discordgo.InviteCreate) (events.InviteChangeEvent, bool) {
	if ev == nil || ev.Invite == nil || ev.GuildID == "" || ev.Code == "" {
		return events.InviteChangeEvent{}, false
	}
	change := events.InviteChangeEvent{
		Kind:      events.InviteCreated,
		GuildID:   ev.GuildID,
		Code:      ev.Code,
		Uses:      ev.Uses,
		MaxUses:   ev.MaxUses,
		Temporary: ev.Temporary,
		At:        ev.CreatedAt,
	}
	if ev.Inviter != nil {
		change.InviterID = ev.Inviter.ID
	}
	return change, true
}

func inviteDeletedEvent(ev *discordgo.InviteDelete, received time.Time) (events.InviteChangeEvent, bool) {
	if ev == nil || ev.GuildID == "" || ev.Code == "" {
		return events.InviteChangeEvent{}, false
	}
	return events.InviteChangeEvent{
		Kind:    events.InviteDeleted,
		GuildID: ev.GuildID,
		Code:    ev.Code,
		At:      received,
	}, true
}

func guildAvailableEvent(ev *discordgo.GuildCreate) (events.GuildAvailableEvent, bool) {
	if ev == nil || ev.Guild == nil || ev.ID == "" || ev.Unavailable {
		return events.GuildAvailableEvent{}, false
	}
	return events.GuildAvailableEvent{GuildID: ev.ID, GuildName: ev.Name}, true
}

// guildRemovedEvent ignores outages, which also arrive as guild deletes.
func guildRemovedEvent(ev *discordgo.GuildDelete) (events.GuildRemovedEvent, bool) {
	if ev == nil || ev.Guild == nil || ev.ID == "" || ev.Unavailable {
		return events.GuildRemovedEvent{}, false
	}
	return events.GuildRemovedEvent{GuildID: ev.ID}, true
}
