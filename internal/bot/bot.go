package bot

import (
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"invite-sentinel/internal/events"
)

// Submitter accepts translated events in gateway order.
type Submitter interface {
	Submit(ev events.Event)
}

// Bot owns the gateway session and turns its callbacks into events.
type Bot struct {
	logger  *zap.Logger
	session *discordgo.Session
	queue   Submitter
	now     func() time.Time
}

func New(token string, logger *zap.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildInvites |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	// Handlers run on the gateway reader so submission follows arrival order.
	session.SyncEvents = true

	return &Bot{
		logger:  logger,
		session: session,
		now:     time.Now,
	}, nil
}

// Session exposes the gateway session so the platform host can share it.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Start registers the handlers and opens the gateway connection. Handlers only
// translate and submit, so they never hold up the gateway reader.
func (b *Bot) Start(submitter Submitter) error {
	b.queue = submitter

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onGuildDelete)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onInviteCreate)
	b.session.AddHandler(b.onInviteDelete)

	return b.session.Open()
}

func (b *Bot) Close() {
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) dispatch(ev events.Event) {
	b.logger.Debug("event received", zap.String("event", events.Name(ev)), zap.String("guild_id", ev.Guild()))
	b.queue.Submit(ev)
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onGuildCreate(_ *discordgo.Session, event *discordgo.GuildCreate) {
	if ev, ok := guildAvailableEvent(event); ok {
		b.dispatch(ev)
	}
}

func (b *Bot) onGuildDelete(_ *discordgo.Session, event *discordgo.GuildDelete) {
	if ev, ok := guildRemovedEvent(event); ok {
		b.dispatch(ev)
	}
}

func (b *Bot) onGuildMemberAdd(_ *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if ev, ok := joinEvent(event, b.now()); ok {
		b.dispatch(ev)
	}
}

func (b *Bot) onGuildMemberRemove(_ *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if ev, ok := leaveEvent(event, b.now()); ok {
		b.dispatch(ev)
	}
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, msg *discordgo.MessageCreate) {
	ev, ok := messageEvent(msg)
	if !ok || !ev.ContainsLink {
		return
	}
	b.dispatch(ev)
}

func (b *Bot) onInviteCreate(_ *discordgo.Session, event *discordgo.InviteCreate) {
	if ev, ok := inviteCreatedEvent(event); ok {
		b.dispatch(ev)
	}
}

func (b *Bot) onInviteDelete(_ *discordgo.Session, event *discordgo.InviteDelete) {
	if ev, ok := inviteDeletedEvent(event, b.now()); ok {
		b.dispatch(ev)
	}
}
