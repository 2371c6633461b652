package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"invite-sentinel/internal/host"
)

type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

// Host performs platform calls through a discordgo session. Invite listing
// runs behind a circuit breaker because every join depends on it.
type Host struct {
	session *discordgo.Session
	logger  *zap.Logger
	invites *gobreaker.CircuitBreaker[[]*discordgo.Invite]
}

var _ host.Host = (*Host)(nil)

func NewHost(session *discordgo.Session, logger *zap.Logger, cfg BreakerConfig) *Host {
	return &Host{
		session: session,
		logger:  logger,
		invites: newBreaker[[]*discordgo.Invite]("guild_invites", cfg, logger),
	}
}

func newBreaker[T any](name string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[T] {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// guarded runs fn through the breaker, reporting a rejected call as
// host.ErrUnavailable.
func guarded[T any](cb *gobreaker.CircuitBreaker[T], fn func() (T, error)) (T, error) {
	result, err := cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return result, fmt.Errorf("%w: %v", host.ErrUnavailable, err)
	}
	return result, err
}

func (h *Host) ListActiveInvites(ctx context.Context, guildID string) ([]host.Invite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := guarded(h.invites, func() ([]*discordgo.Invite, error) {
		return h.session.GuildInvites(guildID)
	})
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	invites := make([]host.Invite, 0, len(raw))
	for _, invite := range raw {
		if invite == nil || invite.Code == "" || invite.Revoked {
			continue
		}
		converted := host.Invite{
			Code:      invite.Code,
			Uses:      invite.Uses,
			MaxUses:   invite.MaxUses,
			Temporary: invite.Temporary,
		}
		if invite.Inviter != nil {
			converted.InviterID = invite.Inviter.ID
		}
		invites = append(invites, converted)
	}
	return invites, nil
}

func (h *Host) DeleteInvite(ctx context.Context, _ string, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := h.session.InviteDelete(code)
	return err
}

func (h *Host) ListTextChannels(ctx context.Context, guildID string) ([]host.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	channels, err := h.session.GuildChannels(guildID)
	if err != nil {
		return nil, err
	}
	out := make([]host.Channel, 0, len(channels))
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		if channel.Type != discordgo.ChannelTypeGuildText && channel.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		out = append(out, host.Channel{ID: channel.ID, Name: channel.Name, Slowmode: channel.RateLimitPerUser})
	}
	return out, nil
}

func (h *Host) SetChannelSlowmode(ctx context.Context, _ string, channelID string, seconds int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := h.session.ChannelEditComplex(channelID, &discordgo.ChannelEdit{RateLimitPerUser: &seconds})
	return err
}

func (h *Host) FindOrCreateRole(ctx context.Context, guildID, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	roles, err := h.session.GuildRoles(guildID)
	if err != nil {
		return "", err
	}
	for _, role := range roles {
		if role != nil && strings.EqualFold(role.Name, name) {
			return role.ID, nil
		}
	}
	role, err := h.session.GuildRoleCreate(guildID, &discordgo.RoleParams{Name: name})
	if err != nil {
		return "", err
	}
	h.logger.Info("quarantine role created", zap.String("guild_id", guildID), zap.String("role_id", role.ID))
	return role.ID, nil
}

func (h *Host) AssignRole(ctx context.Context, guildID, memberID, roleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.session.GuildMemberRoleAdd(guildID, memberID, roleID)
}

func (h *Host) KickMember(ctx context.Context, guildID, memberID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.session.GuildMemberDeleteWithReason(guildID, memberID, reason)
}

func (h *Host) TimeoutMember(ctx context.Context, guildID, memberID string, until time.Time, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.session.GuildMemberTimeout(guildID, memberID, &until)
}

func (h *Host) SendMessage(ctx context.Context, channelID, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := h.session.ChannelMessageSend(channelID, content)
	return err
}
