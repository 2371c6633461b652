package attribution

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"invite-sentinel/internal/events"
	"invite-sentinel/internal/host"
	"invite-sentinel/internal/metrics"
	"invite-sentinel/internal/snapshot"
	"invite-sentinel/internal/stats"
	"invite-sentinel/internal/storage"
)

// Input carries everything one attribution needs. Live and ListErr are the
// result of listing the guild's invites at join time.
type Input struct {
	Event    events.JoinEvent
	Settings storage.GuildSettings
	Live     []host.Invite
	ListErr  error
}

type Outcome struct {
	Join   storage.InviteJoin
	Result Result
	// Recorded is false when the event ID was already persisted.
	Recorded bool
}

// Engine turns join events into join facts. Process must run inside the
// guild's critical section.
type Engine struct {
	repo              storage.Repository
	cache             *snapshot.Cache
	logger            *zap.Logger
	unknownConfidence float64
}

func NewEngine(repo storage.Repository, cache *snapshot.Cache, logger *zap.Logger, unknownConfidence float64) *Engine {
	if unknownConfidence < 0 || unknownConfidence > 1 {
		unknownConfidence = DefaultUnknownConfidence
	}
	return &Engine{repo: repo, cache: cache, logger: logger, unknownConfidence: unknownConfidence}
}

func (e *Engine) Process(ctx context.Context, in Input) (Outcome, error) {
	ev := in.Event
	guildID := ev.GuildID

	var result Result
	if in.ListErr != nil {
		e.logger.Warn("invite listing unavailable, attributing as unknown",
			zap.String("guild_id", guildID),
			zap.String("event_id", ev.EventID),
			zap.Error(in.ListErr),
		)
		result = Unknown(e.unknownConfidence)
	} else {
		prev, ok := e.cache.Peek(guildID)
		result = Decide(prev, ok, in.Live, e.unknownConfidence)
	}

	rejoin, err := e.repo.HasPendingLeave(ctx, guildID, ev.MemberID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check rejoin: %w", err)
	}

	join := storage.InviteJoin{
		EventID:    ev.EventID,
		GuildID:    guildID,
		MemberID:   ev.MemberID,
		InviteCode: result.InviteCode,
		InviterID:  result.InviterID,
		JoinedAt:   ev.JoinedAt.UTC(),
		Confidence: result.Confidence,
		Reason:     string(result.Reason),
		IsFake:     IsYoungAccount(ev, in.Settings),
		IsRejoin:   rejoin,
	}

	recorded, err := e.repo.RecordJoin(ctx, join, stats.JoinDelta(join))
	if err != nil {
		return Outcome{}, fmt.Errorf("record join: %w", err)
	}

	// The cache moves only after the fact is durable. A replayed event applies
	// the same live listing again, which is harmless.
	if in.ListErr == nil {
		e.cache.Apply(guildID, in.Live)
		if err := e.repo.SyncInviteUses(ctx, guildID, toStorageInvites(guildID, in.Live)); err != nil {
			e.logger.Warn("sync invite uses failed", zap.String("guild_id", guildID), zap.Error(err))
		}
	}

	if recorded {
		metrics.Attributions.WithLabelValues(string(result.Reason)).Inc()
		e.logger.Info("join attributed",
			zap.String("guild_id", guildID),
			zap.String("user_id", ev.MemberID),
			zap.String("event_id", ev.EventID),
			zap.String("invite_code", result.InviteCode),
			zap.String("inviter_id", result.InviterID),
			zap.Float64("confidence", result.Confidence),
			zap.String("reason", string(result.Reason)),
			zap.Bool("is_fake", join.IsFake),
			zap.Bool("is_rejoin", join.IsRejoin),
		)
	}
	return Outcome{Join: join, Result: result, Recorded: recorded}, nil
}

// IsYoungAccount reports whether the account was younger than the guild's
// minimum age when it joined. Unknown creation times are never young.
func IsYoungAccount(ev events.JoinEvent, settings storage.GuildSettings) bool {
	if ev.AccountCreatedAt.IsZero() || settings.MinAccountAgeHours <= 0 {
		return false
	}
	return ev.JoinedAt.Sub(ev.AccountCreatedAt) < settings.MinAccountAge()
}

func toStorageInvites(guildID string, live []host.Invite) []storage.Invite {
	out := make([]storage.Invite, 0, len(live))
	for _, invite := range live {
		out = append(out, storage.Invite{
			GuildID:   guildID,
			Code:      invite.Code,
			InviterID: invite.InviterID,
			Uses:      invite.Uses,
			MaxUses:   invite.MaxUses,
			Temporary: invite.Temporary,
		})
	}
	return out
}
