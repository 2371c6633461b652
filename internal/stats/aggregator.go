package stats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"invite-sentinel/internal/events"
	"invite-sentinel/internal/storage"
)

var ErrZeroBonus = errors.New("bonus amount must not be zero")

// JoinDelta is the stats change a join fact applies to its inviter. Joins
// without an inviter change nothing.
func JoinDelta(join storage.InviteJoin) storage.StatsDelta {
	delta := storage.StatsDelta{GuildID: join.GuildID, UserID: join.InviterID}
	if join.InviterID == "" {
		return delta
	}
	delta.Total = 1
	if join.IsFake {
		delta.Fake = 1
	} else {
		delta.Real = 1
	}
	if join.IsRejoin {
		delta.Rejoins = 1
	}
	return delta
}

func LeaveDelta(leave storage.InviteLeave) storage.StatsDelta {
	delta := storage.StatsDelta{GuildID: leave.GuildID, UserID: leave.InviterID}
	if leave.InviterID != "" {
		delta.Leaves = 1
	}
	return delta
}

func BonusDelta(guildID, userID string, amount int) storage.StatsDelta {
	return storage.StatsDelta{GuildID: guildID, UserID: userID, Bonus: amount}
}

// Entry is one leaderboard row.
type Entry struct {
	UserID     string
	NetInvites int
}

// Aggregator owns every write to the per-user invite counters except the join
// path, which persists its delta together with the join fact.
type Aggregator struct {
	repo   storage.Repository
	logger *zap.Logger
	now    func() time.Time
}

func New(repo storage.Repository, logger *zap.Logger) *Aggregator {
	return &Aggregator{repo: repo, logger: logger, now: time.Now}
}

func (a *Aggregator) GetInviteStats(ctx context.Context, guildID, userID string) (storage.UserInviteStats, error) {
	return a.repo.GetUserStats(ctx, guildID, userID)
}

func (a *Aggregator) Leaderboard(ctx context.Context, guildID string, limit int) ([]Entry, error) {
	rows, err := a.repo.Leaderboard(ctx, guildID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{UserID: row.UserID, NetInvites: row.NetInvites()})
	}
	return entries, nil
}

// RecordBonus stores a manual credit. Negative amounts retract earlier bonuses.
func (a *Aggregator) RecordBonus(ctx context.Context, guildID, userID string, amount int, reason string) (storage.UserInviteStats, error) {
	if amount == 0 {
		return storage.UserInviteStats{}, ErrZeroBonus
	}
	if strings.TrimSpace(userID) == "" {
		return storage.UserInviteStats{}, fmt.Errorf("bonus user is required")
	}
	bonus := storage.BonusInvite{
		GuildID:   guildID,
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: a.now().UTC(),
	}
	if err := a.repo.RecordBonus(ctx, bonus, BonusDelta(guildID, userID, amount)); err != nil {
		return storage.UserInviteStats{}, fmt.Errorf("record bonus: %w", err)
	}
	a.logger.Info("bonus invites recorded",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.Int("amount", amount),
		zap.String("reason", reason),
	)
	return a.repo.GetUserStats(ctx, guildID, userID)
}

// RecordLeave stores the leave fact against the inviter of the member's latest
// join. It reports false when the event was already recorded.
func (a *Aggregator) RecordLeave(ctx context.Context, ev events.LeaveEvent) (bool, error) {
	inviter, err := a.repo.LastJoinInviter(ctx, ev.GuildID, ev.MemberID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("lookup inviter: %w", err)
	}

	leave := storage.InviteLeave{
		EventID:   ev.EventID,
		GuildID:   ev.GuildID,
		MemberID:  ev.MemberID,
		InviterID: inviter,
		LeftAt:    ev.LeftAt.UTC(),
	}
	inserted, err := a.repo.RecordLeave(ctx, leave, LeaveDelta(leave))
	if err != nil {
		return false, fmt.Errorf("record leave: %w", err)
	}
	if inserted {
		a.logger.Info("member left",
			zap.String("guild_id", ev.GuildID),
			zap.String("user_id", ev.MemberID),
			zap.String("inviter_id", inviter),
			zap.String("event_id", ev.EventID),
		)
	}
	return inserted, nil
}
