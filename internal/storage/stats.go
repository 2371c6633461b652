package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"
)

// applyDelta increments the stats row in place so concurrent writers never
// read-modify-write.
func applyDelta(ctx context.Context, tx pgx.Tx, delta StatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO user_invite_stats (
			guild_id, user_id, total_invites, real_invites, fake_invites, leaves, rejoins, bonus_invites
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			total_invites = user_invite_stats.total_invites + EXCLUDED.total_invites,
			real_invites = user_invite_stats.real_invites + EXCLUDED.real_invites,
			fake_invites = user_invite_stats.fake_invites + EXCLUDED.fake_invites,
			leaves = user_invite_stats.leaves + EXCLUDED.leaves,
			rejoins = user_invite_stats.rejoins + EXCLUDED.rejoins,
			bonus_invites = user_invite_stats.bonus_invites + EXCLUDED.bonus_invites,
			updated_at = NOW()`,
		delta.GuildID, delta.UserID, delta.Total, delta.Real, delta.Fake, delta.Leaves, delta.Rejoins, delta.Bonus)
	return err
}

func (s *Store) RecordBonus(ctx context.Context, bonus BonusInvite, delta StatsDelta) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO bonus_invites (guild_id, user_id, amount, reason)
			VALUES ($1, $2, $3, $4)`,
			bonus.GuildID, bonus.UserID, bonus.Amount, bonus.Reason); err != nil {
			return err
		}
		return applyDelta(ctx, tx, delta)
	})
}

// GetUserStats returns a zero row when the user has no stats yet.
func (s *Store) GetUserStats(ctx context.Context, guildID, userID string) (UserInviteStats, error) {
	stats := UserInviteStats{GuildID: guildID, UserID: userID}
	err := s.pool.QueryRow(ctx, `
		SELECT total_invites, real_invites, fake_invites, leaves, rejoins, bonus_invites, updated_at
		FROM user_invite_stats WHERE guild_id = $1 AND user_id = $2`, guildID, userID).
		Scan(&stats.Total, &stats.Real, &stats.Fake, &stats.Leaves, &stats.Rejoins, &stats.Bonus, &stats.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return UserInviteStats{}, err
	}
	return stats, nil
}

func (s *Store) Leaderboard(ctx context.Context, guildID string, limit int) ([]UserInviteStats, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, total_invites, real_invites, fake_invites, leaves, rejoins, bonus_invites, updated_at
		FROM user_invite_stats WHERE guild_id = $1
		ORDER BY (real_invites - leaves + bonus_invites) DESC, LENGTH(user_id), user_id
		LIMIT $2`, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var board []UserInviteStats
	for rows.Next() {
		row := UserInviteStats{GuildID: guildID}
		if err := rows.Scan(&row.UserID, &row.Total, &row.Real, &row.Fake, &row.Leaves, &row.Rejoins, &row.Bonus, &row.UpdatedAt); err != nil {
			return nil, err
		}
		board = append(board, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(board, func(i, j int) bool { return RankLess(board[i], board[j]) })
	return board, nil
}
