package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// HasPendingLeave reports whether the member's latest leave is at or after
// their latest recorded join, meaning the next join is a rejoin.
func (s *Store) HasPendingLeave(ctx context.Context, guildID, memberID string) (bool, error) {
	var pending bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invite_leaves l
			WHERE l.guild_id = $1 AND l.member_id = $2
			AND l.left_at >= COALESCE(
				(SELECT MAX(j.joined_at) FROM invite_joins j WHERE j.guild_id = $1 AND j.member_id = $2),
				'-infinity'::timestamptz)
		)`, guildID, memberID).Scan(&pending)
	return pending, err
}

func (s *Store) CountRejoins(ctx context.Context, guildID, memberID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM invite_joins
		WHERE guild_id = $1 AND member_id = $2 AND is_rejoin`, guildID, memberID).Scan(&count)
	return count, err
}

// LastJoinInviter returns the inviter credited for the member's latest join.
func (s *Store) LastJoinInviter(ctx context.Context, guildID, memberID string) (string, error) {
	var inviter string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(inviter_id, '') FROM invite_joins
		WHERE guild_id = $1 AND member_id = $2
		ORDER BY joined_at DESC, id DESC LIMIT 1`, guildID, memberID).Scan(&inviter)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return inviter, err
}

// RecordJoin stores the join fact and applies its stats delta in one
// transaction. A repeated event ID is a no-op and returns false.
func (s *Store) RecordJoin(ctx context.Context, join InviteJoin, delta StatsDelta) (bool, error) {
	inserted := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO invite_joins (
				event_id, guild_id, member_id, invite_code, inviter_id, joined_at,
				attribution_confidence, attribution_reason, is_fake, is_rejoin
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (event_id) DO NOTHING`,
			join.EventID, join.GuildID, join.MemberID, nullable(join.InviteCode), nullable(join.InviterID),
			join.JoinedAt, join.Confidence, join.Reason, join.IsFake, join.IsRejoin)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		inserted = true
		return applyDelta(ctx, tx, delta)
	})
	return inserted, err
}

func (s *Store) RecordLeave(ctx context.Context, leave InviteLeave, delta StatsDelta) (bool, error) {
	inserted := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO invite_leaves (event_id, guild_id, member_id, inviter_id, left_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (event_id) DO NOTHING`,
			leave.EventID, leave.GuildID, leave.MemberID, nullable(leave.InviterID), leave.LeftAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		inserted = true
		return applyDelta(ctx, tx, delta)
	})
	return inserted, err
}

func (s *Store) ListJoins(ctx context.Context, guildID string, limit int) ([]InviteJoin, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, guild_id, member_id, COALESCE(invite_code, ''), COALESCE(inviter_id, ''),
		joined_at, attribution_confidence, attribution_reason, is_fake, is_rejoin
		FROM invite_joins WHERE guild_id = $1
		ORDER BY joined_at DESC, id DESC LIMIT $2`, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var joins []InviteJoin
	for rows.Next() {
		var join InviteJoin
		if err := rows.Scan(&join.ID, &join.EventID, &join.GuildID, &join.MemberID, &join.InviteCode, &join.InviterID,
			&join.JoinedAt, &join.Confidence, &join.Reason, &join.IsFake, &join.IsRejoin); err != nil {
			return nil, err
		}
		joins = append(joins, join)
	}
	return joins, rows.Err()
}
