package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

func (s *Store) UpsertInvite(ctx context.Context, invite Invite) error {
	createdAt := invite.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invites (guild_id, invite_code, inviter_id, uses, max_uses, is_temporary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (guild_id, invite_code) DO UPDATE SET
			inviter_id = COALESCE(EXCLUDED.inviter_id, invites.inviter_id),
			uses = EXCLUDED.uses,
			max_uses = EXCLUDED.max_uses,
			is_temporary = EXCLUDED.is_temporary,
			deleted_at = NULL,
			updated_at = NOW()`,
		invite.GuildID, invite.Code, nullable(invite.InviterID), invite.Uses, invite.MaxUses, invite.Temporary, createdAt)
	return err
}

func (s *Store) SoftDeleteInvite(ctx context.Context, guildID, code string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE invites SET deleted_at = $3, updated_at = NOW()
		WHERE guild_id = $1 AND invite_code = $2 AND deleted_at IS NULL`,
		guildID, code, at)
	return err
}

func (s *Store) SoftDeleteActiveInvites(ctx context.Context, guildID string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invites SET deleted_at = $2, updated_at = NOW()
		WHERE guild_id = $1 AND deleted_at IS NULL`,
		guildID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SyncInviteUses upserts the live use counts in one batch.
func (s *Store) SyncInviteUses(ctx context.Context, guildID string, invites []Invite) error {
	if len(invites) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, invite := range invites {
		batch.Queue(`
			INSERT INTO invites (guild_id, invite_code, inviter_id, uses, max_uses, is_temporary)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (guild_id, invite_code) DO UPDATE SET
				uses = EXCLUDED.uses,
				deleted_at = NULL,
				updated_at = NOW()`,
			guildID, invite.Code, nullable(invite.InviterID), invite.Uses, invite.MaxUses, invite.Temporary)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *Store) ListActiveInvites(ctx context.Context, guildID string) ([]Invite, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT guild_id, invite_code, COALESCE(inviter_id, ''), uses, max_uses, is_temporary, created_at
		FROM invites WHERE guild_id = $1 AND deleted_at IS NULL
		ORDER BY invite_code`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []Invite
	for rows.Next() {
		var invite Invite
		if err := rows.Scan(&invite.GuildID, &invite.Code, &invite.InviterID, &invite.Uses, &invite.MaxUses, &invite.Temporary, &invite.CreatedAt); err != nil {
			return nil, err
		}
		invites = append(invites, invite)
	}
	return invites, rows.Err()
}
