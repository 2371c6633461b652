package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateLicense(ctx context.Context, license PremiumLicense) (PremiumLicense, error) {
	if license.Plan == "" {
		license.Plan = "premium"
	}
	if license.MaxGuilds <= 0 {
		license.MaxGuilds = 1
	}
	if license.ActivatedGuildIDs == nil {
		license.ActivatedGuildIDs = []string{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO premium_licenses (key_hash, plan, is_active, max_guilds, activated_guild_ids, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		license.KeyHash, license.Plan, license.Active, license.MaxGuilds, license.ActivatedGuildIDs, license.ExpiresAt).
		Scan(&license.ID)
	return license, err
}

// ActivateLicense locks the license row, lets check veto the activation, then
// binds the guild to the license in the same transaction.
func (s *Store) ActivateLicense(ctx context.Context, guildID, keyHash string, check func(PremiumLicense) error) (PremiumLicense, error) {
	var license PremiumLicense
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT id, key_hash, plan, is_active, max_guilds, activated_guild_ids, expires_at
			FROM premium_licenses WHERE key_hash = $1 FOR UPDATE`, keyHash).
			Scan(&license.ID, &license.KeyHash, &license.Plan, &license.Active, &license.MaxGuilds,
				&license.ActivatedGuildIDs, &license.ExpiresAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := check(license); err != nil {
			return err
		}

		if !license.HasGuild(guildID) {
			license.ActivatedGuildIDs = append(license.ActivatedGuildIDs, guildID)
			if _, err := tx.Exec(ctx, `
				UPDATE premium_licenses SET activated_guild_ids = $2, updated_at = NOW() WHERE id = $1`,
				license.ID, license.ActivatedGuildIDs); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO guilds (guild_id, is_premium, premium_until, premium_license_id)
			VALUES ($1, TRUE, $2, $3)
			ON CONFLICT (guild_id) DO UPDATE SET
				is_premium = TRUE,
				premium_until = EXCLUDED.premium_until,
				premium_license_id = EXCLUDED.premium_license_id,
				updated_at = NOW()`,
			guildID, license.ExpiresAt, license.ID)
		return err
	})
	if err != nil {
		return PremiumLicense{}, err
	}
	return license, nil
}
