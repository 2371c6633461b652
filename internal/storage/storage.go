package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the Postgres-backed Repository.
type Store struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 3
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies every pending embedded migration.
func (s *Store) Migrate(logger *zap.Logger) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	if dirty {
		logger.Warn("database migration is dirty", zap.Uint("version", version))
	} else {
		logger.Info("database migrated", zap.Uint("version", version))
	}
	return nil
}

func (s *Store) EnsureGuild(ctx context.Context, defaults GuildSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO guilds (
			guild_id, guild_name, join_burst_count, join_burst_window_seconds,
			min_account_age_hours, auto_kick_young_accounts, link_spam_threshold,
			link_spam_window_seconds, lockdown_slowmode_seconds, quarantine_role_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (guild_id) DO UPDATE SET
			guild_name = CASE WHEN EXCLUDED.guild_name = '' THEN guilds.guild_name ELSE EXCLUDED.guild_name END,
			updated_at = NOW()`,
		defaults.GuildID,
		defaults.GuildName,
		defaults.JoinBurstCount,
		defaults.JoinBurstWindowSeconds,
		defaults.MinAccountAgeHours,
		defaults.AutoKickYoungAccounts,
		defaults.LinkSpamThreshold,
		defaults.LinkSpamWindowSeconds,
		defaults.LockdownSlowmodeSeconds,
		defaults.QuarantineRoleName,
	)
	return err
}

func (s *Store) GetGuildSettings(ctx context.Context, guildID string, defaults GuildSettings) (GuildSettings, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT guild_name, security_log_channel_id, lockdown_enabled,
		join_burst_count, join_burst_window_seconds, min_account_age_hours,
		auto_kick_young_accounts, link_spam_threshold, link_spam_window_seconds,
		lockdown_slowmode_seconds, quarantine_role_name, is_premium,
		premium_until, premium_license_id
		FROM guilds WHERE guild_id = $1`, guildID)

	result := defaults
	result.GuildID = guildID
	err := row.Scan(
		&result.GuildName,
		&result.SecurityLogChannel,
		&result.LockdownEnabled,
		&result.JoinBurstCount,
		&result.JoinBurstWindowSeconds,
		&result.MinAccountAgeHours,
		&result.AutoKickYoungAccounts,
		&result.LinkSpamThreshold,
		&result.LinkSpamWindowSeconds,
		&result.LockdownSlowmodeSeconds,
		&result.QuarantineRoleName,
		&result.IsPremium,
		&result.PremiumUntil,
		&result.PremiumLicenseID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return result, nil
		}
		return GuildSettings{}, err
	}
	return result, nil
}

// UpsertGuildSettings writes the tunable settings. Lockdown and premium state
// have their own writers and are left untouched.
func (s *Store) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO guilds (
			guild_id, guild_name, security_log_channel_id, join_burst_count,
			join_burst_window_seconds, min_account_age_hours, auto_kick_young_accounts,
			link_spam_threshold, link_spam_window_seconds, lockdown_slowmode_seconds,
			quarantine_role_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (guild_id) DO UPDATE SET
			guild_name = EXCLUDED.guild_name,
			security_log_channel_id = EXCLUDED.security_log_channel_id,
			join_burst_count = EXCLUDED.join_burst_count,
			join_burst_window_seconds = EXCLUDED.join_burst_window_seconds,
			min_account_age_hours = EXCLUDED.min_account_age_hours,
			auto_kick_young_accounts = EXCLUDED.auto_kick_young_accounts,
			link_spam_threshold = EXCLUDED.link_spam_threshold,
			link_spam_window_seconds = EXCLUDED.link_spam_window_seconds,
			lockdown_slowmode_seconds = EXCLUDED.lockdown_slowmode_seconds,
			quarantine_role_name = EXCLUDED.quarantine_role_name,
			updated_at = NOW()`,
		settings.GuildID,
		settings.GuildName,
		settings.SecurityLogChannel,
		settings.JoinBurstCount,
		settings.JoinBurstWindowSeconds,
		settings.MinAccountAgeHours,
		settings.AutoKickYoungAccounts,
		settings.LinkSpamThreshold,
		settings.LinkSpamWindowSeconds,
		settings.LockdownSlowmodeSeconds,
		settings.QuarantineRoleName,
	)
	return err
}

func (s *Store) SetLockdown(ctx context.Context, guildID string, enabled bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO guilds (guild_id, lockdown_enabled) VALUES ($1, $2)
		ON CONFLICT (guild_id) DO UPDATE SET lockdown_enabled = EXCLUDED.lockdown_enabled, updated_at = NOW()`,
		guildID, enabled)
	return err
}

func (s *Store) SetSecurityLogChannel(ctx context.Context, guildID, channelID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO guilds (guild_id, security_log_channel_id) VALUES ($1, $2)
		ON CONFLICT (guild_id) DO UPDATE SET security_log_channel_id = EXCLUDED.security_log_channel_id, updated_at = NOW()`,
		guildID, channelID)
	return err
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
