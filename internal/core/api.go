package core

import (
	"context"
	"fmt"
	"strings"

	"invite-sentinel/internal/analytics"
	"invite-sentinel/internal/incident"
	"invite-sentinel/internal/premium"
	"invite-sentinel/internal/security"
	"invite-sentinel/internal/stats"
	"invite-sentinel/internal/storage"
)

func (c *Core) GetInviteStats(ctx context.Context, guildID, userID string) (storage.UserInviteStats, error) {
	return c.Stats.GetInviteStats(ctx, guildID, userID)
}

func (c *Core) GetLeaderboard(ctx context.Context, guildID string, limit int) ([]stats.Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	return c.Stats.Leaderboard(ctx, guildID, limit)
}

func (c *Core) GetSecurityStatus(ctx context.Context, guildID string) (analytics.Summary, error) {
	settings, err := c.settings(ctx, guildID)
	if err != nil {
		return analytics.Summary{}, err
	}
	return c.Analytics.Summary(ctx, settings)
}

func (c *Core) GetGuildSettings(ctx context.Context, guildID string) (storage.GuildSettings, error) {
	return c.settings(ctx, guildID)
}

// TriggerLockdown locks the guild on a moderator's request. It reports false
// when the guild was already locked.
func (c *Core) TriggerLockdown(ctx context.Context, guildID, actorID string) (bool, []security.ActionResult, error) {
	if err := c.Repo.EnsureGuild(ctx, c.defaults(guildID)); err != nil {
		return false, nil, fmt.Errorf("ensure guild: %w", err)
	}
	return c.Security.TriggerLockdown(ctx, guildID, actorID, security.TriggerManual)
}

func (c *Core) LiftLockdown(ctx context.Context, guildID, actorID string) (bool, []security.ActionResult, error) {
	return c.Security.LiftLockdown(ctx, guildID, actorID)
}

func (c *Core) SetSecurityLogChannel(ctx context.Context, guildID, channelID string) error {
	if err := c.Repo.EnsureGuild(ctx, c.defaults(guildID)); err != nil {
		return fmt.Errorf("ensure guild: %w", err)
	}
	return c.Repo.SetSecurityLogChannel(ctx, guildID, strings.TrimSpace(channelID))
}

func (c *Core) RecordBonusInvite(ctx context.Context, guildID, userID string, amount int, reason string) (storage.UserInviteStats, error) {
	return c.Stats.RecordBonus(ctx, guildID, userID, amount, reason)
}

// UpdateGuildSettings validates and stores thresholds. The lockdown flag and
// premium columns are never written here.
func (c *Core) UpdateGuildSettings(ctx context.Context, settings storage.GuildSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	return c.Repo.UpsertGuildSettings(ctx, settings)
}

// ActivatePremiumLicense binds a raw license key to the guild.
func (c *Core) ActivatePremiumLicense(ctx context.Context, guildID, actorID, rawKey string) (storage.PremiumLicense, error) {
	if err := c.Repo.EnsureGuild(ctx, c.defaults(guildID)); err != nil {
		return storage.PremiumLicense{}, fmt.Errorf("ensure guild: %w", err)
	}
	license, err := c.Premium.Activate(ctx, guildID, premium.HashKey(rawKey))
	if err != nil {
		return storage.PremiumLicense{}, err
	}

	metadata := map[string]any{"license_id": license.ID, "plan": license.Plan}
	if license.ExpiresAt != nil {
		metadata["expires_at"] = license.ExpiresAt.UTC()
	}
	c.record(ctx, storage.Incident{
		GuildID:  guildID,
		Type:     incident.TypePremiumActivated,
		Severity: storage.SeverityLow,
		ActorID:  actorID,
		Message:  fmt.Sprintf("Premium plan %s activated", license.Plan),
		Metadata: metadata,
	})
	return license, nil
}

func (c *Core) ListFraudFlags(ctx context.Context, guildID string, limit int) ([]storage.FraudFlag, error) {
	if limit <= 0 {
		limit = 50
	}
	return c.Repo.ListFraudFlags(ctx, guildID, limit)
}
