package security

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"invite-sentinel/internal/events"
	"invite-sentinel/internal/incident"
	"invite-sentinel/internal/metrics"
	"invite-sentinel/internal/storage"
	"invite-sentinel/internal/window"
)

// JoinReport lists what the security layer did for one join.
type JoinReport struct {
	Quarantined       bool
	KickAttempted     bool
	Kicked            bool
	BurstCount        int
	LockdownTriggered bool
}

// ObserveJoin records the join in the guild's burst window and returns the
// number of joins inside it. Call it from the guild's critical section.
func (m *Machine) ObserveJoin(settings storage.GuildSettings, at time.Time) int {
	key := window.JoinsKey(settings.GuildID)
	cutoff := at.Add(-settings.JoinBurstWindow())
	m.windows.Record(key, at)
	m.windows.EvictOlderThan(key, cutoff)
	return m.windows.CountSince(key, cutoff)
}

// BurstTripped reports whether a burst count should lock the guild.
func BurstTripped(settings storage.GuildSettings, count int) bool {
	return !settings.LockdownEnabled && count >= settings.JoinBurstCount
}

// HandleJoin runs the join-time reactions in order: quarantine while locked,
// auto-kick of young accounts, then burst lockdown.
func (m *Machine) HandleJoin(ctx context.Context, settings storage.GuildSettings, join storage.InviteJoin, burstCount int) JoinReport {
	report := JoinReport{BurstCount: burstCount}

	if settings.LockdownEnabled {
		report.Quarantined = m.quarantine(ctx, settings, join.MemberID)
	}

	if join.IsFake && settings.AutoKickYoungAccounts {
		report.KickAttempted = true
		report.Kicked = m.autoKick(ctx, settings, join)
	}

	if BurstTripped(settings, burstCount) {
		triggered, _, err := m.TriggerLockdown(ctx, settings.GuildID, "", TriggerJoinBurst)
		if err != nil {
			m.logger.Error("burst lockdown failed", zap.String("guild_id", settings.GuildID), zap.Error(err))
		}
		report.LockdownTriggered = triggered
	}
	return report
}

func (m *Machine) quarantine(ctx context.Context, settings storage.GuildSettings, memberID string) bool {
	roleID, err := m.host.FindOrCreateRole(ctx, settings.GuildID, settings.QuarantineRoleName)
	metrics.RecordAction("find_role", err)
	if err != nil {
		m.degraded(ctx, settings.GuildID, memberID, "find_role", settings.QuarantineRoleName, err)
		return false
	}
	err = m.host.AssignRole(ctx, settings.GuildID, memberID, roleID)
	metrics.RecordAction("assign_quarantine", err)
	if err != nil {
		m.degraded(ctx, settings.GuildID, memberID, "assign_quarantine", memberID, err)
		return false
	}
	m.logger.Info("member quarantined", zap.String("guild_id", settings.GuildID), zap.String("user_id", memberID))
	return true
}

// autoKick makes exactly one kick attempt and writes exactly one incident,
// whatever the outcome.
func (m *Machine) autoKick(ctx context.Context, settings storage.GuildSettings, join storage.InviteJoin) bool {
	err := m.host.KickMember(ctx, settings.GuildID, join.MemberID, "Account too new during security policy enforcement")
	metrics.RecordAction("kick", err)

	outcome := "kicked"
	message := fmt.Sprintf("Auto-kicked <@%s> for account age below %dh", join.MemberID, settings.MinAccountAgeHours)
	metadata := map[string]any{
		"outcome":        outcome,
		"required_hours": settings.MinAccountAgeHours,
		"event_id":       join.EventID,
	}
	if err != nil {
		outcome = "failed"
		message = fmt.Sprintf("Auto-kick of <@%s> failed", join.MemberID)
		metadata["outcome"] = outcome
		metadata["error"] = err.Error()
	}
	m.record(ctx, storage.Incident{
		GuildID:  settings.GuildID,
		Type:     incident.TypeAutoKick,
		Severity: storage.SeverityMedium,
		ActorID:  join.MemberID,
		Message:  message,
		Metadata: metadata,
	})
	return err == nil
}

// ObserveLink records a link message and reports whether the member crossed
// the spam threshold. Crossing resets the member's series so the next
// timeout needs a full threshold again. Call it from the guild's critical
// section.
func (m *Machine) ObserveLink(settings storage.GuildSettings, ev events.MessageEvent) (int, bool) {
	key := window.LinksKey(settings.GuildID, ev.MemberID)
	cutoff := ev.SentAt.Add(-settings.LinkSpamWindow())
	m.windows.Record(key, ev.SentAt)
	m.windows.EvictOlderThan(key, cutoff)
	count := m.windows.CountSince(key, cutoff)
	if count < settings.LinkSpamThreshold {
		return count, false
	}
	m.windows.Reset(key)
	return count, true
}

// PunishLinkSpam times the member out and records a link_spam incident. The
// lockdown state is not touched.
func (m *Machine) PunishLinkSpam(ctx context.Context, settings storage.GuildSettings, ev events.MessageEvent, count int) bool {
	until := m.clock.Now().Add(time.Duration(m.cfg.TimeoutMinutes) * time.Minute)
	err := m.host.TimeoutMember(ctx, settings.GuildID, ev.MemberID, until, "Repeated link spam detected")
	metrics.RecordAction("timeout", err)
	if err != nil {
		m.degraded(ctx, settings.GuildID, ev.MemberID, "timeout", ev.MemberID, err)
	}

	m.record(ctx, storage.Incident{
		GuildID:  settings.GuildID,
		Type:     incident.TypeLinkSpam,
		Severity: storage.SeverityMedium,
		ActorID:  ev.MemberID,
		Message:  fmt.Sprintf("<@%s> posted %d links within %ds", ev.MemberID, count, settings.LinkSpamWindowSeconds),
		Metadata: map[string]any{
			"count":           count,
			"channel_id":      ev.ChannelID,
			"timed_out":       err == nil,
			"timeout_minutes": m.cfg.TimeoutMinutes,
		},
	})
	return err == nil
}

// BlockInvite removes an invite created while the guild is locked. It
// reports whether the guild was locked.
func (m *Machine) BlockInvite(ctx context.Context, settings storage.GuildSettings, ev events.InviteChangeEvent) bool {
	if !settings.LockdownEnabled {
		return false
	}

	err := m.host.DeleteInvite(ctx, settings.GuildID, ev.Code)
	metrics.RecordAction("delete_invite", err)
	if serr := m.repo.SoftDeleteInvite(ctx, settings.GuildID, ev.Code, m.clock.Now().UTC()); serr != nil {
		m.logger.Warn("soft delete invite failed", zap.String("guild_id", settings.GuildID), zap.String("invite_code", ev.Code), zap.Error(serr))
	}
	if err != nil {
		m.degraded(ctx, settings.GuildID, ev.InviterID, "delete_invite", ev.Code, err)
		return true
	}

	m.record(ctx, storage.Incident{
		GuildID:  settings.GuildID,
		Type:     incident.TypeInviteBlocked,
		Severity: storage.SeverityHigh,
		ActorID:  ev.InviterID,
		Message:  fmt.Sprintf("Invite %s blocked during lockdown", ev.Code),
		Metadata: map[string]any{"invite_code": ev.Code},
	})
	return true
}
