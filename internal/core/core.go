// Package core routes inbound events to the attribution, stats and security
// components and exposes the operations used by the command layer.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"invite-sentinel/internal/analytics"
	"invite-sentinel/internal/attribution"
	"invite-sentinel/internal/events"
	"invite-sentinel/internal/fraud"
	"invite-sentinel/internal/guildlock"
	"invite-sentinel/internal/host"
	"invite-sentinel/internal/incident"
	"invite-sentinel/internal/metrics"
	"invite-sentinel/internal/premium"
	"invite-sentinel/internal/security"
	"invite-sentinel/internal/snapshot"
	"invite-sentinel/internal/stats"
	"invite-sentinel/internal/storage"
	"invite-sentinel/internal/window"
)

type Config struct {
	// Defaults is the settings template for guilds without a stored row.
	Defaults     storage.GuildSettings
	RetryLimit   int
	RetryBackoff time.Duration
}

// Components bundles the collaborators the core drives. Fraud may be nil to
// disable scoring entirely.
type Components struct {
	Repo      storage.Repository
	Host      host.Host
	Locks     *guildlock.Manager
	Cache     *snapshot.Cache
	Windows   *window.Tracker
	Engine    *attribution.Engine
	Stats     *stats.Aggregator
	Security  *security.Machine
	Fraud     *fraud.Scorer
	Premium   *premium.Service
	Incidents *incident.Recorder
	Analytics *analytics.Service
}

type Core struct {
	Components
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg Config, components Components, logger *zap.Logger) *Core {
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	c := &Core{Components: components, cfg: cfg, logger: logger, now: time.Now}
	if c.Incidents != nil {
		c.Incidents.SetNotifier(c.notifyIncident)
	}
	return c
}

func (c *Core) defaults(guildID string) storage.GuildSettings {
	settings := c.cfg.Defaults
	settings.GuildID = guildID
	return settings
}

func (c *Core) settings(ctx context.Context, guildID string) (storage.GuildSettings, error) {
	settings, err := c.Repo.GetGuildSettings(ctx, guildID, c.defaults(guildID))
	if err != nil {
		return storage.GuildSettings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// Handle processes one event. Only persistence failures are returned; the
// caller may redeliver the same event.
func (c *Core) Handle(ctx context.Context, ev events.Event) error {
	var err error
	switch e := ev.(type) {
	case events.JoinEvent:
		err = c.handleJoin(ctx, e)
	case events.LeaveEvent:
		err = c.handleLeave(ctx, e)
	case events.MessageEvent:
		err = c.handleMessage(ctx, e)
	case events.InviteChangeEvent:
		err = c.handleInviteChange(ctx, e)
	case events.GuildAvailableEvent:
		err = c.handleGuildAvailable(ctx, e)
	case events.GuildRemovedEvent:
		c.handleGuildRemoved(e)
	default:
		err = fmt.Errorf("unsupported event %T", ev)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.EventsHandled.WithLabelValues(events.Name(ev), outcome).Inc()
	return err
}

// Dispatch handles the event, redelivering it with linear backoff while it
// fails. Event IDs make redelivery safe.
func (c *Core) Dispatch(ctx context.Context, ev events.Event) error {
	var err error
	for attempt := 1; attempt <= c.cfg.RetryLimit; attempt++ {
		if err = c.Handle(ctx, ev); err == nil {
			return nil
		}
		if attempt == c.cfg.RetryLimit {
			break
		}
		c.logger.Warn("event failed, retrying",
			zap.String("event", events.Name(ev)),
			zap.String("guild_id", ev.Guild()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		metrics.EventRetries.Inc()
		select {
		case <-time.After(time.Duration(attempt) * c.cfg.RetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.logger.Error("event dropped after retries",
		zap.String("event", events.Name(ev)),
		zap.String("guild_id", ev.Guild()),
		zap.Int("attempts", c.cfg.RetryLimit),
		zap.Error(err),
	)
	return err
}

func (c *Core) handleJoin(ctx context.Context, ev events.JoinEvent) error {
	var (
		settings storage.GuildSettings
		outcome  attribution.Outcome
		burst    int
	)
	err := c.Locks.WithGuildLock(ctx, ev.GuildID, func(ctx context.Context) error {
		var err error
		settings, err = c.settings(ctx, ev.GuildID)
		if err != nil {
			return err
		}
		live, listErr := c.Host.ListActiveInvites(ctx, ev.GuildID)
		outcome, err = c.Engine.Process(ctx, attribution.Input{
			Event:    ev,
			Settings: settings,
			Live:     live,
			ListErr:  listErr,
		})
		if err != nil {
			return err
		}
		if outcome.Recorded {
			burst = c.Security.ObserveJoin(settings, ev.JoinedAt)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !outcome.Recorded {
		c.logger.Debug("duplicate join ignored", zap.String("guild_id", ev.GuildID), zap.String("event_id", ev.EventID))
		return nil
	}

	c.Security.HandleJoin(ctx, settings, outcome.Join, burst)

	if c.Fraud != nil {
		_, _, err := c.Fraud.Evaluate(ctx, settings, fraud.Input{
			Join:             outcome.Join,
			AccountCreatedAt: ev.AccountCreatedAt,
			BurstCount:       burst,
		})
		// The join fact is already durable and a redelivery stops at the
		// duplicate check, so a failed score is not retried.
		if err != nil {
			metrics.FraudFailures.Inc()
			c.logger.Error("fraud scoring failed",
				zap.String("guild_id", ev.GuildID),
				zap.String("user_id", ev.MemberID),
				zap.String("event_id", ev.EventID),
				zap.Error(err),
			)
		}
	}

	c.post(ctx, settings.SecurityLogChannel, AttributionLine(outcome.Join))
	return nil
}

func (c *Core) handleLeave(ctx context.Context, ev events.LeaveEvent) error {
	return c.Locks.WithGuildLock(ctx, ev.GuildID, func(ctx context.Context) error {
		_, err := c.Stats.RecordLeave(ctx, ev)
		return err
	})
}

func (c *Core) handleMessage(ctx context.Context, ev events.MessageEvent) error {
	if !ev.ContainsLink || ev.MemberID == "" {
		return nil
	}
	var (
		settings storage.GuildSettings
		count    int
		tripped  bool
	)
	err := c.Locks.WithGuildLock(ctx, ev.GuildID, func(ctx context.Context) error {
		var err error
		settings, err = c.settings(ctx, ev.GuildID)
		if err != nil {
			return err
		}
		count, tripped = c.Security.ObserveLink(settings, ev)
		return nil
	})
	if err != nil {
		return err
	}
	if tripped {
		c.Security.PunishLinkSpam(ctx, settings, ev, count)
	}
	return nil
}

func (c *Core) handleInviteChange(ctx context.Context, ev events.InviteChangeEvent) error {
	invite := host.Invite{
		Code:      ev.Code,
		InviterID: ev.InviterID,
		Uses:      ev.Uses,
		MaxUses:   ev.MaxUses,
		Temporary: ev.Temporary,
	}
	var settings storage.GuildSettings
	err := c.Locks.WithGuildLock(ctx, ev.GuildID, func(ctx context.Context) error {
		var err error
		settings, err = c.settings(ctx, ev.GuildID)
		if err != nil {
			return err
		}
		switch ev.Kind {
		case events.InviteDeleted:
			c.Cache.OnInviteDeleted(ev.GuildID, ev.Code)
			return c.Repo.SoftDeleteInvite(ctx, ev.GuildID, ev.Code, c.at(ev.At))
		case events.InviteCreated:
			c.Cache.OnInviteCreated(ev.GuildID, invite)
		default:
			c.Cache.OnInviteUpdated(ev.GuildID, invite)
		}
		return c.Repo.UpsertInvite(ctx, storage.Invite{
			GuildID:   ev.GuildID,
			Code:      ev.Code,
			InviterID: ev.InviterID,
			Uses:      ev.Uses,
			MaxUses:   ev.MaxUses,
			Temporary: ev.Temporary,
			CreatedAt: c.at(ev.At),
		})
	})
	if err != nil {
		return err
	}
	if ev.Kind == events.InviteCreated {
		c.Security.BlockInvite(ctx, settings, ev)
	}
	return nil
}

func (c *Core) handleGuildAvailable(ctx context.Context, ev events.GuildAvailableEvent) error {
	defaults := c.defaults(ev.GuildID)
	defaults.GuildName = ev.GuildName
	if err := c.Repo.EnsureGuild(ctx, defaults); err != nil {
		return fmt.Errorf("ensure guild: %w", err)
	}
	return c.Locks.WithGuildLock(ctx, ev.GuildID, func(ctx context.Context) error {
		if _, err := c.Cache.Reconcile(ctx, ev.GuildID); err != nil {
			// Joins fall back to unknown attribution until a listing succeeds.
			c.logger.Warn("invite snapshot unavailable", zap.String("guild_id", ev.GuildID), zap.Error(err))
		}
		return nil
	})
}

func (c *Core) handleGuildRemoved(ev events.GuildRemovedEvent) {
	c.Cache.Evict(ev.GuildID)
	c.Windows.ForgetGuild(ev.GuildID)
	c.logger.Info("guild removed", zap.String("guild_id", ev.GuildID))
}

func (c *Core) at(t time.Time) time.Time {
	if t.IsZero() {
		return c.now().UTC()
	}
	return t.UTC()
}

// RunJanitor drops idle window series until ctx ends.
func (c *Core) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Windows.Sweep(c.now()); removed > 0 {
				c.logger.Debug("window series swept", zap.Int("removed", removed))
			}
		}
	}
}

// AttributionLine is the security log summary of one join.
func AttributionLine(join storage.InviteJoin) string {
	var b strings.Builder
	if join.InviterID != "" {
		fmt.Fprintf(&b, "[INVITE] <@%s> joined via `%s` from <@%s> (confidence %.2f).", join.MemberID, join.InviteCode, join.InviterID, join.Confidence)
	} else {
		fmt.Fprintf(&b, "[INVITE] <@%s> joined from an unknown invite (confidence %.2f).", join.MemberID, join.Confidence)
	}
	if join.IsFake {
		b.WriteString(" Account below minimum age.")
	}
	if join.IsRejoin {
		b.WriteString(" Rejoin.")
	}
	return b.String()
}

// IncidentLine is the security log rendering of an incident.
func IncidentLine(entry storage.Incident) string {
	return fmt.Sprintf("[SECURITY] %s (%s): %s", entry.Type, strings.ToUpper(entry.Severity), entry.Message)
}

func (c *Core) notifyIncident(ctx context.Context, entry storage.Incident) {
	settings, err := c.settings(ctx, entry.GuildID)
	if err != nil {
		c.logger.Warn("security log lookup failed", zap.String("guild_id", entry.GuildID), zap.Error(err))
		return
	}
	c.post(ctx, settings.SecurityLogChannel, IncidentLine(entry))
}

// record appends an incident, logging a failed write instead of failing the
// operation that caused it.
func (c *Core) record(ctx context.Context, entry storage.Incident) {
	if err := c.Incidents.Record(ctx, entry); err != nil {
		c.logger.Error("incident not persisted",
			zap.String("guild_id", entry.GuildID),
			zap.String("type", entry.Type),
			zap.Error(err),
		)
	}
}

// post sends a best-effort line to a security log channel.
func (c *Core) post(ctx context.Context, channelID, content string) {
	if channelID == "" {
		return
	}
	if err := c.Host.SendMessage(ctx, channelID, content); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("security log post failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}
