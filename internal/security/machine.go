package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"invite-sentinel/internal/host"
	"invite-sentinel/internal/incident"
	"invite-sentinel/internal/metrics"
	"invite-sentinel/internal/state"
	"invite-sentinel/internal/storage"
	"invite-sentinel/internal/window"
)

const (
	TriggerJoinBurst = "join_burst"
	TriggerManual    = "manual"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Config struct {
	Defaults        storage.GuildSettings
	TimeoutMinutes  int
	FanoutPerSecond float64
	FanoutWorkers   int
}

// Machine owns the per-guild lockdown state and every compensating action
// around it. The persisted lockdown flag is the state; transitions for one
// guild are serialized so each produces exactly one incident.
type Machine struct {
	repo      storage.Repository
	host      host.Host
	windows   *window.Tracker
	incidents *incident.Recorder
	backup    SlowmodeBackup
	logger    *zap.Logger
	cfg       Config
	clock     Clock
	limiter   *rate.Limiter

	transitions *state.Registry[sync.Mutex]
}

func New(repo storage.Repository, h host.Host, windows *window.Tracker, incidents *incident.Recorder, backup SlowmodeBackup, logger *zap.Logger, cfg Config) *Machine {
	if cfg.TimeoutMinutes <= 0 {
		cfg.TimeoutMinutes = 30
	}
	if cfg.FanoutPerSecond <= 0 {
		cfg.FanoutPerSecond = 5
	}
	if cfg.FanoutWorkers <= 0 {
		cfg.FanoutWorkers = 4
	}
	if backup == nil {
		backup = NewMemoryBackup()
	}
	return &Machine{
		repo:        repo,
		host:        h,
		windows:     windows,
		incidents:   incidents,
		backup:      backup,
		logger:      logger,
		cfg:         cfg,
		clock:       realClock{},
		limiter:     rate.NewLimiter(rate.Limit(cfg.FanoutPerSecond), cfg.FanoutWorkers),
		transitions: state.NewRegistry(func(string) *sync.Mutex { return &sync.Mutex{} }),
	}
}

func (m *Machine) WithClock(clock Clock) {
	m.clock = clock
}

func (m *Machine) settings(ctx context.Context, guildID string) (storage.GuildSettings, error) {
	return m.repo.GetGuildSettings(ctx, guildID, m.cfg.Defaults)
}

// TriggerLockdown moves the guild from normal to locked. It returns false
// without side effects when the guild is already locked.
func (m *Machine) TriggerLockdown(ctx context.Context, guildID, actorID, trigger string) (bool, []ActionResult, error) {
	mu := m.transitions.Get(guildID)
	mu.Lock()
	defer mu.Unlock()

	settings, err := m.settings(ctx, guildID)
	if err != nil {
		return false, nil, fmt.Errorf("load settings: %w", err)
	}
	if settings.LockdownEnabled {
		return false, nil, nil
	}

	// The flag goes first so joins arriving during the fan-out are quarantined.
	if err := m.repo.SetLockdown(ctx, guildID, true); err != nil {
		return false, nil, fmt.Errorf("set lockdown: %w", err)
	}

	var results []ActionResult
	results = append(results, m.purgeInvites(ctx, guildID)...)
	results = append(results, m.applySlowmode(ctx, guildID, settings.LockdownSlowmodeSeconds)...)
	failed := m.recordDegraded(ctx, guildID, results)

	metrics.LockdownTransitions.WithLabelValues("locked", trigger).Inc()
	m.record(ctx, storage.Incident{
		GuildID:  guildID,
		Type:     incident.TypeLockdownTriggered,
		Severity: storage.SeverityHigh,
		ActorID:  actorID,
		Message:  fmt.Sprintf("Lockdown enabled (%s)", trigger),
		Metadata: map[string]any{
			"trigger":          trigger,
			"actions":          len(results),
			"failed_actions":   failed,
			"slowmode_seconds": settings.LockdownSlowmodeSeconds,
		},
	})
	return true, results, nil
}

// LiftLockdown moves the guild from locked back to normal, restoring the
// recorded slowmode of every channel. Quarantined members keep their role.
func (m *Machine) LiftLockdown(ctx context.Context, guildID, actorID string) (bool, []ActionResult, error) {
	mu := m.transitions.Get(guildID)
	mu.Lock()
	defer mu.Unlock()

	settings, err := m.settings(ctx, guildID)
	if err != nil {
		return false, nil, fmt.Errorf("load settings: %w", err)
	}
	if !settings.LockdownEnabled {
		return false, nil, nil
	}

	results := m.restoreSlowmode(ctx, guildID)
	failed := m.recordDegraded(ctx, guildID, results)

	if err := m.repo.SetLockdown(ctx, guildID, false); err != nil {
		return false, results, fmt.Errorf("clear lockdown: %w", err)
	}

	metrics.LockdownTransitions.WithLabelValues("normal", TriggerManual).Inc()
	m.record(ctx, storage.Incident{
		GuildID:  guildID,
		Type:     incident.TypeLockdownLifted,
		Severity: storage.SeverityInfo,
		ActorID:  actorID,
		Message:  "Lockdown lifted",
		Metadata: map[string]any{
			"actions":        len(results),
			"failed_actions": failed,
		},
	})
	return true, results, nil
}

func (m *Machine) purgeInvites(ctx context.Context, guildID string) []ActionResult {
	if _, err := m.repo.SoftDeleteActiveInvites(ctx, guildID, m.clock.Now().UTC()); err != nil {
		m.logger.Warn("soft delete invites failed", zap.String("guild_id", guildID), zap.Error(err))
	}

	invites, err := m.host.ListActiveInvites(ctx, guildID)
	metrics.RecordAction("list_invites", err)
	if err != nil {
		return []ActionResult{{Action: "list_invites", Target: guildID, Err: err}}
	}

	actions := make([]action, 0, len(invites))
	for _, invite := range invites {
		invite := invite // per-iteration copy (go < 1.22 loop semantics)
		actions = append(actions, action{
			name:   "delete_invite",
			target: invite.Code,
			run: func(ctx context.Context) error {
				return m.host.DeleteInvite(ctx, guildID, invite.Code)
			},
		})
	}
	return fanOut(ctx, m.limiter, m.cfg.FanoutWorkers, actions)
}

func (m *Machine) applySlowmode(ctx context.Context, guildID string, seconds int) []ActionResult {
	channels, err := m.host.ListTextChannels(ctx, guildID)
	metrics.RecordAction("list_channels", err)
	if err != nil {
		return []ActionResult{{Action: "list_channels", Target: guildID, Err: err}}
	}

	prior := make(map[string]int, len(channels))
	for _, channel := range channels {
		prior[channel.ID] = channel.Slowmode
	}
	if err := m.backup.Save(ctx, guildID, prior); err != nil {
		// No backup means no restore, so channels stay untouched.
		return []ActionResult{{Action: "save_slowmode_backup", Target: guildID, Err: err}}
	}

	var actions []action
	for _, channel := range channels {
		channel := channel // per-iteration copy (go < 1.22 loop semantics)
		if channel.Slowmode == seconds {
			continue
		}
		actions = append(actions, action{
			name:   "set_slowmode",
			target: channel.ID,
			run: func(ctx context.Context) error {
				return m.host.SetChannelSlowmode(ctx, guildID, channel.ID, seconds)
			},
		})
	}
	return fanOut(ctx, m.limiter, m.cfg.FanoutWorkers, actions)
}

func (m *Machine) restoreSlowmode(ctx context.Context, guildID string) []ActionResult {
	prior, ok, err := m.backup.Load(ctx, guildID)
	if err != nil {
		return []ActionResult{{Action: "load_slowmode_backup", Target: guildID, Err: err}}
	}
	if !ok {
		m.logger.Warn("no slowmode backup, channels left unchanged", zap.String("guild_id", guildID))
		return nil
	}

	channels, err := m.host.ListTextChannels(ctx, guildID)
	metrics.RecordAction("list_channels", err)
	if err != nil {
		return []ActionResult{{Action: "list_channels", Target: guildID, Err: err}}
	}

	var actions []action
	for _, channel := range channels {
		channel := channel // per-iteration copy (go < 1.22 loop semantics)
		desired, recorded := prior[channel.ID]
		if !recorded || channel.Slowmode == desired {
			continue
		}
		actions = append(actions, action{
			name:   "restore_slowmode",
			target: channel.ID,
			run: func(ctx context.Context) error {
				return m.host.SetChannelSlowmode(ctx, guildID, channel.ID, desired)
			},
		})
	}
	results := fanOut(ctx, m.limiter, m.cfg.FanoutWorkers, actions)
	if err := m.backup.Clear(ctx, guildID); err != nil {
		m.logger.Warn("clear slowmode backup failed", zap.String("guild_id", guildID), zap.Error(err))
	}
	return results
}

// recordDegraded writes one low-severity incident per failed action and
// returns how many failed.
func (m *Machine) recordDegraded(ctx context.Context, guildID string, results []ActionResult) int {
	failed := 0
	for _, result := range results {
		if !result.Failed() {
			continue
		}
		failed++
		m.degraded(ctx, guildID, "", result.Action, result.Target, result.Err)
	}
	return failed
}

func (m *Machine) degraded(ctx context.Context, guildID, actorID, actionName, target string, cause error) {
	m.record(ctx, storage.Incident{
		GuildID:  guildID,
		Type:     incident.TypeActionDegraded,
		Severity: storage.SeverityLow,
		ActorID:  actorID,
		Message:  fmt.Sprintf("%s failed for %s", actionName, target),
		Metadata: map[string]any{
			"action": actionName,
			"target": target,
			"error":  cause.Error(),
		},
	})
}

func (m *Machine) record(ctx context.Context, entry storage.Incident) {
	if err := m.incidents.Record(ctx, entry); err != nil {
		m.logger.Error("incident not persisted", zap.String("guild_id", entry.GuildID), zap.String("type", entry.Type), zap.Error(err))
	}
}
