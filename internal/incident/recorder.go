package incident

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"invite-sentinel/internal/metrics"
	"invite-sentinel/internal/storage"
)

const (
	TypeLockdownTriggered = "lockdown_triggered"
	TypeLockdownLifted    = "lockdown_lifted"
	TypeAutoKick          = "auto_kick"
	TypeLinkSpam          = "link_spam"
	TypeActionDegraded    = "action_degraded"
	TypeInviteBlocked     = "invite_blocked_lockdown"
	TypeFraudFlagged      = "fraud_flagged"
	TypePremiumActivated  = "premium_activated"
)

// Notifier receives every incident after it is persisted.
type Notifier func(ctx context.Context, incident storage.Incident)

// Recorder appends incidents to the audit log, logs them and forwards them to
// the notifier.
type Recorder struct {
	repo   storage.Repository
	logger *zap.Logger
	notify Notifier
	now    func() time.Time
}

func NewRecorder(repo storage.Repository, logger *zap.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger, now: time.Now}
}

func (r *Recorder) SetNotifier(notify Notifier) {
	r.notify = notify
}

// Record persists the incident. The log line and notification are emitted
// even when persistence fails so the event is never lost silently.
func (r *Recorder) Record(ctx context.Context, incident storage.Incident) error {
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = r.now().UTC()
	}
	if incident.Metadata == nil {
		incident.Metadata = map[string]any{}
	}

	var err error
	if r.repo != nil {
		if err = r.repo.AddIncident(ctx, incident); err != nil {
			err = fmt.Errorf("persist incident %s: %w", incident.Type, err)
		}
	}

	metrics.IncidentsRecorded.WithLabelValues(incident.Type, incident.Severity).Inc()
	r.logger.Info("incident",
		zap.String("guild_id", incident.GuildID),
		zap.String("type", incident.Type),
		zap.String("severity", incident.Severity),
		zap.String("actor_id", incident.ActorID),
		zap.String("message", incident.Message),
		zap.Any("metadata", incident.Metadata),
		zap.NamedError("persist_error", err),
	)
	if r.notify != nil {
		r.notify(ctx, incident)
	}
	return err
}
