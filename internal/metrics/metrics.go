package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_handled_total",
			Help: "Inbound events processed, by event type and outcome",
		},
		[]string{"type", "outcome"},
	)

	EventRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_event_retries_total",
			Help: "Inbound events re-dispatched after a persistence error",
		},
	)

	Attributions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_attributions_total",
			Help: "Join attributions, by reason code",
		},
		[]string{"reason"},
	)

	GuildLockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_guild_lock_wait_seconds",
			Help:    "Time spent waiting for a guild critical section",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	SnapshotReconciles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_snapshot_reconciles_total",
			Help: "Full invite snapshot reconciliations, by outcome",
		},
		[]string{"outcome"},
	)

	LockdownTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_lockdown_transitions_total",
			Help: "Lockdown state transitions, by target state and trigger",
		},
		[]string{"state", "trigger"},
	)

	SecurityActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_security_actions_total",
			Help: "Host mutations attempted by the security layer, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	IncidentsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_incidents_total",
			Help: "Incidents appended to the audit log, by type and severity",
		},
		[]string{"type", "severity"},
	)

	FraudFlags = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_fraud_flags_total",
			Help: "Fraud flags persisted",
		},
	)

	FraudFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_fraud_failures_total",
			Help: "Joins whose fraud scoring failed after the join was recorded",
		},
	)
)

func ObserveLockWait(started time.Time) {
	GuildLockWait.Observe(time.Since(started).Seconds())
}

// RecordAction counts one host mutation; a nil error counts as success.
func RecordAction(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	SecurityActions.WithLabelValues(action, outcome).Inc()
}
