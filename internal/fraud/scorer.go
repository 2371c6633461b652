package fraud

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"invite-sentinel/internal/incident"
	"invite-sentinel/internal/metrics"
	"invite-sentinel/internal/premium"
	"invite-sentinel/internal/storage"
)

// DefaultReportFloor is the score a join must exceed to be flagged.
const DefaultReportFloor = 0.5

// Signal names, also used as the flag reason when a signal dominates.
const (
	SignalLowConfidence = "low_confidence"
	SignalYoungAccount  = "young_account"
	SignalBurst         = "join_burst"
	SignalRejoins       = "rejoin_history"
)

const rejoinSaturation = 3

// Weights sum to 1 so a join saturating every signal scores exactly 1.
var weights = map[string]float64{
	SignalLowConfidence: 0.25,
	SignalYoungAccount:  0.40,
	SignalBurst:         0.20,
	SignalRejoins:       0.15,
}

var signalOrder = []string{SignalYoungAccount, SignalLowConfidence, SignalBurst, SignalRejoins}

// Input is a join fact plus the context around it.
type Input struct {
	Join             storage.InviteJoin
	AccountCreatedAt time.Time
	BurstCount       int
}

type Assessment struct {
	Score   float64
	Reason  string
	Signals map[string]float64
	Flagged bool
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Scorer struct {
	repo      storage.Repository
	incidents *incident.Recorder
	logger    *zap.Logger
	floor     float64
	clock     Clock
}

func NewScorer(repo storage.Repository, incidents *incident.Recorder, logger *zap.Logger, floor float64) *Scorer {
	if floor <= 0 || floor >= 1 {
		floor = DefaultReportFloor
	}
	return &Scorer{repo: repo, incidents: incidents, logger: logger, floor: floor, clock: realClock{}}
}

func (s *Scorer) WithClock(clock Clock) {
	s.clock = clock
}

// Evaluate scores one join for a premium guild and persists a flag when the
// score clears the floor. It reports false without touching storage when
// the guild has no active entitlement.
func (s *Scorer) Evaluate(ctx context.Context, settings storage.GuildSettings, in Input) (Assessment, bool, error) {
	if !premium.IsActive(settings, s.clock.Now()) {
		return Assessment{}, false, nil
	}

	rejoins, err := s.repo.CountRejoins(ctx, in.Join.GuildID, in.Join.MemberID)
	if err != nil {
		return Assessment{}, true, fmt.Errorf("count rejoins: %w", err)
	}

	assessment := Score(settings, in, rejoins)
	assessment.Flagged = assessment.Score > s.floor
	if !assessment.Flagged {
		return assessment, true, nil
	}

	metadata := map[string]any{
		"event_id":    in.Join.EventID,
		"confidence":  in.Join.Confidence,
		"burst_count": in.BurstCount,
		"rejoins":     rejoins,
		"signals":     assessment.Signals,
	}
	if !in.AccountCreatedAt.IsZero() {
		metadata["age_hours"] = in.Join.JoinedAt.Sub(in.AccountCreatedAt).Hours()
		metadata["min_required_hours"] = settings.MinAccountAgeHours
	}
	flag := storage.FraudFlag{
		GuildID:  in.Join.GuildID,
		MemberID: in.Join.MemberID,
		Reason:   assessment.Reason,
		Score:    assessment.Score,
		Metadata: metadata,
	}
	if err := s.repo.AddFraudFlag(ctx, flag); err != nil {
		return assessment, true, fmt.Errorf("add fraud flag: %w", err)
	}
	metrics.FraudFlags.Inc()

	if err := s.incidents.Record(ctx, storage.Incident{
		GuildID:  in.Join.GuildID,
		Type:     incident.TypeFraudFlagged,
		Severity: storage.SeverityMedium,
		ActorID:  in.Join.MemberID,
		Message:  fmt.Sprintf("<@%s> flagged for %s (score %.2f)", in.Join.MemberID, assessment.Reason, assessment.Score),
		Metadata: map[string]any{"score": assessment.Score, "reason": assessment.Reason},
	}); err != nil {
		s.logger.Error("fraud incident not persisted", zap.String("guild_id", in.Join.GuildID), zap.Error(err))
	}
	return assessment, true, nil
}

// Score combines the join's signals into a value in [0,1]. The reason is the
// signal contributing the most weight.
func Score(settings storage.GuildSettings, in Input, rejoins int) Assessment {
	signals := map[string]float64{
		SignalLowConfidence: clamp(1 - in.Join.Confidence),
		SignalYoungAccount:  youngAccount(settings, in),
		SignalBurst:         burst(settings, in.BurstCount),
		SignalRejoins:       clamp(float64(rejoins) / rejoinSaturation),
	}

	score := 0.0
	reason := ""
	best := 0.0
	for _, name := range signalOrder {
		contribution := signals[name] * weights[name]
		score += contribution
		if contribution > best {
			best = contribution
			reason = name
		}
	}
	if reason == "" {
		reason = SignalLowConfidence
	}
	return Assessment{Score: math.Round(clamp(score)*10000) / 10000, Reason: reason, Signals: signals}
}

func youngAccount(settings storage.GuildSettings, in Input) float64 {
	if in.AccountCreatedAt.IsZero() || settings.MinAccountAgeHours <= 0 {
		return 0
	}
	minAge := float64(settings.MinAccountAgeHours)
	age := in.Join.JoinedAt.Sub(in.AccountCreatedAt).Hours()
	if age >= minAge {
		return 0
	}
	return clamp((minAge - age) / math.Max(1, minAge))
}

func burst(settings storage.GuildSettings, count int) float64 {
	if settings.JoinBurstCount <= 0 {
		return 0
	}
	if settings.LockdownEnabled {
		return 1
	}
	return clamp(float64(count) / float64(settings.JoinBurstCount))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
