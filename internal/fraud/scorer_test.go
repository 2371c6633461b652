package fraud

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"invite-sentinel/internal/incident"
	"invite-sentinel/internal/storage"
	"invite-sentinel/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func premiumSettings() storage.GuildSettings {
	until := now.Add(24 * time.Hour)
	return storage.GuildSettings{
		GuildID:            "g1",
		JoinBurstCount:     7,
		MinAccountAgeHours: 72,
		IsPremium:          true,
		PremiumUntil:       &until,
	}
}

func newScorer(repo *memory.Store) *Scorer {
	scorer := NewScorer(repo, incident.NewRecorder(repo, zap.NewNop()), zap.NewNop(), 0)
	scorer.WithClock(fixedClock{now: now})
	return scorer
}

func youngJoin() Input {
	return Input{
		Join: storage.InviteJoin{
			EventID:    "e1",
			GuildID:    "g1",
			MemberID:   "m1",
			JoinedAt:   now,
			Confidence: 0.2,
			Reason:     "unknown",
			IsFake:     true,
		},
		AccountCreatedAt: now.Add(-time.Hour),
	}
}

func TestNonPremiumGuildIsNeverScored(t *testing.T) {
	repo := memory.New()
	scorer := newScorer(repo)

	settings := premiumSettings()
	settings.IsPremium = false
	if _, ran, err := scorer.Evaluate(context.Background(), settings, youngJoin()); ran || err != nil {
		t.Fatalf("expected scorer skipped, ran=%v err=%v", ran, err)
	}

	expired := premiumSettings()
	past := now.Add(-time.Minute)
	expired.PremiumUntil = &past
	if _, ran, _ := scorer.Evaluate(context.Background(), expired, youngJoin()); ran {
		t.Fatalf("expected expired premium to skip scoring")
	}

	flags, _ := repo.ListFraudFlags(context.Background(), "g1", 10)
	if len(flags) != 0 {
		t.Fatalf("expected no fraud flags, got %d", len(flags))
	}
}

func TestYoungLowConfidenceJoinIsFlagged(t *testing.T) {
	repo := memory.New()
	scorer := newScorer(repo)

	assessment, ran, err := scorer.Evaluate(context.Background(), premiumSettings(), youngJoin())
	if err != nil || !ran {
		t.Fatalf("evaluate: ran=%v err=%v", ran, err)
	}
	if !assessment.Flagged || assessment.Reason != SignalYoungAccount {
		t.Fatalf("unexpected assessment: %+v", assessment)
	}

	flags, _ := repo.ListFraudFlags(context.Background(), "g1", 10)
	if len(flags) != 1 || flags[0].MemberID != "m1" || flags[0].Score != assessment.Score {
		t.Fatalf("unexpected flags: %+v", flags)
	}
	incidents, _ := repo.ListIncidents(context.Background(), "g1", time.Time{}, 10)
	if len(incidents) != 1 || incidents[0].Type != incident.TypeFraudFlagged {
		t.Fatalf("unexpected incidents: %+v", incidents)
	}
}

func TestConfidentEstablishedJoinIsNotFlagged(t *testing.T) {
	repo := memory.New()
	scorer := newScorer(repo)

	in := youngJoin()
	in.Join.Confidence = 1
	in.AccountCreatedAt = now.Add(-365 * 24 * time.Hour)

	assessment, ran, err := scorer.Evaluate(context.Background(), premiumSettings(), in)
	if err != nil || !ran || assessment.Flagged || assessment.Score != 0 {
		t.Fatalf("unexpected assessment: %+v ran=%v err=%v", assessment, ran, err)
	}
	flags, _ := repo.ListFraudFlags(context.Background(), "g1", 10)
	if len(flags) != 0 {
		t.Fatalf("expected no flags")
	}
}

func TestScoreStaysWithinBounds(t *testing.T) {
	settings := premiumSettings()
	settings.LockdownEnabled = true
	in := youngJoin()
	in.Join.Confidence = 0
	in.AccountCreatedAt = now

	assessment := Score(settings, in, 10)
	if assessment.Score != 1 {
		t.Fatalf("expected saturated score 1, got %v", assessment.Score)
	}

	in.Join.Confidence = 1
	in.AccountCreatedAt = time.Time{}
	settings.LockdownEnabled = false
	if got := Score(settings, in, 0).Score; got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestBurstSignalScalesWithWindowCount(t *testing.T) {
	settings := premiumSettings()
	in := youngJoin()
	in.BurstCount = 14

	assessment := Score(settings, in, 0)
	if assessment.Signals[SignalBurst] != 1 {
		t.Fatalf("expected saturated burst signal, got %v", assessment.Signals[SignalBurst])
	}
	in.BurstCount = 0
	if Score(settings, in, 0).Signals[SignalBurst] != 0 {
		t.Fatalf("expected no burst signal")
	}
}
