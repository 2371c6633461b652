package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"invite-sentinel/internal/storage"
)

func defaults(guildID string) storage.GuildSettings {
	return storage.GuildSettings{
		GuildID:                 guildID,
		JoinBurstCount:          7,
		JoinBurstWindowSeconds:  10,
		MinAccountAgeHours:      72,
		LinkSpamThreshold:       3,
		LinkSpamWindowSeconds:   30,
		LockdownSlowmodeSeconds: 15,
		QuarantineRoleName:      "Quarantine",
	}
}

func TestSettingsUpsertKeepsLockdown(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.SetLockdown(ctx, "g1", true); err != nil {
		t.Fatalf("set lockdown: %v", err)
	}
	got, err := store.GetGuildSettings(ctx, "g1", defaults("g1"))
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if !got.LockdownEnabled || got.JoinBurstCount != 7 {
		t.Fatalf("expected defaults with lockdown on, got %+v", got)
	}

	settings := defaults("g1")
	settings.JoinBurstCount = 3
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = store.GetGuildSettings(ctx, "g1", defaults("g1"))
	if got.JoinBurstCount != 3 || !got.LockdownEnabled {
		t.Fatalf("unexpected settings after upsert: %+v", got)
	}
}

func TestRecordJoinDeduplicatesEvents(t *testing.T) {
	store := New()
	ctx := context.Background()
	join := storage.InviteJoin{EventID: "e1", GuildID: "g1", MemberID: "m1", InviterID: "u1", JoinedAt: time.Unix(100, 0)}
	delta := storage.StatsDelta{GuildID: "g1", UserID: "u1", Total: 1, Real: 1}

	if ok, _ := store.RecordJoin(ctx, join, delta); !ok {
		t.Fatalf("expected first insert")
	}
	if ok, _ := store.RecordJoin(ctx, join, delta); ok {
		t.Fatalf("expected duplicate to be ignored")
	}
	stats, _ := store.GetUserStats(ctx, "g1", "u1")
	if stats.Total != 1 {
		t.Fatalf("expected total 1, got %d", stats.Total)
	}
}

func TestPendingLeave(t *testing.T) {
	store := New()
	ctx := context.Background()

	if pending, _ := store.HasPendingLeave(ctx, "g1", "m1"); pending {
		t.Fatalf("expected no pending leave for unknown member")
	}
	store.RecordJoin(ctx, storage.InviteJoin{EventID: "j1", GuildID: "g1", MemberID: "m1", InviterID: "u1", JoinedAt: time.Unix(100, 0)}, storage.StatsDelta{})
	store.RecordLeave(ctx, storage.InviteLeave{EventID: "l1", GuildID: "g1", MemberID: "m1", InviterID: "u1", LeftAt: time.Unix(200, 0)}, storage.StatsDelta{})
	if pending, _ := store.HasPendingLeave(ctx, "g1", "m1"); !pending {
		t.Fatalf("expected pending leave")
	}
	store.RecordJoin(ctx, storage.InviteJoin{EventID: "j2", GuildID: "g1", MemberID: "m1", JoinedAt: time.Unix(300, 0), IsRejoin: true}, storage.StatsDelta{})
	if pending, _ := store.HasPendingLeave(ctx, "g1", "m1"); pending {
		t.Fatalf("expected rejoin to clear pending leave")
	}
	if n, _ := store.CountRejoins(ctx, "g1", "m1"); n != 1 {
		t.Fatalf("expected 1 rejoin, got %d", n)
	}
	if inviter, _ := store.LastJoinInviter(ctx, "g1", "m1"); inviter != "" {
		t.Fatalf("expected latest join to have no inviter, got %q", inviter)
	}
	if _, err := store.LastJoinInviter(ctx, "g1", "m2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.RecordBonus(ctx, storage.BonusInvite{GuildID: "g1", UserID: "200", Amount: 3}, storage.StatsDelta{GuildID: "g1", UserID: "200", Bonus: 3})
	store.RecordBonus(ctx, storage.BonusInvite{GuildID: "g1", UserID: "100", Amount: 3}, storage.StatsDelta{GuildID: "g1", UserID: "100", Bonus: 3})
	store.RecordBonus(ctx, storage.BonusInvite{GuildID: "g1", UserID: "50", Amount: 1}, storage.StatsDelta{GuildID: "g1", UserID: "50", Bonus: 1})
	store.RecordBonus(ctx, storage.BonusInvite{GuildID: "g2", UserID: "1", Amount: 9}, storage.StatsDelta{GuildID: "g2", UserID: "1", Bonus: 9})

	board, err := store.Leaderboard(ctx, "g1", 2)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 || board[0].UserID != "100" || board[1].UserID != "200" {
		t.Fatalf("unexpected leaderboard: %+v", board)
	}
	if board, _ := store.Leaderboard(ctx, "g1", 0); len(board) != 0 {
		t.Fatalf("expected empty leaderboard for limit 0")
	}
}

func TestInviteLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.UpsertInvite(ctx, storage.Invite{GuildID: "g1", Code: "a", InviterID: "u1", Uses: 1})
	store.UpsertInvite(ctx, storage.Invite{GuildID: "g1", Code: "b", InviterID: "u2"})
	store.SyncInviteUses(ctx, "g1", []storage.Invite{{Code: "a", Uses: 4}})
	store.SoftDeleteInvite(ctx, "g1", "b", time.Unix(100, 0))

	invites, _ := store.ListActiveInvites(ctx, "g1")
	if len(invites) != 1 || invites[0].Code != "a" || invites[0].Uses != 4 || invites[0].InviterID != "u1" {
		t.Fatalf("unexpected invites: %+v", invites)
	}
	if n, _ := store.SoftDeleteActiveInvites(ctx, "g1", time.Unix(200, 0)); n != 1 {
		t.Fatalf("expected 1 invite deleted, got %d", n)
	}
}

func TestIncidentsNewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		store.AddIncident(ctx, storage.Incident{GuildID: "g1", Type: "t", Severity: storage.SeverityLow, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	incidents, _ := store.ListIncidents(ctx, "g1", base.Add(time.Minute), 10)
	if len(incidents) != 2 || !incidents[0].CreatedAt.After(incidents[1].CreatedAt) {
		t.Fatalf("unexpected incidents: %+v", incidents)
	}
}

func TestActivateLicense(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.CreateLicense(ctx, storage.PremiumLicense{KeyHash: "h", Active: true, MaxGuilds: 1})

	vetoed := errors.New("vetoed")
	if _, err := store.ActivateLicense(ctx, "g1", "h", func(storage.PremiumLicense) error { return vetoed }); !errors.Is(err, vetoed) {
		t.Fatalf("expected veto, got %v", err)
	}
	license, err := store.ActivateLicense(ctx, "g1", "h", func(storage.PremiumLicense) error { return nil })
	if err != nil || !license.HasGuild("g1") {
		t.Fatalf("expected activation, got %+v (%v)", license, err)
	}
	settings, _ := store.GetGuildSettings(ctx, "g1", defaults("g1"))
	if !settings.IsPremium || settings.JoinBurstCount != 7 {
		t.Fatalf("unexpected settings: %+v", settings)
	}
}
