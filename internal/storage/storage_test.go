package storage

import (
	"errors"
	"sort"
	"testing"
)

func validSettings() GuildSettings {
	return GuildSettings{
		GuildID:                 "g1",
		JoinBurstCount:          7,
		JoinBurstWindowSeconds:  10,
		MinAccountAgeHours:      72,
		LinkSpamThreshold:       3,
		LinkSpamWindowSeconds:   30,
		LockdownSlowmodeSeconds: 15,
		QuarantineRoleName:      "Quarantine",
	}
}

func TestValidateGuildSettings(t *testing.T) {
	if err := validSettings().Validate(); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}

	cases := map[string]func(*GuildSettings){
		"zero burst":        func(s *GuildSettings) { s.JoinBurstCount = 0 },
		"zero window":       func(s *GuildSettings) { s.JoinBurstWindowSeconds = 0 },
		"negative age":      func(s *GuildSettings) { s.MinAccountAgeHours = -1 },
		"zero link spam":    func(s *GuildSettings) { s.LinkSpamThreshold = 0 },
		"slowmode too big":  func(s *GuildSettings) { s.LockdownSlowmodeSeconds = 21601 },
		"burst window long": func(s *GuildSettings) { s.JoinBurstWindowSeconds = 86401 },
		"link window long":  func(s *GuildSettings) { s.LinkSpamWindowSeconds = 86401 },
		"blank role":        func(s *GuildSettings) { s.QuarantineRoleName = "  " },
	}

	longest := validSettings()
	longest.JoinBurstWindowSeconds = 86400
	longest.LinkSpamWindowSeconds = 86400
	if err := longest.Validate(); err != nil {
		t.Fatalf("expected a full-day window to be valid, got %v", err)
	}

	for name, mutate := range cases {
		settings := validSettings()
		mutate(&settings)
		if err := settings.Validate(); !errors.Is(err, ErrInvalidSettings) {
			t.Fatalf("%s: expected ErrInvalidSettings, got %v", name, err)
		}
	}
}

func TestNetInvites(t *testing.T) {
	stats := UserInviteStats{Total: 10, Real: 8, Fake: 2, Leaves: 3, Bonus: 5}
	if got := stats.NetInvites(); got != 10 {
		t.Fatalf("expected net 10, got %d", got)
	}

	stats = stats.Apply(StatsDelta{Leaves: 1, Bonus: -2})
	if got := stats.NetInvites(); got != 7 {
		t.Fatalf("expected net 7 after delta, got %d", got)
	}
}

func TestRankLess(t *testing.T) {
	rows := []UserInviteStats{
		{UserID: "300", Real: 2},
		{UserID: "1000", Real: 5},
		{UserID: "20", Real: 5},
		{UserID: "9", Real: 1, Bonus: 1},
	}
	sort.SliceStable(rows, func(i, j int) bool { return RankLess(rows[i], rows[j]) })

	want := []string{"20", "1000", "9", "300"}
	for i, id := range want {
		if rows[i].UserID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, rows[i].UserID)
		}
	}
}

func TestStatsDeltaIsZero(t *testing.T) {
	if !(StatsDelta{UserID: "u1"}).IsZero() {
		t.Fatalf("expected empty delta to be zero")
	}
	if !(StatsDelta{Real: 1}).IsZero() {
		t.Fatalf("expected delta without user to be zero")
	}
	if (StatsDelta{UserID: "u1", Leaves: 1}).IsZero() {
		t.Fatalf("expected leave delta to be non-zero")
	}
}
