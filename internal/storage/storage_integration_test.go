//go:build integration

package storage

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	skipIfNoDocker(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "sentinel",
				"POSTGRES_PASSWORD": "sentinel",
				"POSTGRES_DB":       "sentinel",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	url := fmt.Sprintf("postgres://sentinel:sentinel@%s:%s/sentinel?sslmode=disable", host, port.Port())
	store, err := New(ctx, url)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.Migrate(zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestPostgresGuildSettings(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	settings := validSettings()
	if err := store.EnsureGuild(ctx, settings); err != nil {
		t.Fatalf("ensure guild: %v", err)
	}
	if err := store.SetLockdown(ctx, "g1", true); err != nil {
		t.Fatalf("set lockdown: %v", err)
	}

	settings.JoinBurstCount = 12
	settings.SecurityLogChannel = "c2"
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("upsert settings: %v", err)
	}

	got, err := store.GetGuildSettings(ctx, "g1", GuildSettings{})
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if got.JoinBurstCount != 12 || got.SecurityLogChannel != "c2" {
		t.Fatalf("unexpected settings: %+v", got)
	}
	if !got.LockdownEnabled {
		t.Fatalf("expected settings upsert to keep lockdown state")
	}
}

func TestPostgresRecordJoinIsIdempotent(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	join := InviteJoin{
		EventID:    "evt-1",
		GuildID:    "g1",
		MemberID:   "m1",
		InviteCode: "abc",
		InviterID:  "u1",
		JoinedAt:   time.Now().UTC(),
		Confidence: 1,
		Reason:     "exact_match",
	}
	delta := StatsDelta{GuildID: "g1", UserID: "u1", Total: 1, Real: 1}

	for i := 0; i < 2; i++ {
		inserted, err := store.RecordJoin(ctx, join, delta)
		if err != nil {
			t.Fatalf("record join: %v", err)
		}
		if inserted != (i == 0) {
			t.Fatalf("attempt %d: unexpected inserted=%v", i, inserted)
		}
	}

	stats, err := store.GetUserStats(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.Total != 1 || stats.Real != 1 {
		t.Fatalf("expected one counted join, got %+v", stats)
	}
}

func TestPostgresConcurrentDeltas(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			join := InviteJoin{
				EventID:    fmt.Sprintf("evt-%d", i),
				GuildID:    "g1",
				MemberID:   fmt.Sprintf("m%d", i),
				InviterID:  "u1",
				JoinedAt:   time.Now().UTC(),
				Confidence: 0.8,
				Reason:     "burst_reuse",
			}
			if _, err := store.RecordJoin(ctx, join, StatsDelta{GuildID: "g1", UserID: "u1", Total: 1, Real: 1}); err != nil {
				t.Errorf("record join: %v", err)
			}
		}(i)
	}
	wg.Wait()

	stats, err := store.GetUserStats(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.Total != 20 {
		t.Fatalf("expected 20 joins, got %d", stats.Total)
	}
}

func TestPostgresPendingLeave(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	join := InviteJoin{EventID: "j1", GuildID: "g1", MemberID: "m1", InviterID: "u1", JoinedAt: now, Confidence: 1, Reason: "exact_match"}
	if _, err := store.RecordJoin(ctx, join, StatsDelta{GuildID: "g1", UserID: "u1", Total: 1, Real: 1}); err != nil {
		t.Fatalf("record join: %v", err)
	}
	if pending, _ := store.HasPendingLeave(ctx, "g1", "m1"); pending {
		t.Fatalf("expected no pending leave after join")
	}

	leave := InviteLeave{EventID: "l1", GuildID: "g1", MemberID: "m1", InviterID: "u1", LeftAt: now.Add(time.Minute)}
	if _, err := store.RecordLeave(ctx, leave, StatsDelta{GuildID: "g1", UserID: "u1", Leaves: 1}); err != nil {
		t.Fatalf("record leave: %v", err)
	}
	if pending, _ := store.HasPendingLeave(ctx, "g1", "m1"); !pending {
		t.Fatalf("expected pending leave")
	}

	inviter, err := store.LastJoinInviter(ctx, "g1", "m1")
	if err != nil || inviter != "u1" {
		t.Fatalf("expected inviter u1, got %q (%v)", inviter, err)
	}
}

func TestPostgresActivateLicense(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	if _, err := store.CreateLicense(ctx, PremiumLicense{KeyHash: "hash", Active: true, MaxGuilds: 1}); err != nil {
		t.Fatalf("create license: %v", err)
	}
	license, err := store.ActivateLicense(ctx, "g1", "hash", func(PremiumLicense) error { return nil })
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !license.HasGuild("g1") {
		t.Fatalf("expected guild bound to license")
	}

	settings, err := store.GetGuildSettings(ctx, "g1", validSettings())
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if !settings.IsPremium || settings.PremiumLicenseID == nil || *settings.PremiumLicenseID != license.ID {
		t.Fatalf("expected premium guild, got %+v", settings)
	}

	if _, err := store.ActivateLicense(ctx, "g1", "missing", func(PremiumLicense) error { return nil }); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
