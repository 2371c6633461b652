package snapshot

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"invite-sentinel/internal/host"
	"invite-sentinel/internal/host/hostfake"
)

func TestGetReconcilesOnce(t *testing.T) {
	fake := hostfake.New()
	fake.SetInvite("g1", host.Invite{Code: "a", InviterID: "u1", Uses: 2})
	cache := New(fake, zap.NewNop())

	if _, ok := cache.Peek("g1"); ok {
		t.Fatalf("expected empty cache")
	}
	snap, err := cache.Get(context.Background(), "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap["a"].Uses != 2 || snap["a"].InviterID != "u1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if _, err := cache.Get(context.Background(), "g1"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if fake.ListCalls != 1 {
		t.Fatalf("expected one listing, got %d", fake.ListCalls)
	}
}

func TestReconcileFailureLeavesCacheEmpty(t *testing.T) {
	fake := hostfake.New()
	fake.FailList = errors.New("rate limited")
	cache := New(fake, zap.NewNop())

	if _, err := cache.Get(context.Background(), "g1"); err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := cache.Peek("g1"); ok {
		t.Fatalf("expected guild to stay unpopulated")
	}
}

func TestApplyPrunesMissingInvites(t *testing.T) {
	cache := New(hostfake.New(), zap.NewNop())
	cache.Apply("g1", []host.Invite{{Code: "a", Uses: 1}, {Code: "b", Uses: 3}})
	cache.Apply("g1", []host.Invite{{Code: "b", Uses: 4}})

	snap, ok := cache.Peek("g1")
	if !ok {
		t.Fatalf("expected populated cache")
	}
	if _, exists := snap["a"]; exists {
		t.Fatalf("expected invite a to be pruned")
	}
	if snap["b"].Uses != 4 {
		t.Fatalf("expected b uses 4, got %d", snap["b"].Uses)
	}
}

func TestPatchesOnlyPopulatedPartitions(t *testing.T) {
	cache := New(hostfake.New(), zap.NewNop())
	cache.OnInviteCreated("g1", host.Invite{Code: "a", InviterID: "u1"})
	if _, ok := cache.Peek("g1"); ok {
		t.Fatalf("expected patch to be ignored before reconciliation")
	}

	cache.Apply("g1", nil)
	cache.OnInviteCreated("g1", host.Invite{Code: "a", InviterID: "u1"})
	cache.OnInviteUpdated("g1", host.Invite{Code: "a", Uses: 5})
	snap, _ := cache.Peek("g1")
	if snap["a"].Uses != 5 || snap["a"].InviterID != "u1" {
		t.Fatalf("unexpected entry: %+v", snap["a"])
	}

	cache.OnInviteDeleted("g1", "a")
	snap, _ = cache.Peek("g1")
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestPeekReturnsCopy(t *testing.T) {
	cache := New(hostfake.New(), zap.NewNop())
	cache.Apply("g1", []host.Invite{{Code: "a", Uses: 1}})
	snap, _ := cache.Peek("g1")
	snap["a"] = Entry{Uses: 99}

	again, _ := cache.Peek("g1")
	if again["a"].Uses != 1 {
		t.Fatalf("expected cache to be unaffected by caller mutation")
	}

	cache.Evict("g1")
	if _, ok := cache.Peek("g1"); ok {
		t.Fatalf("expected evicted guild to be empty")
	}
}
