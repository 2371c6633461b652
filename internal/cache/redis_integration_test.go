//go:build integration

package cache

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func newRedisClient(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}

	container, err := testcontainers.GenericContainer(context.Background(), testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(context.Background(), "")
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	client, err := NewClient(Options{Addr: endpoint}, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSlowmodeBackupRoundTrip(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()

	if _, ok, err := client.Load(ctx, "g1"); err != nil || ok {
		t.Fatalf("expected no backup, got ok=%v err=%v", ok, err)
	}
	if err := client.Save(ctx, "g1", map[string]int{"c1": 0, "c2": 30}); err != nil {
		t.Fatalf("save: %v", err)
	}
	prior, ok, err := client.Load(ctx, "g1")
	if err != nil || !ok || prior["c2"] != 30 {
		t.Fatalf("unexpected backup: %+v ok=%v err=%v", prior, ok, err)
	}
	if err := client.Clear(ctx, "g1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := client.Load(ctx, "g1"); ok {
		t.Fatalf("expected backup cleared")
	}
}
