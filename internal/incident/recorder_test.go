package incident

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"invite-sentinel/internal/metrics"
	"invite-sentinel/internal/storage"
	"invite-sentinel/internal/storage/memory"
)

func TestRecordPersistsAndNotifies(t *testing.T) {
	repo := memory.New()
	recorder := NewRecorder(repo, zap.NewNop())
	recorder.now = func() time.Time { return time.Unix(500, 0) }

	var notified []storage.Incident
	recorder.SetNotifier(func(_ context.Context, incident storage.Incident) {
		notified = append(notified, incident)
	})

	before := testutil.ToFloat64(metrics.IncidentsRecorded.WithLabelValues(TypeLinkSpam, storage.SeverityMedium))
	err := recorder.Record(context.Background(), storage.Incident{
		GuildID:  "g1",
		Type:     TypeLinkSpam,
		Severity: storage.SeverityMedium,
		ActorID:  "m1",
		Message:  "spam",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	incidents, _ := repo.ListIncidents(context.Background(), "g1", time.Time{}, 10)
	if len(incidents) != 1 || !incidents[0].CreatedAt.Equal(time.Unix(500, 0).UTC()) || incidents[0].Metadata == nil {
		t.Fatalf("unexpected incidents: %+v", incidents)
	}
	if len(notified) != 1 || notified[0].Type != TypeLinkSpam {
		t.Fatalf("expected one notification, got %+v", notified)
	}
	after := testutil.ToFloat64(metrics.IncidentsRecorded.WithLabelValues(TypeLinkSpam, storage.SeverityMedium))
	if after-before != 1 {
		t.Fatalf("expected metric to increase by 1, got %v", after-before)
	}
}
