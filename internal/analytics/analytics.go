package analytics

import (
	"context"
	"fmt"
	"time"

	"invite-sentinel/internal/premium"
	"invite-sentinel/internal/storage"
)

const (
	summaryWindow  = 24 * time.Hour
	forecastWindow = time.Hour
	scanLimit      = 5000
)

var severityWeight = map[string]int{
	storage.SeverityLow:      1,
	storage.SeverityMedium:   2,
	storage.SeverityHigh:     4,
	storage.SeverityCritical: 7,
}

type Thresholds struct {
	JoinBurstCount          int
	JoinBurstWindowSeconds  int
	MinAccountAgeHours      int
	AutoKickYoungAccounts   bool
	LinkSpamThreshold       int
	LinkSpamWindowSeconds   int
	LockdownSlowmodeSeconds int
}

// Forecast estimates raid risk from the last hour of incidents.
type Forecast struct {
	Risk              string
	Score             int
	IncidentsLastHour int
}

type Summary struct {
	GuildID         string
	LockdownEnabled bool
	RecentIncidents []storage.Incident
	ByLevel         map[string]int
	IncidentsDay    int
	Thresholds      Thresholds
	Premium         bool
	// Forecast is set for premium guilds only.
	Forecast *Forecast
}

type Service struct {
	repo   storage.Repository
	recent int
	now    func() time.Time
}

func New(repo storage.Repository, recent int) *Service {
	if recent <= 0 {
		recent = 20
	}
	return &Service{repo: repo, recent: recent, now: time.Now}
}

// Summary projects a guild's security state for moderators.
func (s *Service) Summary(ctx context.Context, settings storage.GuildSettings) (Summary, error) {
	now := s.now().UTC()

	recent, err := s.repo.ListIncidents(ctx, settings.GuildID, time.Time{}, s.recent)
	if err != nil {
		return Summary{}, fmt.Errorf("list recent incidents: %w", err)
	}
	day, err := s.repo.ListIncidents(ctx, settings.GuildID, now.Add(-summaryWindow), scanLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("list daily incidents: %w", err)
	}

	summary := Summary{
		GuildID:         settings.GuildID,
		LockdownEnabled: settings.LockdownEnabled,
		RecentIncidents: recent,
		ByLevel:         make(map[string]int),
		IncidentsDay:    len(day),
		Thresholds: Thresholds{
			JoinBurstCount:          settings.JoinBurstCount,
			JoinBurstWindowSeconds:  settings.JoinBurstWindowSeconds,
			MinAccountAgeHours:      settings.MinAccountAgeHours,
			AutoKickYoungAccounts:   settings.AutoKickYoungAccounts,
			LinkSpamThreshold:       settings.LinkSpamThreshold,
			LinkSpamWindowSeconds:   settings.LinkSpamWindowSeconds,
			LockdownSlowmodeSeconds: settings.LockdownSlowmodeSeconds,
		},
		Premium: premium.IsActive(settings, now),
	}
	for _, entry := range day {
		summary.ByLevel[entry.Severity]++
	}
	if summary.Premium {
		forecast := Predict(day, now)
		summary.Forecast = &forecast
	}
	return summary, nil
}

// Predict weighs incidents from the hour before now by severity.
func Predict(incidents []storage.Incident, now time.Time) Forecast {
	cutoff := now.Add(-forecastWindow)
	forecast := Forecast{Risk: "low"}
	for _, entry := range incidents {
		if !entry.CreatedAt.After(cutoff) {
			continue
		}
		forecast.IncidentsLastHour++
		weight, ok := severityWeight[entry.Severity]
		if !ok {
			weight = 1
		}
		forecast.Score += weight
	}
	switch {
	case forecast.Score >= 20:
		forecast.Risk = "high"
	case forecast.Score >= 10:
		forecast.Risk = "medium"
	}
	return forecast
}
