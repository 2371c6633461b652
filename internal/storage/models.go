package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidSettings = errors.New("invalid guild settings")
)

// Incident severities.
const (
	SeverityInfo     = "info"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const maxSlowmodeSeconds = 21600

// MaxWindow is the longest join-burst or link-spam window a guild may configure.
// Window trackers keep at least this much history.
const MaxWindow = 24 * time.Hour

const maxWindowSeconds = int(MaxWindow / time.Second)

type GuildSettings struct {
	GuildID                 string
	GuildName               string
	SecurityLogChannel      string
	LockdownEnabled         bool
	JoinBurstCount          int
	JoinBurstWindowSeconds  int
	MinAccountAgeHours      int
	AutoKickYoungAccounts   bool
	LinkSpamThreshold       int
	LinkSpamWindowSeconds   int
	LockdownSlowmodeSeconds int
	QuarantineRoleName      string
	IsPremium               bool
	PremiumUntil            *time.Time
	PremiumLicenseID        *int64
}

// Validate rejects settings the runtime components cannot act on.
func (s GuildSettings) Validate() error {
	var problems []string
	if s.JoinBurstCount < 1 {
		problems = append(problems, "join_burst_count must be at least 1")
	}
	if s.JoinBurstWindowSeconds < 1 || s.JoinBurstWindowSeconds > maxWindowSeconds {
		problems = append(problems, fmt.Sprintf("join_burst_window_seconds must be within 1..%d", maxWindowSeconds))
	}
	if s.MinAccountAgeHours < 0 {
		problems = append(problems, "min_account_age_hours must not be negative")
	}
	if s.LinkSpamThreshold < 1 {
		problems = append(problems, "link_spam_threshold must be at least 1")
	}
	if s.LinkSpamWindowSeconds < 1 || s.LinkSpamWindowSeconds > maxWindowSeconds {
		problems = append(problems, fmt.Sprintf("link_spam_window_seconds must be within 1..%d", maxWindowSeconds))
	}
	if s.LockdownSlowmodeSeconds < 0 || s.LockdownSlowmodeSeconds > maxSlowmodeSeconds {
		problems = append(problems, fmt.Sprintf("lockdown_slowmode_seconds must be within 0..%d", maxSlowmodeSeconds))
	}
	if strings.TrimSpace(s.QuarantineRoleName) == "" {
		problems = append(problems, "quarantine_role_name must not be empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
	}
	return nil
}

func (s GuildSettings) JoinBurstWindow() time.Duration {
	return time.Duration(s.JoinBurstWindowSeconds) * time.Second
}

func (s GuildSettings) LinkSpamWindow() time.Duration {
	return time.Duration(s.LinkSpamWindowSeconds) * time.Second
}

func (s GuildSettings) MinAccountAge() time.Duration {
	return time.Duration(s.MinAccountAgeHours) * time.Hour
}

type Invite struct {
	GuildID   string
	Code      string
	InviterID string
	Uses      int
	MaxUses   int
	Temporary bool
	CreatedAt time.Time
	DeletedAt *time.Time
}

// InviteJoin is written once per join event and never updated.
type InviteJoin struct {
	ID         int64
	EventID    string
	GuildID    string
	MemberID   string
	InviteCode string
	InviterID  string
	JoinedAt   time.Time
	Confidence float64
	Reason     string
	IsFake     bool
	IsRejoin   bool
}

type InviteLeave struct {
	ID        int64
	EventID   string
	GuildID   string
	MemberID  string
	InviterID string
	LeftAt    time.Time
}

type BonusInvite struct {
	ID        int64
	GuildID   string
	UserID    string
	Amount    int
	Reason    string
	CreatedAt time.Time
}

type UserInviteStats struct {
	GuildID   string
	UserID    string
	Total     int
	Real      int
	Fake      int
	Leaves    int
	Rejoins   int
	Bonus     int
	UpdatedAt time.Time
}

func (s UserInviteStats) NetInvites() int {
	return s.Real - s.Leaves + s.Bonus
}

// StatsDelta is the signed change one fact applies to a (guild, user) stats row.
type StatsDelta struct {
	GuildID string
	UserID  string
	Total   int
	Real    int
	Fake    int
	Leaves  int
	Rejoins int
	Bonus   int
}

func (d StatsDelta) IsZero() bool {
	return d.UserID == "" || (d.Total == 0 && d.Real == 0 && d.Fake == 0 && d.Leaves == 0 && d.Rejoins == 0 && d.Bonus == 0)
}

// Apply folds the delta into a stats row.
func (s UserInviteStats) Apply(d StatsDelta) UserInviteStats {
	s.Total += d.Total
	s.Real += d.Real
	s.Fake += d.Fake
	s.Leaves += d.Leaves
	s.Rejoins += d.Rejoins
	s.Bonus += d.Bonus
	return s
}

type Incident struct {
	ID        int64
	GuildID   string
	Type      string
	Severity  string
	ActorID   string
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}

type FraudFlag struct {
	ID        int64
	GuildID   string
	MemberID  string
	Reason    string
	Score     float64
	Metadata  map[string]any
	CreatedAt time.Time
}

type PremiumLicense struct {
	ID                int64
	KeyHash           string
	Plan              string
	Active            bool
	MaxGuilds         int
	ActivatedGuildIDs []string
	ExpiresAt         *time.Time
}

func (l PremiumLicense) HasGuild(guildID string) bool {
	for _, id := range l.ActivatedGuildIDs {
		if id == guildID {
			return true
		}
	}
	return false
}

// RankLess orders leaderboard rows: net invites descending, then lowest user ID.
func RankLess(a, b UserInviteStats) bool {
	if a.NetInvites() != b.NetInvites() {
		return a.NetInvites() > b.NetInvites()
	}
	return CompareIDs(a.UserID, b.UserID) < 0
}

// CompareIDs compares decimal snowflake IDs numerically without parsing them.
func CompareIDs(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// Repository is the persistence contract shared by the Postgres and in-memory stores.
type Repository interface {
	EnsureGuild(ctx context.Context, defaults GuildSettings) error
	GetGuildSettings(ctx context.Context, guildID string, defaults GuildSettings) (GuildSettings, error)
	UpsertGuildSettings(ctx context.Context, settings GuildSettings) error
	SetLockdown(ctx context.Context, guildID string, enabled bool) error
	SetSecurityLogChannel(ctx context.Context, guildID, channelID string) error

	UpsertInvite(ctx context.Context, invite Invite) error
	SoftDeleteInvite(ctx context.Context, guildID, code string, at time.Time) error
	SoftDeleteActiveInvites(ctx context.Context, guildID string, at time.Time) (int64, error)
	SyncInviteUses(ctx context.Context, guildID string, invites []Invite) error
	ListActiveInvites(ctx context.Context, guildID string) ([]Invite, error)

	HasPendingLeave(ctx context.Context, guildID, memberID string) (bool, error)
	CountRejoins(ctx context.Context, guildID, memberID string) (int, error)
	LastJoinInviter(ctx context.Context, guildID, memberID string) (string, error)
	RecordJoin(ctx context.Context, join InviteJoin, delta StatsDelta) (bool, error)
	RecordLeave(ctx context.Context, leave InviteLeave, delta StatsDelta) (bool, error)
	ListJoins(ctx context.Context, guildID string, limit int) ([]InviteJoin, error)

	RecordBonus(ctx context.Context, bonus BonusInvite, delta StatsDelta) error
	GetUserStats(ctx context.Context, guildID, userID string) (UserInviteStats, error)
	Leaderboard(ctx context.Context, guildID string, limit int) ([]UserInviteStats, error)

	AddIncident(ctx context.Context, incident Incident) error
	ListIncidents(ctx context.Context, guildID string, since time.Time, limit int) ([]Incident, error)

	AddFraudFlag(ctx context.Context, flag FraudFlag) error
	ListFraudFlags(ctx context.Context, guildID string, limit int) ([]FraudFlag, error)

	CreateLicense(ctx context.Context, license PremiumLicense) (PremiumLicense, error)
	ActivateLicense(ctx context.Context, guildID, keyHash string, check func(PremiumLicense) error) (PremiumLicense, error)

	Close()
}
