// Package memory is an in-process storage.Repository for tests and for
// running without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"invite-sentinel/internal/storage"
)

type statsKey struct {
	guildID string
	userID  string
}

type Store struct {
	mu sync.Mutex

	guilds    map[string]storage.GuildSettings
	seeded    map[string]bool
	invites   map[string]map[string]storage.Invite
	joins     []storage.InviteJoin
	leaves    []storage.InviteLeave
	eventIDs  map[string]struct{}
	bonuses   []storage.BonusInvite
	stats     map[statsKey]storage.UserInviteStats
	incidents []storage.Incident
	flags     []storage.FraudFlag
	licenses  map[string]storage.PremiumLicense
	nextID    int64

	now func() time.Time
}

var _ storage.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		guilds:   make(map[string]storage.GuildSettings),
		seeded:   make(map[string]bool),
		invites:  make(map[string]map[string]storage.Invite),
		eventIDs: make(map[string]struct{}),
		stats:    make(map[statsKey]storage.UserInviteStats),
		licenses: make(map[string]storage.PremiumLicense),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Close() {}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) EnsureGuild(_ context.Context, defaults storage.GuildSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.guilds[defaults.GuildID]
	if !ok || !s.seeded[defaults.GuildID] {
		existing = s.mergeLocked(existing, defaults)
		s.guilds[defaults.GuildID] = existing
		s.seeded[defaults.GuildID] = true
	}
	if defaults.GuildName != "" {
		existing.GuildName = defaults.GuildName
		s.guilds[defaults.GuildID] = existing
	}
	return nil
}

// mergeLocked lays the fields written by the narrow setters over defaults,
// mirroring column defaults for rows created by those setters.
func (s *Store) mergeLocked(partial, defaults storage.GuildSettings) storage.GuildSettings {
	merged := defaults
	merged.GuildID = partial.GuildID
	if merged.GuildID == "" {
		merged.GuildID = defaults.GuildID
	}
	merged.SecurityLogChannel = partial.SecurityLogChannel
	merged.LockdownEnabled = partial.LockdownEnabled
	merged.IsPremium = partial.IsPremium
	merged.PremiumUntil = partial.PremiumUntil
	merged.PremiumLicenseID = partial.PremiumLicenseID
	return merged
}

func (s *Store) GetGuildSettings(_ context.Context, guildID string, defaults storage.GuildSettings) (storage.GuildSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defaults.GuildID = guildID
	settings, ok := s.guilds[guildID]
	if !ok {
		return defaults, nil
	}
	if !s.seeded[guildID] {
		return s.mergeLocked(settings, defaults), nil
	}
	return settings, nil
}

func (s *Store) UpsertGuildSettings(_ context.Context, settings storage.GuildSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.guilds[settings.GuildID]; ok {
		settings.LockdownEnabled = existing.LockdownEnabled
		settings.IsPremium = existing.IsPremium
		settings.PremiumUntil = existing.PremiumUntil
		settings.PremiumLicenseID = existing.PremiumLicenseID
	} else {
		settings.LockdownEnabled = false
		settings.IsPremium = false
		settings.PremiumUntil = nil
		settings.PremiumLicenseID = nil
	}
	s.guilds[settings.GuildID] = settings
	s.seeded[settings.GuildID] = true
	return nil
}

func (s *Store) SetLockdown(_ context.Context, guildID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.guilds[guildID]
	settings.GuildID = guildID
	settings.LockdownEnabled = enabled
	s.guilds[guildID] = settings
	return nil
}

func (s *Store) SetSecurityLogChannel(_ context.Context, guildID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.guilds[guildID]
	settings.GuildID = guildID
	settings.SecurityLogChannel = channelID
	s.guilds[guildID] = settings
	return nil
}

func (s *Store) UpsertInvite(_ context.Context, invite storage.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertInviteLocked(invite, false)
	return nil
}

func (s *Store) upsertInviteLocked(invite storage.Invite, usesOnly bool) {
	byCode := s.invites[invite.GuildID]
	if byCode == nil {
		byCode = make(map[string]storage.Invite)
		s.invites[invite.GuildID] = byCode
	}
	existing, ok := byCode[invite.Code]
	switch {
	case ok && usesOnly:
		existing.Uses = invite.Uses
		existing.DeletedAt = nil
		byCode[invite.Code] = existing
	case ok:
		if invite.InviterID == "" {
			invite.InviterID = existing.InviterID
		}
		invite.CreatedAt = existing.CreatedAt
		invite.DeletedAt = nil
		byCode[invite.Code] = invite
	default:
		if invite.CreatedAt.IsZero() {
			invite.CreatedAt = s.now()
		}
		invite.DeletedAt = nil
		byCode[invite.Code] = invite
	}
}

func (s *Store) SoftDeleteInvite(_ context.Context, guildID, code string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[guildID][code]
	if !ok || invite.DeletedAt != nil {
		return nil
	}
	invite.DeletedAt = &at
	s.invites[guildID][code] = invite
	return nil
}

func (s *Store) SoftDeleteActiveInvites(_ context.Context, guildID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for code, invite := range s.invites[guildID] {
		if invite.DeletedAt != nil {
			continue
		}
		deletedAt := at
		invite.DeletedAt = &deletedAt
		s.invites[guildID][code] = invite
		n++
	}
	return n, nil
}

func (s *Store) SyncInviteUses(_ context.Context, guildID string, invites []storage.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, invite := range invites {
		invite.GuildID = guildID
		s.upsertInviteLocked(invite, true)
	}
	return nil
}

func (s *Store) ListActiveInvites(_ context.Context, guildID string) ([]storage.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var invites []storage.Invite
	for _, invite := range s.invites[guildID] {
		if invite.DeletedAt == nil {
			invites = append(invites, invite)
		}
	}
	sort.Slice(invites, func(i, j int) bool { return invites[i].Code < invites[j].Code })
	return invites, nil
}

func (s *Store) HasPendingLeave(_ context.Context, guildID, memberID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastJoin time.Time
	joined := false
	for _, join := range s.joins {
		if join.GuildID == guildID && join.MemberID == memberID && (!joined || join.JoinedAt.After(lastJoin)) {
			lastJoin = join.JoinedAt
			joined = true
		}
	}
	for _, leave := range s.leaves {
		if leave.GuildID != guildID || leave.MemberID != memberID {
			continue
		}
		if !joined || !leave.LeftAt.Before(lastJoin) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountRejoins(_ context.Context, guildID, memberID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, join := range s.joins {
		if join.GuildID == guildID && join.MemberID == memberID && join.IsRejoin {
			count++
		}
	}
	return count, nil
}

func (s *Store) LastJoinInviter(_ context.Context, guildID, memberID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *storage.InviteJoin
	for i := range s.joins {
		join := &s.joins[i]
		if join.GuildID != guildID || join.MemberID != memberID {
			continue
		}
		if latest == nil || !join.JoinedAt.Before(latest.JoinedAt) {
			latest = join
		}
	}
	if latest == nil {
		return "", storage.ErrNotFound
	}
	return latest.InviterID, nil
}

func (s *Store) RecordJoin(_ context.Context, join storage.InviteJoin, delta storage.StatsDelta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.eventIDs[join.EventID]; seen {
		return false, nil
	}
	s.eventIDs[join.EventID] = struct{}{}
	join.ID = s.id()
	s.joins = append(s.joins, join)
	s.applyLocked(delta)
	return true, nil
}

func (s *Store) RecordLeave(_ context.Context, leave storage.InviteLeave, delta storage.StatsDelta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.eventIDs[leave.EventID]; seen {
		return false, nil
	}
	s.eventIDs[leave.EventID] = struct{}{}
	leave.ID = s.id()
	s.leaves = append(s.leaves, leave)
	s.applyLocked(delta)
	return true, nil
}

func (s *Store) ListJoins(_ context.Context, guildID string, limit int) ([]storage.InviteJoin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var joins []storage.InviteJoin
	for i := len(s.joins) - 1; i >= 0 && len(joins) < limit; i-- {
		if s.joins[i].GuildID == guildID {
			joins = append(joins, s.joins[i])
		}
	}
	return joins, nil
}

func (s *Store) applyLocked(delta storage.StatsDelta) {
	if delta.IsZero() {
		return
	}
	key := statsKey{guildID: delta.GuildID, userID: delta.UserID}
	row, ok := s.stats[key]
	if !ok {
		row = storage.UserInviteStats{GuildID: delta.GuildID, UserID: delta.UserID}
	}
	row = row.Apply(delta)
	row.UpdatedAt = s.now()
	s.stats[key] = row
}

func (s *Store) RecordBonus(_ context.Context, bonus storage.BonusInvite, delta storage.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bonus.ID = s.id()
	if bonus.CreatedAt.IsZero() {
		bonus.CreatedAt = s.now()
	}
	s.bonuses = append(s.bonuses, bonus)
	s.applyLocked(delta)
	return nil
}

func (s *Store) GetUserStats(_ context.Context, guildID, userID string) (storage.UserInviteStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.stats[statsKey{guildID: guildID, userID: userID}]; ok {
		return row, nil
	}
	return storage.UserInviteStats{GuildID: guildID, UserID: userID}, nil
}

func (s *Store) Leaderboard(_ context.Context, guildID string, limit int) ([]storage.UserInviteStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		return nil, nil
	}
	var board []storage.UserInviteStats
	for key, row := range s.stats {
		if key.guildID == guildID {
			board = append(board, row)
		}
	}
	sort.Slice(board, func(i, j int) bool { return storage.RankLess(board[i], board[j]) })
	if len(board) > limit {
		board = board[:limit]
	}
	return board, nil
}

func (s *Store) AddIncident(_ context.Context, incident storage.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	incident.ID = s.id()
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = s.now()
	}
	s.incidents = append(s.incidents, incident)
	return nil
}

func (s *Store) ListIncidents(_ context.Context, guildID string, since time.Time, limit int) ([]storage.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var incidents []storage.Incident
	for _, incident := range s.incidents {
		if incident.GuildID == guildID && !incident.CreatedAt.Before(since) {
			incidents = append(incidents, incident)
		}
	}
	sort.SliceStable(incidents, func(i, j int) bool {
		if !incidents[i].CreatedAt.Equal(incidents[j].CreatedAt) {
			return incidents[i].CreatedAt.After(incidents[j].CreatedAt)
		}
		return incidents[i].ID > incidents[j].ID
	})
	if len(incidents) > limit {
		incidents = incidents[:limit]
	}
	return incidents, nil
}

func (s *Store) AddFraudFlag(_ context.Context, flag storage.FraudFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flag.ID = s.id()
	if flag.CreatedAt.IsZero() {
		flag.CreatedAt = s.now()
	}
	s.flags = append(s.flags, flag)
	return nil
}

func (s *Store) ListFraudFlags(_ context.Context, guildID string, limit int) ([]storage.FraudFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var flags []storage.FraudFlag
	for i := len(s.flags) - 1; i >= 0 && len(flags) < limit; i-- {
		if s.flags[i].GuildID == guildID {
			flags = append(flags, s.flags[i])
		}
	}
	return flags, nil
}

func (s *Store) CreateLicense(_ context.Context, license storage.PremiumLicense) (storage.PremiumLicense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if license.Plan == "" {
		license.Plan = "premium"
	}
	if license.MaxGuilds <= 0 {
		license.MaxGuilds = 1
	}
	license.ID = s.id()
	license.ActivatedGuildIDs = append([]string(nil), license.ActivatedGuildIDs...)
	s.licenses[license.KeyHash] = license
	return license, nil
}

func (s *Store) ActivateLicense(_ context.Context, guildID, keyHash string, check func(storage.PremiumLicense) error) (storage.PremiumLicense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	license, ok := s.licenses[keyHash]
	if !ok {
		return storage.PremiumLicense{}, storage.ErrNotFound
	}
	license.ActivatedGuildIDs = append([]string(nil), license.ActivatedGuildIDs...)
	if err := check(license); err != nil {
		return storage.PremiumLicense{}, err
	}
	if !license.HasGuild(guildID) {
		license.ActivatedGuildIDs = append(license.ActivatedGuildIDs, guildID)
	}
	s.licenses[keyHash] = license

	settings := s.guilds[guildID]
	settings.GuildID = guildID
	settings.IsPremium = true
	settings.PremiumUntil = license.ExpiresAt
	id := license.ID
	settings.PremiumLicenseID = &id
	s.guilds[guildID] = settings
	return license, nil
}
