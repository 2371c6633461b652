package window

import (
	"sort"
	"sync"
	"time"

	"invite-sentinel/internal/state"
)

// Key identifies one occurrence series inside a guild.
type Key struct {
	GuildID string
	Subject string
}

func JoinsKey(guildID string) Key {
	return Key{GuildID: guildID, Subject: "joins"}
}

func LinksKey(guildID, memberID string) Key {
	return Key{GuildID: guildID, Subject: memberID + ":links"}
}

// Tracker records timestamped occurrences per key and answers windowed counts.
// Every access evicts entries older than the newest entry minus the retention,
// which caps memory per key regardless of how callers evict.
type Tracker struct {
	retention time.Duration
	guilds    *state.Registry[guildSeries]
}

type guildSeries struct {
	mu     sync.Mutex
	series map[string]*series
}

type series struct {
	mu   sync.Mutex
	hits []time.Time
}

func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Tracker{
		retention: retention,
		guilds: state.NewRegistry(func(string) *guildSeries {
			return &guildSeries{series: make(map[string]*series)}
		}),
	}
}

// Record appends an occurrence and returns how many are retained for the key.
func (t *Tracker) Record(key Key, at time.Time) int {
	s := t.series(key, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := sort.Search(len(s.hits), func(i int) bool { return s.hits[i].After(at) })
	s.hits = append(s.hits, time.Time{})
	copy(s.hits[idx+1:], s.hits[idx:])
	s.hits[idx] = at

	s.trimLocked(t.retention)
	return len(s.hits)
}

// CountSince returns the number of occurrences at or after cutoff.
func (t *Tracker) CountSince(key Key, cutoff time.Time) int {
	s := t.series(key, false)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trimLocked(t.retention)
	idx := sort.Search(len(s.hits), func(i int) bool { return !s.hits[i].Before(cutoff) })
	return len(s.hits) - idx
}

// EvictOlderThan drops occurrences strictly before cutoff.
func (t *Tracker) EvictOlderThan(key Key, cutoff time.Time) {
	s := t.series(key, false)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(cutoff)
}

// Reset forgets every occurrence for the key.
func (t *Tracker) Reset(key Key) {
	guild, ok := t.guilds.Peek(key.GuildID)
	if !ok {
		return
	}
	guild.mu.Lock()
	delete(guild.series, key.Subject)
	guild.mu.Unlock()
}

// ForgetGuild drops every series for a guild.
func (t *Tracker) ForgetGuild(guildID string) {
	t.guilds.Delete(guildID)
}

// Sweep removes series whose newest occurrence is older than now minus the retention.
// It only reclaims memory; counts are correct without it.
func (t *Tracker) Sweep(now time.Time) int {
	removed := 0
	horizon := now.Add(-t.retention)
	t.guilds.Range(func(_ string, guild *guildSeries) bool {
		guild.mu.Lock()
		for subject, s := range guild.series {
			s.mu.Lock()
			stale := len(s.hits) == 0 || s.hits[len(s.hits)-1].Before(horizon)
			s.mu.Unlock()
			if stale {
				delete(guild.series, subject)
				removed++
			}
		}
		guild.mu.Unlock()
		return true
	})
	return removed
}

func (t *Tracker) series(key Key, create bool) *series {
	var guild *guildSeries
	if create {
		guild = t.guilds.Get(key.GuildID)
	} else {
		existing, ok := t.guilds.Peek(key.GuildID)
		if !ok {
			return nil
		}
		guild = existing
	}

	guild.mu.Lock()
	defer guild.mu.Unlock()
	s := guild.series[key.Subject]
	if s == nil && create {
		s = &series{}
		guild.series[key.Subject] = s
	}
	return s
}

func (s *series) trimLocked(retention time.Duration) {
	if len(s.hits) == 0 {
		return
	}
	s.evictLocked(s.hits[len(s.hits)-1].Add(-retention))
}

func (s *series) evictLocked(cutoff time.Time) {
	idx := 0
	for _, hit := range s.hits {
		if !hit.Before(cutoff) {
			break
		}
		idx++
	}
	s.hits = s.hits[idx:]
}
