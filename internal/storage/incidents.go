package storage

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

func (s *Store) AddIncident(ctx context.Context, incident Incident) error {
	metadata, err := encodeMetadata(incident.Metadata)
	if err != nil {
		return err
	}
	createdAt := incident.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO incidents (guild_id, incident_type, severity, actor_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		incident.GuildID, incident.Type, incident.Severity, nullable(incident.ActorID), incident.Message, metadata, createdAt)
	return err
}

// ListIncidents returns the guild's incidents at or after since, newest first.
func (s *Store) ListIncidents(ctx context.Context, guildID string, since time.Time, limit int) ([]Incident, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, guild_id, incident_type, severity, COALESCE(actor_id, ''), message, metadata, created_at
		FROM incidents WHERE guild_id = $1 AND created_at >= $2
		ORDER BY created_at DESC, id DESC LIMIT $3`, guildID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		var incident Incident
		var raw []byte
		if err := rows.Scan(&incident.ID, &incident.GuildID, &incident.Type, &incident.Severity, &incident.ActorID,
			&incident.Message, &raw, &incident.CreatedAt); err != nil {
			return nil, err
		}
		if incident.Metadata, err = decodeMetadata(raw); err != nil {
			return nil, err
		}
		incidents = append(incidents, incident)
	}
	return incidents, rows.Err()
}

func (s *Store) AddFraudFlag(ctx context.Context, flag FraudFlag) error {
	metadata, err := encodeMetadata(flag.Metadata)
	if err != nil {
		return err
	}
	createdAt := flag.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO fraud_flags (guild_id, member_id, reason, score, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		flag.GuildID, flag.MemberID, flag.Reason, flag.Score, metadata, createdAt)
	return err
}

func (s *Store) ListFraudFlags(ctx context.Context, guildID string, limit int) ([]FraudFlag, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, guild_id, member_id, reason, score, metadata, created_at
		FROM fraud_flags WHERE guild_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []FraudFlag
	for rows.Next() {
		var flag FraudFlag
		var raw []byte
		if err := rows.Scan(&flag.ID, &flag.GuildID, &flag.MemberID, &flag.Reason, &flag.Score, &raw, &flag.CreatedAt); err != nil {
			return nil, err
		}
		if flag.Metadata, err = decodeMetadata(raw); err != nil {
			return nil, err
		}
		flags = append(flags, flag)
	}
	return flags, rows.Err()
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	metadata := map[string]any{}
	if len(raw) == 0 {
		return metadata, nil
	}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}
