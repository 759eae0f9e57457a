package db

import (
	"fmt"
	"time"
)

type ParticipantRecord struct {
	ID        string
	CreatedAt time.Time
	LastSeen  time.Time
}

func (d *DB) UpsertParticipant(id string) error {
	_, err := d.conn.Exec(`
		INSERT INTO participants (id)
		VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET last_seen = now()
	`, id)
	if err != nil {
		return fmt.Errorf("upserting participant: %w", err)
	}
	return nil
}

func (d *DB) GetParticipant(id string) (*ParticipantRecord, error) {
	var p ParticipantRecord
	err := d.conn.QueryRow(`
		SELECT id, created_at, last_seen FROM participants WHERE id = $1
	`, id).Scan(&p.ID, &p.CreatedAt, &p.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("getting participant: %w", err)
	}
	return &p, nil
}
