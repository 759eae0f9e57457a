package db

import (
	"fmt"
	"time"
)

type AttemptRecord struct {
	SessionID  string
	Seq        int
	Subject    string
	Response   string
	Expected   string
	Correct    bool
	DurationMs int64
	RecordedAt time.Time
}

const insertAttempt = `
	INSERT INTO attempts (session_id, seq, subject, response, expected, is_correct, duration_ms, recorded_at)
	VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
	ON CONFLICT (session_id, seq) DO NOTHING
`

func (d *DB) RecordAttempt(a AttemptRecord) error {
	_, err := d.conn.Exec(insertAttempt, a.SessionID, a.Seq, a.Subject, a.Response, a.Expected, a.Correct, a.DurationMs, a.RecordedAt)
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

func (d *DB) BatchRecordAttempts(attempts []AttemptRecord) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertAttempt)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range attempts {
		if _, err := stmt.Exec(a.SessionID, a.Seq, a.Subject, a.Response, a.Expected, a.Correct, a.DurationMs, a.RecordedAt); err != nil {
			return fmt.Errorf("recording attempt in batch: %w", err)
		}
	}

	return tx.Commit()
}

func (d *DB) SessionAttempts(sessionID string) ([]AttemptRecord, error) {
	rows, err := d.conn.Query(`
		SELECT session_id, seq, subject, response, COALESCE(expected, ''), is_correct, duration_ms, recorded_at
		FROM attempts WHERE session_id = $1 ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("getting attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var a AttemptRecord
		if err := rows.Scan(&a.SessionID, &a.Seq, &a.Subject, &a.Response, &a.Expected, &a.Correct, &a.DurationMs, &a.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
