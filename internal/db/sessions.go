package db

import (
	"fmt"
	"time"
)

type GameSessionRecord struct {
	ID          string
	RunID       string
	UserID      string
	GameType    string
	Token       string
	StartedAt   time.Time
	EndedAt     *time.Time
	TotalTimeMs *int64
	Errors      *int
	Score       *float64
}

func (d *DB) CreateGameSession(runID, userID, gameType, token string) (string, error) {
	var id string
	err := d.conn.QueryRow(`
		INSERT INTO game_sessions (run_id, user_id, game_type, token)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id
	`, runID, userID, gameType, token).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("creating game session: %w", err)
	}
	return id, nil
}

// EndGameSession stamps the final totals. A nil score leaves the column
// empty, as when the scoring service could not be reached.
func (d *DB) EndGameSession(id string, totalTimeMs int64, errors int, score *float64) error {
	_, err := d.conn.Exec(`
		UPDATE game_sessions
		SET ended_at = now(), total_time_ms = $2, errors = $3, score = $4
		WHERE id = $1
	`, id, totalTimeMs, errors, score)
	if err != nil {
		return fmt.Errorf("ending game session: %w", err)
	}
	return nil
}

func (d *DB) GetGameSession(id string) (*GameSessionRecord, error) {
	var s GameSessionRecord
	var token *string
	err := d.conn.QueryRow(`
		SELECT id, run_id, user_id, game_type, token, started_at, ended_at, total_time_ms, errors, score
		FROM game_sessions WHERE id = $1
	`, id).Scan(&s.ID, &s.RunID, &s.UserID, &s.GameType, &token, &s.StartedAt, &s.EndedAt, &s.TotalTimeMs, &s.Errors, &s.Score)
	if err != nil {
		return nil, fmt.Errorf("getting game session: %w", err)
	}
	if token != nil {
		s.Token = *token
	}
	return &s, nil
}
