package analytics

import (
	"fmt"

	"cognisafe/internal/db"
	"cognisafe/internal/trial"
)

type Queries struct {
	DB *db.DB
}

func NewQueries(database *db.DB) *Queries {
	return &Queries{DB: database}
}

func (q *Queries) SessionSummary(sessionID string) (*GameSummary, error) {
	var game string
	var total *int64
	err := q.DB.QueryRow(`
		SELECT game_type, total_time_ms FROM game_sessions WHERE id = $1
	`, sessionID).Scan(&game, &total)
	if err != nil {
		return nil, fmt.Errorf("getting game session: %w", err)
	}

	s := &GameSummary{SessionID: sessionID, Game: trial.GameType(game)}
	if total != nil {
		s.TotalTimeMs = *total
	}

	err = q.DB.QueryRow(`
		SELECT
			COUNT(*) as attempts,
			COUNT(*) FILTER (WHERE is_correct) as correct,
			COALESCE(AVG(duration_ms), 0) as mean_duration,
			COALESCE(MIN(duration_ms) FILTER (WHERE is_correct), 0) as best_duration
		FROM attempts
		WHERE session_id = $1
	`, sessionID).Scan(&s.Attempts, &s.Correct, &s.MeanDurationMs, &s.BestDurationMs)
	if err != nil {
		return nil, fmt.Errorf("getting attempt stats: %w", err)
	}

	s.Errors = s.Attempts - s.Correct
	if s.Attempts > 0 {
		s.Accuracy = float64(s.Correct) / float64(s.Attempts) * 100
	}
	return s, nil
}

// GameHistory lists a participant's sessions, newest first. An empty game
// matches every game type.
func (q *Queries) GameHistory(userID, game string, limit int) ([]HistoryEntry, error) {
	rows, err := q.DB.Query(`
		SELECT id, run_id, game_type, started_at, ended_at, total_time_ms, errors, score
		FROM game_sessions
		WHERE user_id = $1 AND ($2 = '' OR game_type = $2)
		ORDER BY started_at DESC
		LIMIT $3
	`, userID, game, limit)
	if err != nil {
		return nil, fmt.Errorf("getting game history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.SessionID, &e.RunID, &e.Game, &e.StartedAt, &e.EndedAt, &e.TotalTimeMs, &e.Errors, &e.Score); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *Queries) ThresholdHistory(userID string, limit int) ([]ThresholdEntry, error) {
	rows, err := q.DB.Query(`
		SELECT run_id, frequency_hz, threshold_db, outcome, reason, recorded_at
		FROM hearing_thresholds
		WHERE user_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting threshold history: %w", err)
	}
	defer rows.Close()

	var entries []ThresholdEntry
	for rows.Next() {
		var e ThresholdEntry
		if err := rows.Scan(&e.RunID, &e.FrequencyHz, &e.ThresholdDB, &e.Outcome, &e.Reason, &e.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
