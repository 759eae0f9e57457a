// Package analytics derives descriptive per-game metrics from attempt logs.
// It does not score risk.
package analytics

import (
	"time"

	"cognisafe/internal/trial"
)

type GameSummary struct {
	SessionID      string         `json:"session_id,omitempty"`
	Game           trial.GameType `json:"game_type"`
	Attempts       int            `json:"attempts"`
	Correct        int            `json:"correct"`
	Errors         int            `json:"errors"`
	Accuracy       float64        `json:"accuracy"` // percentage of correct attempts
	MeanDurationMs float64        `json:"avg_reaction_time_ms"`
	BestDurationMs int64          `json:"best_reaction_time_ms"`
	TotalTimeMs    int64          `json:"total_time_ms"`
}

type HistoryEntry struct {
	SessionID   string     `json:"session_id"`
	RunID       string     `json:"run_id"`
	Game        string     `json:"game_type"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	TotalTimeMs *int64     `json:"total_time_ms,omitempty"`
	Errors      *int       `json:"errors,omitempty"`
	Score       *float64   `json:"score,omitempty"`
}

type ThresholdEntry struct {
	RunID       string    `json:"run_id"`
	FrequencyHz float64   `json:"frequency_hz"`
	ThresholdDB *float64  `json:"threshold_db,omitempty"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Summarize computes a summary from a finalized result. Best duration is
// taken over correct attempts only.
func Summarize(r trial.Result) GameSummary {
	s := GameSummary{
		Game:        r.Game,
		Attempts:    len(r.Attempts),
		Errors:      r.Errors,
		TotalTimeMs: r.ElapsedMs,
	}
	var sum int64
	for _, a := range r.Attempts {
		sum += a.DurationMs
		if !a.Correct {
			continue
		}
		s.Correct++
		if s.BestDurationMs == 0 || a.DurationMs < s.BestDurationMs {
			s.BestDurationMs = a.DurationMs
		}
	}
	if s.Attempts > 0 {
		s.Accuracy = float64(s.Correct) / float64(s.Attempts) * 100
		s.MeanDurationMs = float64(sum) / float64(s.Attempts)
	}
	return s
}
