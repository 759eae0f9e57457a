// Package trial holds the attempt log shared by every game engine.
package trial

import (
	"fmt"
	"time"
)

type GameType string

const (
	MemoryMatch        GameType = "memory_match"
	StroopTest         GameType = "stroop_test"
	TrailMaking        GameType = "trail_making"
	PatternRecognition GameType = "pattern_recognition"
)

// AllGames lists the games of one assessment in presentation order.
var AllGames = []GameType{MemoryMatch, StroopTest, TrailMaking, PatternRecognition}

func ParseGameType(s string) (GameType, error) {
	for _, g := range AllGames {
		if string(g) == s {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown game type %q", s)
}

// Attempt is one scored user action. Subject and Response identify the two
// compared items: the two cards of a pair, the origin and destination
// nodes of a trail step, or a stimulus and the answer given to it.
type Attempt struct {
	Subject    string `json:"subject"`
	Response   string `json:"response"`
	Expected   string `json:"expected,omitempty"`
	Correct    bool   `json:"is_correct"`
	DurationMs int64  `json:"duration_ms"`
}

// Sequence is an append-only attempt log with derived counters.
type Sequence struct {
	attempts []Attempt
	errors   int
}

func (s *Sequence) Append(a Attempt) {
	s.attempts = append(s.attempts, a)
	if !a.Correct {
		s.errors++
	}
}

func (s *Sequence) Len() int { return len(s.attempts) }

func (s *Sequence) Errors() int { return s.errors }

func (s *Sequence) CorrectCount() int {
	return len(s.attempts) - s.errors
}

// Attempts returns a copy of the log in chronological order.
func (s *Sequence) Attempts() []Attempt {
	out := make([]Attempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}

// Result is the finalized, read-only outcome of a game.
type Result struct {
	Game       GameType  `json:"game_type"`
	Attempts   []Attempt `json:"attempts"`
	ElapsedMs  int64     `json:"total_time_ms"`
	Errors     int       `json:"errors"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s *Sequence) Finalize(game GameType, startedAt, finishedAt time.Time) Result {
	return Result{
		Game:       game,
		Attempts:   s.Attempts(),
		ElapsedMs:  finishedAt.Sub(startedAt).Milliseconds(),
		Errors:     s.errors,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
}

// Ms converts an elapsed duration to whole milliseconds.
func Ms(from, to time.Time) int64 {
	return to.Sub(from).Milliseconds()
}
