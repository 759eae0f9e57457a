// Package games implements the four interactive cognitive games.
//
// Every engine follows the same contract: Start records the start time,
// each accepted interaction appends exactly one Attempt, and the
// completion predicate is checked after every Attempt. When it holds the
// engine finalizes, hands its Result off exactly once and ignores any
// further input.
package games

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"cognisafe/internal/clock"
	"cognisafe/internal/session"
	"cognisafe/internal/trial"
)

type State string

const (
	StateNotStarted = State("not_started")
	StateRunning    = State("running")
	StateFinished   = State("finished")
	StateAbandoned  = State("abandoned")
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrStarted      = errors.New("game already started")
)

// Outcome describes what an input did. Ignored inputs are not errors;
// they come back with Accepted false.
type Outcome struct {
	Accepted bool           `json:"accepted"`
	Attempt  *trial.Attempt `json:"attempt,omitempty"`
	Finished bool           `json:"finished"`
}

// Snapshot is a read-only view of an engine. Board holds the
// game-specific state a client needs to render.
type Snapshot struct {
	Game     trial.GameType `json:"game_type"`
	State    State          `json:"state"`
	Attempts int            `json:"attempts"`
	Errors   int            `json:"errors"`
	Board    any            `json:"board"`
	Result   *trial.Result  `json:"result,omitempty"`
}

type Engine interface {
	Game() trial.GameType
	Start() error
	// Input applies one interaction: a card index, a color, a node label
	// or a puzzle answer depending on the game.
	Input(value string) (Outcome, error)
	Snapshot() Snapshot
	Result() (trial.Result, bool)
	Cancel()
}

// Timings are the UI pacing delays between phases.
type Timings struct {
	MatchReveal     time.Duration
	MismatchReset   time.Duration
	PartPause       time.Duration
	PatternFeedback time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		MatchReveal:     500 * time.Millisecond,
		MismatchReset:   1000 * time.Millisecond,
		PartPause:       500 * time.Millisecond,
		PatternFeedback: 1500 * time.Millisecond,
	}
}

// Hooks observe an engine. Both run outside the engine lock.
type Hooks struct {
	OnAttempt func(trial.GameType, trial.Attempt)
	OnDone    func(trial.Result)
}

// New returns the engine for game. A nil rng uses a randomly seeded one.
func New(game trial.GameType, sc session.Context, clk clock.Clock, rng *rand.Rand, t Timings, hooks Hooks) (Engine, error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	switch game {
	case trial.MemoryMatch:
		return NewMemoryMatch(sc, clk, rng, t, hooks), nil
	case trial.StroopTest:
		return NewStroop(sc, clk, rng, hooks), nil
	case trial.TrailMaking:
		return NewTrailMaking(sc, clk, rng, t, hooks), nil
	case trial.PatternRecognition:
		return NewPatternRecognition(sc, clk, t, hooks), nil
	}
	return nil, fmt.Errorf("unknown game %q", game)
}
