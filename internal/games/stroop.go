package games

import (
	"math/rand/v2"
	"slices"

	"cognisafe/internal/clock"
	"cognisafe/internal/session"
	"cognisafe/internal/trial"
)

const StroopTrials = 20

var (
	stroopWords  = []string{"RED", "BLUE", "GREEN", "YELLOW"}
	stroopColors = []string{"red", "blue", "green", "yellow"}
)

// StroopTrial is a color word drawn in a display color. The two are drawn
// independently so they may agree or conflict.
type StroopTrial struct {
	Word  string `json:"word"`
	Color string `json:"color"`
}

type StroopBoard struct {
	Index   int          `json:"index"`
	Total   int          `json:"total"`
	Current *StroopTrial `json:"current,omitempty"`
	Colors  []string     `json:"colors"`
}

type Stroop struct {
	base
	rng *rand.Rand

	trials  []StroopTrial
	index   int
	shownAt int64
}

func NewStroop(sc session.Context, clk clock.Clock, rng *rand.Rand, hooks Hooks) *Stroop {
	g := &Stroop{rng: rng}
	g.init(trial.StroopTest, sc, clk, hooks)
	return g
}

func (g *Stroop) Start() error {
	trials := make([]StroopTrial, StroopTrials)
	for i := range trials {
		trials[i] = StroopTrial{
			Word:  stroopWords[g.rng.IntN(len(stroopWords))],
			Color: stroopColors[g.rng.IntN(len(stroopColors))],
		}
	}
	return g.StartWith(trials)
}

// StartWith runs a predetermined trial list.
func (g *Stroop) StartWith(trials []StroopTrial) error {
	if len(trials) == 0 {
		return ErrInvalidInput
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.startLocked(); err != nil {
		return err
	}
	g.trials = slices.Clone(trials)
	g.index = 0
	g.shownAt = 0
	return nil
}

func (g *Stroop) Input(value string) (Outcome, error) {
	return g.Answer(value)
}

// Answer scores color against the current trial's display color, never
// its word, and shows the next trial.
func (g *Stroop) Answer(color string) (Outcome, error) {
	if !slices.Contains(stroopColors, color) {
		return Outcome{}, ErrInvalidInput
	}
	g.mu.Lock()
	if g.state != StateRunning || g.index >= len(g.trials) {
		g.mu.Unlock()
		return Outcome{}, nil
	}
	cur := g.trials[g.index]
	now := g.sinceMs(g.startedAt)
	out := Outcome{Accepted: true}
	out.Attempt = g.recordLocked(trial.Attempt{
		Subject:    cur.Word,
		Response:   color,
		Expected:   cur.Color,
		Correct:    color == cur.Color,
		DurationMs: now - g.shownAt,
	})
	g.index++
	g.shownAt = now
	if g.index == len(g.trials) {
		g.finalizeLocked(g.elapsedLocked())
		out.Finished = true
	}
	g.mu.Unlock()

	g.emit(out)
	return out, nil
}

func (g *Stroop) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	board := StroopBoard{Index: g.index, Total: len(g.trials), Colors: stroopColors}
	if g.state == StateRunning && g.index < len(g.trials) {
		cur := g.trials[g.index]
		board.Current = &cur
	}
	return g.snapshotLocked(board)
}
