package games

import (
	"slices"
	"strings"

	"cognisafe/internal/clock"
	"cognisafe/internal/session"
	"cognisafe/internal/trial"
)

type Puzzle struct {
	Sequence    []string `json:"sequence"`
	Options     []string `json:"options"`
	Answer      string   `json:"-"`
	Description string   `json:"-"`
}

// PatternBank is presented in this order every time.
var PatternBank = []Puzzle{
	{
		Sequence:    []string{"🔴", "🔵", "🔴", "🔵", "🔴"},
		Options:     []string{"🔴", "🔵", "🟢", "🟡"},
		Answer:      "🔵",
		Description: "Alternating pattern",
	},
	{
		Sequence:    []string{"🔴", "🔴🔴", "🔴🔴🔴", "🔴🔴🔴🔴"},
		Options:     []string{"🔴", "🔴🔴🔴🔴🔴", "🔴🔴🔴", "🔴🔴"},
		Answer:      "🔴🔴🔴🔴🔴",
		Description: "Increasing by one",
	},
	{
		Sequence:    []string{"⭐", "⭐", "❤️", "⭐", "⭐", "❤️", "⭐", "⭐"},
		Options:     []string{"⭐", "❤️", "🔵", "🟢"},
		Answer:      "❤️",
		Description: "Two-one pattern",
	},
	{
		Sequence:    []string{"🔴", "🔵", "🟢", "🔴", "🔵"},
		Options:     []string{"🟢", "🔴", "🔵", "🟡"},
		Answer:      "🟢",
		Description: "Repeating cycle",
	},
	{
		Sequence:    []string{"🔵🔵🔵🔵", "🔵🔵🔵", "🔵🔵"},
		Options:     []string{"🔵", "🔵🔵", "🔵🔵🔵", "🔵🔵🔵🔵"},
		Answer:      "🔵",
		Description: "Decreasing by one",
	},
	{
		Sequence:    []string{"🟣", "🟠", "⬛", "🟣", "🟠", "⬛", "🟣", "🟠"},
		Options:     []string{"⬛", "🟣", "🟠", "⬜"},
		Answer:      "⬛",
		Description: "Three-part cycle",
	},
	{
		Sequence:    []string{"🔺", "🔻", "🔻", "🔺", "🔻", "🔻", "🔺"},
		Options:     []string{"🔺", "🔻", "⭐", "❤️"},
		Answer:      "🔻",
		Description: "One-two pattern",
	},
	{
		Sequence:    []string{"⬜", "⬛", "⬜", "⬜", "⬛", "⬜", "⬜", "⬛"},
		Options:     []string{"⬜", "⬛", "🔴", "🔵"},
		Answer:      "⬜",
		Description: "Increasing white squares",
	},
	{
		Sequence:    []string{"🟡", "🟢", "🔵", "🔵", "🟢"},
		Options:     []string{"🟡", "🟢", "🔵", "🔴"},
		Answer:      "🟡",
		Description: "Mirror/palindrome",
	},
	{
		Sequence:    []string{"❤️", "❤️", "⭐", "⭐", "❤️", "❤️", "⭐"},
		Options:     []string{"❤️", "⭐", "🔴", "🔵"},
		Answer:      "⭐",
		Description: "Pairs alternating",
	},
}

type PatternBoard struct {
	Index    int     `json:"index"`
	Total    int     `json:"total"`
	Puzzle   *Puzzle `json:"puzzle,omitempty"`
	Feedback *bool   `json:"feedback,omitempty"`
}

type PatternRecognition struct {
	base
	timings Timings

	index    int
	shownAt  int64
	feedback *bool
}

func NewPatternRecognition(sc session.Context, clk clock.Clock, t Timings, hooks Hooks) *PatternRecognition {
	g := &PatternRecognition{timings: t}
	g.init(trial.PatternRecognition, sc, clk, hooks)
	return g
}

func (g *PatternRecognition) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.startLocked(); err != nil {
		return err
	}
	g.index = 0
	g.shownAt = 0
	g.feedback = nil
	return nil
}

func (g *PatternRecognition) Input(value string) (Outcome, error) {
	return g.Choose(value)
}

// Choose answers the current puzzle. Only the first answer counts; input
// is ignored while feedback is shown.
func (g *PatternRecognition) Choose(answer string) (Outcome, error) {
	g.mu.Lock()
	if g.state != StateRunning || g.feedback != nil || g.index >= len(PatternBank) {
		g.mu.Unlock()
		return Outcome{}, nil
	}
	p := PatternBank[g.index]
	if !slices.Contains(p.Options, answer) {
		g.mu.Unlock()
		return Outcome{}, ErrInvalidInput
	}
	correct := answer == p.Answer
	out := Outcome{Accepted: true}
	out.Attempt = g.recordLocked(trial.Attempt{
		Subject:    strings.Join(p.Sequence, " "),
		Response:   answer,
		Expected:   p.Answer,
		Correct:    correct,
		DurationMs: g.sinceMs(g.startedAt) - g.shownAt,
	})
	g.feedback = &correct
	if g.index == len(PatternBank)-1 {
		g.finalizeLocked(g.elapsedLocked())
		out.Finished = true
	} else {
		g.timers.After(g.timings.PatternFeedback, g.advance)
	}
	g.mu.Unlock()

	g.emit(out)
	return out, nil
}

func (g *PatternRecognition) advance() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateRunning {
		return
	}
	g.index++
	g.feedback = nil
	g.shownAt = g.sinceMs(g.startedAt)
}

func (g *PatternRecognition) Index() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.index
}

func (g *PatternRecognition) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	board := PatternBoard{Index: g.index, Total: len(PatternBank), Feedback: g.feedback}
	if g.index < len(PatternBank) {
		p := PatternBank[g.index]
		board.Puzzle = &p
	}
	return g.snapshotLocked(board)
}
