package games

import (
	"math/rand/v2"
	"strconv"

	"cognisafe/internal/clock"
	"cognisafe/internal/session"
	"cognisafe/internal/trial"
)

var memorySymbols = []string{"🍎", "🍌", "🍇", "🍊", "🍓", "🍉"}

// MemoryPairs is the number of pairs on the board.
var MemoryPairs = len(memorySymbols)

type Card struct {
	Index   int    `json:"index"`
	Symbol  string `json:"symbol,omitempty"`
	Flipped bool   `json:"flipped"`
	Matched bool   `json:"matched"`
}

type MemoryBoard struct {
	Cards   []Card `json:"cards"`
	Matched int    `json:"matched_pairs"`
	Pending int    `json:"pending"`
}

type MemoryMatch struct {
	base
	rng     *rand.Rand
	timings Timings

	cards   []Card
	pending []int
	firstAt int64 // ms offset from start when the first card of the pair was flipped
	pairs   int
}

func NewMemoryMatch(sc session.Context, clk clock.Clock, rng *rand.Rand, t Timings, hooks Hooks) *MemoryMatch {
	g := &MemoryMatch{rng: rng, timings: t}
	g.init(trial.MemoryMatch, sc, clk, hooks)
	return g
}

// Start deals a freshly shuffled board.
func (g *MemoryMatch) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.startLocked(); err != nil {
		return err
	}
	deck := make([]string, 0, 2*len(memorySymbols))
	for _, s := range memorySymbols {
		deck = append(deck, s, s)
	}
	g.rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	g.cards = make([]Card, len(deck))
	for i, s := range deck {
		g.cards[i] = Card{Index: i, Symbol: s}
	}
	g.pending = nil
	g.pairs = 0
	return nil
}

func (g *MemoryMatch) Input(value string) (Outcome, error) {
	i, err := strconv.Atoi(value)
	if err != nil {
		return Outcome{}, ErrInvalidInput
	}
	return g.Click(i)
}

// Click flips card i. Clicks are ignored before Start, while two cards
// are pending comparison, and on flipped or matched cards.
func (g *MemoryMatch) Click(i int) (Outcome, error) {
	g.mu.Lock()
	if g.state != StateRunning || len(g.pending) == 2 {
		g.mu.Unlock()
		return Outcome{}, nil
	}
	if i < 0 || i >= len(g.cards) {
		g.mu.Unlock()
		return Outcome{}, ErrInvalidInput
	}
	c := &g.cards[i]
	if c.Flipped || c.Matched {
		g.mu.Unlock()
		return Outcome{}, nil
	}
	c.Flipped = true
	now := g.sinceMs(g.startedAt)
	if len(g.pending) == 0 {
		g.pending = []int{i}
		g.firstAt = now
		g.mu.Unlock()
		return Outcome{Accepted: true}, nil
	}

	a, b := g.pending[0], i
	g.pending = append(g.pending, b)
	match := g.cards[a].Symbol == g.cards[b].Symbol
	out := Outcome{Accepted: true}
	out.Attempt = g.recordLocked(trial.Attempt{
		Subject:    strconv.Itoa(a),
		Response:   strconv.Itoa(b),
		Expected:   g.cards[a].Symbol,
		Correct:    match,
		DurationMs: now - g.firstAt,
	})

	switch {
	case match && g.pairs+1 == len(memorySymbols):
		g.settleLocked(a, b, true)
		g.finalizeLocked(g.elapsedLocked())
		out.Finished = true
	case match:
		g.timers.After(g.timings.MatchReveal, func() { g.settle(a, b, true) })
	default:
		g.timers.After(g.timings.MismatchReset, func() { g.settle(a, b, false) })
	}
	g.mu.Unlock()

	g.emit(out)
	return out, nil
}

func (g *MemoryMatch) settle(a, b int, match bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateRunning {
		return
	}
	g.settleLocked(a, b, match)
}

// settleLocked resolves the pending pair: matched cards stay revealed,
// mismatched cards turn face down again.
func (g *MemoryMatch) settleLocked(a, b int, match bool) {
	if match {
		g.cards[a].Matched = true
		g.cards[b].Matched = true
		g.pairs++
	} else {
		g.cards[a].Flipped = false
		g.cards[b].Flipped = false
	}
	g.pending = nil
}

func (g *MemoryMatch) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	board := MemoryBoard{Cards: make([]Card, len(g.cards)), Matched: g.pairs, Pending: len(g.pending)}
	for i, c := range g.cards {
		if !c.Flipped && !c.Matched {
			c.Symbol = ""
		}
		board.Cards[i] = c
	}
	return g.snapshotLocked(board)
}

// Cards returns the full board including face-down symbols.
func (g *MemoryMatch) Cards() []Card {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Card(nil), g.cards...)
}
