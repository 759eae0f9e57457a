package games

import (
	"math/rand/v2"
	"slices"
	"time"

	"cognisafe/internal/clock"
	"cognisafe/internal/session"
	"cognisafe/internal/trial"
)

type Part string

const (
	PartA = Part("A")
	PartB = Part("B")
)

var (
	partASequence = []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	partBSequence = []string{"1", "A", "2", "B", "3", "C", "4", "D", "5"}
)

// TrailStart is the origin recorded for the first click of a part.
const TrailStart = "start"

func partSequence(p Part) []string {
	if p == PartB {
		return partBSequence
	}
	return partASequence
}

// NextExpected returns the node that must follow last in part, where last
// is "" before any node has been visited. ok is false once the part is
// complete or if last is not on the trail.
func NextExpected(p Part, last string) (next string, ok bool) {
	seq := partSequence(p)
	if last == "" {
		return seq[0], true
	}
	i := slices.Index(seq, last)
	if i < 0 || i == len(seq)-1 {
		return "", false
	}
	return seq[i+1], true
}

type TrailBoard struct {
	Part       Part     `json:"part"`
	Nodes      []Node   `json:"nodes"`
	Path       []string `json:"path"`
	Transition bool     `json:"transition"`
}

type TrailMaking struct {
	base
	rng     *rand.Rand
	timings Timings

	part         Part
	nodes        []Node
	path         []string
	partStart    time.Time
	stepAt       time.Time
	partAElapsed time.Duration
	transition   bool
}

func NewTrailMaking(sc session.Context, clk clock.Clock, rng *rand.Rand, t Timings, hooks Hooks) *TrailMaking {
	g := &TrailMaking{rng: rng, timings: t}
	g.init(trial.TrailMaking, sc, clk, hooks)
	return g
}

func (g *TrailMaking) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.startLocked(); err != nil {
		return err
	}
	g.beginPartLocked(PartA)
	return nil
}

func (g *TrailMaking) beginPartLocked(p Part) {
	g.part = p
	g.nodes = layoutNodes(g.rng, partSequence(p))
	g.path = nil
	g.partStart = g.clock.Now()
	g.stepAt = g.partStart
	g.transition = false
}

func (g *TrailMaking) Input(value string) (Outcome, error) {
	return g.Visit(value)
}

// Visit validates a click on label against the single next-expected node.
// A wrong click counts an error and leaves the path unchanged.
func (g *TrailMaking) Visit(label string) (Outcome, error) {
	g.mu.Lock()
	if g.state != StateRunning || g.transition {
		g.mu.Unlock()
		return Outcome{}, nil
	}
	node := g.nodeLocked(label)
	if node == nil {
		g.mu.Unlock()
		return Outcome{}, ErrInvalidInput
	}

	last := g.lastLocked()
	expected, _ := NextExpected(g.part, last)
	from := last
	if from == "" {
		from = TrailStart
	}
	now := g.clock.Now()
	correct := label == expected
	out := Outcome{Accepted: true}
	out.Attempt = g.recordLocked(trial.Attempt{
		Subject:    from,
		Response:   label,
		Expected:   expected,
		Correct:    correct,
		DurationMs: trial.Ms(g.stepAt, now),
	})

	if correct {
		node.Visited = true
		g.path = append(g.path, label)
		g.stepAt = now
		if _, more := NextExpected(g.part, label); !more {
			g.completePartLocked(now)
			out.Finished = g.state == StateFinished
		}
	}
	g.mu.Unlock()

	g.emit(out)
	return out, nil
}

func (g *TrailMaking) completePartLocked(now time.Time) {
	elapsed := now.Sub(g.partStart)
	if g.part == PartA {
		g.partAElapsed = elapsed
		g.transition = true
		g.timers.After(g.timings.PartPause, g.startPartB)
		return
	}
	g.finalizeLocked(g.partAElapsed + elapsed)
}

func (g *TrailMaking) startPartB() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateRunning || !g.transition {
		return
	}
	g.beginPartLocked(PartB)
}

func (g *TrailMaking) lastLocked() string {
	if len(g.path) == 0 {
		return ""
	}
	return g.path[len(g.path)-1]
}

func (g *TrailMaking) nodeLocked(label string) *Node {
	for i := range g.nodes {
		if g.nodes[i].Label == label {
			return &g.nodes[i]
		}
	}
	return nil
}

func (g *TrailMaking) Part() Part {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.part
}

func (g *TrailMaking) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked(TrailBoard{
		Part:       g.part,
		Nodes:      slices.Clone(g.nodes),
		Path:       slices.Clone(g.path),
		Transition: g.transition,
	})
}
