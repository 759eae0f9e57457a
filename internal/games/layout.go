package games

import "math/rand/v2"

const (
	BoardWidth   = 600
	BoardHeight  = 400
	BoardPadding = 60
)

type Node struct {
	Label   string  `json:"label"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Visited bool    `json:"visited"`
}

// layoutNodes scatters labels uniformly inside the padded board.
func layoutNodes(rng *rand.Rand, labels []string) []Node {
	nodes := make([]Node, len(labels))
	for i, l := range labels {
		nodes[i] = Node{
			Label: l,
			X:     BoardPadding + rng.Float64()*(BoardWidth-2*BoardPadding),
			Y:     BoardPadding + rng.Float64()*(BoardHeight-2*BoardPadding),
		}
	}
	return nodes
}
