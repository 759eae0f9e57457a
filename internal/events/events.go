package events

import (
	"log"
	"sync"
)

type Kind string

const (
	KindPhase    = Kind("phase")
	KindAttempt  = Kind("attempt")
	KindResult   = Kind("result")
	KindModality = Kind("modality")
)

// Event is something a run's observers should hear about. Source names
// the coordinator ("speech", "audiometry", a game type, or a modality).
type Event struct {
	Kind    Kind   `json:"kind"`
	RunID   string `json:"run_id"`
	Source  string `json:"source"`
	Payload any    `json:"payload,omitempty"`
}

type Bus struct {
	Events chan Event

	mu     sync.Mutex
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		Events: make(chan Event, 64),
	}
}

// Publish never blocks; events are dropped when the buffer is full or the
// bus is closed.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.Events <- ev:
	default:
		log.Printf("[Events] Dropped %s event for run %s\n", ev.Kind, ev.RunID)
	}
}

// Close ends the Events channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.Events)
	}
}
