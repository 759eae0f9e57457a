// Package clock abstracts time so that trial pacing can be driven by a
// manual clock in tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a pending callback that can be stopped.
type Timer interface {
	Stop() bool
}

// Clock supplies the current time and one-shot callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Group tracks the timers a component schedules so they can all be
// cleared at once. A callback never runs once Clear or Close has returned,
// unless it had already started.
type Group struct {
	clock  Clock
	mu     sync.Mutex
	timers map[uint64]Timer
	nextID uint64
	closed bool
}

func NewGroup(c Clock) *Group {
	return &Group{
		clock:  c,
		timers: make(map[uint64]Timer),
	}
}

// After schedules f after d. It is a no-op on a closed group.
func (g *Group) After(d time.Duration, f func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.nextID++
	id := g.nextID
	g.timers[id] = g.clock.AfterFunc(d, func() {
		g.mu.Lock()
		_, live := g.timers[id]
		delete(g.timers, id)
		g.mu.Unlock()
		if live {
			f()
		}
	})
}

// Clear stops every pending timer. The group stays usable.
func (g *Group) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, t := range g.timers {
		t.Stop()
		delete(g.timers, id)
	}
}

// Close clears the group and refuses further timers.
func (g *Group) Close() {
	g.Clear()
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Pending reports how many timers have not fired yet.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}
