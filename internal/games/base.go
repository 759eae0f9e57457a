package games

import (
	"log"
	"strconv"
	"sync"
	"time"

	"cognisafe/internal/clock"
	"cognisafe/internal/metrics"
	"cognisafe/internal/session"
	"cognisafe/internal/trial"
)

// base holds what every engine shares: the lifecycle state, the attempt
// log, tracked timers and the one-shot handoff.
type base struct {
	game   trial.GameType
	sc     session.Context
	clock  clock.Clock
	timers *clock.Group
	hooks  Hooks

	mu        sync.Mutex
	state     State
	seq       trial.Sequence
	startedAt time.Time
	result    *trial.Result
	handedOff bool
}

func (b *base) init(game trial.GameType, sc session.Context, clk clock.Clock, hooks Hooks) {
	b.game = game
	b.sc = sc
	b.clock = clk
	b.timers = clock.NewGroup(clk)
	b.hooks = hooks
	b.state = StateNotStarted
}

func (b *base) Game() trial.GameType { return b.game }

func (b *base) startLocked() error {
	if b.state != StateNotStarted {
		return ErrStarted
	}
	b.state = StateRunning
	b.startedAt = b.clock.Now()
	b.seq = trial.Sequence{}
	return nil
}

func (b *base) recordLocked(a trial.Attempt) *trial.Attempt {
	b.seq.Append(a)
	return &a
}

// finalizeLocked closes the sequence with the given total elapsed time.
func (b *base) finalizeLocked(elapsed time.Duration) {
	res := b.seq.Finalize(b.game, b.startedAt, b.clock.Now())
	res.ElapsedMs = elapsed.Milliseconds()
	b.state = StateFinished
	b.timers.Close()
	b.result = &res
}

// emit runs the hooks for one input. It must be called without the lock.
func (b *base) emit(out Outcome) {
	if out.Attempt != nil {
		metrics.Attempts.WithLabelValues(string(b.game), strconv.FormatBool(out.Attempt.Correct)).Inc()
		if b.hooks.OnAttempt != nil {
			b.hooks.OnAttempt(b.game, *out.Attempt)
		}
	}
	if out.Finished {
		b.handoff()
	}
}

func (b *base) handoff() {
	b.mu.Lock()
	if b.handedOff || b.result == nil {
		b.mu.Unlock()
		return
	}
	b.handedOff = true
	res := *b.result
	b.mu.Unlock()

	metrics.GamesCompleted.WithLabelValues(string(b.game)).Inc()
	log.Printf("[Games] Run %s finished %s: %d attempts, %d errors, %d ms\n",
		b.sc.RunID, b.game, len(res.Attempts), res.Errors, res.ElapsedMs)
	if b.hooks.OnDone != nil {
		b.hooks.OnDone(res)
	}
}

func (b *base) Result() (trial.Result, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.result == nil {
		return trial.Result{}, false
	}
	return *b.result, true
}

// Cancel stops pending timers and makes the engine inert without a
// handoff.
func (b *base) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timers.Close()
	if b.state != StateFinished {
		b.state = StateAbandoned
	}
	b.handedOff = true
}

func (b *base) snapshotLocked(board any) Snapshot {
	s := Snapshot{
		Game:     b.game,
		State:    b.state,
		Attempts: b.seq.Len(),
		Errors:   b.seq.Errors(),
		Board:    board,
	}
	if b.result != nil {
		r := *b.result
		s.Result = &r
	}
	return s
}

func (b *base) elapsedLocked() time.Duration {
	return b.clock.Now().Sub(b.startedAt)
}

func (b *base) sinceMs(t time.Time) int64 {
	return trial.Ms(t, b.clock.Now())
}
