package runs

import (
	"context"
	"fmt"
	"log"

	"cognisafe/internal/db"
	"cognisafe/internal/events"
	"cognisafe/internal/games"
	"cognisafe/internal/services"
	"cognisafe/internal/trial"
)

type gameSlot struct {
	engine    games.Engine
	token     string
	sessionID string
	seq       int

	// unsent holds a finished result the scoring service has not accepted.
	unsent     *trial.Result
	submitting bool
}

// StartGame opens a game session with the scoring service and starts a
// fresh engine. A game that is running, starting or already completed is
// refused. When the service cannot issue a token the game still runs; its
// result is kept locally and not submitted.
func (r *Run) StartGame(ctx context.Context, game trial.GameType) (games.Snapshot, error) {
	r.mu.Lock()
	if err := r.beginLocked(); err != nil {
		r.mu.Unlock()
		return games.Snapshot{}, err
	}
	if r.starting[game] {
		r.mu.Unlock()
		return games.Snapshot{}, fmt.Errorf("%s: %w", game, ErrActive)
	}
	if s, ok := r.games[game]; ok && s.engine.Snapshot().State == games.StateRunning {
		r.mu.Unlock()
		return games.Snapshot{}, fmt.Errorf("%s: %w", game, ErrActive)
	}
	r.starting[game] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.starting, game)
		r.mu.Unlock()
	}()

	if err := r.Aggregator.BeginGame(game); err != nil {
		return games.Snapshot{}, err
	}

	token, err := r.deps.Services.StartGame(ctx, r.Context.UserID, game)
	if err != nil {
		log.Printf("[Runs] Game session for %s on run %s unavailable: %v\n", game, r.Code, err)
		token = ""
	}

	slot := &gameSlot{token: token}
	if r.deps.Journal != nil {
		id, err := r.deps.Journal.CreateGameSession(r.Context.RunID, r.Context.UserID, string(game), token)
		if err != nil {
			log.Printf("[Runs] Journal game session: %v\n", err)
		}
		slot.sessionID = id
	}

	engine, err := games.New(game, r.Context, r.deps.Clock, nil, r.deps.Timings.Games, games.Hooks{
		OnAttempt: func(g trial.GameType, a trial.Attempt) { r.onAttempt(slot, a) },
		OnDone:    func(res trial.Result) { r.onGameDone(slot, res) },
	})
	if err != nil {
		return games.Snapshot{}, err
	}
	slot.engine = engine

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return games.Snapshot{}, ErrClosed
	}
	if prev, ok := r.games[game]; ok {
		prev.engine.Cancel()
	}
	r.games[game] = slot
	r.mu.Unlock()

	if err := engine.Start(); err != nil {
		return games.Snapshot{}, err
	}
	snap := engine.Snapshot()
	r.publish(events.KindPhase, string(game), snap.State)
	return snap, nil
}

func (r *Run) engine(game trial.GameType) (games.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.beginLocked(); err != nil {
		return nil, err
	}
	s, ok := r.games[game]
	if !ok {
		return nil, fmt.Errorf("%s: %w", game, ErrNotStarted)
	}
	return s.engine, nil
}

func (r *Run) GameInput(game trial.GameType, value string) (games.Outcome, error) {
	e, err := r.engine(game)
	if err != nil {
		return games.Outcome{}, err
	}
	return e.Input(value)
}

func (r *Run) GameSnapshot(game trial.GameType) (games.Snapshot, error) {
	e, err := r.engine(game)
	if err != nil {
		return games.Snapshot{}, err
	}
	return e.Snapshot(), nil
}

// AbandonGame cancels a running game and lets it be started again.
func (r *Run) AbandonGame(game trial.GameType) error {
	e, err := r.engine(game)
	if err != nil {
		return err
	}
	if e.Snapshot().State != games.StateRunning {
		return nil
	}
	e.Cancel()
	r.Aggregator.ResetGame(game)
	r.publish(events.KindPhase, string(game), games.StateAbandoned)
	return nil
}

func (r *Run) onAttempt(slot *gameSlot, a trial.Attempt) {
	r.mu.Lock()
	seq := slot.seq
	slot.seq++
	r.mu.Unlock()

	game := slot.engine.Game()
	r.publish(events.KindAttempt, string(game), a)
	if r.deps.Attempts != nil && slot.sessionID != "" {
		r.deps.Attempts.Enqueue(db.AttemptRecord{
			SessionID:  slot.sessionID,
			Seq:        seq,
			Subject:    a.Subject,
			Response:   a.Response,
			Expected:   a.Expected,
			Correct:    a.Correct,
			DurationMs: a.DurationMs,
			RecordedAt: r.deps.Clock.Now(),
		})
	}
}

// onGameDone completes the game locally. A result with a session token is
// held as unsubmitted until the scoring service accepts it.
func (r *Run) onGameDone(slot *gameSlot, res trial.Result) {
	if slot.token != "" {
		r.mu.Lock()
		slot.unsent = &res
		r.mu.Unlock()
		r.Aggregator.SetUnsubmitted(res.Game, true)
	}
	r.Aggregator.CompleteGame(res.Game)
	r.publish(events.KindResult, string(res.Game), res)
	r.goAsync(func(ctx context.Context) {
		if slot.token == "" {
			r.endGameSession(slot, res, nil)
			return
		}
		if _, err := r.submit(ctx, slot); err != nil {
			log.Printf("[Runs] Submitting %s for run %s: %v\n", res.Game, r.Code, err)
		}
	})
}

// ResubmitGame sends a result the scoring service has not accepted yet.
func (r *Run) ResubmitGame(ctx context.Context, game trial.GameType) (services.Score, error) {
	r.mu.Lock()
	if err := r.beginLocked(); err != nil {
		r.mu.Unlock()
		return services.Score{}, err
	}
	slot, ok := r.games[game]
	r.mu.Unlock()
	if !ok {
		return services.Score{}, fmt.Errorf("%s: %w", game, ErrNotStarted)
	}
	return r.submit(ctx, slot)
}

// submit sends the slot's unsent result for scoring. On success the score
// is stored and the journal row closed; on failure the result stays unsent.
func (r *Run) submit(ctx context.Context, slot *gameSlot) (services.Score, error) {
	r.mu.Lock()
	if slot.unsent == nil {
		r.mu.Unlock()
		return services.Score{}, ErrSubmitted
	}
	if slot.submitting {
		r.mu.Unlock()
		return services.Score{}, ErrActive
	}
	slot.submitting = true
	res := *slot.unsent
	r.mu.Unlock()

	sc, err := r.deps.Services.SubmitGame(ctx, slot.token, res)

	r.mu.Lock()
	slot.submitting = false
	if err != nil {
		r.mu.Unlock()
		r.publish(events.KindResult, string(res.Game)+"_unsubmitted", err.Error())
		return services.Score{}, fmt.Errorf("submitting %s: %w", res.Game, err)
	}
	slot.unsent = nil
	r.scores[res.Game] = sc
	r.mu.Unlock()

	r.Aggregator.SetUnsubmitted(res.Game, false)
	r.publish(events.KindResult, string(res.Game)+"_score", sc)
	r.endGameSession(slot, res, &sc.Score)
	return sc, nil
}

func (r *Run) endGameSession(slot *gameSlot, res trial.Result, score *float64) {
	if r.deps.Journal == nil || slot.sessionID == "" {
		return
	}
	if err := r.deps.Journal.EndGameSession(slot.sessionID, res.ElapsedMs, res.Errors, score); err != nil {
		log.Printf("[Runs] Journal end game session: %v\n", err)
	}
}
