package runs

import (
	"context"
	"log"

	"cognisafe/internal/audiometry"
	"cognisafe/internal/db"
	"cognisafe/internal/events"
)

const audiometrySource = "audiometry"

func (r *Run) controller() (*audiometry.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.beginLocked(); err != nil {
		return nil, err
	}
	if r.hearing == nil {
		return nil, ErrNotStarted
	}
	return r.hearing, nil
}

// hearingLiveLocked reports whether a threshold search holds the player.
func (r *Run) hearingLiveLocked() bool {
	return r.hearing != nil && r.hearing.State().Phase != audiometry.PhaseTerminated
}

// StartAudiometry begins a hearing threshold search. A terminated search
// may be repeated. The search shares the run's audio output with the speech
// test, so it is refused while speech is live.
func (r *Run) StartAudiometry() (audiometry.State, error) {
	r.mu.Lock()
	if err := r.beginLocked(); err != nil {
		r.mu.Unlock()
		return audiometry.State{}, err
	}
	if r.hearingLiveLocked() || r.speechLiveLocked() {
		r.mu.Unlock()
		return audiometry.State{}, ErrActive
	}
	c := audiometry.New(r.Context, r.player, r.deps.Services, r.deps.Clock, r.deps.Timings.Audiometry, r.onAudiometryDone)
	r.hearing = c
	r.mu.Unlock()

	if err := c.Start(); err != nil {
		return c.State(), err
	}
	r.publish(events.KindPhase, audiometrySource, c.State().Phase)
	return c.State(), nil
}

func (r *Run) RespondAudiometry(ctx context.Context, heard bool) (audiometry.State, error) {
	c, err := r.controller()
	if err != nil {
		return audiometry.State{}, err
	}
	if err := c.Respond(ctx, heard); err != nil {
		return c.State(), err
	}
	return c.State(), nil
}

func (r *Run) SkipAudiometry() (audiometry.State, error) {
	c, err := r.controller()
	if err != nil {
		return audiometry.State{}, err
	}
	c.Skip()
	return c.State(), nil
}

func (r *Run) AudiometryState() (audiometry.State, error) {
	c, err := r.controller()
	if err != nil {
		return audiometry.State{}, err
	}
	return c.State(), nil
}

func (r *Run) onAudiometryDone(res audiometry.Result) {
	r.mu.Lock()
	r.threshold = &res
	r.mu.Unlock()
	r.publish(events.KindResult, audiometrySource, res)
	if r.deps.Journal == nil {
		return
	}
	err := r.deps.Journal.RecordThreshold(db.ThresholdRecord{
		RunID:       res.RunID,
		UserID:      r.Context.UserID,
		FrequencyHz: res.FrequencyHz,
		ThresholdDB: res.ThresholdDB,
		Outcome:     string(res.Outcome),
		Reason:      string(res.Reason),
		Steps:       len(res.History),
	})
	if err != nil {
		log.Printf("[Runs] Journal threshold: %v\n", err)
	}
}
