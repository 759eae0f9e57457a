package runs

import (
	"context"
	"log"

	"cognisafe/internal/db"
	"cognisafe/internal/events"
	"cognisafe/internal/session"
	"cognisafe/internal/speech"
)

const speechSource = "speech"

func (r *Run) speechCoordinator() (*speech.Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.beginLocked(); err != nil {
		return nil, err
	}
	if r.speech == nil {
		return nil, ErrNotStarted
	}
	return r.speech, nil
}

// speechLiveLocked reports whether a speech test holds the player.
func (r *Run) speechLiveLocked() bool {
	if r.speech == nil {
		return false
	}
	p := r.speech.Snapshot().Phase
	return p != speech.PhaseIdle && !p.Terminal()
}

// StartSpeech begins the sentence repetition test. A finished, skipped or
// abandoned test may be started again; a live one is refused.
func (r *Run) StartSpeech(ctx context.Context) (speech.Snapshot, error) {
	r.mu.Lock()
	if err := r.beginLocked(); err != nil {
		r.mu.Unlock()
		return speech.Snapshot{}, err
	}
	if r.speechLiveLocked() || r.hearingLiveLocked() {
		r.mu.Unlock()
		return speech.Snapshot{}, ErrActive
	}
	c := speech.New(r.Context, speech.Deps{
		Issuer:   r.deps.Services,
		Player:   r.player,
		Recorder: r.recorder,
		Analyzer: r.deps.Services,
		OnPhase: func(p speech.Phase, index int) {
			r.publish(events.KindPhase, speechSource, map[string]any{"phase": p, "index": index})
		},
	}, r.deps.Clock, r.deps.Timings.Speech, r.onSpeechDone)
	prev := r.speech
	r.speech = c
	r.mu.Unlock()

	if prev != nil {
		prev.Abandon()
	}
	r.Aggregator.Begin(session.Speech)
	if err := c.Start(ctx); err != nil {
		return c.Snapshot(), err
	}
	return c.Snapshot(), nil
}

func (r *Run) StopCapture() error {
	c, err := r.speechCoordinator()
	if err != nil {
		return err
	}
	return c.StopCapture()
}

func (r *Run) RetrySpeech(ctx context.Context) error {
	c, err := r.speechCoordinator()
	if err != nil {
		return err
	}
	return c.Retry(ctx)
}

func (r *Run) AbandonSpeech() error {
	c, err := r.speechCoordinator()
	if err != nil {
		return err
	}
	c.Abandon()
	return nil
}

func (r *Run) SpeechSnapshot() (speech.Snapshot, error) {
	c, err := r.speechCoordinator()
	if err != nil {
		return speech.Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// onSpeechDone completes the modality unless the test was skipped, in
// which case it stays in progress and can be started again.
func (r *Run) onSpeechDone(res speech.Result) {
	if !res.Skipped {
		r.Aggregator.Complete(session.Speech)
	}
	r.publish(events.KindResult, speechSource, res)
	if r.deps.Journal == nil {
		return
	}
	for _, t := range res.Trials {
		err := r.deps.Journal.RecordSpeechTrial(db.SpeechTrialRecord{
			RunID:           res.RunID,
			UserID:          r.Context.UserID,
			SpeechSessionID: res.SessionID,
			Index:           t.Index,
			Sentence:        t.Sentence,
			Transcription:   t.Analysis.Transcription,
			WordAccuracy:    t.Analysis.WordAccuracy,
			SpeechRateWPM:   t.Analysis.SpeechRateWPM,
			ReactionTimeMs:  t.Analysis.ReactionTimeMs,
			RiskLevel:       t.Analysis.RiskLevel,
			Submissions:     t.Submissions,
		})
		if err != nil {
			log.Printf("[Runs] Journal speech trial %d: %v\n", t.Index, err)
		}
	}
}
