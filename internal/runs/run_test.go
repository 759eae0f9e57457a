package runs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cognisafe/internal/audiometry"
	"cognisafe/internal/games"
	"cognisafe/internal/services"
	"cognisafe/internal/session"
	"cognisafe/internal/speech"
	"cognisafe/internal/trial"
)

func playPatterns(t *testing.T, h *harness, r *Run) {
	t.Helper()
	timings := h.store.deps.Timings.Games
	for i, p := range games.PatternBank {
		out, err := r.GameInput(trial.PatternRecognition, p.Answer)
		if err != nil {
			t.Fatalf("GameInput(%d) error: %v", i, err)
		}
		if !out.Accepted {
			t.Fatalf("GameInput(%d) not accepted", i)
		}
		h.clock.Advance(timings.PatternFeedback)
	}
}

func TestGame_FullRun(t *testing.T) {
	h := newHarness(t)
	r := h.newRun(t)

	snap, err := r.StartGame(context.Background(), trial.PatternRecognition)
	if err != nil {
		t.Fatalf("StartGame() error: %v", err)
	}
	if snap.State != games.StateRunning {
		t.Errorf("State = %q, want %q", snap.State, games.StateRunning)
	}
	if got := r.Aggregator.GameStatus(trial.PatternRecognition); got != session.InProgress {
		t.Errorf("GameStatus = %q, want %q", got, session.InProgress)
	}

	playPatterns(t, h, r)

	if got := r.Aggregator.GameStatus(trial.PatternRecognition); got != session.Completed {
		t.Errorf("GameStatus = %q, want %q", got, session.Completed)
	}
	waitFor(t, func() bool { return h.svc.submissions() == 1 && h.journal.endedCount() == 1 })

	h.sink.mu.Lock()
	rows := len(h.sink.rows)
	last := h.sink.rows[rows-1]
	h.sink.mu.Unlock()
	if rows != len(games.PatternBank) {
		t.Errorf("logged attempts = %d, want %d", rows, len(games.PatternBank))
	}
	if last.Seq != len(games.PatternBank)-1 || last.SessionID != "pattern_recognition-row" {
		t.Errorf("last row = %+v", last)
	}

	waitFor(t, func() bool {
		_, ok := r.Summary().Scores[trial.PatternRecognition]
		return ok
	})
	sum := r.Summary()
	if res := sum.Games[trial.PatternRecognition]; res.Errors != 0 || len(res.Attempts) != len(games.PatternBank) {
		t.Errorf("summary result = %+v", res)
	}

	if _, err := r.StartGame(context.Background(), trial.PatternRecognition); !errors.Is(err, session.ErrGameCompleted) {
		t.Errorf("restart error = %v, want ErrGameCompleted", err)
	}
}

func TestGame_FailedSubmissionCanBeResent(t *testing.T) {
	h := newHarness(t)
	h.svc.setSubmitErr(&services.TransportError{Op: "submit game", Status: 503, Err: errors.New("unavailable")})
	r := h.newRun(t)

	if _, err := r.StartGame(context.Background(), trial.PatternRecognition); err != nil {
		t.Fatalf("StartGame() error: %v", err)
	}
	playPatterns(t, h, r)

	r.wg.Wait()

	var te *services.TransportError
	if _, err := r.ResubmitGame(context.Background(), trial.PatternRecognition); !errors.As(err, &te) {
		t.Fatalf("ResubmitGame() error = %v, want TransportError", err)
	}
	v := r.Aggregator.View()
	if v.Games[trial.PatternRecognition] != session.Completed {
		t.Errorf("game status = %q, want %q", v.Games[trial.PatternRecognition], session.Completed)
	}
	if len(v.Unsubmitted) != 1 || v.Unsubmitted[0] != trial.PatternRecognition {
		t.Errorf("Unsubmitted = %v, want [%s]", v.Unsubmitted, trial.PatternRecognition)
	}
	sum := r.Summary()
	if _, ok := sum.Scores[trial.PatternRecognition]; ok {
		t.Error("score recorded for a failed submission")
	}
	if sum.Ready {
		t.Error("Summary().Ready = true with an unsubmitted game")
	}
	if h.journal.endedCount() != 0 {
		t.Errorf("journal ended = %d, want 0 before acceptance", h.journal.endedCount())
	}

	h.svc.setSubmitErr(nil)
	sc, err := r.ResubmitGame(context.Background(), trial.PatternRecognition)
	if err != nil {
		t.Fatalf("ResubmitGame() error: %v", err)
	}
	if sc.Score != 90 {
		t.Errorf("Score = %v, want 90", sc.Score)
	}
	if v := r.Aggregator.View(); len(v.Unsubmitted) != 0 {
		t.Errorf("Unsubmitted = %v, want none", v.Unsubmitted)
	}
	if h.journal.endedCount() != 1 {
		t.Errorf("journal ended = %d, want 1", h.journal.endedCount())
	}
	if _, err := r.ResubmitGame(context.Background(), trial.PatternRecognition); !errors.Is(err, ErrSubmitted) {
		t.Errorf("second ResubmitGame() error = %v, want ErrSubmitted", err)
	}
}

func TestGame_ConcurrentStartsCreateOneSession(t *testing.T) {
	h := newHarness(t)
	r := h.newRun(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.StartGame(context.Background(), trial.StroopTest)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, ErrActive):
			t.Errorf("StartGame() error = %v, want nil or ErrActive", err)
		}
	}
	if ok != 1 {
		t.Errorf("successful starts = %d, want 1", ok)
	}
	h.journal.mu.Lock()
	sessions := h.journal.sessions
	h.journal.mu.Unlock()
	if sessions != 1 {
		t.Errorf("journal sessions = %d, want 1", sessions)
	}
}

func TestGame_RefusesSecondStartWhileRunning(t *testing.T) {
	h := newHarness(t)
	r := h.newRun(t)

	if _, err := r.StartGame(context.Background(), trial.StroopTest); err != nil {
		t.Fatalf("StartGame() error: %v", err)
	}
	if _, err := r.StartGame(context.Background(), trial.StroopTest); !errors.Is(err, ErrActive) {
		t.Errorf("second StartGame() error = %v, want ErrActive", err)
	}
}

func TestGame_AbandonAllowsRestart(t *testing.T) {
	h := newHarness(t)
	r := h.newRun(t)

	r.StartGame(context.Background(), trial.TrailMaking)
	if err := r.AbandonGame(trial.TrailMaking); err != nil {
		t.Fatalf("AbandonGame() error: %v", err)
	}
	if got := r.Aggregator.GameStatus(trial.TrailMaking); got != session.NotStarted {
		t.Errorf("GameStatus = %q, want %q", got, session.NotStarted)
	}
	if _, err := r.StartGame(context.Background(), trial.TrailMaking); err != nil {
		t.Errorf("restart error: %v", err)
	}
}

func TestGame_InputBeforeStart(t *testing.T) {
	h := newHarness(t)
	r := h.newRun(t)

	if _, err := r.GameInput(trial.MemoryMatch, "0"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("GameInput() error = %v, want ErrNotStarted", err)
	}
}

func TestGame_NoTokenStillRuns(t *testing.T) {
	h := newHarness(t)
	h.svc.tokenErr = errors.New("service down")
	r := h.newRun(t)

	if _, err := r.StartGame(context.Background(), trial.PatternRecognition); err != nil {
		t.Fatalf("StartGame() error: %v", err)
	}
	playPatterns(t, h, r)

	waitFor(t, func() bool { return h.journal.endedCount() == 1 })
	if h.svc.submissions() != 0 {
		t.Errorf("submissions = %d, want 0 without a token", h.svc.submissions())
	}
	h.journal.mu.Lock()
	score := h.journal.ended["pattern_recognition-row"]
	h.journal.mu.Unlock()
	if score != nil {
		t.Errorf("score = %v, want nil", *score)
	}
}

func TestSpeech_SkippedWithoutDevice(t *testing.T) {
	h := newHarness(t)
	r := h.newRun(t)

	snap, err := r.StartSpeech(context.Background())
	if err != nil {
		t.Fatalf("StartSpeech() error: %v", err)
	}
	if snap.Phase != speech.PhasePresenting {
		t.Errorf("Phase = %q, want %q", snap.Phase, speech.PhasePresenting)
	}

	h.clock.Advance(h.store.deps.Timings.Speech.SettleDelay)

	snap, err = r.SpeechSnapshot()
	if err != nil {
		t.Fatalf("SpeechSnapshot() error: %v", err)
	}
	if snap.Phase != speech.PhaseSkipped {
		t.Fatalf("Phase = %q, want %q", snap.Phase, speech.PhaseSkipped)
	}
	if got := r.Aggregator.Status(session.Speech); got != session.InProgress {
		t.Errorf("speech status = %q, want %q", got, session.InProgress)
	}

	// A skipped test may be started again.
	if _, err := r.StartSpeech(context.Background()); err != nil {
		t.Errorf("restart error: %v", err)
	}
	if _, err := r.StartSpeech(context.Background()); !errors.Is(err, ErrActive) {
		t.Errorf("StartSpeech() while live error = %v, want ErrActive", err)
	}
	if err := r.AbandonSpeech(); err != nil {
		t.Errorf("AbandonSpeech() error: %v", err)
	}
}

func TestSpeech_NotStarted(t *testing.T) {
	h := newHarness(t)
	r := h.newRun(t)

	if err := r.StopCapture(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("StopCapture() error = %v, want ErrNotStarted", err)
	}
	if _, err := r.SpeechSnapshot(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("SpeechSnapshot() error = %v, want ErrNotStarted", err)
	}
}

func TestAudiometry_SkippedWithoutDevice(t *testing.T) {
	h := newHarness(t)
	r := h.newRun(t)

	st, err := r.StartAudiometry()
	if err != nil {
		t.Fatalf("StartAudiometry() error: %v", err)
	}
	if st.Phase != audiometry.PhaseTerminated {
		t.Fatalf("Phase = %q, want %q", st.Phase, audiometry.PhaseTerminated)
	}
	if st.Result == nil || st.Result.Outcome != audiometry.OutcomeSkipped || st.Result.ThresholdDB != nil {
		t.Errorf("Result = %+v, want skipped with no threshold", st.Result)
	}

	h.journal.mu.Lock()
	n := len(h.journal.thresholds)
	h.journal.mu.Unlock()
	if n != 1 {
		t.Errorf("journaled thresholds = %d, want 1", n)
	}
	if sum := r.Summary(); sum.Hearing == nil {
		t.Error("Summary().Hearing is nil")
	}

	if _, err := r.RespondAudiometry(context.Background(), true); !errors.Is(err, audiometry.ErrNotAwaiting) {
		t.Errorf("RespondAudiometry() error = %v, want ErrNotAwaiting", err)
	}
	// Terminated searches can be repeated.
	if _, err := r.StartAudiometry(); err != nil {
		t.Errorf("restart error: %v", err)
	}
}

func TestSpeechAndAudiometryShareOutputExclusively(t *testing.T) {
	h := newHarness(t)
	r := h.newRun(t)

	if _, err := r.StartSpeech(context.Background()); err != nil {
		t.Fatalf("StartSpeech() error: %v", err)
	}
	if _, err := r.StartAudiometry(); !errors.Is(err, ErrActive) {
		t.Errorf("StartAudiometry() during speech error = %v, want ErrActive", err)
	}
	if err := r.AbandonSpeech(); err != nil {
		t.Fatalf("AbandonSpeech() error: %v", err)
	}

	// A search that has not finished holds the output too.
	r.mu.Lock()
	r.hearing = audiometry.New(r.Context, r.player, h.svc, h.clock, h.store.deps.Timings.Audiometry, r.onAudiometryDone)
	r.mu.Unlock()
	if _, err := r.StartSpeech(context.Background()); !errors.Is(err, ErrActive) {
		t.Errorf("StartSpeech() during audiometry error = %v, want ErrActive", err)
	}
	if _, err := r.SkipAudiometry(); err != nil {
		t.Fatalf("SkipAudiometry() error: %v", err)
	}
	if _, err := r.StartSpeech(context.Background()); err != nil {
		t.Errorf("StartSpeech() after skip error: %v", err)
	}
}

func TestEEG_Upload(t *testing.T) {
	h := newHarness(t)
	r := h.newRun(t)

	p, err := r.UploadEEG(context.Background(), "rest.edf", []byte("data"))
	if err != nil {
		t.Fatalf("UploadEEG() error: %v", err)
	}
	if p.RiskLevel != "low" {
		t.Errorf("RiskLevel = %q, want %q", p.RiskLevel, "low")
	}
	if got := r.Aggregator.Status(session.EEG); got != session.Completed {
		t.Errorf("eeg status = %q, want %q", got, session.Completed)
	}
	if len(h.journal.eeg) != 1 || len(h.svc.saved) != 1 {
		t.Errorf("journal eeg = %d, saved = %d, want 1 and 1", len(h.journal.eeg), len(h.svc.saved))
	}
}

func TestEEG_PredictionFailure(t *testing.T) {
	h := newHarness(t)
	h.svc.eegErr = errors.New("model offline")
	r := h.newRun(t)

	if _, err := r.UploadEEG(context.Background(), "rest.edf", []byte("data")); err == nil {
		t.Fatal("UploadEEG() should fail")
	}
	if got := r.Aggregator.Status(session.EEG); got != session.InProgress {
		t.Errorf("eeg status = %q, want %q", got, session.InProgress)
	}
}

func TestStatus_MergesRemote(t *testing.T) {
	h := newHarness(t)
	h.svc.remote = session.RemoteStatus{SpeechCompleted: true, TotalCompleted: 1}
	r := h.newRun(t)

	v, err := r.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if v.Modalities[session.Speech] != session.Completed {
		t.Errorf("speech = %q, want %q", v.Modalities[session.Speech], session.Completed)
	}
	if v.Completed != 1 {
		t.Errorf("Completed = %d, want 1", v.Completed)
	}
}
