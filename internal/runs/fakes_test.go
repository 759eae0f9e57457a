package runs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cognisafe/internal/audiometry"
	"cognisafe/internal/clock"
	"cognisafe/internal/config"
	"cognisafe/internal/db"
	"cognisafe/internal/remote"
	"cognisafe/internal/services"
	"cognisafe/internal/session"
	"cognisafe/internal/speech"
	"cognisafe/internal/trial"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeServices struct {
	mu        sync.Mutex
	tokenErr  error
	submitErr error
	eegErr    error
	remote    session.RemoteStatus
	submitted []trial.Result
	saved     []services.Prediction
}

func (f *fakeServices) StartSpeech(ctx context.Context, userID string) (speech.Session, error) {
	return speech.Session{ID: "sp-1", Sentences: []string{"The sky is blue.", "Birds sing at dawn."}, InitialVolume: 0.7}, nil
}

func (f *fakeServices) Analyze(ctx context.Context, req speech.AnalysisRequest) (speech.Analysis, error) {
	return speech.Analysis{Transcription: req.Sentence, WordAccuracy: 1}, nil
}

func (f *fakeServices) Step(ctx context.Context, freqHz, volume float64, heard bool) (audiometry.Step, error) {
	return audiometry.Step{}, errors.New("not used")
}

func (f *fakeServices) Status(ctx context.Context, userID string) (session.RemoteStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote, nil
}

func (f *fakeServices) StartGame(ctx context.Context, userID string, game trial.GameType) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "tok-" + string(game), nil
}

func (f *fakeServices) SubmitGame(ctx context.Context, token string, res trial.Result) (services.Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return services.Score{}, f.submitErr
	}
	f.submitted = append(f.submitted, res)
	return services.Score{GameType: string(res.Game), Score: 90, PerformanceLevel: "good"}, nil
}

func (f *fakeServices) PredictEEG(ctx context.Context, filename string, data []byte) (services.Prediction, error) {
	if f.eegErr != nil {
		return services.Prediction{}, f.eegErr
	}
	return services.Prediction{StatusClass: "normal", Probability: 0.12, RiskLevel: "low"}, nil
}

func (f *fakeServices) SaveEEG(ctx context.Context, userID, filename string, p services.Prediction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, p)
	return nil
}

func (f *fakeServices) setSubmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

func (f *fakeServices) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type fakeJournal struct {
	// upsertGate, when set, holds UpsertParticipant until it is closed.
	upsertGate chan struct{}
	upserting  chan struct{}

	mu         sync.Mutex
	sessions   int
	ended      map[string]*float64
	thresholds []db.ThresholdRecord
	speech     []db.SpeechTrialRecord
	eeg        []db.EEGRecord
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{ended: make(map[string]*float64)}
}

func (j *fakeJournal) UpsertParticipant(id string) error {
	if j.upsertGate != nil {
		j.upserting <- struct{}{}
		<-j.upsertGate
	}
	return nil
}

func (j *fakeJournal) CreateGameSession(runID, userID, gameType, token string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sessions++
	return gameType + "-row", nil
}

func (j *fakeJournal) EndGameSession(id string, totalTimeMs int64, errors int, score *float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ended[id] = score
	return nil
}

func (j *fakeJournal) RecordSpeechTrial(r db.SpeechTrialRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.speech = append(j.speech, r)
	return nil
}

func (j *fakeJournal) RecordThreshold(r db.ThresholdRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.thresholds = append(j.thresholds, r)
	return nil
}

func (j *fakeJournal) RecordEEG(r db.EEGRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.eeg = append(j.eeg, r)
	return nil
}

func (j *fakeJournal) endedCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.ended)
}

type fakeSink struct {
	mu   sync.Mutex
	rows []db.AttemptRecord
}

func (s *fakeSink) Enqueue(a db.AttemptRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, a)
	return true
}

type harness struct {
	clock   *clock.Fake
	svc     *fakeServices
	journal *fakeJournal
	sink    *fakeSink
	hub     *remote.Hub
	store   *Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.NewFake(epoch),
		svc:     &fakeServices{},
		journal: newFakeJournal(),
		sink:    &fakeSink{},
		hub:     remote.NewHub(),
	}
	h.store = NewStore(Deps{
		Services: h.svc,
		Hub:      h.hub,
		Clock:    h.clock,
		Timings:  config.DefaultTimings(),
		Journal:  h.journal,
		Attempts: h.sink,
	}, time.Hour)
	t.Cleanup(h.store.Close)
	return h
}

func (h *harness) newRun(t *testing.T) *Run {
	t.Helper()
	r, err := h.store.Create("user-1")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
