package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cognisafe/internal/clock"
	"cognisafe/internal/device"
	"cognisafe/internal/session"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeIssuer struct {
	sess Session
	err  error
}

func (f *fakeIssuer) StartSpeech(ctx context.Context, userID string) (Session, error) {
	return f.sess, f.err
}

type fakeAnalyzer struct {
	mu   sync.Mutex
	errs []error
	reqs []AnalysisRequest
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return Analysis{}, err
		}
	}
	return Analysis{Transcription: req.Sentence, WordAccuracy: 1, RiskLevel: "low"}, nil
}

type manualOutput struct {
	mu    sync.Mutex
	texts []string
	done  []func(error)
	stops int
}

func (o *manualOutput) Speak(ctx context.Context, u device.Utterance, v float64, done func(error)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.texts = append(o.texts, u.Text)
	o.done = append(o.done, done)
	return nil
}

func (o *manualOutput) PlayPCM(context.Context, []byte, int, float64, func(error)) error {
	return device.ErrUnsupportedPlatform
}

func (o *manualOutput) Stop() {
	o.mu.Lock()
	o.stops++
	o.mu.Unlock()
}

// end reports the most recent utterance as finished.
func (o *manualOutput) end() {
	o.mu.Lock()
	done := o.done[len(o.done)-1]
	o.mu.Unlock()
	done(nil)
}

type stillStream struct{ frames chan []float32 }

func (s *stillStream) Frames() <-chan []float32 { return s.frames }
func (s *stillStream) SampleRate() int          { return 16000 }
func (s *stillStream) Close() error             { return nil }

type countingSource struct {
	mu    sync.Mutex
	err   error
	opens int
}

func (s *countingSource) Open(ctx context.Context) (device.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.opens++
	return &stillStream{frames: make(chan []float32)}, nil
}

func (s *countingSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

type harness struct {
	clk      *clock.Fake
	out      *manualOutput
	src      *countingSource
	lease    *device.Lease
	analyzer *fakeAnalyzer
	coord    *Coordinator
	results  []Result
}

func newHarness(t *testing.T, sentences ...string) *harness {
	t.Helper()
	h := &harness{
		clk:      clock.NewFake(epoch),
		out:      &manualOutput{},
		src:      &countingSource{},
		lease:    &device.Lease{},
		analyzer: &fakeAnalyzer{},
	}
	deps := Deps{
		Issuer:   &fakeIssuer{sess: Session{ID: "sess-1", Sentences: sentences, InitialVolume: 0.8}},
		Player:   device.NewPlayer(h.out, h.clk, 0),
		Recorder: device.NewRecorder(h.src, h.lease, h.clk),
		Analyzer: h.analyzer,
	}
	sc := session.Context{RunID: "run-1", UserID: "user-1", CreatedAt: epoch}
	h.coord = New(sc, deps, h.clk, DefaultConfig(), func(r Result) {
		h.results = append(h.results, r)
	})
	return h
}

func (h *harness) phase() Phase { return h.coord.Snapshot().Phase }

// toCapturing ends playback and waits out the settle delay.
func (h *harness) toCapturing(t *testing.T) {
	t.Helper()
	h.clk.Advance(time.Second)
	h.out.end()
	h.clk.Advance(500 * time.Millisecond)
	if p := h.phase(); p != PhaseCapturing {
		t.Fatalf("Phase = %q, want capturing", p)
	}
}

func TestFullSessionHandsOffOnce(t *testing.T) {
	h := newHarness(t, "The sun is bright.", "Birds sing at dawn.")
	if err := h.coord.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p := h.phase(); p != PhasePresenting {
		t.Fatalf("Phase = %q, want presenting", p)
	}

	h.toCapturing(t)
	h.clk.Advance(2 * time.Second)
	if err := h.coord.StopCapture(); err != nil {
		t.Fatalf("StopCapture: %v", err)
	}
	if p := h.phase(); p != PhaseFeedback {
		t.Fatalf("Phase = %q, want feedback", p)
	}

	req := h.analyzer.reqs[0]
	if req.SessionID != "sess-1" || req.Sentence != "The sun is bright." {
		t.Errorf("request = %+v", req)
	}
	if want := epoch.Add(time.Second); !req.PlaybackEndedAt.Equal(want) {
		t.Errorf("PlaybackEndedAt = %v, want %v", req.PlaybackEndedAt, want)
	}
	if want := epoch.Add(1500 * time.Millisecond); !req.ListeningStartedAt.Equal(want) {
		t.Errorf("ListeningStartedAt = %v, want %v", req.ListeningStartedAt, want)
	}
	if string(req.Audio[0:4]) != "RIFF" {
		t.Error("audio is not WAV")
	}

	h.clk.Advance(3 * time.Second)
	if s := h.coord.Snapshot(); s.Phase != PhasePresenting || s.Index != 1 {
		t.Fatalf("snapshot = %+v, want presenting sentence 1", s)
	}
	if got := h.out.texts[1]; got != "Birds sing at dawn." {
		t.Errorf("second stimulus = %q", got)
	}

	h.toCapturing(t)
	h.coord.StopCapture()
	h.clk.Advance(3 * time.Second)

	if p := h.phase(); p != PhaseDone {
		t.Fatalf("Phase = %q, want done", p)
	}
	if len(h.results) != 1 {
		t.Fatalf("results = %d, want 1", len(h.results))
	}
	if n := len(h.results[0].Trials); n != 2 {
		t.Errorf("trials = %d, want 2", n)
	}
	if h.lease.Holder() != "" {
		t.Errorf("lease held by %q after done", h.lease.Holder())
	}
	if h.clk.Pending() != 0 {
		t.Errorf("Pending timers = %d", h.clk.Pending())
	}
}

func TestTransportFailureBlocksNextCapture(t *testing.T) {
	h := newHarness(t, "one", "two")
	h.analyzer.errs = []error{errors.New("503 service unavailable")}
	h.coord.Start(context.Background())
	h.toCapturing(t)
	h.coord.StopCapture()

	s := h.coord.Snapshot()
	if s.Phase != PhaseFailed || s.Index != 0 {
		t.Fatalf("snapshot = %+v, want failed at index 0", s)
	}
	if s.LastError == "" {
		t.Error("LastError empty")
	}

	h.clk.Advance(30 * time.Second)
	if n := h.src.count(); n != 1 {
		t.Fatalf("captures opened = %d, want 1 while failed", n)
	}

	if err := h.coord.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if len(h.analyzer.reqs) != 2 {
		t.Fatalf("analysis requests = %d, want 2", len(h.analyzer.reqs))
	}
	if string(h.analyzer.reqs[1].Audio) != string(h.analyzer.reqs[0].Audio) {
		t.Error("retry did not resend the retained recording")
	}
	if n := h.src.count(); n != 1 {
		t.Errorf("retry opened a new capture")
	}
	if p := h.phase(); p != PhaseFeedback {
		t.Errorf("Phase = %q, want feedback", p)
	}
	if subs := h.coord.Snapshot().Trials[0].Submissions; subs != 2 {
		t.Errorf("Submissions = %d, want 2", subs)
	}
}

func TestNoSpeechRepresentsSentence(t *testing.T) {
	h := newHarness(t, "one")
	h.analyzer.errs = []error{ErrNoSpeech}
	h.coord.Start(context.Background())
	h.toCapturing(t)
	h.coord.StopCapture()

	if err := h.coord.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if p := h.phase(); p != PhasePresenting {
		t.Fatalf("Phase = %q, want presenting", p)
	}
	if len(h.out.texts) != 2 || h.out.texts[1] != "one" {
		t.Errorf("texts = %v, want sentence presented twice", h.out.texts)
	}
}

func TestInterruptedStimulusFailsAndRetries(t *testing.T) {
	h := newHarness(t, "one")
	h.coord.Start(context.Background())
	if p := h.phase(); p != PhasePresenting {
		t.Fatalf("Phase = %q, want presenting", p)
	}

	h.coord.deps.Player.Stop()
	if p := h.phase(); p != PhaseFailed {
		t.Fatalf("Phase after interruption = %q, want failed", p)
	}
	h.clk.Advance(time.Minute)
	if p := h.phase(); p != PhaseFailed {
		t.Errorf("Phase after 1m = %q, want failed", p)
	}
	if snap := h.coord.Snapshot(); snap.LastError == "" {
		t.Error("LastError is empty after interruption")
	}

	if err := h.coord.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if len(h.out.texts) != 2 {
		t.Errorf("texts = %v, want sentence presented twice", h.out.texts)
	}
	h.toCapturing(t)
}

func TestUnsupportedSpeechSkipsStimulusOnly(t *testing.T) {
	h := newHarness(t, "one")
	h.coord.deps.Player = device.NewPlayer(nil, h.clk, 0)
	h.coord.Start(context.Background())
	h.clk.Advance(500 * time.Millisecond)
	if p := h.phase(); p != PhaseCapturing {
		t.Fatalf("Phase = %q, want capturing", p)
	}
	h.coord.StopCapture()
	h.clk.Advance(3 * time.Second)
	if len(h.results) != 1 || !h.results[0].Trials[0].StimulusSkipped {
		t.Errorf("results = %+v, want stimulus marked skipped", h.results)
	}
}

func TestNoMicrophoneSkipsTest(t *testing.T) {
	h := newHarness(t, "one", "two")
	h.src.err = device.ErrDeviceUnavailable
	h.coord.Start(context.Background())
	h.clk.Advance(time.Second)
	h.out.end()
	h.clk.Advance(500 * time.Millisecond)

	if p := h.phase(); p != PhaseSkipped {
		t.Fatalf("Phase = %q, want skipped", p)
	}
	if len(h.results) != 1 || !h.results[0].Skipped {
		t.Errorf("results = %+v, want one skipped result", h.results)
	}
}

func TestPermissionDeniedFails(t *testing.T) {
	h := newHarness(t, "one")
	h.src.err = device.ErrPermissionDenied
	h.coord.Start(context.Background())
	h.clk.Advance(time.Second)
	h.out.end()
	h.clk.Advance(500 * time.Millisecond)

	s := h.coord.Snapshot()
	if s.Phase != PhaseFailed {
		t.Fatalf("Phase = %q, want failed", s.Phase)
	}
	if len(h.results) != 0 {
		t.Error("permission failure handed off a result")
	}
}

func TestCaptureMaxDurationDispatches(t *testing.T) {
	h := newHarness(t, "one")
	h.coord.Start(context.Background())
	h.toCapturing(t)
	h.clk.Advance(10 * time.Second)
	if len(h.analyzer.reqs) != 1 {
		t.Fatalf("analysis requests = %d, want 1", len(h.analyzer.reqs))
	}
	if p := h.phase(); p != PhaseFeedback {
		t.Errorf("Phase = %q, want feedback", p)
	}
}

func TestPlaybackFallbackStillListens(t *testing.T) {
	h := newHarness(t, "one")
	h.coord.Start(context.Background())
	h.clk.Advance(device.SpeechFallback + 500*time.Millisecond)
	if p := h.phase(); p != PhaseCapturing {
		t.Fatalf("Phase = %q, want capturing", p)
	}
	h.coord.StopCapture()
	h.clk.Advance(3 * time.Second)
	if !h.results[0].Trials[0].PlaybackForced {
		t.Error("PlaybackForced = false")
	}
}

func TestAbandonMidCaptureReleasesDevice(t *testing.T) {
	h := newHarness(t, "one", "two")
	h.coord.Start(context.Background())
	h.toCapturing(t)

	h.coord.Abandon()
	h.coord.Abandon()
	if p := h.phase(); p != PhaseAbandoned {
		t.Fatalf("Phase = %q, want abandoned", p)
	}
	if h.clk.Pending() != 0 {
		t.Errorf("Pending timers = %d", h.clk.Pending())
	}

	other := device.NewRecorder(h.src, h.lease, h.clk)
	c, err := other.Acquire(context.Background(), "run-2", time.Second)
	if err != nil {
		t.Fatalf("Acquire after abandon: %v", err)
	}
	c.Cancel()

	h.clk.Advance(time.Minute)
	if len(h.results) != 0 {
		t.Errorf("Abandon handed off %d results", len(h.results))
	}
	if len(h.analyzer.reqs) != 0 {
		t.Error("abandoned capture was analysed")
	}
}

func TestStartIssuerFailureStaysIdle(t *testing.T) {
	h := newHarness(t, "one")
	h.coord.deps.Issuer = &fakeIssuer{err: errors.New("connection refused")}
	if err := h.coord.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with failing issuer")
	}
	if p := h.phase(); p != PhaseIdle {
		t.Errorf("Phase = %q, want idle", p)
	}
}

func TestStopCaptureWrongPhase(t *testing.T) {
	h := newHarness(t, "one")
	h.coord.Start(context.Background())
	if err := h.coord.StopCapture(); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("err = %v, want ErrWrongPhase", err)
	}
	if err := h.coord.Retry(context.Background()); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("Retry err = %v, want ErrWrongPhase", err)
	}
}
