// Package speech runs the sentence repetition test.
//
// For each sentence the coordinator plays the stimulus, waits a settle
// delay, opens the microphone, and sends the recording to the analysis
// service. The moment listening starts is the reaction-time zero point;
// reaction time itself is computed by the analyzer. The sentence index
// only advances after a successful analysis, so the capture for sentence
// i+1 can never start before sentence i has been analysed.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"cognisafe/internal/clock"
	"cognisafe/internal/device"
	"cognisafe/internal/metrics"
	"cognisafe/internal/session"
)

type failure int

const (
	failNone failure = iota
	failNoSpeech
	failTransport
	failCapture
	failPlayback
)

type Coordinator struct {
	sc     session.Context
	deps   Deps
	cfg    Config
	clock  clock.Clock
	timers *clock.Group
	onDone func(Result)
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	phase     Phase
	gen       uint64
	starting  bool
	sess      Session
	index     int
	cur       Trial
	trials    []Trial
	capture   *device.Capture
	pending   *AnalysisRequest
	failure   failure
	lastErr   error
	startedAt time.Time
	result    *Result
	handedOff bool
}

// New returns an idle coordinator. onDone receives the result once when
// every sentence is analysed or the test is skipped; never after Abandon.
func New(sc session.Context, deps Deps, clk clock.Clock, cfg Config, onDone func(Result)) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		sc:     sc,
		deps:   deps,
		cfg:    cfg,
		clock:  clk,
		timers: clock.NewGroup(clk),
		onDone: onDone,
		ctx:    ctx,
		cancel: cancel,
		phase:  PhaseIdle,
	}
}

// Start obtains a session from the issuer and presents the first sentence.
// An issuer failure leaves the coordinator idle so Start can be retried.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseIdle || c.starting {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	c.starting = true
	c.mu.Unlock()

	sess, err := c.deps.Issuer.StartSpeech(ctx, c.sc.UserID)
	if err == nil && len(sess.Sentences) == 0 {
		err = errors.New("session has no sentences")
	}

	c.mu.Lock()
	c.starting = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("starting speech session: %w", err)
	}
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrFinished
	}
	c.sess = sess
	c.index = 0
	c.startedAt = c.clock.Now()
	g := c.presentLocked()
	c.mu.Unlock()

	log.Printf("[Speech] Run %s started session %s with %d sentences\n", c.sc.RunID, sess.ID, len(sess.Sentences))
	c.notify()
	c.play(g)
	return nil
}

// StopCapture ends the current recording and dispatches it for analysis.
// The analysis runs on the calling goroutine.
func (c *Coordinator) StopCapture() error {
	c.mu.Lock()
	if c.phase != PhaseCapturing || c.capture == nil {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	capture := c.capture
	c.mu.Unlock()

	capture.Finish()
	return nil
}

// Retry recovers from PhaseFailed. After a transport failure the retained
// recording is sent again; otherwise the sentence is presented again.
func (c *Coordinator) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseFailed {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	if c.pending != nil && c.failure == failTransport {
		req := *c.pending
		g := c.enterLocked(PhaseAnalyzing)
		c.mu.Unlock()
		c.notify()
		return c.analyze(ctx, g, req)
	}
	g := c.presentLocked()
	c.mu.Unlock()
	c.notify()
	c.play(g)
	return nil
}

// Abandon cancels playback, capture and timers and releases the device.
// No result is handed off.
func (c *Coordinator) Abandon() {
	c.mu.Lock()
	if c.phase.Terminal() {
		c.mu.Unlock()
		return
	}
	capture := c.capture
	c.capture = nil
	c.finishLocked(PhaseAbandoned, "abandoned")
	c.handedOff = true
	c.mu.Unlock()

	if capture != nil {
		capture.Cancel()
	}
	if c.deps.Player != nil {
		c.deps.Player.Stop()
	}
	log.Printf("[Speech] Run %s abandoned speech test\n", c.sc.RunID)
	c.notify()
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		Phase:     c.phase,
		SessionID: c.sess.ID,
		Index:     c.index,
		Total:     len(c.sess.Sentences),
		Trials:    append([]Trial(nil), c.trials...),
	}
	if c.index < len(c.sess.Sentences) {
		s.Sentence = c.sess.Sentences[c.index]
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	if c.result != nil {
		r := *c.result
		s.Result = &r
	}
	capture := c.capture
	c.mu.Unlock()

	if capture != nil {
		s.Level = capture.Level()
	}
	return s
}

func (c *Coordinator) presentLocked() uint64 {
	prev := c.cur
	c.cur = Trial{Index: c.index, Sentence: c.sess.Sentences[c.index]}
	if prev.Index == c.cur.Index && prev.Sentence == c.cur.Sentence {
		c.cur.Submissions = prev.Submissions
	}
	c.pending = nil
	c.failure = failNone
	c.lastErr = nil
	return c.enterLocked(PhasePresenting)
}

func (c *Coordinator) play(g uint64) {
	c.mu.Lock()
	sentence, vol := c.cur.Sentence, c.sess.InitialVolume
	c.mu.Unlock()

	pb, err := c.deps.Player.Play(c.ctx, device.Speech(sentence), vol)
	if err != nil {
		if !errors.Is(err, device.ErrUnsupportedPlatform) {
			log.Printf("[Speech] Playback for run %s: %v\n", c.sc.RunID, err)
		}
		c.played(g, device.Outcome{EndedAt: c.clock.Now()}, true)
		return
	}
	pb.Future().Then(func(o device.Outcome, err error) {
		if errors.Is(err, device.ErrCancelled) {
			c.interrupted(g, err)
			return
		}
		if err != nil {
			log.Printf("[Speech] Playback for run %s: %v\n", c.sc.RunID, err)
			o.EndedAt = c.clock.Now()
		}
		c.played(g, o, err != nil)
	})
}

// played records the end of the stimulus and waits out the settle delay
// before listening.
func (c *Coordinator) played(g uint64, o device.Outcome, skipped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g != c.gen || c.phase != PhasePresenting {
		return
	}
	c.cur.PlaybackEndedAt = o.EndedAt
	c.cur.StimulusSkipped = skipped
	c.cur.PlaybackForced = o.Forced
	c.timers.After(c.cfg.SettleDelay, func() { c.listen(g) })
}

// interrupted handles a stimulus cancelled by someone other than this
// coordinator. The sentence can be presented again with Retry.
func (c *Coordinator) interrupted(g uint64, err error) {
	c.mu.Lock()
	if g != c.gen || c.phase != PhasePresenting {
		c.mu.Unlock()
		return
	}
	c.failLocked(failPlayback, err)
	c.mu.Unlock()
	log.Printf("[Speech] Playback for run %s interrupted: %v\n", c.sc.RunID, err)
	c.notify()
}

func (c *Coordinator) listen(g uint64) {
	c.mu.Lock()
	if g != c.gen || c.phase != PhasePresenting {
		c.mu.Unlock()
		return
	}
	c.cur.ListeningStartedAt = c.clock.Now()
	g = c.enterLocked(PhaseListening)
	c.mu.Unlock()
	c.notify()

	var capture *device.Capture
	err := device.ErrDeviceUnavailable
	if c.deps.Recorder != nil {
		capture, err = c.deps.Recorder.Acquire(c.ctx, c.sc.Owner(), c.cfg.CaptureMax)
	}

	c.mu.Lock()
	if g != c.gen {
		c.mu.Unlock()
		if capture != nil {
			capture.Cancel()
		}
		return
	}
	if err != nil {
		if device.Skippable(err) {
			log.Printf("[Speech] Run %s skipping speech test: %v\n", c.sc.RunID, err)
			metrics.SpeechTrials.WithLabelValues("skipped").Inc()
			res := c.finishLocked(PhaseSkipped, err.Error())
			c.mu.Unlock()
			c.notify()
			c.handoff(res)
			return
		}
		c.failLocked(failCapture, err)
		c.mu.Unlock()
		c.notify()
		return
	}
	c.capture = capture
	c.cur.CaptureStartedAt = capture.StartedAt
	g = c.enterLocked(PhaseCapturing)
	c.mu.Unlock()
	c.notify()

	capture.Result().Then(func(buf device.Buffer, err error) {
		c.captured(g, buf, err)
	})
}

func (c *Coordinator) captured(g uint64, buf device.Buffer, err error) {
	c.mu.Lock()
	if g != c.gen || c.phase != PhaseCapturing {
		c.mu.Unlock()
		return
	}
	c.capture = nil
	if err != nil {
		c.failLocked(failCapture, err)
		c.mu.Unlock()
		c.notify()
		return
	}
	c.cur.CaptureEndedAt = buf.EndedAt
	req := AnalysisRequest{
		SessionID:          c.sess.ID,
		Sentence:           c.cur.Sentence,
		Audio:              buf.WAV(),
		PlaybackEndedAt:    c.cur.PlaybackEndedAt,
		ListeningStartedAt: c.cur.ListeningStartedAt,
	}
	c.pending = &req
	g = c.enterLocked(PhaseAnalyzing)
	c.mu.Unlock()
	c.notify()

	c.analyze(c.ctx, g, req)
}

func (c *Coordinator) analyze(ctx context.Context, g uint64, req AnalysisRequest) error {
	start := time.Now()
	a, err := c.deps.Analyzer.Analyze(ctx, req)
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	if g != c.gen {
		c.mu.Unlock()
		return nil
	}
	c.cur.Submissions++
	if err != nil {
		kind, label := failTransport, "transport"
		if errors.Is(err, ErrNoSpeech) {
			kind, label = failNoSpeech, "no_speech"
			c.pending = nil
		}
		c.failLocked(kind, err)
		idx := c.index
		c.mu.Unlock()
		log.Printf("[Speech] Analysis of sentence %d for run %s: %v\n", idx, c.sc.RunID, err)
		metrics.SpeechTrials.WithLabelValues(label).Inc()
		c.notify()
		return fmt.Errorf("analysing sentence %d: %w", idx, err)
	}
	c.cur.Analysis = a
	c.trials = append(c.trials, c.cur)
	c.pending = nil
	g = c.enterLocked(PhaseFeedback)
	c.timers.After(c.cfg.FeedbackDelay, func() { c.advance(g) })
	c.mu.Unlock()

	metrics.SpeechTrials.WithLabelValues("analyzed").Inc()
	c.notify()
	return nil
}

func (c *Coordinator) advance(g uint64) {
	c.mu.Lock()
	if g != c.gen || c.phase != PhaseFeedback {
		c.mu.Unlock()
		return
	}
	if c.index >= len(c.sess.Sentences)-1 {
		res := c.finishLocked(PhaseDone, "")
		c.mu.Unlock()
		c.notify()
		c.handoff(res)
		return
	}
	c.index++
	g = c.presentLocked()
	c.mu.Unlock()
	c.notify()
	c.play(g)
}

func (c *Coordinator) enterLocked(p Phase) uint64 {
	c.phase = p
	c.gen++
	return c.gen
}

func (c *Coordinator) failLocked(kind failure, err error) {
	c.failure = kind
	c.lastErr = err
	c.enterLocked(PhaseFailed)
}

func (c *Coordinator) finishLocked(p Phase, reason string) Result {
	c.enterLocked(p)
	c.timers.Close()
	c.cancel()
	res := Result{
		RunID:      c.sc.RunID,
		SessionID:  c.sess.ID,
		Trials:     append([]Trial(nil), c.trials...),
		Skipped:    p == PhaseSkipped,
		Reason:     reason,
		StartedAt:  c.startedAt,
		FinishedAt: c.clock.Now(),
	}
	c.result = &res
	return res
}

func (c *Coordinator) handoff(res Result) {
	c.mu.Lock()
	if c.handedOff {
		c.mu.Unlock()
		return
	}
	c.handedOff = true
	c.mu.Unlock()
	if c.onDone != nil {
		c.onDone(res)
	}
}

func (c *Coordinator) notify() {
	if c.deps.OnPhase == nil {
		return
	}
	c.mu.Lock()
	p, i := c.phase, c.index
	c.mu.Unlock()
	c.deps.OnPhase(p, i)
}
