// Package audiometry runs the adaptive hearing threshold search.
//
// A fixed-frequency tone is played at the current volume and the
// participant reports whether it was heard. Each response is sent to an
// external step service which either ends the search or proposes the next
// volume. The search ends early if the history reaches MaxAttempts or if
// the proposed volume was already tested, which means the staircase has
// started to oscillate around the threshold. Failures never reach the
// caller: the search ends as Skipped with no threshold.
package audiometry

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"cognisafe/internal/clock"
	"cognisafe/internal/device"
	"cognisafe/internal/metrics"
	"cognisafe/internal/session"
)

type Phase string

const (
	PhaseIntro      = Phase("intro")
	PhasePlaying    = Phase("playing")
	PhaseAwaiting   = Phase("awaiting_response")
	PhaseEvaluating = Phase("evaluating")
	PhaseSettling   = Phase("settling")
	PhaseTerminated = Phase("terminated")
)

type Outcome string

const (
	OutcomeCompleted = Outcome("completed")
	OutcomeSkipped   = Outcome("skipped")
)

type Reason string

const (
	ReasonConverged   = Reason("converged")
	ReasonCap         = Reason("cap")
	ReasonRevisit     = Reason("revisit")
	ReasonUnavailable = Reason("unavailable")
	ReasonSkipped     = Reason("skipped")
	ReasonCancelled   = Reason("cancelled")
)

var (
	ErrNotAwaiting = errors.New("no tone awaiting a response")
	ErrStarted     = errors.New("hearing check already started")
)

// revisitEpsilon absorbs float noise when matching a proposed volume
// against the history.
const revisitEpsilon = 1e-9

// Step is the step service's answer to one response. ThresholdDB, when
// set on a final step, is on the same 0-100 scale as volume*100.
type Step struct {
	Continue    bool
	NextVolume  *float64
	ThresholdDB *float64
}

type StepSizer interface {
	Step(ctx context.Context, freqHz, volume float64, heard bool) (Step, error)
}

type Player interface {
	Play(ctx context.Context, s device.Stimulus, volume float64) (*device.Playback, error)
	Stop()
}

type Config struct {
	FrequencyHz  float64
	StartVolume  float64
	ToneDuration time.Duration
	SettleDelay  time.Duration
	MaxAttempts  int
}

func DefaultConfig() Config {
	return Config{
		FrequencyHz:  1000,
		StartVolume:  0.3,
		ToneDuration: time.Second,
		SettleDelay:  time.Second,
		MaxAttempts:  10,
	}
}

type Result struct {
	RunID       string    `json:"run_id"`
	Outcome     Outcome   `json:"outcome"`
	Reason      Reason    `json:"reason"`
	ThresholdDB *float64  `json:"threshold_db,omitempty"`
	FrequencyHz float64   `json:"frequency_hz"`
	History     []float64 `json:"history"`
}

// State is a read-only snapshot.
type State struct {
	Phase    Phase     `json:"phase"`
	Volume   float64   `json:"volume"`
	History  []float64 `json:"history"`
	Attempts int       `json:"attempts"`
	Result   *Result   `json:"result,omitempty"`
}

type Controller struct {
	sc     session.Context
	player Player
	steps  StepSizer
	cfg    Config
	timers *clock.Group
	onDone func(Result)
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	phase     Phase
	gen       uint64
	volume    float64
	history   []float64
	result    *Result
	handedOff bool
}

// New builds a controller in the Intro phase. onDone receives the result
// exactly once, unless the controller is cancelled first.
func New(sc session.Context, player Player, steps StepSizer, clk clock.Clock, cfg Config, onDone func(Result)) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		sc:     sc,
		player: player,
		steps:  steps,
		cfg:    cfg,
		timers: clock.NewGroup(clk),
		onDone: onDone,
		ctx:    ctx,
		cancel: cancel,
		phase:  PhaseIntro,
		volume: cfg.StartVolume,
	}
}

// Start plays the first tone.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.phase != PhaseIntro {
		c.mu.Unlock()
		return ErrStarted
	}
	g := c.enterLocked(PhasePlaying)
	c.mu.Unlock()
	c.play(g)
	return nil
}

// Respond records whether the current tone was heard and advances the
// search. The step service is called on the calling goroutine.
func (c *Controller) Respond(ctx context.Context, heard bool) error {
	c.mu.Lock()
	if c.phase != PhaseAwaiting {
		c.mu.Unlock()
		return ErrNotAwaiting
	}
	vol := c.volume
	c.history = append(c.history, vol)
	g := c.enterLocked(PhaseEvaluating)
	if len(c.history) >= c.cfg.MaxAttempts {
		res := c.terminateLocked(OutcomeCompleted, ReasonCap, threshold(vol))
		c.mu.Unlock()
		c.handoff(res)
		return nil
	}
	c.mu.Unlock()

	step, err := c.steps.Step(ctx, c.cfg.FrequencyHz, vol, heard)

	c.mu.Lock()
	if g != c.gen {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		log.Printf("[Audiometry] Step service for run %s: %v\n", c.sc.RunID, err)
		metrics.Errors.WithLabelValues("audiometry", "step_service").Inc()
		res := c.terminateLocked(OutcomeSkipped, ReasonUnavailable, nil)
		c.mu.Unlock()
		c.handoff(res)
		return nil
	}

	var (
		res  Result
		done bool
	)
	switch {
	case !step.Continue:
		t := threshold(vol)
		if step.ThresholdDB != nil {
			t = step.ThresholdDB
		}
		res, done = c.terminateLocked(OutcomeCompleted, ReasonConverged, t), true
	case step.NextVolume == nil:
		res, done = c.terminateLocked(OutcomeCompleted, ReasonConverged, threshold(vol)), true
	default:
		next := max(0, min(1, *step.NextVolume))
		if c.visitedLocked(next) {
			res, done = c.terminateLocked(OutcomeCompleted, ReasonRevisit, threshold(max(vol, next))), true
			break
		}
		c.volume = next
		g = c.enterLocked(PhaseSettling)
		c.timers.After(c.cfg.SettleDelay, func() { c.replay(g) })
	}
	c.mu.Unlock()
	if done {
		c.handoff(res)
	}
	return nil
}

// Skip ends the search without a threshold.
func (c *Controller) Skip() {
	c.mu.Lock()
	if c.phase == PhaseTerminated {
		c.mu.Unlock()
		return
	}
	res := c.terminateLocked(OutcomeSkipped, ReasonSkipped, nil)
	c.mu.Unlock()
	c.player.Stop()
	c.handoff(res)
}

// Cancel stops playback and timers. No result is handed off.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.phase != PhaseTerminated {
		c.terminateLocked(OutcomeSkipped, ReasonCancelled, nil)
	}
	c.handedOff = true
	c.mu.Unlock()
	c.player.Stop()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Phase:    c.phase,
		Volume:   c.volume,
		History:  append([]float64(nil), c.history...),
		Attempts: len(c.history),
	}
	if c.result != nil {
		r := *c.result
		s.Result = &r
	}
	return s
}

func (c *Controller) replay(g uint64) {
	c.mu.Lock()
	if g != c.gen || c.phase != PhaseSettling {
		c.mu.Unlock()
		return
	}
	g = c.enterLocked(PhasePlaying)
	c.mu.Unlock()
	c.play(g)
}

func (c *Controller) play(g uint64) {
	c.mu.Lock()
	vol := c.volume
	c.mu.Unlock()

	pb, err := c.player.Play(c.ctx, device.Tone(c.cfg.FrequencyHz, c.cfg.ToneDuration), vol)
	if err != nil {
		c.played(g, err)
		return
	}
	pb.Future().Then(func(_ device.Outcome, err error) { c.played(g, err) })
}

func (c *Controller) played(g uint64, err error) {
	c.mu.Lock()
	if g != c.gen || c.phase != PhasePlaying {
		c.mu.Unlock()
		return
	}
	if err != nil {
		log.Printf("[Audiometry] Tone playback for run %s: %v\n", c.sc.RunID, err)
		res := c.terminateLocked(OutcomeSkipped, ReasonUnavailable, nil)
		c.mu.Unlock()
		c.handoff(res)
		return
	}
	c.enterLocked(PhaseAwaiting)
	c.mu.Unlock()
}

func (c *Controller) enterLocked(p Phase) uint64 {
	c.phase = p
	c.gen++
	return c.gen
}

func (c *Controller) terminateLocked(o Outcome, r Reason, thresholdDB *float64) Result {
	c.enterLocked(PhaseTerminated)
	c.timers.Close()
	c.cancel()
	res := Result{
		RunID:       c.sc.RunID,
		Outcome:     o,
		Reason:      r,
		ThresholdDB: thresholdDB,
		FrequencyHz: c.cfg.FrequencyHz,
		History:     append([]float64(nil), c.history...),
	}
	c.result = &res
	return res
}

func (c *Controller) visitedLocked(v float64) bool {
	for _, h := range c.history {
		if math.Abs(h-v) < revisitEpsilon {
			return true
		}
	}
	return false
}

func (c *Controller) handoff(res Result) {
	c.mu.Lock()
	if c.handedOff {
		c.mu.Unlock()
		return
	}
	c.handedOff = true
	c.mu.Unlock()

	metrics.AudiometryTerminations.WithLabelValues(string(res.Reason)).Inc()
	if c.onDone != nil {
		c.onDone(res)
	}
}

func threshold(volume float64) *float64 {
	t := volume * 100
	return &t
}
