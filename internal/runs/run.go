// Package runs holds live assessment runs. A run bundles the session
// context, the modality aggregator, the participant's device link, and the
// coordinators currently driving it.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"cognisafe/internal/audiometry"
	"cognisafe/internal/broadcast"
	"cognisafe/internal/clock"
	"cognisafe/internal/config"
	"cognisafe/internal/db"
	"cognisafe/internal/device"
	"cognisafe/internal/events"
	"cognisafe/internal/metrics"
	"cognisafe/internal/remote"
	"cognisafe/internal/services"
	"cognisafe/internal/session"
	"cognisafe/internal/speech"
	"cognisafe/internal/trial"
)

var (
	ErrClosed     = errors.New("run closed")
	ErrNotStarted = errors.New("not started")
	ErrActive     = errors.New("already in progress")
	ErrSubmitted  = errors.New("no result awaiting submission")
)

// Services is the screening API as seen by a run.
type Services interface {
	speech.SessionIssuer
	speech.Analyzer
	audiometry.StepSizer
	session.StatusService
	StartGame(ctx context.Context, userID string, game trial.GameType) (string, error)
	SubmitGame(ctx context.Context, token string, res trial.Result) (services.Score, error)
	PredictEEG(ctx context.Context, filename string, data []byte) (services.Prediction, error)
	SaveEEG(ctx context.Context, userID, filename string, p services.Prediction) error
}

// Journal persists results. It is optional.
type Journal interface {
	UpsertParticipant(id string) error
	CreateGameSession(runID, userID, gameType, token string) (string, error)
	EndGameSession(id string, totalTimeMs int64, errors int, score *float64) error
	RecordSpeechTrial(r db.SpeechTrialRecord) error
	RecordThreshold(r db.ThresholdRecord) error
	RecordEEG(r db.EEGRecord) error
}

// AttemptSink receives every game attempt. It is optional.
type AttemptSink interface {
	Enqueue(a db.AttemptRecord) bool
}

type Deps struct {
	Services Services
	Hub      *remote.Hub
	Clock    clock.Clock
	Timings  config.Timings
	Journal  Journal
	Attempts AttemptSink
}

type Run struct {
	Code        string
	Context     session.Context
	Aggregator  *session.Aggregator
	Bus         *events.Bus
	Broadcaster *broadcast.Broadcaster
	Device      *remote.Device
	CreatedAt   time.Time

	deps     Deps
	player   *device.Player
	recorder *device.Recorder
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	lastActive time.Time
	games      map[trial.GameType]*gameSlot
	starting   map[trial.GameType]bool
	scores     map[trial.GameType]services.Score
	speech     *speech.Coordinator
	hearing    *audiometry.Controller
	threshold  *audiometry.Result
	eeg        *services.Prediction
}

func newRun(code string, sc session.Context, deps Deps) *Run {
	bus := events.NewBus()
	dev := deps.Hub.Device(code)
	lease := &device.Lease{}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{
		Code:        code,
		Context:     sc,
		Aggregator:  session.NewAggregator(sc, deps.Services, bus),
		Bus:         bus,
		Broadcaster: broadcast.NewBroadcaster(bus),
		Device:      dev,
		CreatedAt:   sc.CreatedAt,
		deps:        deps,
		player:      device.NewPlayer(dev, deps.Clock, deps.Timings.SpeechFallback),
		recorder:    device.NewRecorder(dev, lease, deps.Clock),
		ctx:         ctx,
		cancel:      cancel,
		lastActive:  sc.CreatedAt,
		games:       make(map[trial.GameType]*gameSlot),
		starting:    make(map[trial.GameType]bool),
		scores:      make(map[trial.GameType]services.Score),
	}
	metrics.RunsActive.Inc()
	return r
}

// begin marks activity and fails once the run is closed. Callers hold r.mu.
func (r *Run) beginLocked() error {
	if r.closed {
		return ErrClosed
	}
	r.lastActive = r.deps.Clock.Now()
	return nil
}

func (r *Run) idleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActive
}

func (r *Run) publish(kind events.Kind, source string, payload any) {
	r.Bus.Publish(events.Event{Kind: kind, RunID: r.Context.RunID, Source: source, Payload: payload})
}

// goAsync runs f on the run's context and tracks it for Close. Nothing
// is started once the run is closed.
func (r *Run) goAsync(f func(ctx context.Context)) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.wg.Done()
		f(r.ctx)
	}()
}

// Status refreshes remote completion and returns the merged view. The view
// is still returned when the refresh fails.
func (r *Run) Status(ctx context.Context) (session.View, error) {
	r.mu.Lock()
	if err := r.beginLocked(); err != nil {
		r.mu.Unlock()
		return session.View{}, err
	}
	r.mu.Unlock()
	err := r.Aggregator.Refresh(ctx)
	if err != nil {
		err = fmt.Errorf("refreshing status: %w", err)
	}
	return r.Aggregator.View(), err
}

// Summary is everything a run has produced so far.
type Summary struct {
	Code      string                            `json:"code"`
	Status    session.View                      `json:"status"`
	Connected bool                              `json:"device_connected"`
	Games     map[trial.GameType]trial.Result   `json:"games"`
	Scores    map[trial.GameType]services.Score `json:"scores"`
	Hearing   *audiometry.Result                `json:"hearing,omitempty"`
	Speech    *speech.Snapshot                  `json:"speech,omitempty"`
	EEG       *services.Prediction              `json:"eeg,omitempty"`
	// Ready is set once every modality is complete and every game result
	// has been accepted for scoring.
	Ready bool `json:"ready_for_aggregation"`
}

func (r *Run) Summary() Summary {
	r.mu.Lock()
	s := Summary{
		Code:   r.Code,
		Games:  make(map[trial.GameType]trial.Result),
		Scores: make(map[trial.GameType]services.Score, len(r.scores)),
	}
	for g, slot := range r.games {
		if res, ok := slot.engine.Result(); ok {
			s.Games[g] = res
		}
	}
	for g, sc := range r.scores {
		s.Scores[g] = sc
	}
	if r.threshold != nil {
		t := *r.threshold
		s.Hearing = &t
	}
	if r.eeg != nil {
		p := *r.eeg
		s.EEG = &p
	}
	sp := r.speech
	r.mu.Unlock()

	if sp != nil {
		snap := sp.Snapshot()
		s.Speech = &snap
	}
	s.Status = r.Aggregator.View()
	s.Ready = r.Aggregator.ReadyForAggregation()
	s.Connected = r.Device.Connected()
	return s
}

// Close cancels every coordinator without handing results off, stops the
// device, and ends the event stream. It is safe to call more than once.
func (r *Run) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	slots := make([]*gameSlot, 0, len(r.games))
	for _, s := range r.games {
		slots = append(slots, s)
	}
	sp := r.speech
	hearing := r.hearing
	r.mu.Unlock()

	for _, s := range slots {
		s.engine.Cancel()
	}
	if sp != nil {
		sp.Abandon()
	}
	if hearing != nil {
		hearing.Cancel()
	}
	r.player.Stop()
	r.cancel()
	r.wg.Wait()
	r.Bus.Close()
	metrics.RunsActive.Dec()
	log.Printf("[Runs] Closed run %s\n", r.Code)
}
