// Package session tracks which modalities of an assessment run are done.
//
// The aggregator holds an explicit status per modality and per game, so a
// completed game can be refused without scanning result lists. Remote
// status is polled on demand and merged monotonically: nothing that is
// completed ever goes back.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cognisafe/internal/events"
	"cognisafe/internal/trial"
)

type Modality string

const (
	EEG    = Modality("eeg")
	Speech = Modality("speech")
	Games  = Modality("games")
)

var Modalities = []Modality{EEG, Speech, Games}

type Status string

const (
	NotStarted = Status("not_started")
	InProgress = Status("in_progress")
	Completed  = Status("completed")
)

var ErrGameCompleted = errors.New("game already completed")

// RemoteStatus is what the status service reports for a user.
type RemoteStatus struct {
	EEGCompleted    bool     `json:"eeg_completed"`
	SpeechCompleted bool     `json:"speech_completed"`
	GamesCompleted  bool     `json:"games_completed"`
	TotalCompleted  int      `json:"total_completed"`
	AllComplete     bool     `json:"all_complete"`
	EEGScore        *float64 `json:"eeg_score"`
	SpeechScore     *float64 `json:"speech_score"`
	GamesScore      *float64 `json:"games_score"`
}

type StatusService interface {
	Status(ctx context.Context, userID string) (RemoteStatus, error)
}

// View is a read-only status snapshot.
type View struct {
	RunID       string                    `json:"run_id"`
	UserID      string                    `json:"user_id"`
	Modalities  map[Modality]Status       `json:"modalities"`
	Games       map[trial.GameType]Status `json:"games"`
	Scores      map[Modality]float64      `json:"scores,omitempty"`
	Completed   int                       `json:"total_completed"`
	AllComplete bool                      `json:"all_complete"`
	// Unsubmitted lists completed games whose results the scoring service
	// has not accepted yet.
	Unsubmitted []trial.GameType `json:"unsubmitted_games,omitempty"`
}

type Aggregator struct {
	sc     Context
	remote StatusService
	bus    *events.Bus

	mu         sync.Mutex
	modalities map[Modality]Status
	games      map[trial.GameType]Status
	scores     map[Modality]float64
	unsent     map[trial.GameType]bool
}

// NewAggregator tracks sc. remote and bus may be nil.
func NewAggregator(sc Context, remote StatusService, bus *events.Bus) *Aggregator {
	a := &Aggregator{
		sc:         sc,
		remote:     remote,
		bus:        bus,
		modalities: make(map[Modality]Status),
		games:      make(map[trial.GameType]Status),
		scores:     make(map[Modality]float64),
		unsent:     make(map[trial.GameType]bool),
	}
	for _, m := range Modalities {
		a.modalities[m] = NotStarted
	}
	for _, g := range trial.AllGames {
		a.games[g] = NotStarted
	}
	return a
}

// Begin marks m in progress unless it has already moved further.
func (a *Aggregator) Begin(m Modality) {
	a.set(m, InProgress)
}

func (a *Aggregator) Complete(m Modality) {
	a.set(m, Completed)
}

func (a *Aggregator) set(m Modality, s Status) {
	a.mu.Lock()
	changed := a.upgradeLocked(m, s)
	a.mu.Unlock()
	if changed {
		a.publish(m, s)
	}
}

func (a *Aggregator) upgradeLocked(m Modality, s Status) bool {
	cur, ok := a.modalities[m]
	if !ok || rank(s) <= rank(cur) {
		return false
	}
	a.modalities[m] = s
	return true
}

// BeginGame refuses a game that has already been completed.
func (a *Aggregator) BeginGame(g trial.GameType) error {
	a.mu.Lock()
	cur, ok := a.games[g]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("unknown game %q", g)
	}
	if cur == Completed {
		a.mu.Unlock()
		return ErrGameCompleted
	}
	a.games[g] = InProgress
	changed := a.upgradeLocked(Games, InProgress)
	a.mu.Unlock()
	if changed {
		a.publish(Games, InProgress)
	}
	return nil
}

// CompleteGame marks g done. The games modality completes with the last
// of the four.
func (a *Aggregator) CompleteGame(g trial.GameType) {
	a.mu.Lock()
	if _, ok := a.games[g]; !ok {
		a.mu.Unlock()
		return
	}
	a.games[g] = Completed
	all := true
	for _, s := range a.games {
		if s != Completed {
			all = false
		}
	}
	changed := false
	if all {
		changed = a.upgradeLocked(Games, Completed)
	}
	a.mu.Unlock()

	if a.bus != nil {
		a.bus.Publish(events.Event{Kind: events.KindModality, RunID: a.sc.RunID, Source: string(g), Payload: Completed})
	}
	if changed {
		a.publish(Games, Completed)
	}
}

// SetUnsubmitted records whether g's result still awaits acceptance by the
// scoring service.
func (a *Aggregator) SetUnsubmitted(g trial.GameType, unsent bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if unsent {
		a.unsent[g] = true
	} else {
		delete(a.unsent, g)
	}
}

// ResetGame returns an abandoned, unfinished game to NotStarted.
func (a *Aggregator) ResetGame(g trial.GameType) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.games[g] == InProgress {
		a.games[g] = NotStarted
	}
}

func (a *Aggregator) GameStatus(g trial.GameType) Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.games[g]
}

func (a *Aggregator) Status(m Modality) Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.modalities[m]
}

// Refresh polls the status service and merges its completion flags and
// scores.
func (a *Aggregator) Refresh(ctx context.Context) error {
	if a.remote == nil {
		return nil
	}
	rs, err := a.remote.Status(ctx, a.sc.UserID)
	if err != nil {
		return fmt.Errorf("polling status for %s: %w", a.sc.UserID, err)
	}
	remote := []struct {
		m     Modality
		done  bool
		score *float64
	}{
		{EEG, rs.EEGCompleted, rs.EEGScore},
		{Speech, rs.SpeechCompleted, rs.SpeechScore},
		{Games, rs.GamesCompleted, rs.GamesScore},
	}

	var changed []Modality
	a.mu.Lock()
	for _, r := range remote {
		if r.score != nil {
			a.scores[r.m] = *r.score
		}
		if r.done && a.upgradeLocked(r.m, Completed) {
			changed = append(changed, r.m)
			if r.m == Games {
				for g := range a.games {
					a.games[g] = Completed
				}
			}
		}
	}
	a.mu.Unlock()

	for _, m := range changed {
		a.publish(m, Completed)
	}
	return nil
}

func (a *Aggregator) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := View{
		RunID:      a.sc.RunID,
		UserID:     a.sc.UserID,
		Modalities: make(map[Modality]Status, len(a.modalities)),
		Games:      make(map[trial.GameType]Status, len(a.games)),
		Scores:     make(map[Modality]float64, len(a.scores)),
	}
	for m, s := range a.modalities {
		v.Modalities[m] = s
		if s == Completed {
			v.Completed++
		}
	}
	for g, s := range a.games {
		v.Games[g] = s
	}
	for m, s := range a.scores {
		v.Scores[m] = s
	}
	for _, g := range trial.AllGames {
		if a.unsent[g] {
			v.Unsubmitted = append(v.Unsubmitted, g)
		}
	}
	v.AllComplete = v.Completed == len(Modalities)
	return v
}

// ReadyForAggregation reports whether every modality is complete and every
// game result has been accepted, which is when cross-modality scoring may
// run.
func (a *Aggregator) ReadyForAggregation() bool {
	v := a.View()
	return v.AllComplete && len(v.Unsubmitted) == 0
}

func (a *Aggregator) publish(m Modality, s Status) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(events.Event{Kind: events.KindModality, RunID: a.sc.RunID, Source: string(m), Payload: s})
}

func rank(s Status) int {
	switch s {
	case InProgress:
		return 1
	case Completed:
		return 2
	}
	return 0
}
