package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cognisafe/internal/clock"
	"cognisafe/internal/metrics"
	"cognisafe/internal/task"
)

const (
	SpeechRate     = 0.9
	SpeechLang     = "en-US"
	SpeechFallback = 10 * time.Second
)

type Kind string

const (
	KindSpeech = Kind("speech")
	KindTone   = Kind("tone")
)

// Stimulus is a sentence to synthesise or a tone to play.
type Stimulus struct {
	Kind        Kind
	Text        string
	FrequencyHz float64
	Duration    time.Duration
}

func Speech(text string) Stimulus {
	return Stimulus{Kind: KindSpeech, Text: text}
}

func Tone(freqHz float64, d time.Duration) Stimulus {
	return Stimulus{Kind: KindTone, FrequencyHz: freqHz, Duration: d}
}

// Utterance is a speech synthesis request.
type Utterance struct {
	Text string
	Rate float64
	Lang string
}

// Output is an audio backend. done must be called at most once with nil
// when playback ends or with the failure; backends that lose the terminal
// event are covered by the player's fallback timer.
type Output interface {
	Speak(ctx context.Context, u Utterance, volume float64, done func(error)) error
	PlayPCM(ctx context.Context, pcm []byte, sampleRate int, volume float64, done func(error)) error
	Stop()
}

// Outcome is how a playback ended.
type Outcome struct {
	EndedAt time.Time
	// Forced is set when the fallback timer ended the playback because the
	// backend never reported a terminal event.
	Forced bool
}

// Player plays one stimulus at a time on an Output.
type Player struct {
	out            Output
	clock          clock.Clock
	speechFallback time.Duration

	mu      sync.Mutex
	current *Playback
}

// NewPlayer returns a player over out. A nil out makes every Play fail
// with ErrUnsupportedPlatform.
func NewPlayer(out Output, clk clock.Clock, speechFallback time.Duration) *Player {
	if speechFallback <= 0 {
		speechFallback = SpeechFallback
	}
	return &Player{out: out, clock: clk, speechFallback: speechFallback}
}

// Play cancels any in-flight playback and starts s at volume.
func (p *Player) Play(ctx context.Context, s Stimulus, volume float64) (*Playback, error) {
	p.mu.Lock()
	prev := p.current
	p.current = nil
	p.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	if p.out == nil {
		return nil, ErrUnsupportedPlatform
	}

	fallback := p.speechFallback
	if s.Kind == KindTone {
		fallback = s.Duration
	}
	pb := &Playback{
		kind:   s.Kind,
		out:    p.out,
		clock:  p.clock,
		timers: clock.NewGroup(p.clock),
		result: task.NewFuture[Outcome](),
	}
	pb.timers.After(fallback, pb.expire)

	p.mu.Lock()
	p.current = pb
	p.mu.Unlock()

	var err error
	switch s.Kind {
	case KindTone:
		pcm := PCM16(ToneSamples(s.FrequencyHz, s.Duration, ToneSampleRate))
		err = p.out.PlayPCM(ctx, pcm, ToneSampleRate, volume, pb.terminal)
	default:
		err = p.out.Speak(ctx, Utterance{Text: s.Text, Rate: SpeechRate, Lang: SpeechLang}, volume, pb.terminal)
	}
	if err != nil {
		pb.timers.Close()
		pb.result.Resolve(Outcome{}, err)
		p.mu.Lock()
		if p.current == pb {
			p.current = nil
		}
		p.mu.Unlock()
		if errors.Is(err, ErrUnsupportedPlatform) {
			return nil, err
		}
		return nil, fmt.Errorf("starting %s playback: %w", s.Kind, err)
	}
	return pb, nil
}

// Stop cancels the in-flight playback, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	pb := p.current
	p.current = nil
	p.mu.Unlock()
	if pb != nil {
		pb.Cancel()
	}
}

// Playback is one in-flight stimulus. Its future resolves exactly once.
type Playback struct {
	kind   Kind
	out    Output
	clock  clock.Clock
	timers *clock.Group
	result *task.Future[Outcome]
}

// Future resolves with the outcome, the backend error, or ErrCancelled.
func (pb *Playback) Future() *task.Future[Outcome] {
	return pb.result
}

func (pb *Playback) Done() <-chan struct{} {
	return pb.result.Done()
}

// Cancel stops the backend if the playback is still running.
func (pb *Playback) Cancel() {
	pb.timers.Close()
	if pb.result.Pending() {
		pb.out.Stop()
	}
	pb.result.Resolve(Outcome{}, ErrCancelled)
}

func (pb *Playback) terminal(err error) {
	pb.timers.Close()
	pb.result.Resolve(Outcome{EndedAt: pb.clock.Now()}, err)
}

func (pb *Playback) expire() {
	if pb.result.Resolve(Outcome{EndedAt: pb.clock.Now(), Forced: true}, nil) {
		metrics.PlaybackFallbacks.WithLabelValues(string(pb.kind)).Inc()
	}
}
