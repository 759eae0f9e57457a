package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"cognisafe/internal/clock"
)

func TestPlay_Unsupported(t *testing.T) {
	p := NewPlayer(nil, clock.NewFake(epoch), 0)
	_, err := p.Play(context.Background(), Speech("hello"), 0.5)
	if !errors.Is(err, ErrUnsupportedPlatform) {
		t.Errorf("err = %v, want ErrUnsupportedPlatform", err)
	}
}

func TestPlay_EndedOnce(t *testing.T) {
	clk := clock.NewFake(epoch)
	out := &fakeOutput{}
	p := NewPlayer(out, clk, 0)

	pb, err := p.Play(context.Background(), Speech("The cat sat on the mat."), 0.5)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if out.spoken[0].Rate != SpeechRate || out.spoken[0].Lang != SpeechLang {
		t.Errorf("utterance = %+v", out.spoken[0])
	}
	clk.Advance(2 * time.Second)
	out.finish(0, nil)
	out.finish(0, errors.New("late error"))

	o, err := pb.Future().Result()
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if o.Forced {
		t.Error("Forced = true, want false")
	}
	if !o.EndedAt.Equal(epoch.Add(2 * time.Second)) {
		t.Errorf("EndedAt = %v", o.EndedAt)
	}
	if clk.Pending() != 0 {
		t.Errorf("Pending = %d, want fallback cleared", clk.Pending())
	}
}

func TestPlay_SpeechFallback(t *testing.T) {
	clk := clock.NewFake(epoch)
	out := &fakeOutput{}
	p := NewPlayer(out, clk, 0)
	pb, _ := p.Play(context.Background(), Speech("hello"), 1)

	clk.Advance(SpeechFallback - time.Millisecond)
	if !pb.Future().Pending() {
		t.Fatal("resolved before fallback")
	}
	clk.Advance(time.Millisecond)
	o, err := pb.Future().Result()
	if err != nil || !o.Forced {
		t.Errorf("outcome = %+v, %v; want forced end", o, err)
	}
}

func TestPlay_ToneFallbackIsToneDuration(t *testing.T) {
	clk := clock.NewFake(epoch)
	out := &fakeOutput{}
	p := NewPlayer(out, clk, 0)
	pb, err := p.Play(context.Background(), Tone(1000, time.Second), 0.3)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if out.tones != 1 {
		t.Errorf("tones = %d, want 1", out.tones)
	}
	clk.Advance(time.Second)
	if pb.Future().Pending() {
		t.Error("tone not ended after its duration")
	}
}

func TestPlay_CancelsPrevious(t *testing.T) {
	clk := clock.NewFake(epoch)
	out := &fakeOutput{}
	p := NewPlayer(out, clk, 0)

	first, _ := p.Play(context.Background(), Speech("one"), 1)
	second, _ := p.Play(context.Background(), Speech("two"), 1)

	if _, err := first.Future().Result(); !errors.Is(err, ErrCancelled) {
		t.Errorf("first err = %v, want ErrCancelled", err)
	}
	if out.stopped != 1 {
		t.Errorf("stopped = %d, want 1", out.stopped)
	}
	out.finish(0, nil)
	if !second.Future().Pending() {
		t.Error("stale callback resolved the new playback")
	}
	out.finish(1, nil)
	if second.Future().Pending() {
		t.Error("second playback did not end")
	}
}

func TestPlay_BackendError(t *testing.T) {
	clk := clock.NewFake(epoch)
	out := &fakeOutput{}
	p := NewPlayer(out, clk, 0)
	pb, _ := p.Play(context.Background(), Speech("x"), 1)
	boom := errors.New("synthesis-failed")
	out.finish(0, boom)
	if _, err := pb.Future().Result(); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	clk.Advance(SpeechFallback)
	if _, err := pb.Future().Result(); !errors.Is(err, boom) {
		t.Error("fallback overrode the error")
	}
}

func TestPlay_StartFailure(t *testing.T) {
	out := &fakeOutput{err: ErrUnsupportedPlatform}
	p := NewPlayer(out, clock.NewFake(epoch), 0)
	if _, err := p.Play(context.Background(), Speech("x"), 1); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Errorf("err = %v, want ErrUnsupportedPlatform", err)
	}
}
