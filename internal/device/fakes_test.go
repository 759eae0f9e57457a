package device

import (
	"context"
	"sync"
	"time"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeStream struct {
	frames chan []float32
	mu     sync.Mutex
	closed int
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []float32, 16)}
}

func (s *fakeStream) Frames() <-chan []float32 { return s.frames }
func (s *fakeStream) SampleRate() int          { return 16000 }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeSource struct {
	err     error
	streams []*fakeStream
}

func (f *fakeSource) Open(ctx context.Context) (Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := newFakeStream()
	f.streams = append(f.streams, s)
	return s, nil
}

type fakeOutput struct {
	mu      sync.Mutex
	err     error
	spoken  []Utterance
	tones   int
	stopped int
	done    []func(error)
}

func (o *fakeOutput) Speak(ctx context.Context, u Utterance, volume float64, done func(error)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.spoken = append(o.spoken, u)
	o.done = append(o.done, done)
	return nil
}

func (o *fakeOutput) PlayPCM(ctx context.Context, pcm []byte, rate int, volume float64, done func(error)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.tones++
	o.done = append(o.done, done)
	return nil
}

func (o *fakeOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped++
}

func (o *fakeOutput) finish(i int, err error) {
	o.mu.Lock()
	done := o.done[i]
	o.mu.Unlock()
	done(err)
}
