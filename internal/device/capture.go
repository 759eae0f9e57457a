package device

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"cognisafe/internal/clock"
	"cognisafe/internal/metrics"
	"cognisafe/internal/task"
)

// LevelInterval is how often the level meter is refreshed.
const LevelInterval = time.Second / 60

// Source opens microphone streams.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream delivers mono frames until closed. Frames is closed if the device
// stops on its own.
type Stream interface {
	Frames() <-chan []float32
	SampleRate() int
	Close() error
}

// Buffer is a finished recording.
type Buffer struct {
	Samples    []float32
	SampleRate int
	StartedAt  time.Time
	EndedAt    time.Time
}

func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

func (b Buffer) WAV() []byte {
	return EncodeWAV(b.Samples, b.SampleRate)
}

// Recorder hands out microphone captures guarded by a Lease.
type Recorder struct {
	src   Source
	lease *Lease
	clock clock.Clock
}

func NewRecorder(src Source, lease *Lease, clk clock.Clock) *Recorder {
	if lease == nil {
		lease = &Lease{}
	}
	return &Recorder{src: src, lease: lease, clock: clk}
}

// Acquire opens the microphone for owner. A positive maxDur finishes the
// capture automatically once elapsed.
func (r *Recorder) Acquire(ctx context.Context, owner string, maxDur time.Duration) (*Capture, error) {
	if r.src == nil {
		return nil, ErrDeviceUnavailable
	}
	if err := r.lease.Acquire(owner); err != nil {
		return nil, err
	}
	stream, err := r.src.Open(ctx)
	if err != nil {
		r.lease.Release(owner)
		return nil, fmt.Errorf("opening microphone: %w", err)
	}

	c := &Capture{
		StartedAt: r.clock.Now(),
		owner:     owner,
		lease:     r.lease,
		stream:    stream,
		clock:     r.clock,
		timers:    clock.NewGroup(r.clock),
		result:    task.NewFuture[Buffer](),
		stop:      make(chan struct{}),
	}
	metrics.CaptureActive.Inc()
	if maxDur > 0 {
		c.timers.After(maxDur, func() { c.Finish() })
	}
	c.timers.After(LevelInterval, c.pollLevel)
	go c.pump()
	return c, nil
}

// Capture is one active microphone acquisition.
type Capture struct {
	StartedAt time.Time

	owner  string
	lease  *Lease
	stream Stream
	clock  clock.Clock
	timers *clock.Group
	result *task.Future[Buffer]
	stop   chan struct{}

	mu      sync.Mutex
	closed  bool
	samples []float32
	level   float64
}

// Level is the latest meter value in [0,1].
func (c *Capture) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Result resolves with the recording, or ErrCancelled.
func (c *Capture) Result() *task.Future[Buffer] {
	return c.result
}

// Finish stops the capture and resolves the recording. Repeated calls
// return the same future.
func (c *Capture) Finish() *task.Future[Buffer] {
	if buf, ok := c.close(); ok {
		c.result.Resolve(buf, nil)
	}
	return c.result
}

// Cancel releases the device without producing a recording.
func (c *Capture) Cancel() {
	if _, ok := c.close(); ok {
		c.result.Resolve(Buffer{}, ErrCancelled)
	}
}

// close releases timers, the stream and the lease, in that order. Only
// the first caller gets ok.
func (c *Capture) close() (Buffer, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Buffer{}, false
	}
	c.closed = true
	samples := c.samples
	c.samples = nil
	c.mu.Unlock()

	c.timers.Close()
	close(c.stop)
	if err := c.stream.Close(); err != nil {
		log.Printf("[Device] Closing stream: %v\n", err)
	}
	c.lease.Release(c.owner)
	metrics.CaptureActive.Dec()

	return Buffer{
		Samples:    samples,
		SampleRate: c.stream.SampleRate(),
		StartedAt:  c.StartedAt,
		EndedAt:    c.clock.Now(),
	}, true
}

func (c *Capture) pump() {
	frames := c.stream.Frames()
	for {
		select {
		case <-c.stop:
			return
		case f, ok := <-frames:
			if !ok {
				c.Finish()
				return
			}
			c.mu.Lock()
			if !c.closed {
				c.samples = append(c.samples, f...)
			}
			c.mu.Unlock()
		}
	}
}

func (c *Capture) pollLevel() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.level = Level(c.samples)
	c.mu.Unlock()
	c.timers.After(LevelInterval, c.pollLevel)
}
