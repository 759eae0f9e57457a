package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"

	"cognisafe/internal/device"
)

const (
	sendBuffer   = 32
	frameBuffer  = 64
	readLimit    = 1 << 20
	micOpenLimit = 10 * time.Second
)

var errSendFull = errors.New("device send buffer full")

type outbound struct {
	typ  websocket.MessageType
	data []byte
}

// link is one live connection.
type link struct {
	send   chan outbound
	cancel context.CancelFunc
}

// WritePump reads from the send channel and writes to the connection.
func (l *link) WritePump(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-l.send:
			if err := conn.Write(ctx, msg.typ, msg.data); err != nil {
				l.cancel()
				return
			}
		}
	}
}

type micReply struct {
	stream *stream
	err    error
}

// Device is a browser-backed audio device. It implements device.Output and
// device.Source. Only one connection is live at a time; a new one replaces
// the old.
type Device struct {
	Code string

	mu       sync.Mutex
	link     *link
	nextID   uint64
	playing  map[uint64]func(error)
	opening  chan micReply
	stream   *stream
	openWait time.Duration
}

func NewDevice(code string) *Device {
	return &Device{
		Code:     code,
		playing:  make(map[uint64]func(error)),
		openWait: micOpenLimit,
	}
}

func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.link != nil
}

// Serve attaches conn and blocks until the connection drops or ctx ends.
// Pending playbacks fail and an open stream ends when it returns.
func (d *Device) Serve(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	conn.SetReadLimit(readLimit)

	l := &link{send: make(chan outbound, sendBuffer), cancel: cancel}
	d.mu.Lock()
	prev := d.link
	d.link = l
	d.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}
	log.Printf("[Remote] Device attached to run %s\n", d.Code)

	go l.WritePump(ctx, conn)
	err := d.readLoop(ctx, conn)
	d.detach(l)
	conn.Close(websocket.StatusNormalClosure, "")
	log.Printf("[Remote] Device detached from run %s\n", d.Code)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close drops the live connection, if any.
func (d *Device) Close() {
	d.mu.Lock()
	l := d.link
	d.mu.Unlock()
	if l != nil {
		l.cancel()
	}
}

func (d *Device) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			d.deliver(device.DecodePCM16(data))
			continue
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[Remote] Bad message from run %s: %v\n", d.Code, err)
			continue
		}
		d.handle(msg)
	}
}

func (d *Device) handle(msg ClientMessage) {
	switch msg.Type {
	case MsgEnded:
		d.finish(msg.ID, nil)
	case MsgError:
		d.finish(msg.ID, fmt.Errorf("device playback: %s", msg.Error))
	case MsgUnsupported:
		d.finish(msg.ID, device.ErrUnsupportedPlatform)
	case MsgMicOK:
		d.micOpened(msg.SampleRate)
	case MsgMicDenied:
		d.micFailed(device.ErrPermissionDenied)
	case MsgMicUnavailable:
		d.micFailed(device.ErrDeviceUnavailable)
	case MsgMicEnded:
		d.mu.Lock()
		if s := d.stream; s != nil {
			d.stream = nil
			s.end()
		}
		d.mu.Unlock()
	default:
		log.Printf("[Remote] Unknown message type %q from run %s\n", msg.Type, d.Code)
	}
}

func (d *Device) detach(l *link) {
	d.mu.Lock()
	if d.link != l {
		d.mu.Unlock()
		return
	}
	d.link = nil
	pending := d.playing
	d.playing = make(map[uint64]func(error))
	if d.opening != nil {
		d.opening <- micReply{err: device.ErrDeviceUnavailable}
		d.opening = nil
	}
	if d.stream != nil {
		d.stream.end()
		d.stream = nil
	}
	d.mu.Unlock()

	for _, done := range pending {
		done(device.ErrDeviceUnavailable)
	}
}

// enqueue queues frames back to back on the live link.
func (d *Device) enqueue(frames ...outbound) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.link == nil {
		return device.ErrDeviceUnavailable
	}
	if cap(d.link.send)-len(d.link.send) < len(frames) {
		return errSendFull
	}
	for _, f := range frames {
		d.link.send <- f
	}
	return nil
}

func (d *Device) sendJSON(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Type, err)
	}
	return d.enqueue(outbound{typ: websocket.MessageText, data: data})
}

func (d *Device) register(done func(error)) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.link == nil {
		return 0, false
	}
	d.nextID++
	d.playing[d.nextID] = done
	return d.nextID, true
}

func (d *Device) finish(id uint64, err error) {
	d.mu.Lock()
	done, ok := d.playing[id]
	delete(d.playing, id)
	d.mu.Unlock()
	if ok {
		done(err)
	}
}

// Speak implements device.Output. Without a connected browser there is no
// synthesis backend.
func (d *Device) Speak(ctx context.Context, u device.Utterance, volume float64, done func(error)) error {
	id, ok := d.register(done)
	if !ok {
		return device.ErrUnsupportedPlatform
	}
	err := d.sendJSON(ServerMessage{Type: MsgSpeak, ID: id, Text: u.Text, Rate: u.Rate, Lang: u.Lang, Volume: volume})
	if err != nil {
		d.forget(id)
		return fmt.Errorf("sending utterance: %w", err)
	}
	return nil
}

// PlayPCM implements device.Output.
func (d *Device) PlayPCM(ctx context.Context, pcm []byte, sampleRate int, volume float64, done func(error)) error {
	id, ok := d.register(done)
	if !ok {
		return device.ErrUnsupportedPlatform
	}
	header, err := json.Marshal(ServerMessage{Type: MsgClip, ID: id, SampleRate: sampleRate, Volume: volume})
	if err != nil {
		d.forget(id)
		return fmt.Errorf("encoding clip: %w", err)
	}
	err = d.enqueue(
		outbound{typ: websocket.MessageText, data: header},
		outbound{typ: websocket.MessageBinary, data: pcm},
	)
	if err != nil {
		d.forget(id)
		return fmt.Errorf("sending clip: %w", err)
	}
	return nil
}

// Stop implements device.Output. Pending playbacks are dropped without a
// terminal callback.
func (d *Device) Stop() {
	d.mu.Lock()
	d.playing = make(map[uint64]func(error))
	d.mu.Unlock()
	if err := d.sendJSON(ServerMessage{Type: MsgStop}); err != nil && !errors.Is(err, device.ErrDeviceUnavailable) {
		log.Printf("[Remote] Stop on run %s: %v\n", d.Code, err)
	}
}

func (d *Device) forget(id uint64) {
	d.mu.Lock()
	delete(d.playing, id)
	d.mu.Unlock()
}

// Open implements device.Source. It asks the browser for the microphone
// and waits for its answer.
func (d *Device) Open(ctx context.Context) (device.Stream, error) {
	d.mu.Lock()
	if d.link == nil {
		d.mu.Unlock()
		return nil, device.ErrDeviceUnavailable
	}
	if d.stream != nil || d.opening != nil {
		d.mu.Unlock()
		return nil, device.ErrDeviceBusy
	}
	reply := make(chan micReply, 1)
	d.opening = reply
	wait := d.openWait
	d.mu.Unlock()

	if err := d.sendJSON(ServerMessage{Type: MsgMicOpen}); err != nil {
		d.abandonOpen(reply)
		return nil, fmt.Errorf("requesting microphone: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	select {
	case r := <-reply:
		if r.err != nil {
			return nil, r.err
		}
		return r.stream, nil
	case <-ctx.Done():
		d.abandonOpen(reply)
		return nil, fmt.Errorf("waiting for microphone: %w", device.ErrDeviceUnavailable)
	}
}

// abandonOpen withdraws an open request. A grant that raced in is closed.
func (d *Device) abandonOpen(reply chan micReply) {
	d.mu.Lock()
	if d.opening == reply {
		d.opening = nil
	}
	d.mu.Unlock()
	select {
	case r := <-reply:
		if r.stream != nil {
			r.stream.Close()
		}
	default:
	}
}

func (d *Device) micOpened(sampleRate int) {
	if sampleRate <= 0 {
		sampleRate = device.ToneSampleRate
	}
	d.mu.Lock()
	reply := d.opening
	d.opening = nil
	if reply == nil {
		d.mu.Unlock()
		d.sendJSON(ServerMessage{Type: MsgMicClose})
		return
	}
	s := &stream{d: d, rate: sampleRate, frames: make(chan []float32, frameBuffer)}
	d.stream = s
	reply <- micReply{stream: s}
	d.mu.Unlock()
}

func (d *Device) micFailed(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opening != nil {
		d.opening <- micReply{err: err}
		d.opening = nil
	}
}

func (d *Device) deliver(samples []float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil || d.stream.closed {
		return
	}
	select {
	case d.stream.frames <- samples:
	default:
		log.Printf("[Remote] Dropped audio frame on run %s\n", d.Code)
	}
}

// stream is an open browser microphone. frames is only sent on and closed
// while holding the device mutex.
type stream struct {
	d      *Device
	rate   int
	frames chan []float32
	closed bool
}

func (s *stream) Frames() <-chan []float32 { return s.frames }

func (s *stream) SampleRate() int { return s.rate }

func (s *stream) Close() error {
	s.d.mu.Lock()
	wasOpen := !s.closed
	if s.d.stream == s {
		s.d.stream = nil
	}
	s.end()
	connected := s.d.link != nil
	s.d.mu.Unlock()
	if wasOpen && connected {
		return s.d.sendJSON(ServerMessage{Type: MsgMicClose})
	}
	return nil
}

func (s *stream) end() {
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}
