package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"cognisafe/internal/events"
)

func TestNewBroadcaster(t *testing.T) {
	bus := events.NewBus()
	b := NewBroadcaster(bus)
	if b == nil {
		t.Fatal("NewBroadcaster() returned nil")
	}
	bus.Close()
}

func TestBroadcaster_SubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster(events.NewBus())

	ch := b.Subscribe()
	b.Mu.Lock()
	if len(b.Clients) != 1 {
		t.Errorf("clients count = %d, want 1", len(b.Clients))
	}
	b.Mu.Unlock()

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	b.Mu.Lock()
	if len(b.Clients) != 0 {
		t.Errorf("clients count after unsubscribe = %d, want 0", len(b.Clients))
	}
	b.Mu.Unlock()
}

func TestBroadcaster_RelaysBusEvents(t *testing.T) {
	bus := events.NewBus()
	b := NewBroadcaster(bus)
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	bus.Publish(events.Event{Kind: events.KindModality, RunID: "r1", Source: "eeg", Payload: "completed"})

	select {
	case msg := <-ch:
		if msg.Event != "modality" {
			t.Errorf("Event = %q, want modality", msg.Event)
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(msg.Data), &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.RunID != "r1" || ev.Source != "eeg" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out")
	}
}

func TestBroadcaster_SkipsFullChannels(t *testing.T) {
	b := NewBroadcaster(events.NewBus())
	ch := b.Subscribe()
	for i := 0; i < 20; i++ {
		b.Broadcast("x", "y")
	}
	if len(ch) != cap(ch) {
		t.Errorf("len = %d, want %d", len(ch), cap(ch))
	}
}

func TestBroadcaster_DoneAfterBusClose(t *testing.T) {
	bus := events.NewBus()
	b := NewBroadcaster(bus)
	bus.Close()
	select {
	case <-b.Done():
	case <-time.After(1 * time.Second):
		t.Fatal("relay did not stop")
	}
}
