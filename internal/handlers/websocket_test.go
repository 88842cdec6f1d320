package handlers

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(buffer int, channels ...string) *wsClient {
	c := &wsClient{
		send:     make(chan *Message, buffer),
		done:     make(chan struct{}),
		channels: make(map[string]bool),
	}
	for _, ch := range channels {
		c.channels[ch] = true
	}
	return c
}

func TestEmitOnlyReachesSubscribers(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())

	crash := newTestClient(4, "crash")
	other := newTestClient(4, "mines")
	hub.clients[crash] = true
	hub.clients[other] = true

	hub.Emit("crash", "multiplier_update", map[string]any{"multiplier": 1.5})

	select {
	case msg := <-crash.send:
		if msg.Channel != "crash" || msg.Event != "multiplier_update" {
			t.Errorf("unexpected message: %+v", msg)
		}
	default:
		t.Error("subscriber did not receive the event")
	}
	select {
	case msg := <-other.send:
		t.Errorf("non-subscriber received %+v", msg)
	default:
	}
}

func TestEmitNeverBlocksOnSlowClient(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())

	// One-slot buffer and no writer goroutine: the second event cannot be
	// queued, standing in for a client that stopped reading.
	slow := newTestClient(1, "crash")
	hub.clients[slow] = true

	done := make(chan struct{})
	go func() {
		hub.Emit("crash", "multiplier_update", nil)
		hub.Emit("crash", "multiplier_update", nil)
		hub.Emit("crash", "multiplier_update", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a slow client")
	}

	hub.mu.RLock()
	still := hub.clients[slow]
	hub.mu.RUnlock()
	if still {
		t.Error("slow client was not dropped")
	}

	select {
	case <-slow.done:
	default:
		t.Error("dropped client was not closed")
	}
}

func TestQueueAfterClose(t *testing.T) {
	c := newTestClient(4)
	c.close()
	if c.queue(&Message{Type: "event"}) {
		t.Error("queue must refuse messages for a closed client")
	}
	// Closing twice is harmless.
	c.close()
}
