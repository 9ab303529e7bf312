package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestBus(t *testing.T) *PubSubBus {
	t.Helper()

	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(b.Close)

	return b
}

func TestPubSubBus_DeliversInPublishOrder(t *testing.T) {
	b := newTestBus(t)
	sub := b.Subscribe("messages:conversation_id=eq.c1")

	for i := 0; i < 5; i++ {
		b.Publish("messages:conversation_id=eq.c1", i)
	}

	for want := 0; want < 5; want++ {
		select {
		case got := <-sub:
			if got.(int) != want {
				t.Fatalf("expected %d, got %v", want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", want)
		}
	}
}

func TestPubSubBus_TopicsAreIsolated(t *testing.T) {
	b := newTestBus(t)
	subA := b.Subscribe("a")
	subB := b.Subscribe("b")

	b.Publish("b", "only-b")

	select {
	case got := <-subB:
		if got != "only-b" {
			t.Fatalf("expected only-b, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting on topic b")
	}
	select {
	case got := <-subA:
		t.Fatalf("expected nothing on topic a, got %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPubSubBus_UnsubscribeClosesChannel(t *testing.T) {
	b := newTestBus(t)
	sub := b.Subscribe("a")

	b.Unsubscribe(sub, "a")

	select {
	case _, ok := <-sub:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func TestRelease_DoesNotBlockOnFullBuffer(t *testing.T) {
	b := NewWithCapacity(slog.New(slog.NewTextHandler(io.Discard, nil)), 1)
	t.Cleanup(b.Close)
	sub := b.Subscribe("a")

	published := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish("a", i)
		}
		close(published)
	}()

	released := make(chan struct{})
	go func() {
		Release(b, sub, "a")
		close(released)
	}()

	for _, ch := range []chan struct{}{released, published} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("expected release and publishing to finish")
		}
	}
}
