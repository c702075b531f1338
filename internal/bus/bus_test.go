package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageUpserted, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageUpserted {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessageUpserted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindStatusChanged})
	b.Publish(Event{Kind: KindStreamConnected})

	select {
	case evt := <-ch:
		if evt.Kind != KindStreamConnected {
			t.Errorf("got kind %q, want %q", evt.Kind, KindStreamConnected)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the session event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	unsub()

	b.Publish(Event{Kind: KindMessageUpserted})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBufferCounts(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 1)
	defer unsub()

	// Fill buffer, then overflow. The second publish must not block.
	b.Publish(Event{Kind: KindBackfillPage})
	b.Publish(Event{Kind: KindBackfillPage})

	evt := <-ch
	if evt.Kind != KindBackfillPage {
		t.Errorf("got %q, want %q", evt.Kind, KindBackfillPage)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe("sync.", 1)

	b.Close()
	b.Publish(Event{Kind: KindStreamConnected})

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close()")
	}

	// Close is idempotent.
	b.Close()
}
