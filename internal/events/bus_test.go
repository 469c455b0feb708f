package events

import (
	"testing"
	"time"
)

func TestBusDeliversToMultiTopicSubscriber(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(4, EventSignalAccepted, EventOrderCancelled)
	defer unsub()

	b.Publish(EventSignalAccepted, "a")
	b.Publish(EventPriceTick, "ignored")
	b.Publish(EventOrderCancelled, "c")

	for _, want := range []Event{EventSignalAccepted, EventOrderCancelled} {
		select {
		case msg := <-ch:
			if msg.Event != want {
				t.Fatalf("event=%s, expected %s", msg.Event, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestBusDropsWhenFullAndUnsubscribeCloses(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(1, EventPriceTick)

	b.Publish(EventPriceTick, 1)
	b.Publish(EventPriceTick, 2) // dropped

	unsub()
	unsub()

	var got []any
	for msg := range ch {
		got = append(got, msg.Payload)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, expected [1]", got)
	}

	// publishing after unsubscribe must not panic
	b.Publish(EventPriceTick, 3)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(EventSignalRejected, nil)
}
