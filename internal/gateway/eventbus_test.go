package gateway

import (
	"testing"
	"time"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	ch, unsub := bus.Subscribe()
	if bus.Len() != 1 {
		t.Fatalf("len = %d, want 1", bus.Len())
	}

	bus.PublishTransferStatus(map[string]interface{}{"status": "started"})

	select {
	case evt := <-ch:
		if evt.Type != EventTransferStatus {
			t.Fatalf("type = %s", evt.Type)
		}
		if evt.Timestamp.IsZero() {
			t.Fatalf("timestamp not stamped")
		}
	case <-time.After(time.Second):
		t.Fatalf("no event received")
	}

	unsub()
	if bus.Len() != 0 {
		t.Fatalf("len after unsubscribe = %d", bus.Len())
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed after unsubscribe")
	}
}

func TestSlowConsumerIsSkippedNotBlocked(t *testing.T) {
	bus := NewEventBus()
	ch, unsub := bus.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overrun the 64-slot buffer without anyone draining it.
		for i := 0; i < 200; i++ {
			bus.PublishRecording(EventRecordingStarted, i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a slow consumer")
	}
	if got := len(ch); got != 64 {
		t.Fatalf("buffered events = %d, want 64", got)
	}
}

func TestPublishToManySubscribers(t *testing.T) {
	bus := NewEventBus()
	var chans []<-chan Event
	for i := 0; i < 5; i++ {
		ch, unsub := bus.Subscribe()
		defer unsub()
		chans = append(chans, ch)
	}

	bus.Publish(Event{Type: EventBatchesDropped, Data: 3})

	for i, ch := range chans {
		select {
		case evt := <-ch:
			if evt.Type != EventBatchesDropped {
				t.Fatalf("subscriber %d got %s", i, evt.Type)
			}
		default:
			t.Fatalf("subscriber %d missed the event", i)
		}
	}
}
