// Package gateway implements the event fan-out between the capture and
// transfer subsystems and API clients.
package gateway

import (
	"sync"
	"time"
)

// EventType classifies a lifecycle event for WebSocket clients.
type EventType string

const (
	EventRecordingStarted EventType = "recording_started"
	EventRecordingStopped EventType = "recording_stopped"
	EventRecordingFailed  EventType = "recording_failed"
	EventTransferStatus   EventType = "transfer_status"
	EventBatchesDropped   EventType = "batches_dropped"
)

// Event is the JSON-serialisable envelope broadcast to WebSocket clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// subscriber holds a buffered channel for one WebSocket connection.
type subscriber struct {
	ch chan Event
}

// EventBus fans lifecycle events out to all registered clients.
// Channel-based subscribers keep the bus transport-agnostic and fully
// testable without a real WebSocket.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewEventBus constructs a ready EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new client. Returns a receive channel and an
// unsubscribe function that must be called when the client disconnects
// (it closes the channel).
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, 64)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	}
	return s.ch, unsub
}

// Publish sends an Event to all current subscribers.
// Slow consumers are skipped (their buffer is full) so the capture and
// transfer paths never stall on a stuck WebSocket.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			// Slow consumer – drop silently.
		}
	}
}

// PublishTransferStatus is a convenience wrapper for EventTransferStatus.
func (b *EventBus) PublishTransferStatus(data interface{}) {
	b.Publish(Event{Type: EventTransferStatus, Data: data})
}

// PublishRecording is a convenience wrapper for recording lifecycle events.
func (b *EventBus) PublishRecording(t EventType, data interface{}) {
	b.Publish(Event{Type: t, Data: data})
}

// Len returns the current subscriber count (useful for metrics/tests).
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
