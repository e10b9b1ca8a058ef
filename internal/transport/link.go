// Package transport provides the Link abstraction over the narrow-band
// uplink and its TCP implementation.
package transport

import (
	"context"
	"errors"
	"time"
)

// ConnectionState describes the current link status.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

var (
	// ErrBusy means the link's outbound buffer is full right now.
	// Callers may retry; the condition is transient.
	ErrBusy = errors.New("transport: send buffer full")

	// ErrNotConnected means the link is down. Not retryable by the caller;
	// the link reconnects on its own.
	ErrNotConnected = errors.New("transport: not connected")
)

// Link is the abstraction over the uplink to the remote consumer.
// Implementations must be safe for concurrent use.
//
// SendFrame and NotifyStatus never block: they either queue the bytes for
// the link's writer or fail immediately. All three-way outcomes of
// SendFrame matter to callers: nil (queued), ErrBusy (transient), anything
// else (fatal for the current transfer).
type Link interface {
	// UnitSize returns the currently negotiated transport unit in bytes.
	// It may change over the life of a connection; callers must re-query
	// it before every frame rather than cache it.
	UnitSize() int
	// SendFrame queues one wire frame for transmission.
	SendFrame(frame []byte) error
	// AcquireCredit blocks up to wait for one transmit credit. Credits are
	// replenished by the remote's delivery confirmations. Returns false on
	// timeout or context cancellation.
	AcquireCredit(ctx context.Context, wait time.Duration) bool
	// Connected reports whether the link is currently up.
	Connected() bool
	// Subscribed reports whether the remote has completed the handshake
	// that entitles it to receive frames.
	Subscribed() bool
	// NotifyStatus sends a one-shot lifecycle status code, best effort.
	NotifyStatus(code byte) error
	// State returns the current link state.
	State() ConnectionState
}
