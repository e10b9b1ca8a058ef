package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/meshcommons/sigstream/internal/transport"
)

// stubLink is an in-memory transport.Link for tests: it records every
// frame and status byte handed to it and lets tests script credit,
// busy rejections, and disconnects.
type stubLink struct {
	mu         sync.Mutex
	unit       int
	connected  bool
	subscribed bool
	credits    int // -1 = unlimited
	busyLeft   int // return ErrBusy for this many sends
	sendErr    error
	frames     [][]byte
	statuses   []byte
	onSend     func(n int) // called after the nth accepted frame
}

func newStubLink() *stubLink {
	return &stubLink{
		unit:       253, // 253 - FrameOverhead = 244-byte payload budget
		connected:  true,
		subscribed: true,
		credits:    -1,
	}
}

func (l *stubLink) UnitSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unit
}

func (l *stubLink) SendFrame(frame []byte) error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return transport.ErrNotConnected
	}
	if l.busyLeft > 0 {
		l.busyLeft--
		l.mu.Unlock()
		return transport.ErrBusy
	}
	if l.sendErr != nil {
		err := l.sendErr
		l.mu.Unlock()
		return err
	}
	l.frames = append(l.frames, append([]byte(nil), frame...))
	n := len(l.frames)
	cb := l.onSend
	l.mu.Unlock()
	if cb != nil {
		cb(n)
	}
	return nil
}

func (l *stubLink) AcquireCredit(ctx context.Context, wait time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.credits < 0 {
		return true
	}
	if l.credits > 0 {
		l.credits--
		return true
	}
	return false
}

func (l *stubLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *stubLink) Subscribed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscribed
}

func (l *stubLink) NotifyStatus(code byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return transport.ErrNotConnected
	}
	l.statuses = append(l.statuses, code)
	return nil
}

func (l *stubLink) State() transport.ConnectionState {
	if l.Connected() {
		return transport.StateConnected
	}
	return transport.StateDisconnected
}

// ── test helpers ──────────────────────────────────────────────────────────

func (l *stubLink) setConnected(up bool) {
	l.mu.Lock()
	l.connected = up
	l.mu.Unlock()
}

func (l *stubLink) framesCopy() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.frames))
	copy(out, l.frames)
	return out
}

func (l *stubLink) framesLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

func (l *stubLink) statusSeen(st Status) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.statuses {
		if c == byte(st) {
			return true
		}
	}
	return false
}

func (l *stubLink) lastStatus() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.statuses) == 0 {
		return 0
	}
	return Status(l.statuses[len(l.statuses)-1])
}
