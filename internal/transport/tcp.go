package transport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	tcpInitialBackoff = 2 * time.Second
	tcpMaxBackoff     = 60 * time.Second
	tcpDialTimeout    = 5 * time.Second
	tcpMaxMessage     = 64 * 1024
	tcpOutQueueDepth  = 64

	// Control-channel message types carried on the length-prefixed stream.
	msgHello   = 0x01 // remote → device: [unit:2 LE][flags:1]
	msgCredit  = 0x02 // remote → device: [grants:1]
	msgCommand = 0x03 // remote → device: raw command bytes
	msgFrame   = 0x10 // device → remote: one wire frame
	msgStatus  = 0x11 // device → remote: [code:1]

	helloFlagSubscribed = 0x01
)

// DefaultUnitSize is the transport unit assumed until the remote's hello
// renegotiates it. Matches the smallest unit the uplink radios support.
const DefaultUnitSize = 253

// TCPLink connects to the remote collector over TCP and speaks the
// sigstream control protocol: 4-byte big-endian length prefix + one type
// byte + payload. It reconnects with exponential backoff and renegotiates
// the handshake (unit size, subscription, credit window) per connection.
type TCPLink struct {
	addr    string
	log     *zap.Logger
	handler func([]byte)

	unit       atomic.Int32
	subscribed atomic.Bool
	state      atomic.Int32 // ConnectionState
	credits    chan struct{}
	out        chan []byte

	mu     sync.Mutex
	conn   net.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTCPLink constructs a TCPLink. Call Connect to begin the connect loop.
func NewTCPLink(addr string, creditWindow int, log *zap.Logger) *TCPLink {
	if creditWindow <= 0 {
		creditWindow = 8
	}
	l := &TCPLink{
		addr:    addr,
		log:     log,
		credits: make(chan struct{}, creditWindow),
		out:     make(chan []byte, tcpOutQueueDepth),
	}
	l.unit.Store(DefaultUnitSize)
	l.state.Store(int32(StateDisconnected))
	return l
}

// SetCommandHandler registers the sink for inbound command bytes. The
// handler runs on the read loop and must only enqueue, never block.
// Must be called before Connect.
func (l *TCPLink) SetCommandHandler(fn func([]byte)) { l.handler = fn }

func (l *TCPLink) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.wg.Add(1)
	go l.connectLoop(ctx)
	return nil
}

func (l *TCPLink) Disconnect() error {
	// Snapshot under the lock, then wait outside it: connectLoop needs
	// l.mu to clear l.conn on its way out.
	l.mu.Lock()
	cancel, conn := l.cancel, l.conn
	l.cancel, l.conn = nil, nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	l.wg.Wait()
	l.state.Store(int32(StateDisconnected))
	return nil
}

func (l *TCPLink) UnitSize() int { return int(l.unit.Load()) }

func (l *TCPLink) Connected() bool {
	return ConnectionState(l.state.Load()) == StateConnected
}

func (l *TCPLink) Subscribed() bool { return l.subscribed.Load() }

func (l *TCPLink) State() ConnectionState {
	return ConnectionState(l.state.Load())
}

func (l *TCPLink) SendFrame(frame []byte) error {
	if !l.Connected() {
		return ErrNotConnected
	}
	msg := make([]byte, 1+len(frame))
	msg[0] = msgFrame
	copy(msg[1:], frame)
	select {
	case l.out <- msg:
		return nil
	default:
		return ErrBusy
	}
}

func (l *TCPLink) NotifyStatus(code byte) error {
	if !l.Connected() {
		return ErrNotConnected
	}
	select {
	case l.out <- []byte{msgStatus, code}:
		return nil
	default:
		return ErrBusy
	}
}

func (l *TCPLink) AcquireCredit(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-l.credits:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// ── internal ──────────────────────────────────────────────────────────────

func (l *TCPLink) connectLoop(ctx context.Context) {
	defer l.wg.Done()

	backoff := tcpInitialBackoff
	for {
		if ctx.Err() != nil {
			l.state.Store(int32(StateDisconnected))
			return
		}

		l.state.Store(int32(StateConnecting))
		conn, err := net.DialTimeout("tcp", l.addr, tcpDialTimeout)
		if err != nil {
			l.log.Warn("tcp: dial failed",
				zap.String("addr", l.addr),
				zap.Duration("retry_in", backoff),
				zap.Error(err),
			)
			l.state.Store(int32(StateFailed))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				backoff = min(backoff*2, tcpMaxBackoff)
				continue
			}
		}

		backoff = tcpInitialBackoff
		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()
		l.resetHandshake()
		l.state.Store(int32(StateConnected))
		l.log.Info("tcp: connected", zap.String("addr", l.addr))

		connDone := make(chan struct{})
		go l.writeLoop(ctx, conn, connDone)
		l.readMessages(ctx, conn)
		close(connDone)

		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		l.state.Store(int32(StateDisconnected))
		l.resetHandshake()

		if ctx.Err() != nil {
			return
		}
		l.log.Info("tcp: connection lost, reconnecting",
			zap.Duration("backoff", backoff))
	}
}

// resetHandshake returns the per-connection negotiated state to its
// pre-hello defaults. Unspent credits and queued outbound messages do
// not survive a reconnect; frames from a dead connection must not leak
// onto the next one.
func (l *TCPLink) resetHandshake() {
	l.unit.Store(DefaultUnitSize)
	l.subscribed.Store(false)
	for {
		select {
		case <-l.credits:
		case <-l.out:
		default:
			return
		}
	}
}

func (l *TCPLink) writeLoop(ctx context.Context, conn net.Conn, connDone <-chan struct{}) {
	hdr := make([]byte, 4)
	for {
		select {
		case <-ctx.Done():
			return
		case <-connDone:
			return
		case msg := <-l.out:
			binary.BigEndian.PutUint32(hdr, uint32(len(msg)))
			if _, err := conn.Write(append(hdr[:4:4], msg...)); err != nil {
				if ctx.Err() == nil {
					l.log.Debug("tcp: write", zap.Error(err))
				}
				conn.Close()
				return
			}
		}
	}
}

func (l *TCPLink) readMessages(ctx context.Context, conn net.Conn) {
	hdr := make([]byte, 4)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			if ctx.Err() == nil {
				l.log.Debug("tcp: read header", zap.Error(err))
			}
			return
		}
		n := binary.BigEndian.Uint32(hdr)
		if n == 0 || n > tcpMaxMessage {
			l.log.Warn("tcp: invalid message size", zap.Uint32("size", n))
			return
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(conn, payload); err != nil {
			if ctx.Err() == nil {
				l.log.Debug("tcp: read payload", zap.Error(err))
			}
			return
		}
		l.dispatch(payload)
	}
}

func (l *TCPLink) dispatch(msg []byte) {
	switch msg[0] {
	case msgHello:
		if len(msg) < 4 {
			l.log.Warn("tcp: short hello", zap.Int("len", len(msg)))
			return
		}
		unit := binary.LittleEndian.Uint16(msg[1:3])
		if unit > 0 {
			l.unit.Store(int32(unit))
		}
		l.subscribed.Store(msg[3]&helloFlagSubscribed != 0)
		l.log.Info("tcp: hello",
			zap.Uint16("unit", unit),
			zap.Bool("subscribed", l.subscribed.Load()),
		)
	case msgCredit:
		if len(msg) < 2 {
			return
		}
		for i := 0; i < int(msg[1]); i++ {
			select {
			case l.credits <- struct{}{}:
			default:
				// Window already full; extra grants are discarded.
			}
		}
	case msgCommand:
		if l.handler != nil && len(msg) > 1 {
			l.handler(msg[1:])
		}
	default:
		l.log.Warn("tcp: unknown message type", zap.Uint8("type", msg[0]))
	}
}
