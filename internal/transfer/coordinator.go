// Package transfer implements the chunked transfer path: command
// decoding, packetization, flow control, and the coordinator state
// machine that streams one recorded session at a time to the remote
// consumer.
package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshcommons/sigstream/internal/config"
	"github.com/meshcommons/sigstream/internal/gateway"
	"github.com/meshcommons/sigstream/internal/metrics"
	"github.com/meshcommons/sigstream/internal/store"
	"github.com/meshcommons/sigstream/internal/transport"
)

// SessionFileExt is the suffix of eligible session files.
const SessionFileExt = ".sig"

// Progress is a point-in-time snapshot of the coordinator for the API.
type Progress struct {
	State  string `json:"state"`
	Path   string `json:"path,omitempty"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	Frames uint64 `json:"frames"`
}

// session is the single active transfer. Constructed on Start, dropped on
// every exit path; nothing about a transfer outlives it.
type session struct {
	file   *os.File
	path   string
	size   int64
	offset int64
	seq    uint64

	// Single-slot resend cache: the raw bytes of the most recently sent
	// frame, overwritten on every hand-off. Not a retransmission window.
	resendSeq   uint16
	resendFrame []byte
}

// Coordinator owns the full lifecycle of one outbound transfer at a time.
// It runs as a single worker goroutine (Run); every blocking file or
// transport call happens there, never on the transport's read context.
// The transport side only enqueues commands via HandleRaw, which returns
// immediately.
type Coordinator struct {
	link transport.Link
	flow *FlowController
	dir  string
	log  *zap.Logger
	db   *store.DB          // may be nil
	bus  *gateway.EventBus  // may be nil
	met  *metrics.Metrics   // may be nil

	maxPayload int
	cmds       chan Command

	mu   sync.Mutex
	prog Progress
}

// New constructs a Coordinator. db, bus, and met may be nil.
func New(cfg config.TransferConfig, captureDir string, link transport.Link, db *store.DB, bus *gateway.EventBus, met *metrics.Metrics, log *zap.Logger) *Coordinator {
	return &Coordinator{
		link:       link,
		flow:       NewFlowController(cfg, link, met, log),
		dir:        captureDir,
		log:        log,
		db:         db,
		bus:        bus,
		met:        met,
		maxPayload: cfg.MaxFramePayload,
		cmds:       make(chan Command, max(1, cfg.CommandQueueDepth)),
		prog:       Progress{State: "idle"},
	}
}

// Enqueue queues a command without blocking. Returns false when the queue
// is full and the command was dropped; the remote can retry a command,
// unlike an in-flight frame.
func (c *Coordinator) Enqueue(cmd Command) bool {
	select {
	case c.cmds <- cmd:
		return true
	default:
		return false
	}
}

// HandleRaw decodes control-channel bytes and enqueues the command.
// Safe to call from the transport's read context: it never blocks.
func (c *Coordinator) HandleRaw(raw []byte) {
	cmd, err := DecodeCommand(raw)
	if err != nil {
		c.log.Warn("transfer: bad command", zap.Error(err))
		c.notify(StatusBadCommand)
		return
	}
	if !c.Enqueue(cmd) {
		c.log.Warn("transfer: command queue full, dropping",
			zap.Stringer("op", cmd.Op))
	}
}

// Progress returns the current state snapshot.
func (c *Coordinator) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prog
}

// Run is the coordinator worker loop. It blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.cmds:
			switch cmd.Op {
			case OpStart:
				c.runTransfer(ctx, cmd.Path)
			case OpStop:
				// No active transfer; nothing to stop.
			case OpResend:
				// Only meaningful while streaming; the cached frame is
				// gone once the transfer ends.
				c.notify(StatusReadFailed)
			}
		}
	}
}

// ── transfer lifecycle ────────────────────────────────────────────────────

func (c *Coordinator) runTransfer(ctx context.Context, explicit string) {
	if !c.link.Connected() {
		c.notify(StatusNoConnection)
		return
	}
	if !c.link.Subscribed() {
		c.notify(StatusSubscriptionRequired)
		return
	}

	path := explicit
	if path == "" {
		p, err := newestSession(c.dir)
		if err != nil {
			c.log.Info("transfer: no eligible session file", zap.String("dir", c.dir))
			c.notify(StatusNoFile)
			return
		}
		path = p
	}

	f, err := os.Open(path)
	if err != nil {
		c.log.Warn("transfer: open", zap.String("path", path), zap.Error(err))
		c.notify(StatusFileOpenFailed)
		return
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		c.notify(StatusFileOpenFailed)
		return
	}
	if st.Size() == 0 {
		// An empty session carries nothing worth a Complete.
		f.Close()
		c.notify(StatusNoFile)
		return
	}

	s := &session{file: f, path: path, size: st.Size()}
	c.setProgress(Progress{State: "streaming", Path: path, Size: s.size})
	c.log.Info("transfer: started",
		zap.String("path", path),
		zap.Int64("size", s.size),
	)
	c.notify(StatusStarted)

	final := c.stream(ctx, s)

	f.Close()
	c.setProgress(Progress{State: "idle"})
	c.notify(final)
	c.log.Info("transfer: finished",
		zap.String("path", path),
		zap.Stringer("status", final),
		zap.Int64("bytes", s.offset),
		zap.Uint64("frames", s.seq),
	)
	c.record(s, final)
}

// stream drives the Streaming state. It returns the terminal status;
// StatusComplete is returned only when offset == size at loop exit.
func (c *Coordinator) stream(ctx context.Context, s *session) Status {
	buf := make([]byte, c.maxPayload)

	for s.offset < s.size {
		// Commands are observed at loop-iteration granularity. Reads and
		// sends are bounded in size, so that is prompt enough.
		select {
		case <-ctx.Done():
			return StatusStoppedByHost
		case cmd := <-c.cmds:
			switch cmd.Op {
			case OpStart:
				// Does not disturb the transfer in flight.
				c.notify(StatusBusy)
			case OpStop:
				return StatusStoppedByHost
			case OpResend:
				if err := c.resend(ctx, s, cmd.Seq); err != nil {
					return StatusNotifyFailed
				}
			}
			continue
		default:
		}

		// Disconnection force-terminates as if Stop were received; a later
		// Start begins cleanly at offset zero.
		if !c.link.Connected() {
			return StatusNoConnection
		}

		budget := c.frameBudget()
		if budget <= 0 {
			c.log.Error("transfer: negotiated unit cannot fit a frame",
				zap.Int("unit", c.link.UnitSize()))
			return StatusNotifyFailed
		}
		n := budget
		if rem := s.size - s.offset; int64(n) > rem {
			n = int(rem)
		}
		if _, err := s.file.ReadAt(buf[:n], s.offset); err != nil {
			c.log.Error("transfer: read",
				zap.String("path", s.path),
				zap.Int64("offset", s.offset),
				zap.Error(err),
			)
			return StatusReadFailed
		}

		eos := s.offset+int64(n) == s.size
		frame := EncodeFrame(uint16(s.seq), eos, buf[:n])

		sendStart := time.Now()
		if err := c.flow.Send(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return StatusStoppedByHost
			}
			if !c.link.Connected() {
				return StatusNoConnection
			}
			c.log.Error("transfer: send", zap.Uint64("seq", s.seq), zap.Error(err))
			return StatusNotifyFailed
		}

		s.resendSeq = uint16(s.seq)
		s.resendFrame = frame
		s.offset += int64(n)
		s.seq++

		c.setProgress(Progress{
			State: "streaming", Path: s.path,
			Offset: s.offset, Size: s.size, Frames: s.seq,
		})
		if c.met != nil {
			c.met.FramesSent.Inc()
			c.met.TransferProgressBytes.Set(float64(s.offset))
			c.met.FrameSendSeconds.Observe(time.Since(sendStart).Seconds())
		}
	}
	return StatusComplete
}

// resend re-emits the cached current frame verbatim. Only the most recent
// frame is kept; any other sequence is answered with a read failure and
// the transfer continues. A send failure is returned and ends the
// transfer, same as a regular frame.
func (c *Coordinator) resend(ctx context.Context, s *session, seq uint16) error {
	if s.resendFrame == nil || seq != s.resendSeq {
		c.log.Warn("transfer: resend outside cache",
			zap.Uint16("requested", seq),
			zap.Uint16("cached", s.resendSeq),
		)
		c.notify(StatusReadFailed)
		return nil
	}
	return c.flow.Send(ctx, s.resendFrame)
}

// frameBudget is re-queried before every frame; the negotiated unit may
// change over the life of a connection.
func (c *Coordinator) frameBudget() int {
	b := c.link.UnitSize() - FrameOverhead
	if b > c.maxPayload {
		b = c.maxPayload
	}
	return b
}

// ── internal ──────────────────────────────────────────────────────────────

func (c *Coordinator) notify(st Status) {
	if err := c.link.NotifyStatus(byte(st)); err != nil {
		// Best effort; the bus still carries the event locally.
		c.log.Debug("transfer: status notify",
			zap.Stringer("status", st), zap.Error(err))
	}
	if c.bus != nil {
		c.bus.PublishTransferStatus(map[string]interface{}{
			"status": st.String(),
			"code":   byte(st),
		})
	}
}

func (c *Coordinator) setProgress(p Progress) {
	c.mu.Lock()
	c.prog = p
	c.mu.Unlock()
}

func (c *Coordinator) record(s *session, final Status) {
	if c.met != nil {
		if final == StatusComplete {
			c.met.TransfersCompleted.Inc()
		} else {
			c.met.TransfersFailed.Inc()
		}
		c.met.TransferProgressBytes.Set(0)
	}
	if c.db == nil {
		return
	}
	if _, err := c.db.RecordTransfer(s.path, final.String(), s.offset, int64(s.seq)); err != nil {
		c.log.Warn("transfer: catalog record", zap.Error(err))
	}
}

// newestSession resolves the most recently modified eligible session file
// in dir; modification time breaks ties, newest wins.
func newestSession(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("transfer: scan %s: %w", dir, err)
	}
	var (
		best    string
		bestMod time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), SessionFileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = e.Name()
			bestMod = info.ModTime()
		}
	}
	if best == "" {
		return "", os.ErrNotExist
	}
	return filepath.Join(dir, best), nil
}
