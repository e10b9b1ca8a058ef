package capture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshcommons/sigstream/internal/config"
	"github.com/meshcommons/sigstream/internal/gateway"
	"github.com/meshcommons/sigstream/internal/metrics"
	"github.com/meshcommons/sigstream/internal/store"
)

var (
	ErrAlreadyRecording = errors.New("capture: recording already active")
	ErrNotRecording     = errors.New("capture: no active recording")
)

// Pipeline ties a Sink to a Recorder for one recording at a time. The
// capture driver pushes into the sink; a drain goroutine owns all storage
// I/O. A transfer of an unrelated session may run concurrently.
type Pipeline struct {
	cfg config.CaptureConfig
	db  *store.DB         // may be nil
	bus *gateway.EventBus // may be nil
	met *metrics.Metrics  // may be nil
	log *zap.Logger

	mu      sync.Mutex
	sink    *Sink
	rec     *Recorder
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewPipeline constructs an idle Pipeline. db, bus, and met may be nil.
func NewPipeline(cfg config.CaptureConfig, db *store.DB, bus *gateway.EventBus, met *metrics.Metrics, log *zap.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, db: db, bus: bus, met: met, log: log}
}

// StartRecording creates a fresh session file and begins draining batches
// into it. Returns the session path.
func (p *Pipeline) StartRecording() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rec != nil {
		return "", ErrAlreadyRecording
	}

	name := fmt.Sprintf("rec-%s.sig", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(p.cfg.Dir, name)
	rec, err := Create(path, p.cfg.SampleRateHz, p.cfg.HeaderFlushEvery)
	if err != nil {
		return "", err
	}

	sink := NewSink(p.cfg.BatchSize, p.cfg.QueueDepth)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.sink, p.rec, p.cancel, p.done, p.lastErr = sink, rec, cancel, done, nil
	go p.drain(ctx, sink, rec, done)

	if p.db != nil {
		if _, err := p.db.InsertSession(path, p.cfg.SampleRateHz, time.Now().UTC()); err != nil {
			p.log.Warn("capture: catalog insert", zap.Error(err))
		}
	}
	if p.bus != nil {
		p.bus.PublishRecording(gateway.EventRecordingStarted, map[string]interface{}{"path": path})
	}
	p.log.Info("capture: recording started", zap.String("path", path))
	return path, nil
}

// StopRecording stops the drain, flushes trailing samples, and finalizes
// the session header with the true final count and end timestamp.
func (p *Pipeline) StopRecording() error {
	p.mu.Lock()
	if p.rec == nil {
		p.mu.Unlock()
		return ErrNotRecording
	}
	rec, cancel, done := p.rec, p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done

	err := rec.Finalize()
	hdr := rec.Header()

	p.mu.Lock()
	if p.lastErr != nil && err == nil {
		err = p.lastErr
	}
	p.sink, p.rec, p.cancel, p.done = nil, nil, nil, nil
	p.mu.Unlock()

	if err == nil && p.db != nil {
		if dbErr := p.db.FinalizeSession(rec.Path(), int64(hdr.SampleCount), time.UnixMicro(int64(hdr.EndMicros)).UTC()); dbErr != nil {
			p.log.Warn("capture: catalog finalize", zap.Error(dbErr))
		}
	}
	if p.bus != nil {
		p.bus.PublishRecording(gateway.EventRecordingStopped, map[string]interface{}{
			"path":    rec.Path(),
			"samples": hdr.SampleCount,
		})
	}
	p.log.Info("capture: recording stopped",
		zap.String("path", rec.Path()),
		zap.Uint64("samples", hdr.SampleCount),
		zap.Error(err),
	)
	return err
}

// Push forwards one sample to the active sink. No-op while idle, so the
// capture driver never needs to coordinate with recording state.
func (p *Pipeline) Push(value uint16, ts time.Time) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return
	}
	sink.Push(value, ts)
	if p.met != nil {
		p.met.SamplesCaptured.Inc()
	}
}

// Active reports whether a recording is in progress.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rec != nil
}

// DroppedBatches returns the overflow-policy drop count of the active
// recording, zero while idle.
func (p *Pipeline) DroppedBatches() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sink == nil {
		return 0
	}
	return p.sink.DroppedBatches()
}

// ── internal ──────────────────────────────────────────────────────────────

// drain is the single writer for the session file. It owns every storage
// call, the same way the transfer coordinator owns its transport calls.
func (p *Pipeline) drain(ctx context.Context, sink *Sink, rec *Recorder, done chan<- struct{}) {
	defer close(done)

	var lastDropped uint64
	for {
		select {
		case <-ctx.Done():
			// Stop requested: flush the partial batch and whatever is
			// still queued, then hand back for finalize.
			sink.Flush()
			for {
				select {
				case batch := <-sink.Batches():
					if err := rec.Append(batch); err != nil {
						p.failRecording(err)
						return
					}
				default:
					return
				}
			}
		case batch := <-sink.Batches():
			if err := rec.Append(batch); err != nil {
				p.failRecording(err)
				return
			}
			if p.met != nil {
				p.met.BatchesFlushed.Inc()
				p.met.BatchQueueLength.Set(float64(sink.Pending()))
			}
			if d := sink.DroppedBatches(); d != lastDropped {
				delta := d - lastDropped
				lastDropped = d
				if p.met != nil {
					p.met.BatchesDropped.Add(float64(delta))
				}
				if p.bus != nil {
					p.bus.Publish(gateway.Event{
						Type: gateway.EventBatchesDropped,
						Data: map[string]interface{}{"dropped": d},
					})
				}
				p.log.Warn("capture: recorder behind, dropped oldest batches",
					zap.Uint64("total_dropped", d))
			}
		}
	}
}

// failRecording surfaces a terminal storage error. The recording is hard
// stopped; fabricating success against a failing medium is worse than
// losing the tail.
func (p *Pipeline) failRecording(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()

	p.log.Error("capture: recording failed", zap.Error(err))
	if p.bus != nil {
		p.bus.PublishRecording(gateway.EventRecordingFailed, map[string]interface{}{
			"error": err.Error(),
		})
	}
}
