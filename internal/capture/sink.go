package capture

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sink accepts samples from the capture driver. Push never blocks: full
// batches go to a bounded queue, and when the recorder falls behind the
// queue sheds the oldest unflushed batch and counts the drop. That
// bounded-staleness policy is deliberate; replacing it with a blocking
// queue would break the capture path's timing.
type Sink struct {
	batchSize int
	out       chan []Sample
	dropped   atomic.Uint64

	mu   sync.Mutex
	cur  []Sample
	next uint64
}

// NewSink builds a sink that emits batches of batchSize samples through a
// queue of queueDepth batches.
func NewSink(batchSize, queueDepth int) *Sink {
	return &Sink{
		batchSize: batchSize,
		out:       make(chan []Sample, queueDepth),
		cur:       make([]Sample, 0, batchSize),
	}
}

// Push copies one sample into the current batch. Fire-and-forget; the
// capture driver consults no return value.
func (s *Sink) Push(value uint16, ts time.Time) {
	s.mu.Lock()
	s.cur = append(s.cur, Sample{Value: value, Index: s.next, Timestamp: ts})
	s.next++
	if len(s.cur) < s.batchSize {
		s.mu.Unlock()
		return
	}
	batch := s.cur
	s.cur = make([]Sample, 0, s.batchSize)
	s.mu.Unlock()
	s.offer(batch)
}

// Flush emits the partial batch currently being filled. Called by the
// recorder drain on shutdown so trailing samples reach the file.
func (s *Sink) Flush() {
	s.mu.Lock()
	batch := s.cur
	s.cur = make([]Sample, 0, s.batchSize)
	s.mu.Unlock()
	if len(batch) > 0 {
		s.offer(batch)
	}
}

// Batches returns the queue the recorder drains.
func (s *Sink) Batches() <-chan []Sample { return s.out }

// DroppedBatches returns how many batches the overflow policy has shed.
func (s *Sink) DroppedBatches() uint64 { return s.dropped.Load() }

// Pending returns the number of queued batches.
func (s *Sink) Pending() int { return len(s.out) }

// ── internal ──────────────────────────────────────────────────────────────

func (s *Sink) offer(batch []Sample) {
	select {
	case s.out <- batch:
		return
	default:
	}
	// Queue full: shed the oldest batch so the newest samples survive.
	select {
	case <-s.out:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.out <- batch:
	default:
		// Recorder raced the freed slot back to full; the new batch is
		// the drop instead.
		s.dropped.Add(1)
	}
}
