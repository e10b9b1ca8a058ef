package capture

import (
	"fmt"
	"os"
	"time"
)

// Recorder owns one append-only session file. Single writer: only the
// pipeline's drain goroutine calls Append, and only after the drain has
// stopped is Finalize called.
//
// A write failure is terminal. The error is kept and returned from every
// later call; a failing medium must stop the recording visibly, not be
// papered over with retries.
type Recorder struct {
	f          *os.File
	path       string
	hdr        Header
	flushEvery int

	sinceFlush int
	writeOff   int64
	finalized  bool
	failed     error
}

// Create opens a new session file at path and durably writes its header
// before any sample record, so a crash at any later point leaves a
// structurally valid (if under-counted) session.
func Create(path string, sampleRateHz uint32, flushEvery int) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capture: create %s: %w", path, err)
	}

	hdr := Header{
		Version:      FormatVersion,
		SampleRateHz: sampleRateHz,
		StartMicros:  uint64(time.Now().UTC().UnixMicro()),
	}
	if _, err := f.WriteAt(encodeHeader(hdr), 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("capture: write header %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("capture: sync header %s: %w", path, err)
	}

	return &Recorder{
		f:          f,
		path:       path,
		hdr:        hdr,
		flushEvery: max(1, flushEvery),
		writeOff:   HeaderSize,
	}, nil
}

// Append durably writes one batch of sample records and rewrites the
// header in place every flushEvery batches. Between rewrites the header
// under-reports count and end time by at most flushEvery batches.
func (r *Recorder) Append(batch []Sample) error {
	if r.failed != nil {
		return r.failed
	}
	if r.finalized {
		return fmt.Errorf("capture: append to finalized session %s", r.path)
	}
	if len(batch) == 0 {
		return nil
	}

	buf := make([]byte, len(batch)*RecordSize)
	for i, s := range batch {
		encodeRecord(s, buf[i*RecordSize:])
	}
	if _, err := r.f.WriteAt(buf, r.writeOff); err != nil {
		return r.fail(fmt.Errorf("capture: append %s: %w", r.path, err))
	}
	r.writeOff += int64(len(buf))
	r.hdr.SampleCount += uint64(len(batch))
	r.hdr.EndMicros = uint64(batch[len(batch)-1].Timestamp.UnixMicro())

	r.sinceFlush++
	if r.sinceFlush >= r.flushEvery {
		if err := r.rewriteHeader(); err != nil {
			return r.fail(err)
		}
		r.sinceFlush = 0
	}
	return nil
}

// Finalize rewrites the header with the true final count and end
// timestamp, syncs, and closes the file. Idempotent: calling it on an
// already-finalized session is a no-op.
func (r *Recorder) Finalize() error {
	if r.finalized {
		return nil
	}
	if r.failed != nil {
		return r.failed
	}
	if r.hdr.EndMicros == 0 {
		r.hdr.EndMicros = r.hdr.StartMicros
	}
	if err := r.rewriteHeader(); err != nil {
		return r.fail(err)
	}
	if err := r.f.Sync(); err != nil {
		return r.fail(fmt.Errorf("capture: sync %s: %w", r.path, err))
	}
	if err := r.f.Close(); err != nil {
		return r.fail(fmt.Errorf("capture: close %s: %w", r.path, err))
	}
	r.finalized = true
	return nil
}

// Path returns the session file path.
func (r *Recorder) Path() string { return r.path }

// Header returns a snapshot of the running header statistics.
func (r *Recorder) Header() Header { return r.hdr }

// ── internal ──────────────────────────────────────────────────────────────

// rewriteHeader overwrites the fixed-size header in place; the file never
// grows from a header rewrite.
func (r *Recorder) rewriteHeader() error {
	if _, err := r.f.WriteAt(encodeHeader(r.hdr), 0); err != nil {
		return fmt.Errorf("capture: rewrite header %s: %w", r.path, err)
	}
	return nil
}

func (r *Recorder) fail(err error) error {
	r.failed = err
	r.f.Close()
	return err
}
