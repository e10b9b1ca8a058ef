package capture

import (
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/meshcommons/sigstream/internal/config"
)

func testCaptureConfig(dir string) config.CaptureConfig {
	return config.CaptureConfig{
		Dir:              dir,
		SampleRateHz:     1000,
		BatchSize:        4,
		QueueDepth:       8,
		HeaderFlushEvery: 2,
	}
}

func TestPipelineRecordsAndFinalizes(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(testCaptureConfig(dir), nil, nil, nil, zap.NewNop())

	path, err := p.StartRecording()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.Active() {
		t.Fatalf("pipeline not active after start")
	}

	ts := time.UnixMicro(1_700_000_000_000_000).UTC()
	for i := 0; i < 10; i++ {
		p.Push(uint16(i), ts.Add(time.Duration(i)*time.Millisecond))
	}

	if err := p.StopRecording(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.Active() {
		t.Fatalf("pipeline still active after stop")
	}

	// Every pushed sample, including the trailing partial batch, must be
	// on disk with accurate final statistics.
	hdr, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if hdr.SampleCount != 10 {
		t.Fatalf("final count = %d, want 10", hdr.SampleCount)
	}
	wantEnd := uint64(ts.Add(9 * time.Millisecond).UnixMicro())
	if hdr.EndMicros != wantEnd {
		t.Fatalf("final end = %d, want %d", hdr.EndMicros, wantEnd)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if want := int64(HeaderSize + 10*RecordSize); st.Size() != want {
		t.Fatalf("file size = %d, want %d", st.Size(), want)
	}
}

func TestPipelineRejectsSecondStart(t *testing.T) {
	p := NewPipeline(testCaptureConfig(t.TempDir()), nil, nil, nil, zap.NewNop())

	if _, err := p.StartRecording(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.StopRecording() //nolint:errcheck

	if _, err := p.StartRecording(); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second start = %v, want ErrAlreadyRecording", err)
	}
}

func TestPipelineStopWithoutStart(t *testing.T) {
	p := NewPipeline(testCaptureConfig(t.TempDir()), nil, nil, nil, zap.NewNop())
	if err := p.StopRecording(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("stop = %v, want ErrNotRecording", err)
	}
}

func TestPipelinePushWhileIdleIsNoOp(t *testing.T) {
	p := NewPipeline(testCaptureConfig(t.TempDir()), nil, nil, nil, zap.NewNop())
	// The capture driver is fire-and-forget; pushing with no recording
	// active must not panic or block.
	p.Push(1, time.Now().UTC())
	if p.Active() {
		t.Fatalf("push started a recording")
	}
}
