// Package capture implements the sample sink and durable session
// recorder: a bounded producer/consumer path that accepts a continuous
// sample stream without ever blocking the producer and persists it to an
// append-only session file.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"
)

// Session file layout, all integers little-endian, serialized explicitly
// byte-by-byte (struct layout never touches disk):
//
//	header (64 bytes):
//	  [magic "SIGS":4][version:2][sample_rate_hz:4][sample_count:8]
//	  [start_ts_us:8][end_ts_us:8][reserved:30]
//	record (20 bytes):
//	  [index:8][ts_us:8][value:2][reserved:2]
//
// The header is written, fully formed, before the first record and
// rewritten in place (WriteAt 0, no growth) whenever statistics change.
const (
	HeaderSize    = 64
	RecordSize    = 20
	FormatVersion = 1
)

var sessionMagic = [4]byte{'S', 'I', 'G', 'S'}

var (
	ErrBadMagic   = errors.New("capture: bad session magic")
	ErrBadVersion = errors.New("capture: unsupported session version")
)

// Sample is one digitized scalar: fixed-width value, monotonic index, and
// capture timestamp. Ownership transfers to the sink on Push; samples are
// copied into batches, never shared.
type Sample struct {
	Value     uint16
	Index     uint64
	Timestamp time.Time
}

// Header is the decoded fixed-size session header. Count and end time are
// only guaranteed accurate after a finalize or a periodic rewrite; an
// interrupted session may under-report but is never structurally invalid.
type Header struct {
	Version      uint16
	SampleRateHz uint32
	SampleCount  uint64
	StartMicros  uint64
	EndMicros    uint64
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], sessionMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint32(buf[6:10], h.SampleRateHz)
	binary.LittleEndian.PutUint64(buf[10:18], h.SampleCount)
	binary.LittleEndian.PutUint64(buf[18:26], h.StartMicros)
	binary.LittleEndian.PutUint64(buf[26:34], h.EndMicros)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("capture: short header: %d bytes", len(buf))
	}
	if [4]byte(buf[0:4]) != sessionMagic {
		return Header{}, ErrBadMagic
	}
	h := Header{
		Version:      binary.LittleEndian.Uint16(buf[4:6]),
		SampleRateHz: binary.LittleEndian.Uint32(buf[6:10]),
		SampleCount:  binary.LittleEndian.Uint64(buf[10:18]),
		StartMicros:  binary.LittleEndian.Uint64(buf[18:26]),
		EndMicros:    binary.LittleEndian.Uint64(buf[26:34]),
	}
	if h.Version != FormatVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	return h, nil
}

func encodeRecord(s Sample, dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], s.Index)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(s.Timestamp.UnixMicro()))
	binary.LittleEndian.PutUint16(dst[16:18], s.Value)
	dst[18], dst[19] = 0, 0
}

func decodeRecord(src []byte) Sample {
	return Sample{
		Index:     binary.LittleEndian.Uint64(src[0:8]),
		Timestamp: time.UnixMicro(int64(binary.LittleEndian.Uint64(src[8:16]))).UTC(),
		Value:     binary.LittleEndian.Uint16(src[16:18]),
	}
}

// ReadHeader opens path and decodes its session header.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return Header{}, fmt.Errorf("capture: read header %s: %w", path, err)
	}
	return decodeHeader(buf)
}
