package transfer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"
)

func TestEncodeFrameLayout(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	raw := EncodeFrame(0x0102, true, payload)

	if len(raw) != FrameOverhead+3 {
		t.Fatalf("frame length = %d, want %d", len(raw), FrameOverhead+3)
	}
	// Sequence and length little-endian, explicitly byte-by-byte.
	if raw[0] != 0x02 || raw[1] != 0x01 {
		t.Fatalf("sequence bytes = %v", raw[0:2])
	}
	if raw[2] != 0x03 || raw[3] != 0x00 {
		t.Fatalf("length bytes = %v", raw[2:4])
	}
	if raw[4] != 1 {
		t.Fatalf("eos byte = %d", raw[4])
	}
	if !bytes.Equal(raw[5:8], payload) {
		t.Fatalf("payload = %v", raw[5:8])
	}
	want := crc32.ChecksumIEEE(raw[:8])
	if got := binary.LittleEndian.Uint32(raw[8:12]); got != want {
		t.Fatalf("crc = %08x, want %08x", got, want)
	}
}

func TestDecodeFrameRoundTrip(t *testing.T) {
	payload := make([]byte, 244)
	for i := range payload {
		payload[i] = byte(i)
	}
	raw := EncodeFrame(40, false, payload)

	seq, eos, got, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seq != 40 || eos || !bytes.Equal(got, payload) {
		t.Fatalf("decoded seq=%d eos=%v payload %d bytes", seq, eos, len(got))
	}
}

func TestDecodeFrameRejectsCorruption(t *testing.T) {
	raw := EncodeFrame(1, false, []byte("hello"))

	flipped := append([]byte(nil), raw...)
	flipped[6] ^= 0xFF
	if _, _, _, err := DecodeFrame(flipped); !errors.Is(err, ErrFrameCorrupt) {
		t.Fatalf("expected ErrFrameCorrupt for payload bit flip, got %v", err)
	}

	if _, _, _, err := DecodeFrame(raw[:4]); !errors.Is(err, ErrFrameCorrupt) {
		t.Fatalf("expected ErrFrameCorrupt for truncated frame, got %v", err)
	}

	short := append([]byte(nil), raw...)
	short[2] = 0xFF // declared length disagrees with frame size
	if _, _, _, err := DecodeFrame(short); !errors.Is(err, ErrFrameCorrupt) {
		t.Fatalf("expected ErrFrameCorrupt for length mismatch, got %v", err)
	}
}

func TestChecksumComputedFreshPerAttempt(t *testing.T) {
	a := EncodeFrame(3, false, []byte{1, 2, 3})
	b := EncodeFrame(4, false, []byte{1, 2, 3})
	if bytes.Equal(a[len(a)-4:], b[len(b)-4:]) {
		t.Fatalf("checksum did not cover the header fields")
	}
}
