package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Wire frame layout, all integers little-endian:
//
//	[sequence:2][payload_length:2][end_of_stream:1][payload:N][crc32:4]
//
// The CRC covers every preceding byte of the frame, header included.
// Fields are serialized explicitly byte-by-byte; in-memory struct layout
// never crosses the wire.
const (
	frameHeaderLen  = 5
	frameTrailerLen = 4

	// FrameOverhead is the fixed per-frame cost on top of the payload.
	FrameOverhead = frameHeaderLen + frameTrailerLen
)

var ErrFrameCorrupt = errors.New("transfer: frame corrupt")

// EncodeFrame builds one immutable wire frame. The checksum is computed
// fresh on every call, never cached across attempts.
func EncodeFrame(seq uint16, eos bool, payload []byte) []byte {
	buf := make([]byte, frameHeaderLen+len(payload)+frameTrailerLen)
	binary.LittleEndian.PutUint16(buf[0:2], seq)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(payload)))
	if eos {
		buf[4] = 1
	}
	copy(buf[frameHeaderLen:], payload)
	crc := crc32.ChecksumIEEE(buf[:frameHeaderLen+len(payload)])
	binary.LittleEndian.PutUint32(buf[frameHeaderLen+len(payload):], crc)
	return buf
}

// DecodeFrame validates and splits one wire frame. The returned payload
// aliases raw.
func DecodeFrame(raw []byte) (seq uint16, eos bool, payload []byte, err error) {
	if len(raw) < FrameOverhead {
		return 0, false, nil, fmt.Errorf("%w: %d bytes", ErrFrameCorrupt, len(raw))
	}
	n := int(binary.LittleEndian.Uint16(raw[2:4]))
	if len(raw) != FrameOverhead+n {
		return 0, false, nil, fmt.Errorf("%w: declared payload %d, frame %d", ErrFrameCorrupt, n, len(raw))
	}
	body := raw[:frameHeaderLen+n]
	want := binary.LittleEndian.Uint32(raw[frameHeaderLen+n:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return 0, false, nil, fmt.Errorf("%w: crc %08x != %08x", ErrFrameCorrupt, got, want)
	}
	return binary.LittleEndian.Uint16(raw[0:2]), raw[4] != 0, raw[frameHeaderLen : frameHeaderLen+n], nil
}
