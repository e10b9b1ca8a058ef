package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CommandOp identifies one control-channel operation.
type CommandOp byte

const (
	OpStart  CommandOp = 0x01
	OpStop   CommandOp = 0x02
	OpResend CommandOp = 0x03
)

func (op CommandOp) String() string {
	switch op {
	case OpStart:
		return "start"
	case OpStop:
		return "stop"
	case OpResend:
		return "resend"
	default:
		return "unknown"
	}
}

// Command is one decoded control-channel request. Commands are consumed
// exactly once by the Coordinator, in FIFO order.
type Command struct {
	Op  CommandOp
	Seq uint16 // resend only
	// Path names an explicit session file to transfer. Only the local API
	// sets it; the wire encoding carries no path and transfers the newest
	// eligible session.
	Path string
}

// ErrBadCommand is returned for any control bytes that do not decode to a
// well-formed command. Malformed input mutates no state.
var ErrBadCommand = errors.New("transfer: bad command")

// DecodeCommand parses raw control-channel bytes.
// Layout: [opcode:1] for start/stop, [opcode:1][seq:2 LE] for resend.
func DecodeCommand(raw []byte) (Command, error) {
	if len(raw) == 0 {
		return Command{}, fmt.Errorf("%w: empty", ErrBadCommand)
	}
	op := CommandOp(raw[0])
	switch op {
	case OpStart, OpStop:
		if len(raw) != 1 {
			return Command{}, fmt.Errorf("%w: %s carries %d trailing bytes", ErrBadCommand, op, len(raw)-1)
		}
		return Command{Op: op}, nil
	case OpResend:
		if len(raw) != 3 {
			return Command{}, fmt.Errorf("%w: resend wants 3 bytes, got %d", ErrBadCommand, len(raw))
		}
		return Command{Op: OpResend, Seq: binary.LittleEndian.Uint16(raw[1:3])}, nil
	default:
		return Command{}, fmt.Errorf("%w: opcode 0x%02x", ErrBadCommand, raw[0])
	}
}
