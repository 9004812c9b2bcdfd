package websocket

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Opcode is the type of a frame.
type Opcode uint8

// Frame opcodes from RFC 6455 section 5.2.
const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

// IsValid reports whether o is defined by RFC 6455.
func (o Opcode) IsValid() bool {
	return o.IsData() || o.IsControl()
}

// IsControl reports whether o is close, ping or pong.
func (o Opcode) IsControl() bool {
	return o == OpcodeClose || o == OpcodePing || o == OpcodePong
}

// IsData reports whether o carries message data.
func (o Opcode) IsData() bool {
	return o == OpcodeContinuation || o == OpcodeText || o == OpcodeBinary
}

func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(%#x)", uint8(o))
	}
}

// Frame is one WebSocket frame with its payload unmasked.
type Frame struct {
	Fin     bool
	RSV     uint8
	Opcode  Opcode
	Masked  bool
	Payload []byte
}

// Frame errors.
var (
	ErrInvalidOpcode     = errors.New("invalid opcode")
	ErrFrameTooLarge     = errors.New("frame too large")
	ErrControlTooLong    = errors.New("control frame payload too long")
	ErrFragmentedControl = errors.New("control frames cannot be fragmented")
	ErrReservedBitsSet   = errors.New("reserved bits set without extension")
	ErrUnexpectedMask    = errors.New("frame masking violates the protocol")
	ErrBadContinuation   = errors.New("continuation frame out of sequence")
)

// MaxControlPayload bounds control frame payloads.
const MaxControlPayload = 125

// Validate checks the rules that do not depend on the connection.
func (f *Frame) Validate() error {
	switch {
	case !f.Opcode.IsValid():
		return fmt.Errorf("%w: %#x", ErrInvalidOpcode, uint8(f.Opcode))
	case f.RSV != 0:
		return ErrReservedBitsSet
	case f.Opcode.IsControl() && !f.Fin:
		return ErrFragmentedControl
	case f.Opcode.IsControl() && len(f.Payload) > MaxControlPayload:
		return ErrControlTooLong
	}
	return nil
}

// readFrame reads one frame, refusing payloads above maxPayload.
func readFrame(r *bufio.Reader, maxPayload int) (*Frame, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	f := &Frame{
		Fin:    header[0]&0x80 != 0,
		RSV:    (header[0] >> 4) & 0x7,
		Opcode: Opcode(header[0] & 0x0F),
		Masked: header[1]&0x80 != 0,
	}

	length := uint64(header[1] & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}
	if length > uint64(maxPayload) {
		return nil, ErrFrameTooLarge
	}

	var mask [4]byte
	if f.Masked {
		if _, err := io.ReadFull(r, mask[:]); err != nil {
			return nil, err
		}
	}
	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return nil, err
	}
	if f.Masked {
		maskBytes(mask, f.Payload)
	}
	return f, f.Validate()
}

// writeFrame encodes f into w in a single write, masking the payload with
// a fresh key when f.Masked is set.
func writeFrame(w io.Writer, f *Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	n := len(f.Payload)
	buf := make([]byte, 0, 14+n)
	b0 := byte(f.Opcode) | f.RSV<<4
	if f.Fin {
		b0 |= 0x80
	}
	var b1 byte
	if f.Masked {
		b1 = 0x80
	}
	switch {
	case n <= 125:
		buf = append(buf, b0, b1|byte(n))
	case n <= 0xFFFF:
		buf = append(buf, b0, b1|126)
		buf = binary.BigEndian.AppendUint16(buf, uint16(n))
	default:
		buf = append(buf, b0, b1|127)
		buf = binary.BigEndian.AppendUint64(buf, uint64(n))
	}

	if f.Masked {
		var mask [4]byte
		if _, err := rand.Read(mask[:]); err != nil {
			return err
		}
		buf = append(buf, mask[:]...)
		start := len(buf)
		buf = append(buf, f.Payload...)
		maskBytes(mask, buf[start:])
	} else {
		buf = append(buf, f.Payload...)
	}

	_, err := w.Write(buf)
	return err
}

func maskBytes(mask [4]byte, b []byte) {
	for i := range b {
		b[i] ^= mask[i%4]
	}
}
