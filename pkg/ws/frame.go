package ws

import (
	"encoding/binary"
	"io"

	"github.com/WhileEndless/go-rawserve/pkg/errors"
)

// Opcode identifies the type of a WebSocket frame, per RFC 6455 §5.2.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xa
)

const (
	finBit  = 1 << 7
	maskBit = 1 << 7

	// maxControlPayload bounds control-frame (close/ping/pong) payloads per
	// RFC 6455 §5.5.
	maxControlPayload = 125
)

// Frame is a single decoded WebSocket frame. Payload is already unmasked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Payload []byte
}

// ReadFrame reads and decodes one frame from r. Client frames are required
// to be masked; the mask key, if present, is applied in place before
// Payload is returned.
func ReadFrame(r io.Reader) (Frame, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Frame{}, err
	}

	fin := head[0]&finBit != 0
	opcode := Opcode(head[0] & 0x0f)
	masked := head[1]&maskBit != 0
	length := uint64(head[1] & 0x7f)

	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, errors.NewProtocolError("reading 16-bit frame length", err)
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, errors.NewProtocolError("reading 64-bit frame length", err)
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	var key [4]byte
	if masked {
		if _, err := io.ReadFull(r, key[:]); err != nil {
			return Frame{}, errors.NewProtocolError("reading frame mask key", err)
		}
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, errors.NewProtocolError("reading frame payload", err)
		}
	}

	if masked {
		unmask(payload, key)
	}

	return Frame{Fin: fin, Opcode: opcode, Payload: payload}, nil
}

func unmask(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}

// WriteFrame encodes and writes a single unmasked frame, as required of
// server-sent frames per RFC 6455 §5.1.
func WriteFrame(w io.Writer, fin bool, opcode Opcode, payload []byte) error {
	header := make([]byte, 0, 10)

	var first byte
	if fin {
		first |= finBit
	}
	first |= byte(opcode) & 0x0f
	header = append(header, first)

	n := len(payload)
	switch {
	case n < 126:
		header = append(header, byte(n))
	case n <= 0xffff:
		header = append(header, 126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		header = append(header, ext[:]...)
	default:
		header = append(header, 127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		header = append(header, ext[:]...)
	}

	if _, err := w.Write(header); err != nil {
		return errors.NewIOError("writing frame header", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return errors.NewIOError("writing frame payload", err)
		}
	}
	return nil
}

// WriteClose writes a close frame carrying the 2-byte status code followed
// by the UTF-8 reason, per RFC 6455 §5.5.1. Reason may be empty.
func WriteClose(w io.Writer, code uint16, reason string) error {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload[:2], code)
	copy(payload[2:], reason)
	if len(payload) > maxControlPayload {
		payload = payload[:maxControlPayload]
	}
	return WriteFrame(w, true, OpClose, payload)
}

// ParseCloseCode extracts the status code from a close frame's payload.
// Returns (1005, false) when the close frame carried no code, per §4.5.
func ParseCloseCode(payload []byte) (code uint16, ok bool) {
	if len(payload) < 2 {
		return 1005, false
	}
	return binary.BigEndian.Uint16(payload[:2]), true
}
