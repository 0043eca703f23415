// Package audioframe implements the fixed 16-byte-header binary framing
// format shared by the upstream WebSocket alongside JSON-RPC text frames.
// It is used by an ESP32 device variant to multiplex Opus audio and JSON
// control payloads over one binary frame type.
//
// Every multi-byte field is big-endian (network byte order); this is load
// bearing — an earlier little-endian draft of this format exists elsewhere
// but is not what ships.
package audioframe

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size, in bytes, of a frame header.
const HeaderSize = 16

// Version is the only header version this package understands.
const Version uint16 = 2

// Payload type codes carried in the header's type field.
const (
	TypeOpus Type = 0
	TypeJSON Type = 1
)

// Type identifies the encoding of a frame's payload.
type Type uint16

// String returns a human-readable name for t. Any value other than
// [TypeJSON] is treated as [TypeOpus], matching [Decode]'s lenient handling
// of unrecognized type codes.
func (t Type) String() string {
	if t == TypeJSON {
		return "json"
	}
	return "opus"
}

// ErrTimestampOutOfRange is returned by [Encode] when ts is negative.
var ErrTimestampOutOfRange = errors.New("audioframe: timestamp out of range")

// Frame is a decoded binary frame: its header fields plus the payload bytes
// that followed it.
type Frame struct {
	Version   uint16
	Type      Type
	Timestamp uint32
	Payload   []byte
}

// IsFrame reports whether buf begins with a header this package recognizes:
// at least [HeaderSize] bytes long with a version field equal to [Version].
// It does not validate the payload length.
func IsFrame(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	return binary.BigEndian.Uint16(buf[0:2]) == Version
}

// Encode builds a frame: a [HeaderSize]-byte header followed by payload.
//
// ts is a millisecond timestamp. Negative values are rejected with
// [ErrTimestampOutOfRange]; values that overflow 32 bits are reduced modulo
// 2^32, matching [Decode]'s timestamp semantics.
func Encode(payload []byte, ts int64, typ Type) ([]byte, error) {
	if ts < 0 {
		return nil, fmt.Errorf("audioframe: encode: %w: %d", ErrTimestampOutOfRange, ts)
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], Version)
	binary.BigEndian.PutUint16(buf[2:4], uint16(typ))
	binary.BigEndian.PutUint32(buf[4:8], 0) // reserved
	binary.BigEndian.PutUint32(buf[8:12], uint32(uint64(ts)%(1<<32)))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	return buf, nil
}

// Decode parses buf as a single frame. It returns nil if buf is too short to
// hold a header, the version field is not [Version], or the declared payload
// size extends past the end of buf. Any bytes in buf beyond the declared
// payload are ignored — Decode never reports an error for trailing data.
// A type code other than [TypeJSON] decodes as [TypeOpus].
func Decode(buf []byte) *Frame {
	if len(buf) < HeaderSize {
		return nil
	}
	version := binary.BigEndian.Uint16(buf[0:2])
	if version != Version {
		return nil
	}
	typ := Type(binary.BigEndian.Uint16(buf[2:4]))
	if typ != TypeJSON {
		typ = TypeOpus
	}
	ts := binary.BigEndian.Uint32(buf[8:12])
	payloadSize := binary.BigEndian.Uint32(buf[12:16])

	if uint64(len(buf)) < uint64(HeaderSize)+uint64(payloadSize) {
		return nil
	}

	payload := make([]byte, payloadSize)
	copy(payload, buf[HeaderSize:uint64(HeaderSize)+uint64(payloadSize)])

	return &Frame{
		Version:   version,
		Type:      typ,
		Timestamp: ts,
		Payload:   payload,
	}
}
