// Package fcast implements the FCast wire protocol: a five byte header
// (little endian u32 size followed by an opcode byte) and a JSON body whose
// schema depends on the opcode and the negotiated protocol version.
package fcast

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the length of the size + opcode prefix.
	HeaderSize = 5
	// MaxPacketSize bounds size field values, opcode byte included.
	MaxPacketSize = 32000
	// MaxBodySize is the largest body a packet may carry.
	MaxBodySize = MaxPacketSize - 1
)

var (
	ErrPacketTooLarge = errors.New("fcast: packet too large")
	ErrEmptyPacket    = errors.New("fcast: packet size is zero")
)

// DecodeError reports a body that could not be parsed for its opcode.
type DecodeError struct {
	Opcode Opcode
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("fcast: decode %s body: %s", e.Opcode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Packet is one framed message.
type Packet struct {
	Opcode Opcode
	Body   []byte
}

// ExactReader is the part of a transport the decoder needs.
type ExactReader interface {
	ReadExact(p []byte) error
}

// EncodePacket frames an already serialized body.
func EncodePacket(op Opcode, body []byte) ([]byte, error) {
	if len(body) > MaxBodySize {
		return nil, ErrPacketTooLarge
	}

	buf := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(body)+1))
	buf[4] = op.Byte()
	copy(buf[HeaderSize:], body)

	return buf, nil
}

// Encode serializes msg as JSON and frames it. A nil msg produces a header
// only packet.
func Encode(op Opcode, msg any) ([]byte, error) {
	if msg == nil {
		return EncodePacket(op, nil)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("fcast encode %s error: %w", op, err)
	}

	return EncodePacket(op, body)
}

// ParseHeader validates a header and returns the opcode byte and body length.
// The raw opcode byte is returned even when it is unknown so the caller can
// still consume the body.
func ParseHeader(h [HeaderSize]byte) (byte, int, error) {
	size := binary.LittleEndian.Uint32(h[:4])
	if size == 0 {
		return 0, 0, ErrEmptyPacket
	}
	if size > MaxPacketSize {
		return 0, 0, ErrPacketTooLarge
	}

	return h[4], int(size - 1), nil
}

// ReadPacket reads one whole packet. An unknown opcode still consumes the
// body, so the stream stays aligned and the caller may continue reading.
func ReadPacket(r ExactReader) (Packet, error) {
	var h [HeaderSize]byte
	if err := r.ReadExact(h[:]); err != nil {
		return Packet{}, err
	}

	raw, n, err := ParseHeader(h)
	if err != nil {
		return Packet{}, err
	}

	var body []byte
	if n > 0 {
		body = make([]byte, n)
		if err := r.ReadExact(body); err != nil {
			return Packet{}, err
		}
	}

	op, err := ParseOpcode(raw)
	if err != nil {
		return Packet{}, err
	}

	return Packet{Opcode: op, Body: body}, nil
}

// Decode parses a packet body into T.
func Decode[T any](p Packet) (T, error) {
	var v T
	if err := json.Unmarshal(p.Body, &v); err != nil {
		return v, &DecodeError{Opcode: p.Opcode, Err: err}
	}
	return v, nil
}
