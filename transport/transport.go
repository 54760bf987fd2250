// Package transport provides the byte-stream abstraction the wire codecs run on.
// The same codec can be driven over a raw TCP socket or over a WebSocket tunnel
// where every binary frame carries a slice of the stream.
package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrIO is wrapped by every error a Transport returns.
var ErrIO = errors.New("transport: i/o error")

// Transport is a bidirectional byte stream.
type Transport interface {
	// Read reads up to len(p) bytes. Message oriented transports return at
	// most the remainder of the current message.
	Read(p []byte) (int, error)
	// WriteAll writes the whole of p or fails.
	WriteAll(p []byte) error
	// ReadExact fills p completely, looping over partial reads.
	ReadExact(p []byte) error
	// Shutdown closes the stream gracefully on a best effort basis.
	Shutdown() error
}

type ioError struct {
	op  string
	err error
}

func (e *ioError) Error() string {
	return fmt.Sprintf("%s error: %s", e.op, e.err)
}

func (e *ioError) Unwrap() error { return e.err }

func (e *ioError) Is(target error) bool { return target == ErrIO }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ioError{op: op, err: err}
}

// readExact loops Read until p is full.
func readExact(t Transport, p []byte) error {
	for len(p) > 0 {
		n, err := t.Read(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
