package transport

import (
	"io"
	"net"
)

// TCP is a Transport over a stream socket.
type TCP struct {
	conn net.Conn
}

// NewTCP wraps an established connection.
func NewTCP(conn net.Conn) *TCP {
	return &TCP{conn: conn}
}

// Conn returns the underlying connection.
func (t *TCP) Conn() net.Conn {
	return t.conn
}

func (t *TCP) Read(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if err != nil {
		return n, wrap("tcp read", err)
	}
	return n, nil
}

// WriteAll implements Transport.
func (t *TCP) WriteAll(p []byte) error {
	for len(p) > 0 {
		n, err := t.conn.Write(p)
		if err != nil {
			return wrap("tcp write", err)
		}
		p = p[n:]
	}
	return nil
}

// ReadExact implements Transport.
func (t *TCP) ReadExact(p []byte) error {
	if _, err := io.ReadFull(t.conn, p); err != nil {
		return wrap("tcp read", err)
	}
	return nil
}

// Shutdown closes the write half first so the peer sees EOF, then the socket.
func (t *TCP) Shutdown() error {
	if cw, ok := t.conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	return wrap("tcp shutdown", t.conn.Close())
}
