package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsHandshakeTimeout = 5 * time.Second
	wsCloseTimeout     = 3 * time.Second
)

// WebSocket is a Transport tunnelled through binary WebSocket frames.
// A write is sent as exactly one frame. Reads consume the current frame
// and keep whatever did not fit in the caller's buffer for the next call.
type WebSocket struct {
	conn *websocket.Conn
	cur  io.Reader
}

// NewWebSocket wraps an established WebSocket connection.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

// DialWebSocket opens a tunnel to rawURL.
func DialWebSocket(ctx context.Context, rawURL string, header http.Header) (*WebSocket, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: wsHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, wrap("websocket dial", err)
	}

	return NewWebSocket(conn), nil
}

// UpgradeWebSocket runs the client handshake for rawURL over an already
// connected socket.
func UpgradeWebSocket(ctx context.Context, conn net.Conn, rawURL string, header http.Header) (*WebSocket, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		NetDialContext: func(context.Context, string, string) (net.Conn, error) {
			return conn, nil
		},
	}

	ws, resp, err := dialer.DialContext(ctx, rawURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		conn.Close()
		return nil, wrap("websocket upgrade", err)
	}

	return NewWebSocket(ws), nil
}

// Conn returns the underlying WebSocket connection.
func (w *WebSocket) Conn() *websocket.Conn {
	return w.conn
}

func (w *WebSocket) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		if w.cur == nil {
			typ, r, err := w.conn.NextReader()
			if err != nil {
				return 0, wrap("websocket read", err)
			}
			if typ != websocket.BinaryMessage {
				// Drain so the next NextReader call starts cleanly.
				if _, err := io.Copy(io.Discard, r); err != nil {
					return 0, wrap("websocket read", err)
				}
				continue
			}
			w.cur = r
		}

		n, err := w.cur.Read(p)
		if err == io.EOF {
			w.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			return n, wrap("websocket read", err)
		}
		if n > 0 {
			return n, nil
		}
	}
}

// WriteAll implements Transport.
func (w *WebSocket) WriteAll(p []byte) error {
	return wrap("websocket write", w.conn.WriteMessage(websocket.BinaryMessage, p))
}

// ReadExact implements Transport.
func (w *WebSocket) ReadExact(p []byte) error {
	return readExact(w, p)
}

// Shutdown sends a close frame and drains frames until the peer answers with
// its own close or the close timeout passes.
func (w *WebSocket) Shutdown() error {
	deadline := time.Now().Add(wsCloseTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := w.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		w.conn.Close()
		return wrap("websocket shutdown", err)
	}

	_ = w.conn.SetReadDeadline(deadline)
	for {
		_, r, err := w.conn.NextReader()
		if err != nil {
			break
		}
		if _, err := io.Copy(io.Discard, r); err != nil {
			break
		}
	}
	w.cur = nil

	return wrap("websocket shutdown", w.conn.Close())
}
