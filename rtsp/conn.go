package rtsp

import (
	"bufio"
	"io"
	"strconv"
)

// Writer is the write side of a transport.
type Writer interface {
	WriteAll(p []byte) error
}

// Conn runs request/response exchanges over one stream and numbers them
// with CSeq.
type Conn struct {
	w    Writer
	r    *bufio.Reader
	cseq int
}

// NewConn wraps a transport. rw must read the same stream that Writer
// writes to.
func NewConn(rw interface {
	io.Reader
	Writer
}) *Conn {
	return &Conn{w: rw, r: bufio.NewReader(rw)}
}

// NextCSeq returns the sequence number for the next request.
func (c *Conn) NextCSeq() string {
	c.cseq++
	return strconv.Itoa(c.cseq)
}

// RoundTrip writes req and reads one response.
func (c *Conn) RoundTrip(req *Request) (*Response, error) {
	if err := c.w.WriteAll(req.Encode()); err != nil {
		return nil, err
	}
	return ReadResponse(c.r)
}
