// Package rtsp encodes the RTSP/1.0 requests AirPlay receivers accept and
// parses the narrow set of responses they send back.
package rtsp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Version is the only protocol version spoken.
const Version = "RTSP/1.0"

const (
	// MaxBodySize bounds response bodies.
	MaxBodySize = 1 << 20
	maxHeaders  = 64
)

// Method is an RTSP request method.
type Method string

const (
	MethodGet          Method = "GET"
	MethodPost         Method = "POST"
	MethodSetup        Method = "SETUP"
	MethodRecord       Method = "RECORD"
	MethodTeardown     Method = "TEARDOWN"
	MethodFlush        Method = "FLUSH"
	MethodSetParameter Method = "SET_PARAMETER"
	MethodGetParameter Method = "GET_PARAMETER"
)

// Header is one "key: value" line. Order is preserved on the wire.
type Header struct {
	Key   string
	Value string
}

// Request is an outgoing RTSP request.
type Request struct {
	Method  Method
	Path    string
	Headers []Header
	Body    []byte
}

// Encode renders the request exactly as it is written to the socket.
func (r *Request) Encode() []byte {
	var b bytes.Buffer
	b.WriteString(string(r.Method))
	b.WriteByte(' ')
	b.WriteString(r.Path)
	b.WriteByte(' ')
	b.WriteString(Version)
	b.WriteString("\r\n")

	for _, h := range r.Headers {
		b.WriteString(h.Key)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")
	b.Write(r.Body)

	return b.Bytes()
}

// Status is one of the recognized response status lines.
type Status int

const (
	StatusOK Status = iota + 1
	StatusInternalServerError
	StatusUnauthorized
	StatusForbidden
	StatusConnectionAuthorizationRequired
	StatusMethodNotValidInThisState
)

var statusLines = map[string]Status{
	"RTSP/1.0 200 OK\r\n":                                StatusOK,
	"RTSP/1.0 500 Internal Server Error\r\n":             StatusInternalServerError,
	"RTSP/1.0 401 Unauthorized\r\n":                      StatusUnauthorized,
	"RTSP/1.0 403 Forbidden\r\n":                         StatusForbidden,
	"RTSP/1.0 470 Connection Authorization Required\r\n": StatusConnectionAuthorizationRequired,
	"RTSP/1.0 455 Method Not Valid In This State\r\n":    StatusMethodNotValidInThisState,
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInternalServerError:
		return "Internal Server Error"
	case StatusUnauthorized:
		return "Unauthorized"
	case StatusForbidden:
		return "Forbidden"
	case StatusConnectionAuthorizationRequired:
		return "Connection Authorization Required"
	case StatusMethodNotValidInThisState:
		return "Method Not Valid In This State"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

var (
	ErrUnknownStatus    = errors.New("rtsp: unknown status")
	ErrMalformedHeader  = errors.New("rtsp: malformed header")
	ErrTooManyHeaders   = errors.New("rtsp: too many headers")
	ErrBodyTooLarge     = errors.New("rtsp: body too large")
	ErrBadContentLength = errors.New("rtsp: bad content length")
)

// UnknownStatusError keeps the raw line that was not recognized.
type UnknownStatusError struct {
	Line string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("rtsp: unknown status %q", e.Line)
}

func (e *UnknownStatusError) Is(target error) bool { return target == ErrUnknownStatus }

// ParseStatusLine matches a full status line, CRLF included, against the
// known table. Anything else is an UnknownStatusError.
func ParseStatusLine(line []byte) (Status, error) {
	if s, ok := statusLines[string(line)]; ok {
		return s, nil
	}
	return 0, &UnknownStatusError{Line: string(line)}
}

// Response is a parsed RTSP response.
type Response struct {
	Status  Status
	Headers []Header
	Body    []byte
}

// Header returns the first value for key, matched case-insensitively.
func (r *Response) Header(key string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value, true
		}
	}
	return "", false
}

// ReadResponse reads a status line, headers and a Content-Length body.
// Lines longer than the reader's buffer are rejected by bufio.
func ReadResponse(r *bufio.Reader) (*Response, error) {
	line, err := r.ReadSlice('\n')
	if err != nil {
		return nil, fmt.Errorf("rtsp read status line error: %w", err)
	}

	status, err := ParseStatusLine(line)
	if err != nil {
		return nil, err
	}

	resp := &Response{Status: status}
	for {
		line, err := r.ReadSlice('\n')
		if err != nil {
			return nil, fmt.Errorf("rtsp read header error: %w", err)
		}
		if string(line) == "\r\n" {
			break
		}
		if len(resp.Headers) == maxHeaders {
			return nil, ErrTooManyHeaders
		}

		k, v, ok := strings.Cut(strings.TrimRight(string(line), "\r\n"), ":")
		if !ok || k == "" {
			return nil, ErrMalformedHeader
		}
		resp.Headers = append(resp.Headers, Header{Key: k, Value: strings.TrimSpace(v)})
	}

	cl, ok := resp.Header("Content-Length")
	if !ok {
		return resp, nil
	}

	n, err := strconv.Atoi(cl)
	if err != nil || n < 0 {
		return nil, ErrBadContentLength
	}
	if n > MaxBodySize {
		return nil, ErrBodyTooLarge
	}
	if n > 0 {
		resp.Body = make([]byte, n)
		if _, err := io.ReadFull(r, resp.Body); err != nil {
			return nil, fmt.Errorf("rtsp read body error: %w", err)
		}
	}

	return resp, nil
}
