// Package castprotocol speaks the Cast V2 channel used by Chromecast
// receivers: length prefixed protobuf CastMessages carrying JSON payloads.
package castprotocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/vishen/go-chromecast/cast"
	pb "github.com/vishen/go-chromecast/cast/proto"
)

const (
	// DefaultPort is the TLS port of the cast channel.
	DefaultPort = 8009
	// MaxMessageSize bounds one encoded CastMessage.
	MaxMessageSize = 64 * 1024

	DefaultSender   = "sender-0"
	DefaultReceiver = "receiver-0"

	// DefaultMediaReceiverAppID is the stock media player application.
	DefaultMediaReceiverAppID = "CC1AD845"
)

const (
	NamespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	NamespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	NamespaceReceiver   = "urn:x-cast:com.google.cast.receiver"
	NamespaceMedia      = "urn:x-cast:com.google.cast.media"
)

var (
	ErrMessageTooLarge = errors.New("castprotocol: message too large")
	ErrBinaryPayload   = errors.New("castprotocol: binary payloads are not supported")
)

// Message is a CastMessage with a text payload.
type Message struct {
	SourceID      string
	DestinationID string
	Namespace     string
	Payload       string
}

// MarshalBinary encodes m as a CastMessage.
func (m Message) MarshalBinary() ([]byte, error) {
	version := pb.CastMessage_CASTV2_1_0
	payloadType := pb.CastMessage_STRING
	return proto.Marshal(&pb.CastMessage{
		ProtocolVersion: &version,
		SourceId:        &m.SourceID,
		DestinationId:   &m.DestinationID,
		Namespace:       &m.Namespace,
		PayloadType:     &payloadType,
		PayloadUtf8:     &m.Payload,
	})
}

// UnmarshalBinary decodes a CastMessage into m.
func (m *Message) UnmarshalBinary(data []byte) error {
	cm := new(pb.CastMessage)
	if err := proto.Unmarshal(data, cm); err != nil {
		return fmt.Errorf("castprotocol unmarshal error: %w", err)
	}
	if cm.GetPayloadType() != pb.CastMessage_STRING {
		return ErrBinaryPayload
	}

	m.SourceID = cm.GetSourceId()
	m.DestinationID = cm.GetDestinationId()
	m.Namespace = cm.GetNamespace()
	m.Payload = cm.GetPayloadUtf8()
	return nil
}

// Writer is the write half the client needs from a transport.
type Writer interface {
	WriteAll(p []byte) error
}

// ExactReader is the read half the client needs from a transport.
type ExactReader interface {
	ReadExact(p []byte) error
}

// WriteMessage writes the big endian length prefix and the encoded message
// in one write.
func WriteMessage(w Writer, m Message) error {
	body, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("castprotocol marshal error: %w", err)
	}
	if len(body) > MaxMessageSize {
		return ErrMessageTooLarge
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	return w.WriteAll(buf)
}

// ReadMessage reads one length prefixed message.
func ReadMessage(r ExactReader) (Message, error) {
	var hdr [4]byte
	if err := r.ReadExact(hdr[:]); err != nil {
		return Message{}, err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxMessageSize {
		return Message{}, ErrMessageTooLarge
	}

	body := make([]byte, size)
	if err := r.ReadExact(body); err != nil {
		return Message{}, err
	}

	var m Message
	if err := m.UnmarshalBinary(body); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Transport is what a Client runs on.
type Transport interface {
	Writer
	ExactReader
	Shutdown() error
}

// CastClient sends payloads from DefaultSender and reads whatever the
// receiver pushes. Send and Read may run on different goroutines.
type CastClient struct {
	t           Transport
	wmu         sync.Mutex
	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

// NewCastClient wraps a connected transport.
func NewCastClient(t Transport) *CastClient {
	return &CastClient{t: t}
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is set.
func (c *CastClient) Log() *zerolog.Logger {
	if c.LogOutput != nil {
		c.initLogOnce.Do(func() {
			c.Logger = zerolog.New(c.LogOutput).With().Timestamp().Logger()
		})
	}
	return &c.Logger
}

// Send stamps p with a fresh request id and writes it to destination on
// namespace. The request id is returned so replies can be matched.
func (c *CastClient) Send(destination, namespace string, p cast.Payload) (int, error) {
	id := nextRequestID()
	p.SetRequestId(id)

	body, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("castprotocol payload error: %w", err)
	}

	c.Log().Debug().Str("Method", "Send").Str("Destination", destination).Str("Namespace", namespace).RawJSON("Payload", body).Msg("sending")

	c.wmu.Lock()
	defer c.wmu.Unlock()
	err = WriteMessage(c.t, Message{
		SourceID:      DefaultSender,
		DestinationID: destination,
		Namespace:     namespace,
		Payload:       string(body),
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Read blocks for the next message from the receiver.
func (c *CastClient) Read() (Message, error) {
	m, err := ReadMessage(c.t)
	if err != nil {
		return m, err
	}
	c.Log().Debug().Str("Method", "Read").Str("Source", m.SourceID).Str("Namespace", m.Namespace).Str("Payload", m.Payload).Msg("received")
	return m, nil
}

// Connect opens a virtual connection to destination.
func (c *CastClient) Connect(destination string) error {
	_, err := c.Send(destination, NamespaceConnection, Request(TypeConnect))
	return err
}

// Close shuts the transport down.
func (c *CastClient) Close() error {
	return c.t.Shutdown()
}
