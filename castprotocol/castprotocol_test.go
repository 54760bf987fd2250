package castprotocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type bufTransport struct {
	bytes.Buffer
	shut bool
}

func (b *bufTransport) WriteAll(p []byte) error {
	_, err := b.Write(p)
	return err
}

func (b *bufTransport) ReadExact(p []byte) error {
	_, err := io.ReadFull(&b.Buffer, p)
	return err
}

func (b *bufTransport) Shutdown() error {
	b.shut = true
	return nil
}

func TestMessageFraming(t *testing.T) {
	var tr bufTransport
	in := Message{
		SourceID:      DefaultSender,
		DestinationID: DefaultReceiver,
		Namespace:     NamespaceReceiver,
		Payload:       `{"type":"GET_STATUS","requestId":1}`,
	}
	require.NoError(t, WriteMessage(&tr, in))

	raw := tr.Bytes()
	require.Equal(t, uint32(len(raw)-4), binary.BigEndian.Uint32(raw))

	out, err := ReadMessage(&tr)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestReadMessageTooLarge(t *testing.T) {
	var tr bufTransport
	_ = binary.Write(&tr, binary.BigEndian, uint32(MaxMessageSize+1))
	_, err := ReadMessage(&tr)
	require.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestReadMessageGarbage(t *testing.T) {
	var tr bufTransport
	_ = binary.Write(&tr, binary.BigEndian, uint32(3))
	tr.Write([]byte{0xff, 0xff, 0xff})
	_, err := ReadMessage(&tr)
	require.Error(t, err)
}

func TestClientSendStampsRequestIDs(t *testing.T) {
	var tr bufTransport
	c := NewCastClient(&tr)

	id1, err := c.Send(DefaultReceiver, NamespaceReceiver, Request(TypeGetStatus))
	require.NoError(t, err)
	id2, err := c.Send("transport-7", NamespaceMedia, NewSeek(3, 12.5))
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	m, err := c.Read()
	require.NoError(t, err)
	require.Equal(t, DefaultSender, m.SourceID)
	require.Equal(t, NamespaceReceiver, m.Namespace)
	typ, err := PayloadType(m.Payload)
	require.NoError(t, err)
	require.Equal(t, TypeGetStatus, typ)

	m, err = c.Read()
	require.NoError(t, err)
	require.Equal(t, "transport-7", m.DestinationID)

	var seek map[string]any
	require.NoError(t, json.Unmarshal([]byte(m.Payload), &seek))
	require.Equal(t, map[string]any{
		"type":           "SEEK",
		"requestId":      float64(id2),
		"mediaSessionId": float64(3),
		"currentTime":    12.5,
	}, seek)

	require.NoError(t, c.Close())
	require.True(t, tr.shut)
}

func TestNewLoad(t *testing.T) {
	req := NewLoad("http://h/v.mp4", "video/mp4", LoadOptions{
		StartTime:   10,
		Duration:    120,
		SubtitleURL: "http://h/v.vtt",
		Live:        true,
	})
	b, err := json.Marshal(req)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"type": "LOAD",
		"media": {
			"contentId": "http://h/v.mp4",
			"contentType": "video/mp4",
			"streamType": "LIVE",
			"duration": 120,
			"tracks": [{
				"trackId": 1,
				"type": "TEXT",
				"subtype": "SUBTITLES",
				"trackContentId": "http://h/v.vtt",
				"trackContentType": "text/vtt",
				"name": "Subtitles",
				"language": "en"
			}]
		},
		"currentTime": 10,
		"autoplay": true,
		"activeTrackIds": [1]
	}`, string(b))
}

func TestCastStatusUpdates(t *testing.T) {
	rs, err := ParseReceiverStatus(`{"type":"RECEIVER_STATUS","requestId":2,"status":{
		"applications":[{"appId":"CC1AD845","transportId":"web-5","sessionId":"s"}],
		"volume":{"level":0.4,"muted":false}}}`)
	require.NoError(t, err)
	require.NotNil(t, rs.App(DefaultMediaReceiverAppID))
	require.Nil(t, rs.App("other"))

	var s CastStatus
	require.Equal(t, ChangedVolume, s.UpdateReceiver(rs, DefaultMediaReceiverAppID))
	require.Equal(t, "web-5", s.TransportID)
	require.Equal(t, Change(0), s.UpdateReceiver(rs, DefaultMediaReceiverAppID))

	statuses, err := ParseMediaStatus(`{"type":"MEDIA_STATUS","status":[{
		"mediaSessionId":1,"playbackRate":1,"playerState":"PLAYING","currentTime":3.5,
		"media":{"contentId":"http://h/v.mp4","contentType":"video/mp4","duration":60}}]}`)
	require.NoError(t, err)
	require.Len(t, statuses, 1)

	c := s.UpdateMedia(statuses[0])
	require.Equal(t, ChangedState|ChangedTime|ChangedSpeed|ChangedDuration|ChangedSource, c)
	require.Equal(t, 1, s.MediaSessionID)
	require.Equal(t, PlayerPlaying, s.PlayerState)
	require.Equal(t, 60.0, s.Duration)

	statuses[0].CurrentTime = 4
	statuses[0].Media = nil
	require.Equal(t, ChangedTime, s.UpdateMedia(statuses[0]))
}
