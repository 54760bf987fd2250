package devices

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go2tv.app/castkit/castprotocol"
	"go2tv.app/castkit/internal/connect"
	"go2tv.app/castkit/transport"
)

func expectCast(t *testing.T, rx *transport.TCP, dest, ns, typ string) castprotocol.Message {
	t.Helper()
	require.NoError(t, rx.Conn().SetReadDeadline(time.Now().Add(waitTimeout)))
	m, err := castprotocol.ReadMessage(rx)
	require.NoError(t, err)
	require.Equal(t, castprotocol.DefaultSender, m.SourceID)
	require.Equal(t, dest, m.DestinationID)
	require.Equal(t, ns, m.Namespace)
	got, err := castprotocol.PayloadType(m.Payload)
	require.NoError(t, err)
	require.Equal(t, typ, got)
	return m
}

func writeCast(t *testing.T, rx *transport.TCP, src, ns string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, castprotocol.WriteMessage(rx, castprotocol.Message{
		SourceID:      src,
		DestinationID: castprotocol.DefaultSender,
		Namespace:     ns,
		Payload:       string(b),
	}))
}

func receiverStatus(volume float64, apps ...castprotocol.Application) castprotocol.ReceiverStatusResponse {
	return castprotocol.ReceiverStatusResponse{
		Header: castprotocol.Header{Type: castprotocol.TypeReceiverStatus},
		Status: castprotocol.ReceiverStatus{Applications: apps, Volume: castprotocol.Volume{Level: &volume}},
	}
}

func TestChromecastSession(t *testing.T) {
	l := listen(t)
	d, err := New(localInfo(t, Chromecast, l),
		WithDialer(connect.DialTCP),
		WithReconnect(0, 0),
		WithStatusInterval(time.Hour))
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, d.Connect(rec))
	rx := accept(t, l)

	const (
		recv0 = castprotocol.DefaultReceiver
		web   = "web-1"
	)

	expectCast(t, rx, recv0, castprotocol.NamespaceConnection, castprotocol.TypeConnect)
	expectCast(t, rx, recv0, castprotocol.NamespaceReceiver, castprotocol.TypeGetStatus)
	rec.waitState(t, Connected)

	writeCast(t, rx, recv0, castprotocol.NamespaceReceiver, receiverStatus(0.4))
	require.Equal(t, 0.4, recv(t, rec.volumes))

	// No media application runs yet, so the load waits for the launch.
	require.NoError(t, d.LoadVideo("video/mp4", "http://h/v.mp4", 7, nil,
		WithVolume(0.6),
		WithMetadata(Metadata{Title: "T"}),
		WithSubtitles("http://h/v.vtt")))
	launch := expectCast(t, rx, recv0, castprotocol.NamespaceReceiver, castprotocol.TypeLaunch)
	var lr castprotocol.LaunchRequest
	require.NoError(t, json.Unmarshal([]byte(launch.Payload), &lr))
	require.Equal(t, castprotocol.DefaultMediaReceiverAppID, lr.AppID)

	writeCast(t, rx, recv0, castprotocol.NamespaceReceiver, receiverStatus(0.4, castprotocol.Application{
		AppID:       castprotocol.DefaultMediaReceiverAppID,
		TransportID: web,
	}))
	expectCast(t, rx, web, castprotocol.NamespaceConnection, castprotocol.TypeConnect)
	expectCast(t, rx, web, castprotocol.NamespaceMedia, castprotocol.TypeGetStatus)

	load := expectCast(t, rx, web, castprotocol.NamespaceMedia, castprotocol.TypeLoad)
	var req castprotocol.LoadRequest
	require.NoError(t, json.Unmarshal([]byte(load.Payload), &req))
	require.Equal(t, "http://h/v.mp4", req.Media.ContentID)
	require.Equal(t, 7.0, req.CurrentTime)
	require.Equal(t, "T", req.Media.Metadata.Title)
	require.Equal(t, []int{1}, req.ActiveTrackIDs)
	require.Equal(t, "http://h/v.vtt", req.Media.Tracks[0].ContentID)

	vol := expectCast(t, rx, recv0, castprotocol.NamespaceReceiver, castprotocol.TypeSetVolume)
	var vr castprotocol.VolumeRequest
	require.NoError(t, json.Unmarshal([]byte(vol.Payload), &vr))
	require.Equal(t, 0.6, *vr.Volume.Level)

	duration := 120.0
	writeCast(t, rx, web, castprotocol.NamespaceMedia, castprotocol.MediaStatusResponse{
		Header: castprotocol.Header{Type: castprotocol.TypeMediaStatus},
		Status: []castprotocol.MediaStatus{{
			MediaSessionID: 3,
			PlaybackRate:   1,
			PlayerState:    castprotocol.PlayerPlaying,
			CurrentTime:    7.5,
			Media:          &castprotocol.MediaInformation{ContentID: "http://h/v.mp4", ContentType: "video/mp4", Duration: &duration},
		}},
	})
	require.Equal(t, Source{URL: "http://h/v.mp4", ContentType: "video/mp4"}, recv(t, rec.sources))
	require.Equal(t, PlaybackPlaying, recv(t, rec.playback))
	require.Equal(t, 7.5, recv(t, rec.times))

	require.NoError(t, d.PlaybackPause())
	pause := expectCast(t, rx, web, castprotocol.NamespaceMedia, castprotocol.TypePause)
	var mr castprotocol.MediaRequest
	require.NoError(t, json.Unmarshal([]byte(pause.Payload), &mr))
	require.Equal(t, 3, mr.MediaSessionID)

	require.NoError(t, d.Seek(30))
	seek := expectCast(t, rx, web, castprotocol.NamespaceMedia, castprotocol.TypeSeek)
	var sr castprotocol.SeekRequest
	require.NoError(t, json.Unmarshal([]byte(seek.Payload), &sr))
	require.Equal(t, 30.0, sr.CurrentTime)

	require.NoError(t, d.ChangeVolume(0.2))
	expectCast(t, rx, recv0, castprotocol.NamespaceReceiver, castprotocol.TypeSetVolume)

	writeCast(t, rx, recv0, castprotocol.NamespaceHeartbeat, castprotocol.Request(castprotocol.TypePing))
	expectCast(t, rx, recv0, castprotocol.NamespaceHeartbeat, castprotocol.TypePong)

	writeCast(t, rx, web, castprotocol.NamespaceMedia, castprotocol.Request(castprotocol.TypeLoadFailed))
	require.Equal(t, castprotocol.TypeLoadFailed, recv(t, rec.errs))

	require.NoError(t, d.Disconnect())
	expectCast(t, rx, web, castprotocol.NamespaceConnection, castprotocol.TypeClose)
	expectCast(t, rx, recv0, castprotocol.NamespaceConnection, castprotocol.TypeClose)
	rec.waitState(t, Disconnected)
}

func TestChromecastPollsMediaStatus(t *testing.T) {
	l := listen(t)
	d, err := New(localInfo(t, Chromecast, l),
		WithDialer(connect.DialTCP),
		WithReconnect(0, 0),
		WithStatusInterval(20*time.Millisecond))
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, d.Connect(rec))
	rx := accept(t, l)

	expectCast(t, rx, castprotocol.DefaultReceiver, castprotocol.NamespaceConnection, castprotocol.TypeConnect)
	expectCast(t, rx, castprotocol.DefaultReceiver, castprotocol.NamespaceReceiver, castprotocol.TypeGetStatus)

	writeCast(t, rx, castprotocol.DefaultReceiver, castprotocol.NamespaceReceiver, receiverStatus(1, castprotocol.Application{
		AppID:       castprotocol.DefaultMediaReceiverAppID,
		TransportID: "web-2",
	}))
	expectCast(t, rx, "web-2", castprotocol.NamespaceConnection, castprotocol.TypeConnect)
	expectCast(t, rx, "web-2", castprotocol.NamespaceMedia, castprotocol.TypeGetStatus)

	writeCast(t, rx, "web-2", castprotocol.NamespaceMedia, castprotocol.MediaStatusResponse{
		Header: castprotocol.Header{Type: castprotocol.TypeMediaStatus},
		Status: []castprotocol.MediaStatus{{MediaSessionID: 9, PlayerState: castprotocol.PlayerPaused}},
	})
	require.Equal(t, PlaybackPaused, recv(t, rec.playback))

	poll := expectCast(t, rx, "web-2", castprotocol.NamespaceMedia, castprotocol.TypeGetStatus)
	var mr castprotocol.MediaRequest
	require.NoError(t, json.Unmarshal([]byte(poll.Payload), &mr))
	require.Equal(t, 9, mr.MediaSessionID)

	require.NoError(t, d.Disconnect())
	rec.waitState(t, Disconnected)
}

func TestChromecastUnencodableCommandKeepsSession(t *testing.T) {
	l := listen(t)
	d, err := New(localInfo(t, Chromecast, l),
		WithDialer(connect.DialTCP),
		WithReconnect(0, 0),
		WithStatusInterval(time.Hour))
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, d.Connect(rec))
	rx := accept(t, l)

	recv0 := castprotocol.DefaultReceiver
	expectCast(t, rx, recv0, castprotocol.NamespaceConnection, castprotocol.TypeConnect)
	expectCast(t, rx, recv0, castprotocol.NamespaceReceiver, castprotocol.TypeGetStatus)
	rec.waitState(t, Connected)

	require.NoError(t, d.(*chromecastDevice).send(command{kind: cmdVolume, value: math.NaN()}))
	require.NoError(t, d.ChangeVolume(0.2))
	vol := expectCast(t, rx, recv0, castprotocol.NamespaceReceiver, castprotocol.TypeSetVolume)
	var vr castprotocol.VolumeRequest
	require.NoError(t, json.Unmarshal([]byte(vol.Payload), &vr))
	require.Equal(t, 0.2, *vr.Volume.Level)
	require.Empty(t, rec.states)

	require.NoError(t, d.Disconnect())
	_, seen := rec.waitState(t, Disconnected)
	require.NotContains(t, seen, Reconnecting)
}

func TestPlaybackFromCast(t *testing.T) {
	tt := []struct {
		in   string
		want PlaybackState
	}{
		{castprotocol.PlayerPlaying, PlaybackPlaying},
		{castprotocol.PlayerPaused, PlaybackPaused},
		{castprotocol.PlayerBuffering, PlaybackBuffering},
		{castprotocol.PlayerIdle, PlaybackIdle},
		{"", PlaybackIdle},
	}
	for _, tc := range tt {
		require.Equal(t, tc.want, playbackFromCast(tc.in), tc.in)
	}
}
