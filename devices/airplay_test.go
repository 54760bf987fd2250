package devices

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type airPlayRequest struct {
	method      string
	path        string
	query       string
	contentType string
	body        string
	header      http.Header
}

// fakeAirPlay records every request and answers /scrub with scrub. A rate
// of 9 is refused.
func fakeAirPlay(t *testing.T, scrub string) (*httptest.Server, chan airPlayRequest) {
	t.Helper()
	reqs := make(chan airPlayRequest, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs <- airPlayRequest{
			method:      r.Method,
			path:        r.URL.Path,
			query:       r.URL.RawQuery,
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
			header:      r.Header.Clone(),
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/scrub":
			if scrub == "" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			io.WriteString(w, scrub)
		case r.URL.Path == "/rate" && r.URL.RawQuery == "value=9.000000":
			w.WriteHeader(http.StatusForbidden)
		case r.URL.Path == "/img.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte{0xff, 0xd8, 0xff, 0xd9})
		}
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func expectRequest(t *testing.T, reqs chan airPlayRequest, method, path, query string) airPlayRequest {
	t.Helper()
	r := recv(t, reqs)
	require.Equal(t, method, r.method)
	require.Equal(t, path, r.path)
	require.Equal(t, query, r.query)
	return r
}

func TestAirPlaySession(t *testing.T) {
	srv, reqs := fakeAirPlay(t, "")
	d, err := New(localInfo(t, AirPlay, srv.Listener), WithReconnect(0, 0), WithStatusInterval(time.Hour))
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, d.Connect(rec))
	rec.waitState(t, Connected)

	resume, speed := 30.0, 1.5
	require.NoError(t, d.LoadURL("video/mp4", "http://h/v.mp4", &resume, &speed))

	play := expectRequest(t, reqs, http.MethodPost, "/play", "")
	require.Equal(t, "text/parameters", play.contentType)
	require.Equal(t, "Content-Location: http://h/v.mp4\r\nStart-Position: 0\r\n", play.body)
	require.Equal(t, airPlayUserAgent, play.header.Get("User-Agent"))
	require.True(t, strings.HasPrefix(play.header.Get("X-Apple-Device-ID"), "0x"))
	session := play.header.Get("X-Apple-Session-ID")
	require.NotEmpty(t, session)

	expectRequest(t, reqs, http.MethodPost, "/scrub", "position=30.000000")
	rate := expectRequest(t, reqs, http.MethodPost, "/rate", "value=1.500000")
	require.Equal(t, session, rate.header.Get("X-Apple-Session-ID"))

	require.Equal(t, Source{URL: "http://h/v.mp4", ContentType: "video/mp4"}, recv(t, rec.sources))
	require.Equal(t, PlaybackPlaying, recv(t, rec.playback))

	require.NoError(t, d.PlaybackPause())
	expectRequest(t, reqs, http.MethodPost, "/rate", "value=0.000000")
	require.NoError(t, d.PlaybackResume())
	expectRequest(t, reqs, http.MethodPost, "/rate", "value=1.000000")
	require.NoError(t, d.Seek(12))
	expectRequest(t, reqs, http.MethodPost, "/scrub", "position=12.000000")

	require.NoError(t, d.LoadImage("image/jpeg", srv.URL+"/img.jpg"))
	expectRequest(t, reqs, http.MethodGet, "/img.jpg", "")
	photo := expectRequest(t, reqs, http.MethodPut, "/photo", "")
	require.Equal(t, "image/jpeg", photo.contentType)
	require.Equal(t, string([]byte{0xff, 0xd8, 0xff, 0xd9}), photo.body)
	require.Equal(t, Source{URL: srv.URL + "/img.jpg", ContentType: "image/jpeg"}, recv(t, rec.sources))

	require.NoError(t, d.StopCasting())
	expectRequest(t, reqs, http.MethodPost, "/stop", "")
	require.Equal(t, PlaybackIdle, recv(t, rec.playback))
	rec.waitState(t, Disconnected)
}

func TestAirPlayPollsScrub(t *testing.T) {
	srv, reqs := fakeAirPlay(t, "duration: 100.000000\nposition: 20.500000\n")
	d, err := New(localInfo(t, AirPlay, srv.Listener), WithReconnect(0, 0), WithStatusInterval(20*time.Millisecond))
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, d.Connect(rec))

	require.Equal(t, 20.5, recv(t, rec.times))
	r := recv(t, reqs)
	require.Equal(t, "/scrub", r.path)

	require.NoError(t, d.Disconnect())
	rec.waitState(t, Disconnected)
}

func TestAirPlayIdleScrubKeepsSession(t *testing.T) {
	srv, reqs := fakeAirPlay(t, "")
	d, err := New(localInfo(t, AirPlay, srv.Listener), WithReconnect(0, 0), WithStatusInterval(10*time.Millisecond))
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, d.Connect(rec))
	rec.waitState(t, Connected)

	// Several rejected polls later the session is still up.
	for i := 0; i < 3; i++ {
		expectRequest(t, reqs, http.MethodGet, "/scrub", "")
	}
	require.Empty(t, rec.states)

	require.NoError(t, d.Disconnect())
	rec.waitState(t, Disconnected)
}

func TestAirPlayRefusedCommandKeepsSession(t *testing.T) {
	srv, reqs := fakeAirPlay(t, "")
	d, err := New(localInfo(t, AirPlay, srv.Listener), WithReconnect(0, 0), WithStatusInterval(time.Hour))
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, d.Connect(rec))
	rec.waitState(t, Connected)

	require.NoError(t, d.ChangeSpeed(9))
	expectRequest(t, reqs, http.MethodPost, "/rate", "value=9.000000")
	require.NoError(t, d.Seek(5))
	expectRequest(t, reqs, http.MethodPost, "/scrub", "position=5.000000")
	require.Empty(t, rec.states)

	require.NoError(t, d.Disconnect())
	rec.waitState(t, Disconnected)
}

func TestParseScrub(t *testing.T) {
	tt := []struct {
		name     string
		body     string
		duration float64
		position float64
		ok       bool
	}{
		{"both", "duration: 83.124794\nposition: 14.467000\n", 83.124794, 14.467, true},
		{"crlf", "duration: 10\r\nposition: 2\r\n", 10, 2, true},
		{"missing position", "duration: 10\n", 10, 0, false},
		{"garbage", "hello\nposition: x\n", 0, 0, false},
		{"empty", "", 0, 0, false},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			d, p, ok := parseScrub([]byte(tc.body))
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.duration, d)
			require.Equal(t, tc.position, p)
		})
	}
}

func TestAirPlayDeviceID(t *testing.T) {
	require.Equal(t, "0xaabbccddeeff", airPlayDeviceID("AA:BB:CC:DD:EE:FF"))
}
