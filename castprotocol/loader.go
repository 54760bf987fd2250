package castprotocol

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/vishen/go-chromecast/cast"
)

// Request ID counter for Chromecast messages
var requestIDCounter int32

func nextRequestID() int {
	return int(atomic.AddInt32(&requestIDCounter, 1))
}

// Message types.
const (
	TypeConnect         = "CONNECT"
	TypeClose           = "CLOSE"
	TypePing            = "PING"
	TypePong            = "PONG"
	TypeGetStatus       = "GET_STATUS"
	TypeReceiverStatus  = "RECEIVER_STATUS"
	TypeMediaStatus     = "MEDIA_STATUS"
	TypeLaunch          = "LAUNCH"
	TypeLaunchError     = "LAUNCH_ERROR"
	TypeSetVolume       = "SET_VOLUME"
	TypeLoad            = "LOAD"
	TypeLoadFailed      = "LOAD_FAILED"
	TypeInvalidRequest  = "INVALID_REQUEST"
	TypePlay            = "PLAY"
	TypePause           = "PAUSE"
	TypeStop            = "STOP"
	TypeSeek            = "SEEK"
	TypeSetPlaybackRate = "SET_PLAYBACK_RATE"
)

// Header is the part every payload carries.
type Header struct {
	Type      string `json:"type"`
	RequestID int    `json:"requestId,omitempty"`
}

// SetRequestId implements cast.Payload interface
func (h *Header) SetRequestId(id int) {
	h.RequestID = id
}

// Request returns a payload with only a type.
func Request(typ string) *Header {
	return &Header{Type: typ}
}

// LaunchRequest starts an application on the receiver.
type LaunchRequest struct {
	Header
	AppID string `json:"appId"`
}

// NewLaunch builds a LAUNCH request for appID.
func NewLaunch(appID string) *LaunchRequest {
	return &LaunchRequest{Header: Header{Type: TypeLaunch}, AppID: appID}
}

// VolumeRequest sets receiver volume or mute.
type VolumeRequest struct {
	Header
	Volume Volume `json:"volume"`
}

// NewSetVolume builds a SET_VOLUME request for level in [0, 1].
func NewSetVolume(level float64) *VolumeRequest {
	return &VolumeRequest{Header: Header{Type: TypeSetVolume}, Volume: Volume{Level: &level}}
}

// LoadRequest is a LOAD with tracks support.
type LoadRequest struct {
	Header
	Media          MediaInformation `json:"media"`
	CurrentTime    float64          `json:"currentTime"`
	Autoplay       bool             `json:"autoplay"`
	PlaybackRate   float64          `json:"playbackRate,omitempty"`
	ActiveTrackIDs []int            `json:"activeTrackIds,omitempty"`
}

// LoadOptions are the optional parts of a LOAD.
type LoadOptions struct {
	StartTime   float64
	Speed       float64
	Duration    float64
	Title       string
	SubtitleURL string
	Live        bool
}

// NewLoad builds a LOAD for mediaURL. Live streams use StreamType LIVE; with
// a subtitle URL the WebVTT track is attached and activated.
func NewLoad(mediaURL, contentType string, opts LoadOptions) *LoadRequest {
	media := MediaInformation{
		ContentID:   mediaURL,
		ContentType: contentType,
		StreamType:  StreamBuffered,
	}
	if opts.Live {
		media.StreamType = StreamLive
	}
	if opts.Duration > 0 {
		d := opts.Duration
		media.Duration = &d
	}
	if opts.Title != "" {
		media.Metadata = &Metadata{Title: opts.Title}
	}

	req := &LoadRequest{
		Header:       Header{Type: TypeLoad},
		CurrentTime:  opts.StartTime,
		Autoplay:     true,
		PlaybackRate: opts.Speed,
	}
	if opts.SubtitleURL != "" {
		media.Tracks = []Track{SubtitleTrack(1, opts.SubtitleURL, "Subtitles", "en")}
		req.ActiveTrackIDs = []int{1}
	}
	req.Media = media

	return req
}

// MediaRequest addresses one media session.
type MediaRequest struct {
	Header
	MediaSessionID int `json:"mediaSessionId"`
}

// NewMediaRequest builds PLAY, PAUSE, STOP or GET_STATUS for a session.
func NewMediaRequest(typ string, mediaSessionID int) *MediaRequest {
	return &MediaRequest{Header: Header{Type: typ}, MediaSessionID: mediaSessionID}
}

// SeekRequest moves playback to CurrentTime seconds.
type SeekRequest struct {
	MediaRequest
	CurrentTime float64 `json:"currentTime"`
}

// NewSeek builds a SEEK request.
func NewSeek(mediaSessionID int, seconds float64) *SeekRequest {
	return &SeekRequest{MediaRequest: *NewMediaRequest(TypeSeek, mediaSessionID), CurrentTime: seconds}
}

// PlaybackRateRequest changes the playback speed.
type PlaybackRateRequest struct {
	MediaRequest
	PlaybackRate float64 `json:"playbackRate"`
}

// NewSetPlaybackRate builds a SET_PLAYBACK_RATE request.
func NewSetPlaybackRate(mediaSessionID int, rate float64) *PlaybackRateRequest {
	return &PlaybackRateRequest{MediaRequest: *NewMediaRequest(TypeSetPlaybackRate, mediaSessionID), PlaybackRate: rate}
}

var (
	_ cast.Payload = (*Header)(nil)
	_ cast.Payload = (*LaunchRequest)(nil)
	_ cast.Payload = (*VolumeRequest)(nil)
	_ cast.Payload = (*LoadRequest)(nil)
	_ cast.Payload = (*SeekRequest)(nil)
	_ cast.Payload = (*PlaybackRateRequest)(nil)
)

// PayloadType returns the type field of a JSON payload.
func PayloadType(payload string) (string, error) {
	var h Header
	if err := json.Unmarshal([]byte(payload), &h); err != nil {
		return "", fmt.Errorf("castprotocol payload type error: %w", err)
	}
	return h.Type, nil
}
