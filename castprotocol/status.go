package castprotocol

import (
	"encoding/json"
	"fmt"
)

// Volume is the receiver volume. Absent fields are left unchanged by
// SET_VOLUME.
type Volume struct {
	Level *float64 `json:"level,omitempty"`
	Muted *bool    `json:"muted,omitempty"`
}

// Application is a running receiver application.
type Application struct {
	AppID       string `json:"appId"`
	DisplayName string `json:"displayName"`
	SessionID   string `json:"sessionId"`
	TransportID string `json:"transportId"`
	StatusText  string `json:"statusText"`
}

// ReceiverStatus is the body of RECEIVER_STATUS.
type ReceiverStatus struct {
	Applications []Application `json:"applications"`
	Volume       Volume        `json:"volume"`
}

// App returns the running application with appID, or nil.
func (s ReceiverStatus) App(appID string) *Application {
	for i := range s.Applications {
		if s.Applications[i].AppID == appID {
			return &s.Applications[i]
		}
	}
	return nil
}

type ReceiverStatusResponse struct {
	Header
	Status ReceiverStatus `json:"status"`
}

// MediaStatus is one entry of MEDIA_STATUS.
type MediaStatus struct {
	MediaSessionID int               `json:"mediaSessionId"`
	PlaybackRate   float64           `json:"playbackRate"`
	PlayerState    string            `json:"playerState"`
	CurrentTime    float64           `json:"currentTime"`
	IdleReason     string            `json:"idleReason,omitempty"`
	Media          *MediaInformation `json:"media,omitempty"`
	Volume         Volume            `json:"volume"`
}

type MediaStatusResponse struct {
	Header
	Status []MediaStatus `json:"status"`
}

// ParseReceiverStatus decodes a RECEIVER_STATUS payload.
func ParseReceiverStatus(payload string) (ReceiverStatus, error) {
	var r ReceiverStatusResponse
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return ReceiverStatus{}, fmt.Errorf("castprotocol receiver status error: %w", err)
	}
	return r.Status, nil
}

// ParseMediaStatus decodes a MEDIA_STATUS payload.
func ParseMediaStatus(payload string) ([]MediaStatus, error) {
	var r MediaStatusResponse
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("castprotocol media status error: %w", err)
	}
	return r.Status, nil
}

// Change is a bit set of CastStatus fields touched by an update.
type Change uint8

const (
	ChangedState Change = 1 << iota
	ChangedTime
	ChangedDuration
	ChangedSpeed
	ChangedVolume
	ChangedSource
)

// CastStatus represents current Chromecast playback state.
type CastStatus struct {
	PlayerState    string
	CurrentTime    float64
	Duration       float64
	Speed          float64
	Volume         float64
	Muted          bool
	ContentID      string
	ContentType    string
	MediaSessionID int
	TransportID    string
}

// UpdateReceiver merges a RECEIVER_STATUS for appID into s.
func (s *CastStatus) UpdateReceiver(rs ReceiverStatus, appID string) Change {
	var c Change
	if rs.Volume.Level != nil && *rs.Volume.Level != s.Volume {
		s.Volume = *rs.Volume.Level
		c |= ChangedVolume
	}
	if rs.Volume.Muted != nil {
		s.Muted = *rs.Volume.Muted
	}

	transportID := ""
	if app := rs.App(appID); app != nil {
		transportID = app.TransportID
	}
	if transportID != s.TransportID {
		s.TransportID = transportID
		s.MediaSessionID = 0
	}
	return c
}

// UpdateMedia merges one MEDIA_STATUS entry into s.
func (s *CastStatus) UpdateMedia(ms MediaStatus) Change {
	var c Change
	s.MediaSessionID = ms.MediaSessionID
	if ms.PlayerState != "" && ms.PlayerState != s.PlayerState {
		s.PlayerState = ms.PlayerState
		c |= ChangedState
	}
	if ms.CurrentTime != s.CurrentTime {
		s.CurrentTime = ms.CurrentTime
		c |= ChangedTime
	}
	if ms.PlaybackRate != 0 && ms.PlaybackRate != s.Speed {
		s.Speed = ms.PlaybackRate
		c |= ChangedSpeed
	}
	if ms.Media != nil {
		if ms.Media.Duration != nil && *ms.Media.Duration != s.Duration {
			s.Duration = *ms.Media.Duration
			c |= ChangedDuration
		}
		if ms.Media.ContentID != s.ContentID || ms.Media.ContentType != s.ContentType {
			s.ContentID = ms.Media.ContentID
			s.ContentType = ms.Media.ContentType
			c |= ChangedSource
		}
	}
	return c
}
