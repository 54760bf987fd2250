package castprotocol

// Stream types of MediaInformation.
const (
	StreamBuffered = "BUFFERED"
	StreamLive     = "LIVE"
)

// Player states reported in MEDIA_STATUS.
const (
	PlayerIdle      = "IDLE"
	PlayerPlaying   = "PLAYING"
	PlayerPaused    = "PAUSED"
	PlayerBuffering = "BUFFERING"
)

// Track is one audio, video or text track. Subtitles are Type TEXT with
// SubType SUBTITLES.
type Track struct {
	TrackID     int    `json:"trackId"`
	Type        string `json:"type"`
	SubType     string `json:"subtype,omitempty"`
	ContentID   string `json:"trackContentId,omitempty"`
	ContentType string `json:"trackContentType,omitempty"`
	Name        string `json:"name,omitempty"`
	Language    string `json:"language,omitempty"`
}

// MediaInformation describes the media of a LOAD or a MEDIA_STATUS.
type MediaInformation struct {
	ContentID   string    `json:"contentId"`
	ContentType string    `json:"contentType"`
	StreamType  string    `json:"streamType,omitempty"`
	Duration    *float64  `json:"duration,omitempty"`
	Metadata    *Metadata `json:"metadata,omitempty"`
	Tracks      []Track   `json:"tracks,omitempty"`
}

// Metadata is the generic media metadata object.
type Metadata struct {
	MetadataType int    `json:"metadataType"`
	Title        string `json:"title,omitempty"`
}

// SubtitleTrack returns a WebVTT subtitle track.
func SubtitleTrack(id int, url, name, language string) Track {
	return Track{
		TrackID:     id,
		Type:        "TEXT",
		SubType:     "SUBTITLES",
		ContentID:   url,
		ContentType: "text/vtt",
		Name:        name,
		Language:    language,
	}
}
