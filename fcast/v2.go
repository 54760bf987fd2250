package fcast

// PlayV2 adds playback speed and request headers to PlayV1.
type PlayV2 struct {
	Container string            `json:"container"`
	URL       *string           `json:"url,omitempty"`
	Content   *string           `json:"content,omitempty"`
	Time      *float64          `json:"time,omitempty"`
	Speed     *float64          `json:"speed,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

type PlaybackUpdateV2 struct {
	GenerationTime uint64        `json:"generationTime"`
	Time           float64       `json:"time"`
	Duration       float64       `json:"duration"`
	Speed          float64       `json:"speed"`
	State          PlaybackState `json:"state"`
}

type VolumeUpdateV2 struct {
	GenerationTime uint64  `json:"generationTime"`
	Volume         float64 `json:"volume"`
}
