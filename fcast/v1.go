package fcast

// PlayV1 is the version 1 Play body.
type PlayV1 struct {
	Container string   `json:"container"`
	URL       *string  `json:"url,omitempty"`
	Content   *string  `json:"content,omitempty"`
	Time      *float64 `json:"time,omitempty"`
}

type PlaybackUpdateV1 struct {
	Time  float64       `json:"time"`
	State PlaybackState `json:"state"`
}

type VolumeUpdateV1 struct {
	Volume float64 `json:"volume"`
}
