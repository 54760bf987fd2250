package fcast

// Version is the highest protocol version this package speaks.
const Version uint64 = 3

// PlaybackState as carried on the wire.
type PlaybackState uint8

const (
	PlaybackIdle PlaybackState = iota
	PlaybackPlaying
	PlaybackPaused
)

// Messages shared by every protocol version.

type SeekMessage struct {
	Time float64 `json:"time"`
}

type SetVolumeMessage struct {
	Volume float64 `json:"volume"`
}

type SetSpeedMessage struct {
	Speed float64 `json:"speed"`
}

type PlaybackErrorMessage struct {
	Message string `json:"message"`
}

// VersionMessage announces the sender's or receiver's protocol version.
// The field is a u64 on the wire; older peers that send a small integer
// decode the same way.
type VersionMessage struct {
	Version uint64 `json:"version"`
}
