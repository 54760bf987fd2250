// Package devices is the protocol agnostic casting device API. A DeviceInfo
// names a receiver; New builds the matching CastingDevice, whose Connect
// starts a connection goroutine that reports back through an EventHandler.
package devices

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrFailedToSendCommand     = errors.New("devices: failed to send command to the connection")
	ErrMissingAddresses        = errors.New("devices: missing addresses")
	ErrDeviceAlreadyStarted    = errors.New("devices: device already started")
	ErrUnsupportedSubscription = errors.New("devices: unsupported subscription")
	ErrUnsupportedFeature      = errors.New("devices: unsupported feature")
	ErrInvalidVolume           = errors.New("devices: volume must be within [0, 1]")
	ErrInvalidValue            = errors.New("devices: value must be a finite number")
	ErrUnknownProtocol         = errors.New("devices: unknown protocol")
)

// ProtocolType selects the wire protocol of a receiver.
type ProtocolType int

const (
	FCast ProtocolType = iota
	Chromecast
	AirPlay
	AirPlay2
)

var protocolNames = map[ProtocolType]string{
	FCast:      "fcast",
	Chromecast: "chromecast",
	AirPlay:    "airplay",
	AirPlay2:   "airplay2",
}

func (p ProtocolType) String() string {
	if s, ok := protocolNames[p]; ok {
		return s
	}
	return fmt.Sprintf("ProtocolType(%d)", int(p))
}

// DefaultPort returns the usual control port of the protocol.
func (p ProtocolType) DefaultPort() uint16 {
	switch p {
	case FCast:
		return 46899
	case Chromecast:
		return 8009
	case AirPlay, AirPlay2:
		return 7000
	}
	return 0
}

// ParseProtocol is the inverse of ProtocolType.String, case insensitive.
func ParseProtocol(s string) (ProtocolType, error) {
	for p, name := range protocolNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
}

// DeviceInfo says where a receiver is, not whether it is connected.
type DeviceInfo struct {
	Name      string
	Protocol  ProtocolType
	Addresses []netip.Addr
	Port      uint16
}

// AddrPorts pairs every address with the port.
func (d DeviceInfo) AddrPorts() []netip.AddrPort {
	out := make([]netip.AddrPort, 0, len(d.Addresses))
	for _, a := range d.Addresses {
		if a.IsValid() {
			out = append(out, netip.AddrPortFrom(a, d.Port))
		}
	}
	return out
}

func (d DeviceInfo) clone() DeviceInfo {
	d.Addresses = append([]netip.Addr(nil), d.Addresses...)
	return d
}

// DeviceFeature is an optional capability of a device.
type DeviceFeature int

const (
	FeatureSetVolume DeviceFeature = iota
	FeatureSetSpeed
	FeatureLoadContent
	FeatureLoadURL
	FeatureKeyEventSubscription
	FeatureMediaEventSubscription
	FeatureLoadImage
	FeatureLoadPlaylist
	FeaturePlaylistNextAndPrevious
	FeatureSetPlaylistItemIndex
	FeatureWHEPStreaming
)

// PlaybackState of the receiver's player.
type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackBuffering
	PlaybackPlaying
	PlaybackPaused
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackIdle:
		return "Idle"
	case PlaybackBuffering:
		return "Buffering"
	case PlaybackPlaying:
		return "Playing"
	case PlaybackPaused:
		return "Paused"
	}
	return "Unknown"
}

// Source is what the receiver is playing: a URL with its MIME type, or
// inline content when URL is empty.
type Source struct {
	URL         string
	ContentType string
	Content     string
}

// Metadata is shown by receivers that support it.
type Metadata struct {
	Title        string
	ThumbnailURL string
}

// PlaylistItem is one entry of LoadPlaylist.
type PlaylistItem struct {
	ContentType string
	URL         string
	StartTime   *float64
}

// GenericEventSubscription is an event group a caller can subscribe to.
type GenericEventSubscription int

const (
	SubscribeKeys GenericEventSubscription = iota
	SubscribeMedia
)

// FileHost publishes a local file over HTTP and returns a URL receivers
// can fetch it from.
type FileHost interface {
	Serve(path string) (url string, err error)
}

// CastingDevice is the uniform control surface over every protocol.
// Commands are queued to the connection goroutine and return once queued.
type CastingDevice interface {
	Protocol() ProtocolType
	IsReady() bool
	SupportsFeature(DeviceFeature) bool
	Name() string
	SetName(string)
	LoadURL(contentType, url string, resumePosition, speed *float64, opts ...LoadOption) error
	LoadContent(contentType, content string, resumePosition, duration float64, speed *float64, opts ...LoadOption) error
	LoadVideo(contentType, url string, resumePosition float64, speed *float64, opts ...LoadOption) error
	LoadImage(contentType, url string, opts ...LoadOption) error
	LoadPlaylist(items []PlaylistItem) error
	PlaylistItemNext() error
	PlaylistItemPrevious() error
	PlaylistItemSet(index uint32) error
	PlaybackResume() error
	PlaybackPause() error
	PlaybackStop() error
	Seek(seconds float64) error
	ChangeVolume(volume float64) error
	ChangeSpeed(speed float64) error
	SubscribeEvent(GenericEventSubscription) error
	UnsubscribeEvent(GenericEventSubscription) error
	// StopCasting stops playback and disconnects.
	StopCasting() error
	Connect(EventHandler, ...ConnectOption) error
	Disconnect() error
	DeviceInfo() DeviceInfo
	Addresses() []netip.Addr
	SetAddresses([]netip.Addr)
	Port() uint16
	SetPort(uint16)
}

type constructor func(DeviceInfo, *options) CastingDevice

var constructors = map[ProtocolType]constructor{
	FCast:      newFCastDevice,
	Chromecast: newChromecastDevice,
	AirPlay:    newAirPlayDevice,
	AirPlay2:   newAirPlay2Device,
}

// New builds the device variant for info.Protocol.
func New(info DeviceInfo, opts ...Option) (CastingDevice, error) {
	newDevice, ok := constructors[info.Protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, info.Protocol)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return newDevice(info.clone(), o), nil
}
