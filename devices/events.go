package devices

import (
	"net/netip"

	"github.com/rs/zerolog"
)

// ConnectionState is the lifecycle state of a device connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Disconnecting:
		return "Disconnecting"
	}
	return "Unknown"
}

// ConnectionStatus is reported on every state change. The addresses are
// only set for Connected.
type ConnectionStatus struct {
	State          ConnectionState
	UsedRemoteAddr netip.Addr
	LocalAddr      netip.Addr
}

// KeyEvent is a remote control key press seen by the receiver.
type KeyEvent struct {
	Name     string
	Released bool
	Repeat   bool
	Handled  bool
}

type MediaEventType int

const (
	MediaItemStart MediaEventType = iota
	MediaItemEnd
	MediaItemChange
)

// MediaItem describes the item a MediaEvent is about.
type MediaItem struct {
	ContentType  string
	URL          string
	Content      string
	Time         *float64
	Volume       *float64
	Speed        *float64
	ShowDuration *float64
	Metadata     *Metadata
}

type MediaEvent struct {
	Type MediaEventType
	Item MediaItem
}

// EventHandler receives device events. Calls for one device come from a
// single goroutine, in order, and never overlap.
type EventHandler interface {
	ConnectionStateChanged(ConnectionStatus)
	VolumeChanged(volume float64)
	TimeChanged(seconds float64)
	PlaybackStateChanged(PlaybackState)
	DurationChanged(seconds float64)
	SpeedChanged(speed float64)
	SourceChanged(Source)
	KeyEvent(KeyEvent)
	MediaEvent(MediaEvent)
	PlaybackError(message string)
}

// BaseHandler implements EventHandler by logging every event at debug
// level. Embed it to override only the callbacks you need.
type BaseHandler struct {
	Logger zerolog.Logger
}

var _ EventHandler = (*BaseHandler)(nil)

func (b *BaseHandler) ConnectionStateChanged(s ConnectionStatus) {
	b.Logger.Debug().Str("Method", "ConnectionStateChanged").Str("State", s.State.String()).Msg("event")
}

func (b *BaseHandler) VolumeChanged(v float64) {
	b.Logger.Debug().Str("Method", "VolumeChanged").Float64("Volume", v).Msg("event")
}

func (b *BaseHandler) TimeChanged(t float64) {
	b.Logger.Debug().Str("Method", "TimeChanged").Float64("Time", t).Msg("event")
}

func (b *BaseHandler) PlaybackStateChanged(s PlaybackState) {
	b.Logger.Debug().Str("Method", "PlaybackStateChanged").Str("State", s.String()).Msg("event")
}

func (b *BaseHandler) DurationChanged(d float64) {
	b.Logger.Debug().Str("Method", "DurationChanged").Float64("Duration", d).Msg("event")
}

func (b *BaseHandler) SpeedChanged(s float64) {
	b.Logger.Debug().Str("Method", "SpeedChanged").Float64("Speed", s).Msg("event")
}

func (b *BaseHandler) SourceChanged(s Source) {
	b.Logger.Debug().Str("Method", "SourceChanged").Str("URL", s.URL).Str("ContentType", s.ContentType).Msg("event")
}

func (b *BaseHandler) KeyEvent(k KeyEvent) {
	b.Logger.Debug().Str("Method", "KeyEvent").Str("Key", k.Name).Bool("Released", k.Released).Msg("event")
}

func (b *BaseHandler) MediaEvent(m MediaEvent) {
	b.Logger.Debug().Str("Method", "MediaEvent").Int("Type", int(m.Type)).Str("URL", m.Item.URL).Msg("event")
}

func (b *BaseHandler) PlaybackError(msg string) {
	b.Logger.Debug().Str("Method", "PlaybackError").Str("Message", msg).Msg("event")
}

const eventBuffer = 64

// emitter delivers events to a handler from one goroutine, in emission
// order. Only the connection goroutine emits.
type emitter struct {
	ch   chan func(EventHandler)
	done chan struct{}
}

func newEmitter(h EventHandler) *emitter {
	e := &emitter{
		ch:   make(chan func(EventHandler), eventBuffer),
		done: make(chan struct{}),
	}
	go func() {
		defer close(e.done)
		for f := range e.ch {
			f(h)
		}
	}()
	return e
}

func (e *emitter) close() {
	close(e.ch)
}

func (e *emitter) connection(s ConnectionStatus) {
	e.ch <- func(h EventHandler) { h.ConnectionStateChanged(s) }
}

func (e *emitter) state(s ConnectionState) {
	e.connection(ConnectionStatus{State: s})
}

func (e *emitter) volume(v float64) {
	e.ch <- func(h EventHandler) { h.VolumeChanged(v) }
}

func (e *emitter) time(t float64) {
	e.ch <- func(h EventHandler) { h.TimeChanged(t) }
}

func (e *emitter) playback(s PlaybackState) {
	e.ch <- func(h EventHandler) { h.PlaybackStateChanged(s) }
}

func (e *emitter) duration(d float64) {
	e.ch <- func(h EventHandler) { h.DurationChanged(d) }
}

func (e *emitter) speed(s float64) {
	e.ch <- func(h EventHandler) { h.SpeedChanged(s) }
}

func (e *emitter) source(s Source) {
	e.ch <- func(h EventHandler) { h.SourceChanged(s) }
}

func (e *emitter) key(k KeyEvent) {
	e.ch <- func(h EventHandler) { h.KeyEvent(k) }
}

func (e *emitter) media(m MediaEvent) {
	e.ch <- func(h EventHandler) { h.MediaEvent(m) }
}

func (e *emitter) playbackError(msg string) {
	e.ch <- func(h EventHandler) { h.PlaybackError(msg) }
}

// playerState keeps the last reported values so only changes are emitted.
type playerState struct {
	time, duration, volume, speed float64
	playback                      PlaybackState
	source                        Source
}

func (p *playerState) setTime(e *emitter, v float64) {
	if p.time != v {
		p.time = v
		e.time(v)
	}
}

func (p *playerState) setDuration(e *emitter, v float64) {
	if p.duration != v {
		p.duration = v
		e.duration(v)
	}
}

func (p *playerState) setVolume(e *emitter, v float64) {
	if p.volume != v {
		p.volume = v
		e.volume(v)
	}
}

func (p *playerState) setSpeed(e *emitter, v float64) {
	if p.speed != v {
		p.speed = v
		e.speed(v)
	}
}

func (p *playerState) setPlayback(e *emitter, s PlaybackState) {
	if p.playback != s {
		p.playback = s
		e.playback(s)
	}
}

func (p *playerState) setSource(e *emitter, s Source) {
	if p.source != s {
		p.source = s
		e.source(s)
	}
}
