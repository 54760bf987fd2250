package fcast

import (
	"encoding/json"
	"fmt"
)

// MetadataObject is the generic (type 0) metadata attached to media.
type MetadataObject struct {
	Title        *string
	ThumbnailURL *string
	Custom       json.RawMessage
}

type metadataWire struct {
	Type         *uint64         `json:"type"`
	Title        *string         `json:"title"`
	ThumbnailURL *string         `json:"thumbnailUrl"`
	Custom       json.RawMessage `json:"custom,omitempty"`
}

func (m MetadataObject) MarshalJSON() ([]byte, error) {
	var generic uint64
	return json.Marshal(metadataWire{
		Type:         &generic,
		Title:        m.Title,
		ThumbnailURL: m.ThumbnailURL,
		Custom:       m.Custom,
	})
}

func (m *MetadataObject) UnmarshalJSON(b []byte) error {
	var w metadataWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Type == nil {
		return fmt.Errorf("metadata: missing field `type`")
	}
	if *w.Type != 0 {
		return fmt.Errorf("metadata: unknown type %d", *w.Type)
	}

	*m = MetadataObject{Title: w.Title, ThumbnailURL: w.ThumbnailURL}
	if len(w.Custom) > 0 && string(w.Custom) != "null" {
		m.Custom = w.Custom
	}
	return nil
}

// PlayV3 adds volume and metadata to PlayV2. Content may hold a
// PlaylistContent document when Container is the playlist mime type.
type PlayV3 struct {
	Container string            `json:"container"`
	URL       *string           `json:"url,omitempty"`
	Content   *string           `json:"content,omitempty"`
	Time      *float64          `json:"time,omitempty"`
	Volume    *float64          `json:"volume,omitempty"`
	Speed     *float64          `json:"speed,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Metadata  *MetadataObject   `json:"metadata,omitempty"`
}

// PlaylistMimeType is the container used to send a PlaylistContent.
const PlaylistMimeType = "application/json"

type MediaItem struct {
	Container    string            `json:"container"`
	URL          *string           `json:"url,omitempty"`
	Content      *string           `json:"content,omitempty"`
	Time         *float64          `json:"time,omitempty"`
	Volume       *float64          `json:"volume,omitempty"`
	Speed        *float64          `json:"speed,omitempty"`
	Cache        *bool             `json:"cache,omitempty"`
	ShowDuration *float64          `json:"showDuration,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Metadata     *MetadataObject   `json:"metadata,omitempty"`
}

// ContentType of a v3 content document. Playlist is the only one defined.
type ContentType uint8

const ContentPlaylist ContentType = 0

type PlaylistContent struct {
	ContentType   ContentType     `json:"contentType"`
	Items         []MediaItem     `json:"items"`
	Offset        *uint64         `json:"offset,omitempty"`
	Volume        *float64        `json:"volume,omitempty"`
	Speed         *float64        `json:"speed,omitempty"`
	ForwardCache  *uint64         `json:"forwardCache,omitempty"`
	BackwardCache *uint64         `json:"backwardCache,omitempty"`
	Metadata      *MetadataObject `json:"metadata,omitempty"`
}

type PlaybackUpdateV3 struct {
	GenerationTime uint64        `json:"generationTime"`
	State          PlaybackState `json:"state"`
	Time           *float64      `json:"time,omitempty"`
	Duration       *float64      `json:"duration,omitempty"`
	Speed          *float64      `json:"speed,omitempty"`
	ItemIndex      *uint64       `json:"itemIndex,omitempty"`
}

// VolumeUpdateV3 is unchanged from version 2.
type VolumeUpdateV3 = VolumeUpdateV2

type InitialSender struct {
	DisplayName *string `json:"displayName,omitempty"`
	AppName     *string `json:"appName,omitempty"`
	AppVersion  *string `json:"appVersion,omitempty"`
}

type LivestreamCapabilities struct {
	WHEP *bool `json:"whep,omitempty"`
}

type AVCapabilities struct {
	Livestream *LivestreamCapabilities `json:"livestream,omitempty"`
}

type ReceiverCapabilities struct {
	AV *AVCapabilities `json:"av,omitempty"`
}

type InitialReceiver struct {
	DisplayName              *string               `json:"displayName,omitempty"`
	AppName                  *string               `json:"appName,omitempty"`
	AppVersion               *string               `json:"appVersion,omitempty"`
	PlayData                 *PlayV3               `json:"playData,omitempty"`
	ExperimentalCapabilities *ReceiverCapabilities `json:"experimentalCapabilities,omitempty"`
}

// SupportsWHEP reports whether the receiver advertised WHEP livestreams.
func (r InitialReceiver) SupportsWHEP() bool {
	c := r.ExperimentalCapabilities
	if c == nil || c.AV == nil || c.AV.Livestream == nil || c.AV.Livestream.WHEP == nil {
		return false
	}
	return *c.AV.Livestream.WHEP
}

type PlayUpdate struct {
	GenerationTime *uint64 `json:"generationTime,omitempty"`
	PlayData       *PlayV3 `json:"playData,omitempty"`
}

type SetPlaylistItem struct {
	ItemIndex uint64 `json:"itemIndex"`
}

// Key names a receiver can report in key events.
const (
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
	KeyArrowUp    = "ArrowUp"
	KeyArrowDown  = "ArrowDown"
	KeyEnter      = "Enter"
)

// AllKeys lists every key name.
func AllKeys() []string {
	return []string{KeyArrowLeft, KeyArrowRight, KeyArrowUp, KeyArrowDown, KeyEnter}
}

type EventType uint8

const (
	EventMediaItemStart EventType = iota
	EventMediaItemEnd
	EventMediaItemChange
	EventKeyDown
	EventKeyUp
)

func (t EventType) isKey() bool {
	return t == EventKeyDown || t == EventKeyUp
}

// EventSubscribeObject selects an event group. Keys is only meaningful for
// key events.
type EventSubscribeObject struct {
	Type EventType
	Keys []string
}

type eventSubscribeWire struct {
	Type *uint64  `json:"type"`
	Keys []string `json:"keys,omitempty"`
}

func (e EventSubscribeObject) MarshalJSON() ([]byte, error) {
	if !e.Type.isKey() {
		return json.Marshal(struct {
			Type uint64 `json:"type"`
		}{uint64(e.Type)})
	}

	keys := e.Keys
	if keys == nil {
		keys = []string{}
	}
	return json.Marshal(struct {
		Type uint64   `json:"type"`
		Keys []string `json:"keys"`
	}{uint64(e.Type), keys})
}

func (e *EventSubscribeObject) UnmarshalJSON(b []byte) error {
	var w eventSubscribeWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Type == nil {
		return fmt.Errorf("event: missing field `type`")
	}
	if *w.Type > uint64(EventKeyUp) {
		return fmt.Errorf("event: unknown event type %d", *w.Type)
	}

	t := EventType(*w.Type)
	if t.isKey() && w.Keys == nil {
		return fmt.Errorf("event: missing field `keys`")
	}

	*e = EventSubscribeObject{Type: t}
	if t.isKey() {
		e.Keys = w.Keys
	}
	return nil
}

type SubscribeEvent struct {
	Event EventSubscribeObject `json:"event"`
}

type UnsubscribeEvent struct {
	Event EventSubscribeObject `json:"event"`
}

// EventObject is either a media item event (Item set) or a key event.
type EventObject struct {
	Type    EventType
	Item    *MediaItem
	Key     string
	Repeat  bool
	Handled bool
}

type eventObjectWire struct {
	Type    *uint64    `json:"type"`
	Item    *MediaItem `json:"item,omitempty"`
	Key     *string    `json:"key,omitempty"`
	Repeat  *bool      `json:"repeat,omitempty"`
	Handled *bool      `json:"handled,omitempty"`
}

func (e EventObject) MarshalJSON() ([]byte, error) {
	t := uint64(e.Type)
	w := eventObjectWire{Type: &t}
	if e.Type.isKey() {
		w.Key, w.Repeat, w.Handled = &e.Key, &e.Repeat, &e.Handled
	} else {
		w.Item = e.Item
	}
	return json.Marshal(w)
}

func (e *EventObject) UnmarshalJSON(b []byte) error {
	var w eventObjectWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Type == nil {
		return fmt.Errorf("event: missing field `type`")
	}
	if *w.Type > uint64(EventKeyUp) {
		return fmt.Errorf("event: unknown event type %d", *w.Type)
	}

	t := EventType(*w.Type)
	if !t.isKey() {
		if w.Item == nil {
			return fmt.Errorf("event: missing field `item`")
		}
		*e = EventObject{Type: t, Item: w.Item}
		return nil
	}

	switch {
	case w.Key == nil:
		return fmt.Errorf("event: missing field `key`")
	case w.Repeat == nil:
		return fmt.Errorf("event: missing field `repeat`")
	case w.Handled == nil:
		return fmt.Errorf("event: missing field `handled`")
	}
	*e = EventObject{Type: t, Key: *w.Key, Repeat: *w.Repeat, Handled: *w.Handled}
	return nil
}

type EventMessage struct {
	GenerationTime uint64      `json:"generationTime"`
	Event          EventObject `json:"event"`
}
