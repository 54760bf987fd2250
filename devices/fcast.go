package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"go2tv.app/castkit/fcast"
	"go2tv.app/castkit/transport"
)

const (
	fcastDefaultVersion = 2
	// connectedDeadline is how long to wait for the version handshake before
	// reporting Connected anyway.
	connectedDeadline = 2 * time.Second
)

var errNoPlaylist = errors.New("devices: no playlist is playing")

type fcastDevice struct {
	base
	version atomic.Uint64
	whep    atomic.Bool
}

func newFCastDevice(info DeviceInfo, o *options) CastingDevice {
	d := &fcastDevice{}
	d.version.Store(fcastDefaultVersion)
	d.base.init(info, o, d.supportsFeature, d.work)
	return d
}

func (d *fcastDevice) supportsFeature(f DeviceFeature) bool {
	switch f {
	case FeatureSetVolume, FeatureSetSpeed, FeatureLoadContent, FeatureLoadURL:
		return true
	case FeatureKeyEventSubscription, FeatureMediaEventSubscription, FeatureLoadImage,
		FeatureLoadPlaylist, FeaturePlaylistNextAndPrevious, FeatureSetPlaylistItemIndex:
		return d.version.Load() >= 3
	case FeatureWHEPStreaming:
		return d.whep.Load()
	}
	return false
}

// fcastConn is one live FCast connection.
type fcastConn struct {
	*fcastDevice
	s         *session
	t         transport.Transport
	conn      net.Conn
	state     playerState
	connected bool
	// playlist position, valid while playlistLen > 0
	playlistLen   int
	playlistIndex int
}

func (d *fcastDevice) work(ctx context.Context, s *session) error {
	conn, err := s.race(ctx, nil)
	if err != nil {
		if ctx.Err() != nil {
			s.log.Debug().Str("Method", "work").Msg("quit while connecting")
			return nil
		}
		return err
	}

	var t transport.Transport = transport.NewTCP(conn)
	if s.opts.webSocket {
		ws, err := transport.UpgradeWebSocket(ctx, conn, "ws://"+conn.RemoteAddr().String()+"/", http.Header{})
		if err != nil {
			return fmt.Errorf("fcast websocket error: %w", err)
		}
		t = ws
	}

	d.version.Store(fcastDefaultVersion)
	c := &fcastConn{fcastDevice: d, s: s, t: t, conn: conn}
	return c.serve(ctx)
}

func (c *fcastConn) send(op fcast.Opcode, msg any) error {
	b, err := fcast.Encode(op, msg)
	if err != nil {
		return err
	}
	c.s.log.Debug().Str("Method", "send").Str("Opcode", op.String()).Msg("sending packet")
	return c.t.WriteAll(b)
}

func (c *fcastConn) emitConnected() {
	if c.connected {
		return
	}
	c.connected = true
	c.s.connected(c.conn)
}

// readPacket skips packets with unknown opcodes, the body has already
// been consumed so the stream stays aligned.
func (c *fcastConn) readPacket() (fcast.Packet, error) {
	for {
		p, err := fcast.ReadPacket(c.t)
		if errors.Is(err, fcast.ErrUnknownOpcode) {
			c.s.log.Warn().Str("Method", "readPacket").Err(err).Msg("packet ignored")
			continue
		}
		return p, err
	}
}

func (c *fcastConn) serve(ctx context.Context) error {
	r := startReader(c.readPacket)
	defer r.close()
	defer c.t.Shutdown()

	if err := c.send(fcast.OpVersion, fcast.VersionMessage{Version: fcast.Version}); err != nil {
		return err
	}

	deadline := time.NewTimer(connectedDeadline)
	defer deadline.Stop()

	for {
		// Commands wait until the version is settled, they are encoded
		// with the schema of that version.
		var cmds <-chan command
		if c.connected {
			cmds = c.s.cmds
		}

		select {
		case <-ctx.Done():
			c.s.events.state(Disconnecting)
			c.s.drain(c.dispatch)
			return nil
		case err := <-r.errs:
			return fmt.Errorf("fcast read error: %w", err)
		case p := <-r.items:
			if err := c.handlePacket(p); err != nil {
				return err
			}
		case cmd := <-cmds:
			if err := c.dispatch(cmd); err != nil {
				return err
			}
		case <-deadline.C:
			c.emitConnected()
		}
	}
}

// handlePacket returns an error only when the connection is unusable.
// Malformed bodies are logged and dropped.
func (c *fcastConn) handlePacket(p fcast.Packet) error {
	log := c.s.log.With().Str("Method", "handlePacket").Str("Opcode", p.Opcode.String()).Logger()
	ev := c.s.events

	switch p.Opcode {
	case fcast.OpPlaybackUpdate:
		if c.version.Load() >= 3 {
			u, err := fcast.Decode[fcast.PlaybackUpdateV3](p)
			if err != nil {
				log.Error().Err(err).Msg("malformed body")
				return nil
			}
			if u.Time != nil {
				c.state.setTime(ev, *u.Time)
			}
			if u.Duration != nil {
				c.state.setDuration(ev, *u.Duration)
			}
			if u.Speed != nil {
				c.state.setSpeed(ev, *u.Speed)
			}
			c.state.setPlayback(ev, playbackFromFCast(u.State))
			if u.ItemIndex != nil {
				c.playlistIndex = int(*u.ItemIndex)
			}
			return nil
		}
		u, err := fcast.Decode[fcast.PlaybackUpdateV2](p)
		if err != nil {
			log.Error().Err(err).Msg("malformed body")
			return nil
		}
		c.state.setTime(ev, u.Time)
		c.state.setDuration(ev, u.Duration)
		c.state.setSpeed(ev, u.Speed)
		c.state.setPlayback(ev, playbackFromFCast(u.State))

	case fcast.OpVolumeUpdate:
		u, err := fcast.Decode[fcast.VolumeUpdateV2](p)
		if err != nil {
			log.Error().Err(err).Msg("malformed body")
			return nil
		}
		c.state.setVolume(ev, u.Volume)

	case fcast.OpPing:
		return c.send(fcast.OpPong, nil)

	case fcast.OpEvent:
		if c.version.Load() < 3 {
			log.Debug().Msg("event before v3, ignoring")
			return nil
		}
		m, err := fcast.Decode[fcast.EventMessage](p)
		if err != nil {
			log.Error().Err(err).Msg("malformed body")
			return nil
		}
		c.handleEvent(m.Event)

	case fcast.OpPlayUpdate:
		u, err := fcast.Decode[fcast.PlayUpdate](p)
		if err != nil {
			log.Error().Err(err).Msg("malformed body")
			return nil
		}
		if u.PlayData != nil {
			c.playing(*u.PlayData)
		}

	case fcast.OpVersion:
		m, err := fcast.Decode[fcast.VersionMessage](p)
		if err != nil {
			log.Error().Err(err).Msg("malformed body")
			return nil
		}
		if m.Version < 3 {
			// v3 receivers are reported once their Initial arrives.
			c.emitConnected()
			return nil
		}
		sender := c.s.opts.sender
		if err := c.send(fcast.OpInitial, fcast.InitialSender{
			DisplayName: optString(sender.DisplayName),
			AppName:     optString(sender.AppName),
			AppVersion:  optString(sender.AppVersion),
		}); err != nil {
			return fmt.Errorf("fcast initial error: %w", err)
		}
		c.version.Store(3)

	case fcast.OpInitial:
		m, err := fcast.Decode[fcast.InitialReceiver](p)
		if err != nil {
			log.Error().Err(err).Msg("malformed body")
			return nil
		}
		if m.PlayData != nil {
			c.playing(*m.PlayData)
			if m.PlayData.Volume != nil {
				c.state.setVolume(ev, *m.PlayData.Volume)
			}
			if m.PlayData.Time != nil {
				c.state.setTime(ev, *m.PlayData.Time)
			}
			if m.PlayData.Speed != nil {
				c.state.setSpeed(ev, *m.PlayData.Speed)
			}
		}
		c.whep.Store(m.SupportsWHEP())
		c.emitConnected()

	case fcast.OpPlaybackError:
		m, err := fcast.Decode[fcast.PlaybackErrorMessage](p)
		if err != nil {
			log.Error().Err(err).Msg("malformed body")
			return nil
		}
		ev.playbackError(m.Message)

	default:
		log.Debug().Msg("packet ignored")
	}

	return nil
}

// playing reports the source of play data and that it plays.
func (c *fcastConn) playing(pd fcast.PlayV3) {
	var src Source
	switch {
	case pd.URL != nil:
		src = Source{URL: *pd.URL, ContentType: pd.Container}
	case pd.Content != nil:
		src = Source{Content: *pd.Content, ContentType: pd.Container}
	default:
		return
	}
	c.state.setSource(c.s.events, src)
	c.state.setPlayback(c.s.events, PlaybackPlaying)
}

func (c *fcastConn) handleEvent(e fcast.EventObject) {
	switch e.Type {
	case fcast.EventKeyDown, fcast.EventKeyUp:
		c.s.events.key(KeyEvent{
			Name:     e.Key,
			Released: e.Type == fcast.EventKeyUp,
			Repeat:   e.Repeat,
			Handled:  e.Handled,
		})
	default:
		if e.Item == nil {
			return
		}
		c.s.events.media(MediaEvent{
			Type: MediaEventType(e.Type),
			Item: mediaItemFromFCast(*e.Item),
		})
	}
}

// dispatch runs cmd and returns an error only when the transport failed.
func (c *fcastConn) dispatch(cmd command) error {
	return c.s.commandFailed(cmd, c.handleCommand(cmd), isIOError)
}

func (c *fcastConn) handleCommand(cmd command) error {
	c.s.log.Debug().Str("Method", "handleCommand").Str("Command", cmd.kind.String()).Msg("received command")

	switch cmd.kind {
	case cmdLoad:
		if err := c.load(cmd.load); err != nil {
			return err
		}
		c.playlistLen, c.playlistIndex = 0, 0
	case cmdLoadPlaylist:
		return c.loadPlaylist(cmd.playlist)
	case cmdSetPlaylistItem:
		return c.send(fcast.OpSetPlaylistItem, fcast.SetPlaylistItem{ItemIndex: uint64(cmd.index)})
	case cmdJumpPlaylist:
		idx, err := c.jump(cmd.index)
		if err != nil {
			c.s.log.Error().Str("Method", "handleCommand").Err(err).Msg("cannot jump in playlist")
			return nil
		}
		return c.send(fcast.OpSetPlaylistItem, fcast.SetPlaylistItem{ItemIndex: uint64(idx)})
	case cmdResume:
		return c.send(fcast.OpResume, nil)
	case cmdPause:
		return c.send(fcast.OpPause, nil)
	case cmdStop:
		if err := c.send(fcast.OpStop, nil); err != nil {
			return err
		}
		c.state.setPlayback(c.s.events, PlaybackIdle)
	case cmdSeek:
		return c.send(fcast.OpSeek, fcast.SeekMessage{Time: cmd.value})
	case cmdVolume:
		return c.send(fcast.OpSetVolume, fcast.SetVolumeMessage{Volume: cmd.value})
	case cmdSpeed:
		return c.send(fcast.OpSetSpeed, fcast.SetSpeedMessage{Speed: cmd.value})
	case cmdSubscribe, cmdUnsubscribe:
		if c.version.Load() < 3 {
			c.s.log.Error().Str("Method", "handleCommand").Msg("event subscriptions need protocol version 3")
			return nil
		}
		for _, obj := range subscriptionObjects(cmd.sub) {
			var err error
			if cmd.kind == cmdSubscribe {
				err = c.send(fcast.OpSubscribeEvent, fcast.SubscribeEvent{Event: obj})
			} else {
				err = c.send(fcast.OpUnsubscribeEvent, fcast.UnsubscribeEvent{Event: obj})
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// jump moves the playlist position by delta, wrapping at both ends.
func (c *fcastConn) jump(delta int) (int, error) {
	if c.playlistLen == 0 {
		return 0, errNoPlaylist
	}
	if delta < 0 && c.playlistIndex == 0 {
		c.playlistIndex = c.playlistLen - 1
	} else {
		c.playlistIndex = ((c.playlistIndex+delta)%c.playlistLen + c.playlistLen) % c.playlistLen
	}
	return c.playlistIndex, nil
}

func (c *fcastConn) load(req *loadRequest) error {
	var url, content *string
	if req.url != "" {
		url = &req.url
	} else {
		content = &req.content
	}

	start := req.resume
	if start == nil {
		zero := 0.0
		start = &zero
	}

	if c.version.Load() >= 3 {
		return c.send(fcast.OpPlay, fcast.PlayV3{
			Container: req.contentType,
			URL:       url,
			Content:   content,
			Time:      start,
			Volume:    req.opts.volume,
			Speed:     req.speed,
			Headers:   req.opts.headers,
			Metadata:  metadataToFCast(req.opts.metadata),
		})
	}

	if err := c.send(fcast.OpPlay, fcast.PlayV2{
		Container: req.contentType,
		URL:       url,
		Content:   content,
		Time:      start,
		Speed:     req.speed,
		Headers:   req.opts.headers,
	}); err != nil {
		return err
	}
	if req.opts.volume != nil {
		return c.send(fcast.OpSetVolume, fcast.SetVolumeMessage{Volume: *req.opts.volume})
	}
	return nil
}

func (c *fcastConn) loadPlaylist(items []PlaylistItem) error {
	pl := fcast.PlaylistContent{ContentType: fcast.ContentPlaylist, Items: make([]fcast.MediaItem, 0, len(items))}
	for _, it := range items {
		url := it.URL
		pl.Items = append(pl.Items, fcast.MediaItem{Container: it.ContentType, URL: &url, Time: it.StartTime})
	}

	b, err := json.Marshal(pl)
	if err != nil {
		c.s.log.Error().Str("Method", "loadPlaylist").Err(err).Msg("failed to serialize playlist")
		return nil
	}

	if err := c.load(&loadRequest{contentType: fcast.PlaylistMimeType, content: string(b)}); err != nil {
		return err
	}
	c.playlistLen, c.playlistIndex = len(items), 0
	return nil
}

func subscriptionObjects(sub GenericEventSubscription) []fcast.EventSubscribeObject {
	if sub == SubscribeKeys {
		return []fcast.EventSubscribeObject{
			{Type: fcast.EventKeyDown, Keys: fcast.AllKeys()},
			{Type: fcast.EventKeyUp, Keys: fcast.AllKeys()},
		}
	}
	return []fcast.EventSubscribeObject{
		{Type: fcast.EventMediaItemStart},
		{Type: fcast.EventMediaItemEnd},
		{Type: fcast.EventMediaItemChange},
	}
}

func playbackFromFCast(s fcast.PlaybackState) PlaybackState {
	switch s {
	case fcast.PlaybackPlaying:
		return PlaybackPlaying
	case fcast.PlaybackPaused:
		return PlaybackPaused
	}
	return PlaybackIdle
}

func metadataToFCast(m *Metadata) *fcast.MetadataObject {
	if m == nil {
		return nil
	}
	return &fcast.MetadataObject{Title: optString(m.Title), ThumbnailURL: optString(m.ThumbnailURL)}
}

func mediaItemFromFCast(it fcast.MediaItem) MediaItem {
	out := MediaItem{
		ContentType:  it.Container,
		Time:         it.Time,
		Volume:       it.Volume,
		Speed:        it.Speed,
		ShowDuration: it.ShowDuration,
	}
	if it.URL != nil {
		out.URL = *it.URL
	}
	if it.Content != nil {
		out.Content = *it.Content
	}
	if it.Metadata != nil {
		m := Metadata{}
		if it.Metadata.Title != nil {
			m.Title = *it.Metadata.Title
		}
		if it.Metadata.ThumbnailURL != nil {
			m.ThumbnailURL = *it.Metadata.ThumbnailURL
		}
		out.Metadata = &m
	}
	return out
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
