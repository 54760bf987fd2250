package devices

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"time"

	"go2tv.app/castkit/castprotocol"
	"go2tv.app/castkit/transport"
)

type chromecastDevice struct {
	base
}

func newChromecastDevice(info DeviceInfo, o *options) CastingDevice {
	d := &chromecastDevice{}
	d.base.init(info, o, d.supportsFeature, d.work)
	return d
}

func (d *chromecastDevice) supportsFeature(f DeviceFeature) bool {
	switch f {
	case FeatureSetVolume, FeatureSetSpeed, FeatureLoadURL, FeatureLoadImage:
		return true
	}
	return false
}

// dialTLS accepts the self signed certificates receivers present.
func dialTLS(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
	d := tls.Dialer{Config: &tls.Config{InsecureSkipVerify: true}}
	return d.DialContext(ctx, "tcp", addr.String())
}

type chromecastConn struct {
	s      *session
	client *castprotocol.CastClient
	appID  string
	status castprotocol.CastStatus
	// pending is loaded once the media receiver application runs.
	pending *loadRequest
}

func (d *chromecastDevice) work(ctx context.Context, s *session) error {
	conn, err := s.race(ctx, dialTLS)
	if err != nil {
		if ctx.Err() != nil {
			s.log.Debug().Str("Method", "work").Msg("quit while connecting")
			return nil
		}
		return err
	}

	client := castprotocol.NewCastClient(transport.NewTCP(conn))
	client.Logger = s.log

	c := &chromecastConn{s: s, client: client, appID: castprotocol.DefaultMediaReceiverAppID}
	return c.serve(ctx, conn)
}

func (c *chromecastConn) serve(ctx context.Context, conn net.Conn) error {
	r := startReader(c.client.Read)
	defer r.close()
	defer c.client.Close()

	if err := c.client.Connect(castprotocol.DefaultReceiver); err != nil {
		return fmt.Errorf("chromecast connect error: %w", err)
	}
	if _, err := c.client.Send(castprotocol.DefaultReceiver, castprotocol.NamespaceReceiver, castprotocol.Request(castprotocol.TypeGetStatus)); err != nil {
		return fmt.Errorf("chromecast status error: %w", err)
	}

	c.s.connected(conn)

	poll := time.NewTicker(c.s.opts.statusInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			c.s.events.state(Disconnecting)
			c.s.drain(c.dispatch)
			c.closeChannels()
			return nil
		case err := <-r.errs:
			return fmt.Errorf("chromecast read error: %w", err)
		case m := <-r.items:
			if err := c.handleMessage(m); err != nil {
				return err
			}
		case cmd := <-c.s.cmds:
			if err := c.dispatch(cmd); err != nil {
				return err
			}
		case <-poll.C:
			if err := c.pollStatus(); err != nil {
				return err
			}
		}
	}
}

func (c *chromecastConn) closeChannels() {
	if c.status.TransportID != "" {
		_, _ = c.client.Send(c.status.TransportID, castprotocol.NamespaceConnection, castprotocol.Request(castprotocol.TypeClose))
	}
	_, _ = c.client.Send(castprotocol.DefaultReceiver, castprotocol.NamespaceConnection, castprotocol.Request(castprotocol.TypeClose))
}

func (c *chromecastConn) pollStatus() error {
	if c.status.MediaSessionID == 0 {
		return nil
	}
	_, err := c.client.Send(c.status.TransportID, castprotocol.NamespaceMedia,
		castprotocol.NewMediaRequest(castprotocol.TypeGetStatus, c.status.MediaSessionID))
	return err
}

func (c *chromecastConn) handleMessage(m castprotocol.Message) error {
	log := c.s.log.With().Str("Method", "handleMessage").Str("Namespace", m.Namespace).Logger()

	typ, err := castprotocol.PayloadType(m.Payload)
	if err != nil {
		log.Error().Err(err).Msg("malformed payload")
		return nil
	}

	switch typ {
	case castprotocol.TypePing:
		_, err := c.client.Send(m.SourceID, castprotocol.NamespaceHeartbeat, castprotocol.Request(castprotocol.TypePong))
		return err

	case castprotocol.TypeClose:
		if m.SourceID == c.status.TransportID {
			c.status.TransportID, c.status.MediaSessionID = "", 0
		}

	case castprotocol.TypeReceiverStatus:
		rs, err := castprotocol.ParseReceiverStatus(m.Payload)
		if err != nil {
			log.Error().Err(err).Msg("malformed receiver status")
			return nil
		}
		return c.receiverStatus(rs)

	case castprotocol.TypeMediaStatus:
		statuses, err := castprotocol.ParseMediaStatus(m.Payload)
		if err != nil {
			log.Error().Err(err).Msg("malformed media status")
			return nil
		}
		for _, ms := range statuses {
			c.mediaStatus(ms)
		}

	case castprotocol.TypeLaunchError, castprotocol.TypeLoadFailed:
		log.Error().Str("Type", typ).Msg("receiver rejected request")
		c.s.events.playbackError(typ)

	case castprotocol.TypeInvalidRequest:
		log.Error().Str("Payload", m.Payload).Msg("invalid request")

	default:
		log.Debug().Str("Type", typ).Msg("message ignored")
	}

	return nil
}

func (c *chromecastConn) receiverStatus(rs castprotocol.ReceiverStatus) error {
	prev := c.status.TransportID
	if c.status.UpdateReceiver(rs, c.appID)&castprotocol.ChangedVolume != 0 {
		c.s.events.volume(c.status.Volume)
	}

	if c.status.TransportID == "" || c.status.TransportID == prev {
		return nil
	}

	if err := c.client.Connect(c.status.TransportID); err != nil {
		return err
	}
	if _, err := c.client.Send(c.status.TransportID, castprotocol.NamespaceMedia, castprotocol.Request(castprotocol.TypeGetStatus)); err != nil {
		return err
	}

	if c.pending != nil {
		req := c.pending
		c.pending = nil
		return c.load(req)
	}
	return nil
}

func (c *chromecastConn) mediaStatus(ms castprotocol.MediaStatus) {
	ch := c.status.UpdateMedia(ms)
	ev := c.s.events

	if ch&castprotocol.ChangedSource != 0 {
		ev.source(Source{URL: c.status.ContentID, ContentType: c.status.ContentType})
	}
	if ch&castprotocol.ChangedState != 0 {
		ev.playback(playbackFromCast(c.status.PlayerState))
	}
	if ch&castprotocol.ChangedTime != 0 {
		ev.time(c.status.CurrentTime)
	}
	if ch&castprotocol.ChangedDuration != 0 {
		ev.duration(c.status.Duration)
	}
	if ch&castprotocol.ChangedSpeed != 0 {
		ev.speed(c.status.Speed)
	}
}

func playbackFromCast(s string) PlaybackState {
	switch s {
	case castprotocol.PlayerPlaying:
		return PlaybackPlaying
	case castprotocol.PlayerPaused:
		return PlaybackPaused
	case castprotocol.PlayerBuffering:
		return PlaybackBuffering
	}
	return PlaybackIdle
}

func (c *chromecastConn) load(req *loadRequest) error {
	if c.status.TransportID == "" {
		c.pending = req
		_, err := c.client.Send(castprotocol.DefaultReceiver, castprotocol.NamespaceReceiver, castprotocol.NewLaunch(c.appID))
		return err
	}

	opts := castprotocol.LoadOptions{
		Duration:    req.duration,
		SubtitleURL: req.opts.subtitle,
		Live:        req.opts.live,
	}
	if req.resume != nil {
		opts.StartTime = *req.resume
	}
	if req.speed != nil {
		opts.Speed = *req.speed
	}
	if req.opts.metadata != nil {
		opts.Title = req.opts.metadata.Title
	}

	_, err := c.client.Send(c.status.TransportID, castprotocol.NamespaceMedia, castprotocol.NewLoad(req.url, req.contentType, opts))
	if err != nil {
		return err
	}
	if req.opts.volume != nil {
		_, err = c.client.Send(castprotocol.DefaultReceiver, castprotocol.NamespaceReceiver, castprotocol.NewSetVolume(*req.opts.volume))
	}
	return err
}

// mediaCommand sends typ to the current media session, if there is one.
func (c *chromecastConn) mediaCommand(cmd command) error {
	sid := c.status.MediaSessionID
	if sid == 0 {
		c.s.log.Warn().Str("Method", "mediaCommand").Str("Command", cmd.kind.String()).Msg("no media session")
		return nil
	}

	var p castprotocol.MediaRequest
	switch cmd.kind {
	case cmdSeek:
		_, err := c.client.Send(c.status.TransportID, castprotocol.NamespaceMedia, castprotocol.NewSeek(sid, cmd.value))
		return err
	case cmdSpeed:
		_, err := c.client.Send(c.status.TransportID, castprotocol.NamespaceMedia, castprotocol.NewSetPlaybackRate(sid, cmd.value))
		return err
	case cmdResume:
		p = *castprotocol.NewMediaRequest(castprotocol.TypePlay, sid)
	case cmdPause:
		p = *castprotocol.NewMediaRequest(castprotocol.TypePause, sid)
	case cmdStop:
		p = *castprotocol.NewMediaRequest(castprotocol.TypeStop, sid)
	}
	_, err := c.client.Send(c.status.TransportID, castprotocol.NamespaceMedia, &p)
	return err
}

// dispatch runs cmd. Payloads that fail to encode or exceed the frame
// limit are dropped; a failed write ends the session.
func (c *chromecastConn) dispatch(cmd command) error {
	return c.s.commandFailed(cmd, c.handleCommand(cmd), isIOError)
}

func (c *chromecastConn) handleCommand(cmd command) error {
	c.s.log.Debug().Str("Method", "handleCommand").Str("Command", cmd.kind.String()).Msg("received command")

	switch cmd.kind {
	case cmdLoad:
		return c.load(cmd.load)
	case cmdResume, cmdPause, cmdStop, cmdSeek, cmdSpeed:
		return c.mediaCommand(cmd)
	case cmdVolume:
		_, err := c.client.Send(castprotocol.DefaultReceiver, castprotocol.NamespaceReceiver, castprotocol.NewSetVolume(cmd.value))
		return err
	default:
		c.s.log.Warn().Str("Method", "handleCommand").Str("Command", cmd.kind.String()).Msg("unsupported command")
	}
	return nil
}
