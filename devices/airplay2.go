package devices

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"go2tv.app/castkit/airplay"
	"go2tv.app/castkit/plist"
	"go2tv.app/castkit/rtsp"
	"go2tv.app/castkit/transport"
)

var errRTSPStatus = errors.New("devices: unexpected rtsp status")

const (
	airPlay2UserAgent = "AirPlay/381.13"
	plistContentType  = "application/x-apple-binary-plist"
	rtspTimeout       = 5 * time.Second
)

type airPlay2Device struct {
	base
	receiver atomic.Pointer[airplay.Info]
}

func newAirPlay2Device(info DeviceInfo, o *options) CastingDevice {
	d := &airPlay2Device{}
	d.base.init(info, o, d.supportsFeature, d.work)
	return d
}

// Playback needs a paired, encrypted session, which is not implemented.
func (d *airPlay2Device) supportsFeature(DeviceFeature) bool {
	return false
}

// ReceiverInfo returns what the receiver reported in /info on the last
// connection, or false before that.
func (d *airPlay2Device) ReceiverInfo() (airplay.Info, bool) {
	if p := d.receiver.Load(); p != nil {
		return *p, true
	}
	return airplay.Info{}, false
}

func (d *airPlay2Device) PlaybackResume() error { return ErrUnsupportedFeature }

func (d *airPlay2Device) PlaybackPause() error { return ErrUnsupportedFeature }

func (d *airPlay2Device) PlaybackStop() error { return ErrUnsupportedFeature }

func (d *airPlay2Device) Seek(float64) error { return ErrUnsupportedFeature }

func (d *airPlay2Device) StopCasting() error {
	return d.Disconnect()
}

type airPlay2Conn struct {
	s    *session
	conn net.Conn
	rtsp *rtsp.Conn
}

func (d *airPlay2Device) work(ctx context.Context, s *session) error {
	conn, err := s.race(ctx, nil)
	if err != nil {
		if ctx.Err() != nil {
			s.log.Debug().Str("Method", "work").Msg("quit while connecting")
			return nil
		}
		return err
	}

	t := transport.NewTCP(conn)
	defer t.Shutdown()

	c := &airPlay2Conn{s: s, conn: conn, rtsp: rtsp.NewConn(t)}

	info, err := c.fetchInfo()
	if err != nil {
		return err
	}
	d.receiver.Store(&info)
	if d.Name() == "" && info.Name != "" {
		d.SetName(info.Name)
	}
	s.log.Debug().Str("Method", "work").Str("Model", info.Model).Uint64("Features", uint64(info.Features)).Msg("receiver info")

	s.connected(conn)

	return c.serve(ctx)
}

func (c *airPlay2Conn) roundTrip(req *rtsp.Request) (*rtsp.Response, error) {
	if err := c.conn.SetDeadline(time.Now().Add(rtspTimeout)); err != nil {
		return nil, err
	}
	c.s.log.Debug().Str("Method", string(req.Method)).Str("Path", req.Path).Msg("rtsp request")
	return c.rtsp.RoundTrip(req)
}

func (c *airPlay2Conn) fetchInfo() (airplay.Info, error) {
	body, err := plist.Marshal(map[string]any{"qualifier": []string{"txtAirPlay"}})
	if err != nil {
		return airplay.Info{}, fmt.Errorf("airplay2 info request error: %w", err)
	}

	res, err := c.roundTrip(&rtsp.Request{
		Method: rtsp.MethodGet,
		Path:   "/info",
		Headers: []rtsp.Header{
			{Key: "X-Apple-ProtocolVersion", Value: "1"},
			{Key: "CSeq", Value: c.rtsp.NextCSeq()},
			{Key: "User-Agent", Value: airPlay2UserAgent},
			{Key: "Content-Type", Value: plistContentType},
			{Key: "Content-Length", Value: strconv.Itoa(len(body))},
		},
		Body: body,
	})
	if err != nil {
		return airplay.Info{}, fmt.Errorf("airplay2 info error: %w", err)
	}
	if res.Status != rtsp.StatusOK {
		return airplay.Info{}, fmt.Errorf("%w: /info %s", errRTSPStatus, res.Status)
	}

	return airplay.DecodeInfo(res.Body)
}

func (c *airPlay2Conn) feedback() error {
	res, err := c.roundTrip(&rtsp.Request{
		Method: rtsp.MethodPost,
		Path:   "/feedback",
		Headers: []rtsp.Header{
			{Key: "User-Agent", Value: airPlay2UserAgent},
			{Key: "X-Apple-HKP", Value: "3"},
			{Key: "CSeq", Value: c.rtsp.NextCSeq()},
			{Key: "Content-Length", Value: "0"},
		},
	})
	if err != nil {
		return fmt.Errorf("airplay2 feedback error: %w", err)
	}
	if res.Status != rtsp.StatusOK {
		c.s.log.Debug().Str("Method", "feedback").Str("Status", res.Status.String()).Msg("feedback rejected")
	}
	return nil
}

func (c *airPlay2Conn) serve(ctx context.Context) error {
	feedback := time.NewTicker(c.s.opts.feedbackInterval)
	defer feedback.Stop()

	for {
		select {
		case <-ctx.Done():
			c.s.events.state(Disconnecting)
			return nil
		case cmd := <-c.s.cmds:
			c.s.log.Warn().Str("Method", "serve").Str("Command", cmd.kind.String()).Msg("unsupported command")
		case <-feedback.C:
			if err := c.feedback(); err != nil {
				return err
			}
		}
	}
}
