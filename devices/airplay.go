package devices

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"go2tv.app/castkit/internal/identity"
)

var errHTTPStatus = errors.New("devices: unexpected http status")

const (
	airPlayUserAgent = "MediaControl/1.0"
	// maxImageSize bounds images fetched for /photo.
	maxImageSize = 32 << 20
)

type airPlayDevice struct {
	base
}

func newAirPlayDevice(info DeviceInfo, o *options) CastingDevice {
	d := &airPlayDevice{}
	d.base.init(info, o, d.supportsFeature, d.work)
	return d
}

func (d *airPlayDevice) supportsFeature(f DeviceFeature) bool {
	switch f {
	case FeatureSetSpeed, FeatureLoadURL, FeatureLoadImage:
		return true
	}
	return false
}

// airPlayDeviceID renders a MAC style id the way the header expects it.
func airPlayDeviceID(mac string) string {
	return "0x" + strings.ToLower(strings.ReplaceAll(mac, ":", ""))
}

type airPlayConn struct {
	s         *session
	client    *retryablehttp.Client
	baseURL   string
	sessionID string
	state     playerState
}

func (d *airPlayDevice) work(ctx context.Context, s *session) error {
	conn, err := s.race(ctx, nil)
	if err != nil {
		if ctx.Err() != nil {
			s.log.Debug().Str("Method", "work").Msg("quit while connecting")
			return nil
		}
		return err
	}
	// The race only proves the receiver is reachable, control runs over
	// HTTP requests of their own.
	remote := conn.RemoteAddr().String()
	s.connected(conn)
	conn.Close()

	c := &airPlayConn{
		s:         s,
		client:    newHTTPClient(s.opts),
		baseURL:   "http://" + remote,
		sessionID: identity.SessionID(remote),
	}
	return c.serve(ctx)
}

func (c *airPlayConn) serve(ctx context.Context) error {
	poll := time.NewTicker(c.s.opts.statusInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			c.s.events.state(Disconnecting)
			c.s.drain(func(cmd command) error {
				return c.dispatch(context.Background(), cmd)
			})
			return nil
		case cmd := <-c.s.cmds:
			if err := c.dispatch(ctx, cmd); err != nil {
				return err
			}
		case <-poll.C:
			if err := c.pollScrub(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				return err
			}
		}
	}
}

func (c *airPlayConn) do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	var rb any
	if body != nil {
		rb = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, rb)
	if err != nil {
		return nil, fmt.Errorf("airplay request error: %w", err)
	}

	req.Header.Set("X-Apple-Device-ID", airPlayDeviceID(identity.DeviceID()))
	req.Header.Set("X-Apple-Session-ID", c.sessionID)
	req.Header.Set("User-Agent", airPlayUserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.s.log.Debug().Str("Method", method).Str("Path", path).Msg("airplay request")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("airplay %s %s error: %w", method, path, err)
	}
	defer res.Body.Close()

	out, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("airplay read body error: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s %s: %d", errHTTPStatus, method, path, res.StatusCode)
	}
	return out, nil
}

func (c *airPlayConn) post(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodPost, path, "", nil)
	return err
}

func formatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// dispatch runs cmd. A receiver that answers with an error status is still
// there, only requests that got no answer end the session.
func (c *airPlayConn) dispatch(ctx context.Context, cmd command) error {
	return c.s.commandFailed(cmd, c.handleCommand(ctx, cmd), func(err error) bool {
		return !errors.Is(err, errHTTPStatus)
	})
}

func (c *airPlayConn) handleCommand(ctx context.Context, cmd command) error {
	c.s.log.Debug().Str("Method", "handleCommand").Str("Command", cmd.kind.String()).Msg("received command")

	switch cmd.kind {
	case cmdLoad:
		if cmd.load.image {
			return c.photo(ctx, cmd.load.url)
		}
		return c.play(ctx, cmd.load)
	case cmdPause:
		return c.post(ctx, "/rate?value="+formatRate(0))
	case cmdResume:
		return c.post(ctx, "/rate?value="+formatRate(1))
	case cmdSpeed:
		return c.post(ctx, "/rate?value="+formatRate(cmd.value))
	case cmdSeek:
		return c.post(ctx, "/scrub?position="+formatRate(cmd.value))
	case cmdStop:
		if err := c.post(ctx, "/stop"); err != nil {
			return err
		}
		c.state.setPlayback(c.s.events, PlaybackIdle)
	default:
		c.s.log.Warn().Str("Method", "handleCommand").Str("Command", cmd.kind.String()).Msg("unsupported command")
	}
	return nil
}

func (c *airPlayConn) play(ctx context.Context, req *loadRequest) error {
	body := fmt.Sprintf("Content-Location: %s\r\nStart-Position: 0\r\n", req.url)
	if _, err := c.do(ctx, http.MethodPost, "/play", "text/parameters", []byte(body)); err != nil {
		return err
	}

	if req.resume != nil && *req.resume > 0 {
		if err := c.post(ctx, "/scrub?position="+formatRate(*req.resume)); err != nil {
			return err
		}
	}
	if req.speed != nil {
		if err := c.post(ctx, "/rate?value="+formatRate(*req.speed)); err != nil {
			return err
		}
	}

	c.state.setSource(c.s.events, Source{URL: req.url, ContentType: req.contentType})
	c.state.setPlayback(c.s.events, PlaybackPlaying)
	return nil
}

// photo fetches the image and pushes its bytes, receivers do not fetch
// photos themselves.
func (c *airPlayConn) photo(ctx context.Context, url string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("airplay photo request error: %w", err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		c.s.log.Error().Str("Method", "photo").Err(err).Msg("failed to fetch image")
		c.s.events.playbackError(err.Error())
		return nil
	}
	defer res.Body.Close()

	img, err := io.ReadAll(io.LimitReader(res.Body, maxImageSize))
	if err != nil {
		c.s.events.playbackError(err.Error())
		return nil
	}

	if _, err := c.do(ctx, http.MethodPut, "/photo", "image/jpeg", img); err != nil {
		return err
	}
	c.state.setSource(c.s.events, Source{URL: url, ContentType: res.Header.Get("Content-Type")})
	return nil
}

func (c *airPlayConn) pollScrub(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, "/scrub", "", nil)
	if errors.Is(err, errHTTPStatus) {
		c.s.log.Debug().Str("Method", "pollScrub").Err(err).Msg("no playback info")
		return nil
	}
	if err != nil {
		return err
	}
	duration, position, ok := parseScrub(body)
	if !ok {
		c.s.log.Debug().Str("Method", "pollScrub").Bytes("Body", body).Msg("malformed scrub body")
		return nil
	}
	c.state.setDuration(c.s.events, duration)
	c.state.setTime(c.s.events, position)
	return nil
}

// parseScrub reads "duration: x\nposition: y".
func parseScrub(body []byte) (duration, position float64, ok bool) {
	var haveDuration, havePosition bool
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		key, value, found := strings.Cut(sc.Text(), ":")
		if !found {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		switch strings.TrimSpace(key) {
		case "duration":
			duration, haveDuration = v, true
		case "position":
			position, havePosition = v, true
		}
	}
	return duration, position, haveDuration && havePosition
}
