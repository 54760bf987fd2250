package devices

import (
	"io"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"go2tv.app/castkit/internal/connect"
)

// SenderInfo identifies this application to receivers that ask for it.
type SenderInfo struct {
	DisplayName string
	AppName     string
	AppVersion  string
}

const (
	defaultReconnectInterval = time.Second
	defaultMaxRetries        = 5
	defaultFeedbackInterval  = 2 * time.Second
	defaultStatusInterval    = time.Second
)

type options struct {
	logger            zerolog.Logger
	reconnectInterval time.Duration
	maxRetries        int
	limiter           *rate.Limiter
	connectTimeout    time.Duration
	feedbackInterval  time.Duration
	statusInterval    time.Duration
	sender            SenderInfo
	dialer            connect.DialFunc
	webSocket         bool
	httpClient        *retryablehttp.Client
}

func defaultOptions() *options {
	return &options{
		logger:            zerolog.New(io.Discard),
		reconnectInterval: defaultReconnectInterval,
		maxRetries:        defaultMaxRetries,
		connectTimeout:    connect.DefaultTimeout,
		feedbackInterval:  defaultFeedbackInterval,
		statusInterval:    defaultStatusInterval,
		sender:            SenderInfo{AppName: "castkit", AppVersion: "dev"},
	}
}

func (o *options) clone() *options {
	c := *o
	return &c
}

func (o *options) policy() connect.Policy {
	return connect.Policy{
		Interval:   o.reconnectInterval,
		MaxRetries: o.maxRetries,
		Limiter:    o.limiter,
		Logger:     &o.logger,
	}
}

// Option configures a device. Options passed to Connect override the ones
// given to New for that connection only.
type Option func(*options)

// ConnectOption is accepted by CastingDevice.Connect.
type ConnectOption = Option

// WithLogger sets the logger used by the connection goroutine.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithLogOutput logs JSON lines to w.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) {
		o.logger = zerolog.New(w).With().Timestamp().Logger()
	}
}

// WithReconnect sets the delay between connection attempts and how many
// retries follow a failure. An interval of zero disables reconnecting and a
// negative maxRetries never gives up.
func WithReconnect(interval time.Duration, maxRetries int) Option {
	return func(o *options) {
		o.reconnectInterval = interval
		o.maxRetries = maxRetries
	}
}

// WithRateLimit caps how often connection attempts may start.
func WithRateLimit(every time.Duration) Option {
	return func(o *options) {
		o.limiter = rate.NewLimiter(rate.Every(every), 1)
	}
}

// WithConnectTimeout bounds each address dial.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

// WithFeedbackInterval sets the AirPlay keep alive period.
func WithFeedbackInterval(d time.Duration) Option {
	return func(o *options) {
		o.feedbackInterval = d
	}
}

// WithStatusInterval sets how often AirPlay playback info is polled.
func WithStatusInterval(d time.Duration) Option {
	return func(o *options) {
		o.statusInterval = d
	}
}

// WithSenderInfo sets the name announced to FCast receivers.
func WithSenderInfo(s SenderInfo) Option {
	return func(o *options) {
		o.sender = s
	}
}

// WithDialer replaces the per address dialer. Chromecast defaults to TLS,
// every other protocol to plain TCP.
func WithDialer(d connect.DialFunc) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithWebSocket runs FCast framing over a WebSocket upgraded on the
// connected socket.
func WithWebSocket() Option {
	return func(o *options) {
		o.webSocket = true
	}
}

// WithHTTPClient sets the client AirPlay uses for its HTTP control
// channel.
func WithHTTPClient(c *retryablehttp.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

type loadOptions struct {
	volume   *float64
	metadata *Metadata
	headers  map[string]string
	subtitle string
	live     bool
}

// LoadOption adds optional fields to a load request. Receivers that cannot
// carry a field ignore it.
type LoadOption func(*loadOptions)

// WithVolume starts playback at volume v.
func WithVolume(v float64) LoadOption {
	return func(o *loadOptions) {
		o.volume = &v
	}
}

// WithMetadata attaches a title and thumbnail.
func WithMetadata(m Metadata) LoadOption {
	return func(o *loadOptions) {
		o.metadata = &m
	}
}

// WithRequestHeaders are sent by the receiver when it fetches the URL.
func WithRequestHeaders(h map[string]string) LoadOption {
	return func(o *loadOptions) {
		o.headers = h
	}
}

// WithSubtitles attaches a WebVTT subtitle track.
func WithSubtitles(url string) LoadOption {
	return func(o *loadOptions) {
		o.subtitle = url
	}
}

// WithLive marks the media as a live stream.
func WithLive() LoadOption {
	return func(o *loadOptions) {
		o.live = true
	}
}

func applyLoadOptions(opts []LoadOption) loadOptions {
	var lo loadOptions
	for _, opt := range opts {
		opt(&lo)
	}
	return lo
}

func newHTTPClient(o *options) *retryablehttp.Client {
	if o.httpClient != nil {
		return o.httpClient
	}
	c := retryablehttp.NewClient()
	c.Logger = nil
	c.RetryMax = 2
	c.HTTPClient.Timeout = 5 * time.Second
	return c
}
