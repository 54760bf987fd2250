package devices

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/netip"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"go2tv.app/castkit/internal/connect"
	"go2tv.app/castkit/transport"
)

const commandBuffer = 64

type commandKind int

const (
	cmdLoad commandKind = iota
	cmdLoadPlaylist
	cmdSetPlaylistItem
	cmdJumpPlaylist
	cmdResume
	cmdPause
	cmdStop
	cmdSeek
	cmdVolume
	cmdSpeed
	cmdSubscribe
	cmdUnsubscribe
)

var commandNames = map[commandKind]string{
	cmdLoad:            "Load",
	cmdLoadPlaylist:    "LoadPlaylist",
	cmdSetPlaylistItem: "SetPlaylistItem",
	cmdJumpPlaylist:    "JumpPlaylist",
	cmdResume:          "Resume",
	cmdPause:           "Pause",
	cmdStop:            "Stop",
	cmdSeek:            "Seek",
	cmdVolume:          "ChangeVolume",
	cmdSpeed:           "ChangeSpeed",
	cmdSubscribe:       "Subscribe",
	cmdUnsubscribe:     "Unsubscribe",
}

func (k commandKind) String() string {
	return commandNames[k]
}

type loadRequest struct {
	contentType string
	url         string
	content     string
	resume      *float64
	duration    float64
	speed       *float64
	image       bool
	opts        loadOptions
}

// command is one queued facade call. Only the fields of its kind are set.
type command struct {
	kind     commandKind
	load     *loadRequest
	playlist []PlaylistItem
	value    float64
	index    int
	sub      GenericEventSubscription
}

// session is what a connection goroutine works with. It outlives single
// connection attempts.
type session struct {
	addrs       []netip.AddrPort
	cmds        <-chan command
	events      *emitter
	opts        *options
	log         zerolog.Logger
	established connect.Established
}

// race dials every address and returns the first connection.
func (s *session) race(ctx context.Context, dial connect.DialFunc) (net.Conn, error) {
	if dial == nil {
		dial = connect.DialTCP
	}
	if s.opts.dialer != nil {
		dial = s.opts.dialer
	}
	return connect.Race(ctx, s.addrs, s.opts.connectTimeout, dial)
}

// connected reports Connected for conn and resets the retry budget.
func (s *session) connected(conn net.Conn) {
	s.log.Info().Str("Method", "connected").Str("Remote", conn.RemoteAddr().String()).Msg("connected")
	s.events.connection(ConnectionStatus{
		State:          Connected,
		UsedRemoteAddr: addrOf(conn.RemoteAddr()),
		LocalAddr:      addrOf(conn.LocalAddr()),
	})
	s.established()
}

// commandFailed decides what a failed command means for the session. Only
// errors for which lost reports true end it; anything else drops the
// command and the session goes on.
func (s *session) commandFailed(cmd command, err error, lost func(error) bool) error {
	if err == nil || lost(err) {
		return err
	}
	s.log.Error().Str("Method", cmd.kind.String()).Err(err).Msg("command dropped")
	return nil
}

// drain hands every already queued command to handle. It runs on quit so
// a stop queued right before Disconnect still reaches the receiver.
func (s *session) drain(handle func(command) error) {
	for {
		select {
		case cmd := <-s.cmds:
			if err := handle(cmd); err != nil {
				s.log.Debug().Str("Method", "drain").Err(err).Msg("command dropped on quit")
				return
			}
		default:
			return
		}
	}
}

func isIOError(err error) bool {
	return errors.Is(err, transport.ErrIO)
}

func addrOf(a net.Addr) netip.Addr {
	if a == nil {
		return netip.Addr{}
	}
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return netip.Addr{}
	}
	return ap.Addr().Unmap()
}

// reader runs read in its own goroutine and hands results over channels,
// so the connection goroutine can select on them. The goroutine ends on
// the first read error, which is what shutting the transport down causes.
type reader[T any] struct {
	items chan T
	errs  chan error
	stop  chan struct{}
}

func startReader[T any](read func() (T, error)) *reader[T] {
	r := &reader[T]{
		items: make(chan T),
		errs:  make(chan error, 1),
		stop:  make(chan struct{}),
	}
	go func() {
		for {
			v, err := read()
			if err != nil {
				r.errs <- err
				return
			}
			select {
			case r.items <- v:
			case <-r.stop:
				return
			}
		}
	}()
	return r
}

func (r *reader[T]) close() {
	close(r.stop)
}

type workFunc func(ctx context.Context, s *session) error

// base holds what every device variant shares: the device info, the
// command queue of the running connection and the facade methods that only
// queue commands.
type base struct {
	mu       sync.Mutex
	info     DeviceInfo
	opts     *options
	started  bool
	runs     uint64
	cmds     chan command
	cancel   context.CancelFunc
	supports func(DeviceFeature) bool
	work     workFunc
}

func (b *base) init(info DeviceInfo, o *options, supports func(DeviceFeature) bool, work workFunc) {
	b.info = info
	b.opts = o
	b.supports = supports
	b.work = work
}

func (b *base) log() *zerolog.Logger {
	return &b.opts.logger
}

func (b *base) Protocol() ProtocolType {
	return b.info.Protocol
}

func (b *base) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.info.Addresses) > 0 && b.info.Port > 0 && b.info.Name != ""
}

func (b *base) SupportsFeature(f DeviceFeature) bool {
	return b.supports(f)
}

func (b *base) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info.Name
}

func (b *base) SetName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.info.Name = name
}

func (b *base) DeviceInfo() DeviceInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info.clone()
}

func (b *base) Addresses() []netip.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]netip.Addr(nil), b.info.Addresses...)
}

func (b *base) SetAddresses(addrs []netip.Addr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.info.Addresses = append([]netip.Addr(nil), addrs...)
}

func (b *base) Port() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info.Port
}

func (b *base) SetPort(port uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.info.Port = port
}

// Connect starts the connection goroutine. Events reach h until the
// goroutine reports Disconnected.
func (b *base) Connect(h EventHandler, opts ...ConnectOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrDeviceAlreadyStarted
	}
	addrs := b.info.AddrPorts()
	if len(addrs) == 0 {
		return ErrMissingAddresses
	}
	if h == nil {
		h = &BaseHandler{Logger: b.opts.logger}
	}

	o := b.opts.clone()
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmds := make(chan command, commandBuffer)
	b.started, b.cancel, b.cmds = true, cancel, cmds
	b.runs++
	run := b.runs

	s := &session{
		addrs:  addrs,
		cmds:   cmds,
		events: newEmitter(h),
		opts:   o,
		log: o.logger.With().
			Str("Protocol", b.info.Protocol.String()).
			Str("Device", b.info.Name).
			Logger(),
	}

	go b.run(ctx, run, s)

	return nil
}

func (b *base) run(ctx context.Context, run uint64, s *session) {
	s.events.state(Connecting)

	res := connect.Loop(ctx, s.opts.policy(), func(ctx context.Context, established connect.Established) error {
		s.established = established
		return b.work(ctx, s)
	}, func() {
		s.events.state(Reconnecting)
	})

	s.log.Debug().Str("Method", "run").Str("Outcome", res.Outcome.String()).Msg("connection goroutine finished")

	s.events.state(Disconnected)
	s.events.close()
	// the handler must be done with this run before another may start
	<-s.events.done

	b.mu.Lock()
	if b.runs == run {
		b.started, b.cancel, b.cmds = false, nil, nil
	}
	b.mu.Unlock()
}

// Disconnect asks the connection goroutine to quit. Calling it on an idle
// device is a no-op. Connect returns ErrDeviceAlreadyStarted until the
// handler has returned from the Disconnected callback.
func (b *base) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	// commands sent from now on have no connection to go to
	b.cancel, b.cmds = nil, nil
	return nil
}

func (b *base) send(cmd command) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmds == nil {
		b.log().Error().Str("Method", cmd.kind.String()).Msg("missing command queue")
		return ErrFailedToSendCommand
	}

	select {
	case b.cmds <- cmd:
		return nil
	default:
		return fmt.Errorf("%w: queue full", ErrFailedToSendCommand)
	}
}

// finite rejects NaN and infinities, which no wire format can carry.
func finite(vs ...float64) error {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %v", ErrInvalidValue, v)
		}
	}
	return nil
}

func finitePtr(vs ...*float64) error {
	for _, v := range vs {
		if v != nil {
			if err := finite(*v); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkVolume(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return ErrInvalidVolume
	}
	return nil
}

func (o loadOptions) check() error {
	if o.volume != nil {
		return checkVolume(*o.volume)
	}
	return nil
}

func (b *base) require(f DeviceFeature) error {
	if !b.supports(f) {
		return ErrUnsupportedFeature
	}
	return nil
}

func (b *base) LoadURL(contentType, url string, resumePosition, speed *float64, opts ...LoadOption) error {
	if err := b.require(FeatureLoadURL); err != nil {
		return err
	}
	if err := finitePtr(resumePosition, speed); err != nil {
		return err
	}
	o := applyLoadOptions(opts)
	if err := o.check(); err != nil {
		return err
	}
	return b.send(command{kind: cmdLoad, load: &loadRequest{
		contentType: contentType,
		url:         url,
		resume:      resumePosition,
		speed:       speed,
		opts:        o,
	}})
}

func (b *base) LoadVideo(contentType, url string, resumePosition float64, speed *float64, opts ...LoadOption) error {
	return b.LoadURL(contentType, url, &resumePosition, speed, opts...)
}

func (b *base) LoadContent(contentType, content string, resumePosition, duration float64, speed *float64, opts ...LoadOption) error {
	if err := b.require(FeatureLoadContent); err != nil {
		return err
	}
	if err := finite(resumePosition, duration); err != nil {
		return err
	}
	if err := finitePtr(speed); err != nil {
		return err
	}
	o := applyLoadOptions(opts)
	if err := o.check(); err != nil {
		return err
	}
	return b.send(command{kind: cmdLoad, load: &loadRequest{
		contentType: contentType,
		content:     content,
		resume:      &resumePosition,
		duration:    duration,
		speed:       speed,
		opts:        o,
	}})
}

func (b *base) LoadImage(contentType, url string, opts ...LoadOption) error {
	if err := b.require(FeatureLoadImage); err != nil {
		return err
	}
	o := applyLoadOptions(opts)
	if err := o.check(); err != nil {
		return err
	}
	return b.send(command{kind: cmdLoad, load: &loadRequest{
		contentType: contentType,
		url:         url,
		image:       true,
		opts:        o,
	}})
}

func (b *base) LoadPlaylist(items []PlaylistItem) error {
	if err := b.require(FeatureLoadPlaylist); err != nil {
		return err
	}
	for _, it := range items {
		if err := finitePtr(it.StartTime); err != nil {
			return err
		}
	}
	return b.send(command{kind: cmdLoadPlaylist, playlist: append([]PlaylistItem(nil), items...)})
}

func (b *base) PlaylistItemNext() error {
	if err := b.require(FeaturePlaylistNextAndPrevious); err != nil {
		return err
	}
	return b.send(command{kind: cmdJumpPlaylist, index: 1})
}

func (b *base) PlaylistItemPrevious() error {
	if err := b.require(FeaturePlaylistNextAndPrevious); err != nil {
		return err
	}
	return b.send(command{kind: cmdJumpPlaylist, index: -1})
}

func (b *base) PlaylistItemSet(index uint32) error {
	if err := b.require(FeatureSetPlaylistItemIndex); err != nil {
		return err
	}
	return b.send(command{kind: cmdSetPlaylistItem, index: int(index)})
}

func (b *base) PlaybackResume() error {
	return b.send(command{kind: cmdResume})
}

func (b *base) PlaybackPause() error {
	return b.send(command{kind: cmdPause})
}

func (b *base) PlaybackStop() error {
	return b.send(command{kind: cmdStop})
}

func (b *base) Seek(seconds float64) error {
	if err := finite(seconds); err != nil {
		return err
	}
	return b.send(command{kind: cmdSeek, value: seconds})
}

func (b *base) ChangeVolume(volume float64) error {
	if err := checkVolume(volume); err != nil {
		return err
	}
	if err := b.require(FeatureSetVolume); err != nil {
		return err
	}
	return b.send(command{kind: cmdVolume, value: volume})
}

func (b *base) ChangeSpeed(speed float64) error {
	if err := b.require(FeatureSetSpeed); err != nil {
		return err
	}
	if err := finite(speed); err != nil {
		return err
	}
	return b.send(command{kind: cmdSpeed, value: speed})
}

func subscriptionFeature(sub GenericEventSubscription) DeviceFeature {
	if sub == SubscribeKeys {
		return FeatureKeyEventSubscription
	}
	return FeatureMediaEventSubscription
}

func (b *base) SubscribeEvent(sub GenericEventSubscription) error {
	if !b.supports(subscriptionFeature(sub)) {
		return ErrUnsupportedSubscription
	}
	return b.send(command{kind: cmdSubscribe, sub: sub})
}

func (b *base) UnsubscribeEvent(sub GenericEventSubscription) error {
	if !b.supports(subscriptionFeature(sub)) {
		return ErrUnsupportedSubscription
	}
	return b.send(command{kind: cmdUnsubscribe, sub: sub})
}

func (b *base) StopCasting() error {
	if err := b.PlaybackStop(); err != nil {
		b.log().Error().Str("Method", "StopCasting").Err(err).Msg("failed to stop playback")
	}
	b.log().Info().Str("Method", "StopCasting").Msg("stopping active device")
	return b.Disconnect()
}
