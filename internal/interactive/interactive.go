// Package interactive is a terminal remote control for a connected casting
// device. It renders device events and maps keys to device commands.
package interactive

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/encoding"
	"github.com/mattn/go-runewidth"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"go2tv.app/castkit/devices"
)

var ErrScreenInit = errors.New("interactive: can't start new interactive screen")

const (
	volumeStep = 0.05
	seekStep   = 10.0
	// keyRepeat bounds how often held down volume and seek keys reach the
	// receiver.
	keyRepeat = 150 * time.Millisecond

	waitingText = "Waiting for status..."
)

// Screen is a devices.EventHandler that draws on a tcell screen.
type Screen struct {
	devices.BaseHandler
	Current tcell.Screen

	device  devices.CastingDevice
	limiter *rate.Limiter
	title   string

	mu         sync.RWMutex
	lastAction string
	connection devices.ConnectionState
	state      devices.PlaybackState
	volume     float64
	position   float64
	duration   float64

	// ready is set between Init and Fini, events arriving outside of it
	// only update state.
	ready    atomic.Bool
	finiOnce sync.Once
}

// NewScreen builds a remote for d. title is shown above the status line.
func NewScreen(s tcell.Screen, d devices.CastingDevice, title string) *Screen {
	return &Screen{
		Current:    s,
		device:     d,
		limiter:    rate.NewLimiter(rate.Every(keyRepeat), 1),
		title:      title,
		lastAction: waitingText,
	}
}

// InitTcellNewScreen builds a Screen on the terminal.
func InitTcellNewScreen(d devices.CastingDevice, title string) (*Screen, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScreenInit, err)
	}
	return NewScreen(s, d, title), nil
}

func (p *Screen) emitStr(x, y int, style tcell.Style, str string) {
	s := p.Current
	for _, c := range str {
		var comb []rune
		w := runewidth.RuneWidth(c)
		if w == 0 {
			comb = []rune{c}
			c = ' '
			w = 1
		}
		s.SetContent(x, y, c, comb, style)
		x += w
	}
}

func centered(w int, s string) int {
	return w/2 - runewidth.StringWidth(s)/2
}

// EmitMsg shows msg as the current status.
func (p *Screen) EmitMsg(msg string) {
	p.mu.Lock()
	p.lastAction = msg
	p.mu.Unlock()
	p.draw()
}

func (p *Screen) draw() {
	if !p.ready.Load() {
		return
	}

	p.mu.RLock()
	action := p.lastAction
	conn := p.connection
	volume := p.volume
	position, duration := p.position, p.duration
	p.mu.RUnlock()

	s := p.Current
	w, h := s.Size()
	boldStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite).Bold(true)
	blinkStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite).Blink(true)

	s.Clear()

	title := "Title: " + p.title
	p.emitStr(centered(w, title), h/2-4, tcell.StyleDefault, title)

	device := fmt.Sprintf("%s (%s) %s", p.device.Name(), p.device.Protocol(), conn)
	p.emitStr(centered(w, device), h/2-2, tcell.StyleDefault, device)

	style := boldStyle
	if action == waitingText || action == devices.PlaybackBuffering.String() {
		style = blinkStyle
	}
	p.emitStr(centered(w, action), h/2, style, action)

	progress := formatProgress(position, duration)
	if p.device.SupportsFeature(devices.FeatureSetVolume) {
		progress += fmt.Sprintf("  Volume %d%%", int(math.Round(volume*100)))
	}
	p.emitStr(centered(w, progress), h/2+1, tcell.StyleDefault, progress)

	p.emitStr(1, 1, tcell.StyleDefault, "Press ESC to stop and exit.")
	for i, help := range p.helpLines() {
		p.emitStr(centered(w, help), h/2+3+i, tcell.StyleDefault, help)
	}
	s.Show()
}

func (p *Screen) helpLines() []string {
	lines := []string{`"Space" (Play/Pause)  "s" (Stop)`, `"Left" "Right" (Seek)`}
	if p.device.SupportsFeature(devices.FeatureSetVolume) {
		lines = append(lines, `"Up" "Down" (Volume Up/Down)`)
	}
	if p.device.SupportsFeature(devices.FeaturePlaylistNextAndPrevious) {
		lines = append(lines, `"n" "b" (Next/Previous)`)
	}
	return lines
}

func formatProgress(position, duration float64) string {
	if duration <= 0 {
		return formatClock(position)
	}
	return formatClock(position) + " / " + formatClock(duration)
}

func formatClock(seconds float64) string {
	total := int(math.Max(seconds, 0))
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}

// Run draws the screen and handles keys until ESC is pressed or ctx ends.
func (p *Screen) Run(ctx context.Context) error {
	encoding.Register()
	s := p.Current
	if err := s.Init(); err != nil {
		return fmt.Errorf("%w: %v", ErrScreenInit, err)
	}

	defStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite)
	s.SetStyle(defStyle)
	p.ready.Store(true)
	p.draw()

	stop := context.AfterFunc(ctx, p.Fini)
	defer stop()

	for {
		switch ev := s.PollEvent().(type) {
		case nil:
			return nil
		case *tcell.EventResize:
			s.Sync()
			p.draw()
		case *tcell.EventKey:
			if p.HandleKeyEvent(ev) {
				p.Fini()
				return nil
			}
		}
	}
}

// Fini releases the terminal. It is safe to call more than once.
func (p *Screen) Fini() {
	p.finiOnce.Do(func() {
		p.ready.Store(false)
		p.Current.Fini()
	})
}

// HandleKeyEvent runs the command bound to ev and reports whether the
// remote should exit.
func (p *Screen) HandleKeyEvent(ev *tcell.EventKey) bool {
	var err error

	switch ev.Key() {
	case tcell.KeyEscape:
		if err := p.device.StopCasting(); err != nil {
			p.Logger.Error().Str("Method", "HandleKeyEvent").Err(err).Msg("stop casting")
		}
		return true
	case tcell.KeyUp, tcell.KeyDown, tcell.KeyPgUp, tcell.KeyPgDn:
		if !p.device.SupportsFeature(devices.FeatureSetVolume) || !p.limiter.Allow() {
			return false
		}
		delta := volumeStep
		if ev.Key() == tcell.KeyDown || ev.Key() == tcell.KeyPgDn {
			delta = -delta
		}
		p.mu.RLock()
		v := clamp(p.volume+delta, 0, 1)
		p.mu.RUnlock()
		err = p.device.ChangeVolume(v)
	case tcell.KeyLeft, tcell.KeyRight:
		if !p.limiter.Allow() {
			return false
		}
		delta := seekStep
		if ev.Key() == tcell.KeyLeft {
			delta = -delta
		}
		p.mu.RLock()
		pos := math.Max(p.position+delta, 0)
		if p.duration > 0 {
			pos = math.Min(pos, p.duration)
		}
		p.mu.RUnlock()
		err = p.device.Seek(pos)
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'p', ' ':
			p.mu.RLock()
			state := p.state
			p.mu.RUnlock()
			if playPauseAction(state) == "Pause" {
				err = p.device.PlaybackPause()
			} else {
				err = p.device.PlaybackResume()
			}
		case 's':
			err = p.device.PlaybackStop()
		case 'n':
			err = p.device.PlaylistItemNext()
		case 'b':
			err = p.device.PlaylistItemPrevious()
		}
	}

	if err != nil {
		p.EmitMsg("Error: " + err.Error())
	}
	return false
}

// playPauseAction is the command the play/pause key sends in state.
func playPauseAction(state devices.PlaybackState) string {
	if state == devices.PlaybackPlaying || state == devices.PlaybackBuffering {
		return "Pause"
	}
	return "Play"
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func (p *Screen) ConnectionStateChanged(s devices.ConnectionStatus) {
	p.BaseHandler.ConnectionStateChanged(s)
	p.mu.Lock()
	p.connection = s.State
	p.mu.Unlock()
	p.draw()
}

func (p *Screen) PlaybackStateChanged(s devices.PlaybackState) {
	p.BaseHandler.PlaybackStateChanged(s)
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.EmitMsg(s.String())
}

func (p *Screen) VolumeChanged(v float64) {
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
	p.draw()
}

func (p *Screen) TimeChanged(t float64) {
	p.mu.Lock()
	p.position = t
	p.mu.Unlock()
	p.draw()
}

func (p *Screen) DurationChanged(d float64) {
	p.mu.Lock()
	p.duration = d
	p.mu.Unlock()
	p.draw()
}

func (p *Screen) PlaybackError(msg string) {
	p.BaseHandler.PlaybackError(msg)
	p.EmitMsg("Error: " + msg)
}

var _ devices.EventHandler = (*Screen)(nil)
