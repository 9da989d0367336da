// Package screen owns the panel for the life of the process. It picks
// partial or full refreshes, tracks the awake/asleep state and puts the
// panel into deep sleep after an idle period.
package screen

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"epdtouch/internal/convert"
	"epdtouch/internal/epd"
	appLog "epdtouch/internal/log"
)

// ErrClosed is returned by operations on a closed Screen.
var ErrClosed = errors.New("screen: closed")

// Panel is the subset of *epd.Driver the Screen drives.
type Panel interface {
	Init(ctx context.Context) error
	FullRefresh(ctx context.Context, buf convert.FrameBuffer) error
	PartialRefresh(ctx context.Context, buf convert.FrameBuffer, wait bool) error
	Sleep(ctx context.Context) error
	WaitIdle(ctx context.Context) error
	Shutdown() error
}

const (
	DefaultThreshold = 60
	DefaultAutoSleep = 600 * time.Second
)

// Options configures a Screen.
type Options struct {
	// Width and Height are the native panel geometry.
	Width, Height int
	// Threshold is the number of partial refreshes allowed between two
	// full refreshes in DisplayAuto.
	Threshold int
	// AutoSleep is the idle time after which the panel is put to sleep.
	AutoSleep time.Duration
	// WaitPartial makes partial refreshes block until the panel is idle.
	WaitPartial bool
	Clock       clockwork.Clock
}

type mode int

const (
	modeAuto mode = iota
	modeFull
	modePartial
)

// Screen serializes every panel operation behind one mutex. The same mutex
// guards the refresh state, so the sleep manager and a display request can
// never interleave.
type Screen struct {
	panel       Panel
	width       int
	height      int
	threshold   int
	autoSleep   time.Duration
	waitPartial bool
	clock       clockwork.Clock

	mu          sync.Mutex
	state       State
	partials    int
	base        bool // panel RAM holds a full frame partials can diff against
	pending     bool // a non-waiting partial may still be running
	forceFull   bool
	closed      bool
	lastDisplay time.Time
	lastFrame   image.Image
	fulls       uint64
	partialsAll uint64
	sleeps      uint64

	startOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New returns a Screen in the Uninitialized state. Call Start before use.
func New(p Panel, opts Options) *Screen {
	s := &Screen{
		panel:       p,
		width:       opts.Width,
		height:      opts.Height,
		threshold:   opts.Threshold,
		autoSleep:   opts.AutoSleep,
		waitPartial: opts.WaitPartial,
		clock:       opts.Clock,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if s.width <= 0 {
		s.width = convert.PanelWidth
	}
	if s.height <= 0 {
		s.height = convert.PanelHeight
	}
	if s.threshold <= 0 {
		s.threshold = DefaultThreshold
	}
	if s.autoSleep <= 0 {
		s.autoSleep = DefaultAutoSleep
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return s
}

// Start initializes the panel and launches the sleep manager. An init
// failure is returned but does not prevent the sleep manager from running;
// the next display request retries the init.
func (s *Screen) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.lastDisplay = s.clock.Now()
	err := s.ensureAwake(ctx)
	s.mu.Unlock()

	s.startOnce.Do(func() {
		timer := s.clock.NewTimer(s.autoSleep)
		go s.sleepLoop(timer)
	})
	return err
}

// Display encodes img and performs a full refresh.
func (s *Screen) Display(ctx context.Context, img image.Image) error {
	return s.display(ctx, img, modeFull)
}

// DisplayPartial encodes img and performs a partial refresh. It falls back to
// a full refresh when the panel has no base image (first frame, after sleep).
func (s *Screen) DisplayPartial(ctx context.Context, img image.Image) error {
	return s.display(ctx, img, modePartial)
}

// DisplayAuto refreshes with a partial update while the partial counter is
// below the threshold, and with a full update otherwise.
func (s *Screen) DisplayAuto(ctx context.Context, img image.Image) error {
	return s.display(ctx, img, modeAuto)
}

// ForceFull makes the next DisplayAuto use a full refresh.
func (s *Screen) ForceFull() {
	s.mu.Lock()
	s.forceFull = true
	s.mu.Unlock()
}

// Sleep puts the panel into deep sleep now. It is a no-op unless Awake.
func (s *Screen) Sleep(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.sleepLocked(ctx)
}

// Close stops the sleep manager, waits for any running operation, sleeps
// the panel if it is awake and releases the transport. Close is idempotent.
func (s *Screen) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	started := true
	s.startOnce.Do(func() { started = false })
	if started {
		<-s.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.pending {
		if err := s.panel.WaitIdle(ctx); err != nil {
			errs = append(errs, err)
		}
		s.pending = false
	}
	if s.state == Awake {
		if err := s.panel.Sleep(ctx); err != nil {
			errs = append(errs, err)
		} else {
			s.state = Asleep
			s.sleeps++
		}
	}
	if err := s.panel.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	appLog.Info("screen closed", "fulls", s.fulls, "partials", s.partialsAll, "sleeps", s.sleeps)
	return errors.Join(errs...)
}

func (s *Screen) display(ctx context.Context, img image.Image, m mode) error {
	buf, err := convert.Encode(img, s.width, s.height)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.ensureAwake(ctx); err != nil {
		return err
	}
	if s.pending {
		if err := s.panel.WaitIdle(ctx); err != nil {
			return err
		}
		s.pending = false
	}

	full := !s.base
	switch m {
	case modeFull:
		full = true
	case modeAuto:
		full = full || s.forceFull || s.partials >= s.threshold
	}

	if full {
		if err := s.panel.FullRefresh(ctx, buf); err != nil {
			return fmt.Errorf("screen: full refresh: %w", err)
		}
		s.partials = 0
		s.base = true
		s.forceFull = false
		s.fulls++
	} else {
		if err := s.panel.PartialRefresh(ctx, buf, s.waitPartial); err != nil {
			return fmt.Errorf("screen: partial refresh: %w", err)
		}
		s.partials++
		s.partialsAll++
		s.pending = !s.waitPartial
	}
	s.lastDisplay = s.clock.Now()
	s.lastFrame = img
	appLog.Debug("screen refreshed", "full", full, "partials", s.partials)
	return nil
}

// ensureAwake brings the panel to Awake. The caller holds s.mu.
func (s *Screen) ensureAwake(ctx context.Context) error {
	if s.state == Awake {
		return nil
	}
	from := s.state
	if err := s.panel.Init(ctx); err != nil {
		if errors.Is(err, epd.ErrHardwareInit) {
			return err
		}
		return fmt.Errorf("%w: %v", epd.ErrHardwareInit, err)
	}
	s.state = Awake
	s.partials = 0
	s.base = false
	s.pending = false
	appLog.Info("screen awake", "from", from)
	return nil
}

// sleepLocked issues deep sleep. The caller holds s.mu. A busy timeout
// leaves the panel Awake.
func (s *Screen) sleepLocked(ctx context.Context) error {
	if s.state != Awake {
		return nil
	}
	if err := s.panel.Sleep(ctx); err != nil {
		return fmt.Errorf("screen: sleep: %w", err)
	}
	s.state = Asleep
	s.base = false
	s.pending = false
	s.sleeps++
	appLog.Info("screen asleep", "idle", s.clock.Since(s.lastDisplay).Round(time.Second))
	return nil
}
