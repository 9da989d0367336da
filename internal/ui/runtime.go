// Package ui is the touch UI composed on top of the screen: elements are
// drawn into pages, pages into books, and a book is shown through a home
// theme or an application overlay.
//
// Everything in this package is single-threaded. Runtime.Run owns the UI
// goroutine; other goroutines reach it through Runtime.Do.
package ui

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/jonboulle/clockwork"

	appLog "epdtouch/internal/log"
	"epdtouch/internal/touch"
)

var (
	// ErrAppNotFound is returned by OpenApp for an unknown name.
	ErrAppNotFound = errors.New("ui: app not found")
	// ErrDuplicateApp is returned by Register for a name already in use.
	ErrDuplicateApp = errors.New("ui: app already registered")
	// ErrStopped is returned by Do after Run has returned.
	ErrStopped = errors.New("ui: runtime stopped")
)

// Displayer receives composed frames. *screen.Screen implements it.
type Displayer interface {
	DisplayAuto(ctx context.Context, img image.Image) error
}

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	Clock clockwork.Clock
	// Battery returns the charge shown in the control bar; ok false hides it.
	Battery func() (percent int, ok bool)
	Fonts   *Fonts
}

type job struct {
	fn   func(ctx context.Context) error
	done chan error
}

// Runtime tracks the active overlay and turns page updates into displays.
// Display requests raised while handling an event are coalesced into one
// refresh when the event is done.
type Runtime struct {
	disp    Displayer
	clock   clockwork.Clock
	battery func() (int, bool)
	fonts   *Fonts

	home   *Overlay
	apps   map[string]*Overlay
	order  []string
	active *Overlay

	pending bool

	jobs    chan job
	stopped chan struct{}
}

// NewRuntime returns a Runtime drawing to d.
func NewRuntime(d Displayer, opts RuntimeOptions) *Runtime {
	r := &Runtime{
		disp:    d,
		clock:   opts.Clock,
		battery: opts.Battery,
		fonts:   opts.Fonts,
		apps:    make(map[string]*Overlay),
		jobs:    make(chan job),
		stopped: make(chan struct{}),
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.fonts == nil {
		r.fonts = DefaultFonts()
	}
	return r
}

// Register adds an application overlay.
func (r *Runtime) Register(o *Overlay) error {
	if _, ok := r.apps[o.name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateApp, o.name)
	}
	r.apps[o.name] = o
	r.order = append(r.order, o.name)
	return nil
}

// Apps returns the registered applications in registration order.
func (r *Runtime) Apps() []*Overlay {
	out := make([]*Overlay, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.apps[name])
	}
	return out
}

// Active returns the overlay on screen, nil before the first BackHome or
// OpenApp.
func (r *Runtime) Active() *Overlay { return r.active }

// Home returns the home theme.
func (r *Runtime) Home() *Overlay { return r.home }

// OpenApp makes the named application the active overlay.
func (r *Runtime) OpenApp(name string) error {
	app, ok := r.apps[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrAppNotFound, name)
	}
	r.switchTo(app)
	return nil
}

// BackHome makes the home theme the active overlay.
func (r *Runtime) BackHome() {
	if r.home != nil {
		r.switchTo(r.home)
	}
}

func (r *Runtime) openOrLog(name string) {
	if err := r.OpenApp(name); err != nil {
		appLog.Warn("open app failed", "name", name, "err", err)
	}
}

func (r *Runtime) switchTo(o *Overlay) {
	if r.active != nil && r.active != o {
		r.active.deactivate()
	}
	r.active = o
	o.activate()
	r.pending = true
	appLog.Info("overlay active", "name", o.name)
}

// ClockShown reports whether the active overlay is an app with its control
// bar, and so its clock, on screen.
func (r *Runtime) ClockShown() bool {
	return r.active != nil && r.active != r.home && r.active.shown
}

// HandleTouch dispatches ev to the active overlay and then displays the
// result if anything asked for it.
func (r *Runtime) HandleTouch(ctx context.Context, ev touch.Event) (bool, error) {
	if r.active == nil {
		return false, nil
	}
	handled := touch.Dispatch(ev, r.active.Layers()...)
	return handled, r.Flush(ctx)
}

// Redraw displays the active overlay unconditionally.
func (r *Runtime) Redraw(ctx context.Context) error {
	r.pending = true
	return r.Flush(ctx)
}

// Flush displays the active overlay if a display was requested. A failed
// display keeps the request, so the next Flush retries it.
func (r *Runtime) Flush(ctx context.Context) error {
	if !r.pending || r.active == nil {
		return nil
	}
	if err := r.disp.DisplayAuto(ctx, r.active.Frame()); err != nil {
		// pending stays set so the next Flush sends the frame again
		return fmt.Errorf("ui: display %q: %w", r.active.name, err)
	}
	r.pending = false
	return nil
}

// Run serves touch events and Do jobs until ctx is done. All UI state is
// owned by this goroutine while it runs.
func (r *Runtime) Run(ctx context.Context, touches <-chan touch.Event) error {
	defer close(r.stopped)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-touches:
			if !ok {
				touches = nil
				continue
			}
			if _, err := r.HandleTouch(ctx, ev); err != nil {
				appLog.Error("touch handling failed", err, "kind", ev.Kind)
			}
		case j := <-r.jobs:
			err := j.fn(ctx)
			if ferr := r.Flush(ctx); err == nil {
				err = ferr
			}
			j.done <- err
		}
	}
}

// Do runs fn on the UI goroutine, flushes pending displays and returns fn's
// error.
func (r *Runtime) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case r.jobs <- j:
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
