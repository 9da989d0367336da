package ui

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"

	"epdtouch/internal/touch"
)

// Names of the overlays the home theme opens.
const (
	DrawerName   = "drawer"
	SettingsName = "settings"
)

// Overlay is a home theme or an application: a Book plus a bar that can be
// shown over the page. Its touch records depend on whether the bar is shown
// and are tested before the page records.
type Overlay struct {
	name  string
	title string
	icon  image.Image

	rt   *Runtime
	book *Book

	active bool
	shown  bool

	hidden  []touch.Record
	showing []touch.Record

	decorate   func(dst *image.NRGBA)
	onActivate func()
}

// Name returns the overlay name used by Runtime.OpenApp.
func (o *Overlay) Name() string { return o.name }

// Title returns the title shown in the control bar.
func (o *Overlay) Title() string { return o.title }

// Book returns the overlay pages.
func (o *Overlay) Book() *Book { return o.book }

// Active reports whether the overlay is the one on screen.
func (o *Overlay) Active() bool { return o.active }

// Shown reports whether the bar is visible.
func (o *Overlay) Shown() bool { return o.shown }

// OnActivate sets a hook run every time the overlay is opened.
func (o *Overlay) OnActivate(fn func()) { o.onActivate = fn }

// SetShown toggles the bar and requests a display.
func (o *Overlay) SetShown(v bool) {
	o.shown = v
	o.requestDisplay()
}

// Records returns the overlay records for the current bar state.
func (o *Overlay) Records() []touch.Record {
	if o.shown {
		return o.showing
	}
	return o.hidden
}

// Layers returns the touch layers in hit-test order: overlay first, then
// the current page.
func (o *Overlay) Layers() [][]touch.Record {
	return [][]touch.Record{o.Records(), o.book.Records()}
}

// Frame composes the current page and, when shown, the bar on top.
func (o *Overlay) Frame() image.Image {
	img := o.book.Render()
	if !o.shown || o.decorate == nil {
		return img
	}
	dst, ok := img.(*image.NRGBA)
	if !ok {
		dst = imaging.Clone(img)
	}
	o.decorate(dst)
	return dst
}

func (o *Overlay) requestDisplay() {
	if o.active && o.rt != nil {
		o.rt.pending = true
	}
}

func (o *Overlay) activate() {
	o.active = true
	o.shown = false
	if o.onActivate != nil {
		o.onActivate()
	}
}

func (o *Overlay) deactivate() {
	o.active = false
	o.shown = false
}

func newOverlay(rt *Runtime, name string, book *Book) *Overlay {
	if book == nil {
		book = NewBook()
	}
	o := &Overlay{name: name, title: name, rt: rt, book: book}
	book.owner = o
	return o
}

// NewTheme builds the home overlay and installs it in rt. Tapping the top
// strip opens a docker with buttons for the app drawer and settings;
// tapping below it closes the docker.
func NewTheme(rt *Runtime, book *Book) *Overlay {
	o := newOverlay(rt, "home", book)
	o.hidden = []touch.Record{
		touch.OnClick(touch.Rect(0, Width, 0, 30), func(int) { o.SetShown(true) }, 0),
	}
	o.showing = []touch.Record{
		touch.OnClick(touch.Rect(60, 100, 0, 30), func(int) { rt.openOrLog(DrawerName) }, 0),
		touch.OnClick(touch.Rect(0, Width, 30, Height), func(int) { o.SetShown(false) }, 0),
		touch.OnClick(touch.Rect(195, 235, 0, 30), func(int) { rt.openOrLog(SettingsName) }, 0),
	}
	docker := dockerImage(rt.fonts)
	o.decorate = func(dst *image.NRGBA) {
		r := docker.Bounds().Add(image.Pt(60, 0))
		draw.Draw(dst, r, docker, image.Point{}, draw.Src)
	}
	rt.home = o
	return o
}

// NewApp builds an application overlay and registers it in rt under name.
// Tapping the top-right corner shows the control bar (icon, title, clock,
// battery); tapping the corner again returns home.
func NewApp(rt *Runtime, name, title string, icon image.Image, book *Book) (*Overlay, error) {
	o := newOverlay(rt, name, book)
	o.title = title
	o.icon = icon
	o.hidden = []touch.Record{
		touch.OnClick(touch.Rect(266, Width, 0, 30), func(int) { o.SetShown(true) }, 0),
	}
	o.showing = []touch.Record{
		touch.OnClick(touch.Rect(266, Width, 0, 30), func(int) { rt.BackHome() }, 0),
		touch.OnClick(touch.Rect(0, Width, 30, Height), func(int) { o.SetShown(false) }, 0),
	}
	o.decorate = func(dst *image.NRGBA) { rt.controlBar(dst, o) }
	if err := rt.Register(o); err != nil {
		return nil, err
	}
	return o, nil
}

// NewDrawer builds the app drawer: a list of every registered app other
// than the drawer itself, refreshed each time the drawer opens.
func NewDrawer(rt *Runtime) (*Overlay, error) {
	list, err := NewListPage("Apps", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	o, err := NewApp(rt, DrawerName, "Apps", nil, NewBook(list.Page()))
	if err != nil {
		return nil, err
	}
	o.OnActivate(func() {
		var names []string
		var funcs []func()
		for _, app := range rt.Apps() {
			if app.name == DrawerName {
				continue
			}
			name := app.name
			names = append(names, app.title)
			funcs = append(funcs, func() { rt.openOrLog(name) })
		}
		list.SetItems(names, nil, funcs, false)
	})
	return o, nil
}

const barHeight = 30

func dockerImage(fonts *Fonts) *image.NRGBA {
	img := imaging.New(176, barHeight, color.White)
	strokeRect(img, img.Bounds(), color.Black)
	face := fonts.Face(16)
	drawText(img, image.Pt(6, 7), "Apps", color.Black, face, 0)
	drawText(img, image.Pt(139, 7), "Set", color.Black, face, 0)
	return img
}

// controlBar paints the application bar: icon, title, clock, battery and
// the home button.
func (r *Runtime) controlBar(dst *image.NRGBA, o *Overlay) {
	fillRect(dst, image.Rect(0, 0, Width, barHeight), color.White)
	hline(dst, 0, Width, barHeight-1, color.Black)
	face := r.fonts.Face(16)
	if o.icon != nil {
		b := o.icon.Bounds()
		draw.Draw(dst, b.Sub(b.Min).Add(image.Pt(6, 6)), o.icon, b.Min, draw.Over)
	}
	drawText(dst, image.Pt(30, 7), o.title, color.Black, face, 0)
	clock := r.clock.Now().Format("15:04")
	drawText(dst, image.Pt(224, 7), clock, color.Black, face, 0)
	if r.battery != nil {
		if pct, ok := r.battery(); ok {
			s := fmt.Sprintf("%d%%", pct)
			drawText(dst, image.Pt(218-textWidth(face, s), 7), s, color.Black, face, 0)
		}
	}
	// home: a small house outline
	strokeRect(dst, image.Rect(273, 13, 289, 25), color.Black)
	for i := 0; i < 8; i++ {
		hline(dst, 281-i, 281+i+1, 5+i, color.Black)
	}
}
