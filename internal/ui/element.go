package ui

import (
	"image"
	"image/draw"

	"github.com/MaxHalford/halfgone"
	"github.com/disintegration/imaging"

	"epdtouch/internal/touch"
)

// Element is one compose unit of a Page. The set of implementations is
// closed: Image, Text, Label, MultilineLabel and Button.
//
// Setters take an update flag. Every mutation marks the element and its page
// stale; update additionally asks the owning overlay for a display. Pass
// false to batch several edits and call Page.Update once at the end.
type Element interface {
	// Location is the top-left corner of the element on its page.
	Location() image.Point
	// Render returns the element pixels, rebuilding them only when dirty.
	Render() image.Image
	// Dirty reports whether the next Render rebuilds the pixels.
	Dirty() bool
	// Records returns the touch regions the element contributes.
	Records() []touch.Record

	attach(p *Page)
}

type base struct {
	page  *Page
	loc   image.Point
	dirty bool
	cache image.Image
}

func (b *base) Location() image.Point   { return b.loc }
func (b *base) Dirty() bool             { return b.dirty || b.cache == nil }
func (b *base) Records() []touch.Record { return nil }
func (b *base) attach(p *Page)          { b.page = p }

// SetLocation moves the element.
func (b *base) SetLocation(pt image.Point, update bool) {
	b.loc = pt
	b.changed(update)
}

func (b *base) changed(update bool) {
	b.dirty = true
	if b.page == nil {
		return
	}
	if update {
		b.page.Update()
		return
	}
	b.page.invalidate()
}

// render returns the cached pixels, calling draw when stale.
func (b *base) render(draw func() image.Image) image.Image {
	if b.Dirty() {
		b.cache = draw()
		b.dirty = false
	}
	return b.cache
}

// Image shows a bitmap, optionally fitted into a box and dithered to black
// and white.
type Image struct {
	base
	src    image.Image
	fit    image.Point
	dither bool
}

// NewImage returns an Image element at loc.
func NewImage(loc image.Point, src image.Image) *Image {
	return &Image{base: base{loc: loc, dirty: true}, src: src}
}

// SetImage replaces the bitmap.
func (e *Image) SetImage(src image.Image, update bool) {
	e.src = src
	e.changed(update)
}

// SetFit scales the bitmap to fit a w x h box, keeping the aspect ratio.
// A zero size disables fitting.
func (e *Image) SetFit(w, h int, update bool) {
	e.fit = image.Pt(w, h)
	e.changed(update)
}

// SetDither enables Floyd-Steinberg dithering of grayscale content.
func (e *Image) SetDither(on bool, update bool) {
	e.dither = on
	e.changed(update)
}

func (e *Image) Render() image.Image {
	return e.render(e.draw)
}

func (e *Image) draw() image.Image {
	if e.src == nil {
		return image.NewNRGBA(image.Rectangle{})
	}
	img := e.src
	if e.fit.X > 0 && e.fit.Y > 0 && img.Bounds().Size() != e.fit {
		img = imaging.Fit(img, e.fit.X, e.fit.Y, imaging.Lanczos)
	}
	if !e.dither {
		return img
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return halfgone.FloydSteinbergDitherer{}.Apply(gray)
}
