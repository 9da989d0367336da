package ui

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"epdtouch/internal/touch"
)

// Page is an ordered set of elements and touch records over a background.
// Its composite is rebuilt only when the page is dirty.
type Page struct {
	book       *Book
	background image.Image
	elements   []Element
	// regs keeps record sources in registration order: page records and
	// element records interleave as they were added.
	regs []func() []touch.Record

	composite      *image.NRGBA
	dirty          bool
	recompositions int

	// paint draws on top of the elements, e.g. list rows.
	paint func(dst *image.NRGBA)
}

// NewPage returns an empty page. A nil background is plain white.
func NewPage(background image.Image) *Page {
	if background == nil {
		background = imaging.New(Width, Height, color.White)
	}
	return &Page{background: background, dirty: true}
}

// Add appends elements; they are composed in insertion order.
func (p *Page) Add(els ...Element) {
	for _, el := range els {
		el.attach(p)
		p.elements = append(p.elements, el)
		p.regs = append(p.regs, el.Records)
	}
	p.dirty = true
}

// AddRecord registers page-level touch records.
func (p *Page) AddRecord(rs ...touch.Record) {
	for _, r := range rs {
		r := r
		p.regs = append(p.regs, func() []touch.Record { return []touch.Record{r} })
	}
}

// Records returns the page touch records in registration order.
func (p *Page) Records() []touch.Record {
	var out []touch.Record
	for _, src := range p.regs {
		out = append(out, src()...)
	}
	return out
}

// Elements returns the page elements.
func (p *Page) Elements() []Element { return p.elements }

// SetBackground replaces the background image.
func (p *Page) SetBackground(img image.Image, update bool) {
	if img == nil {
		img = imaging.New(Width, Height, color.White)
	}
	p.background = img
	p.invalidate()
	if update {
		p.Update()
	}
}

// Update marks the page dirty and requests a display when the page is
// the visible page of the active overlay.
func (p *Page) Update() {
	p.dirty = true
	if p.book != nil {
		p.book.pageUpdated(p)
	}
}

func (p *Page) invalidate() { p.dirty = true }

// Dirty reports whether the next Render recomposes.
func (p *Page) Dirty() bool { return p.dirty || p.composite == nil }

// Recompositions counts how many times the composite was rebuilt.
func (p *Page) Recompositions() int { return p.recompositions }

// Render returns a copy of the page composite, recomposing first if dirty.
func (p *Page) Render() image.Image {
	if p.Dirty() {
		dst := imaging.Clone(p.background)
		for _, el := range p.elements {
			dst = imaging.Overlay(dst, el.Render(), el.Location(), 1.0)
		}
		if p.paint != nil {
			p.paint(dst)
		}
		p.composite = dst
		p.dirty = false
		p.recompositions++
	}
	return imaging.Clone(p.composite)
}

// ErrPageOutOfRange is returned by Book.SetPage for a bad index.
var ErrPageOutOfRange = errors.New("ui: page index out of range")

// Book is an ordered set of pages with one current page.
type Book struct {
	pages   []*Page
	current int
	owner   *Overlay
}

// NewBook returns a book showing the first of pages.
func NewBook(pages ...*Page) *Book {
	b := &Book{}
	for _, p := range pages {
		b.Add(p)
	}
	return b
}

// Add appends a page.
func (b *Book) Add(p *Page) {
	p.book = b
	b.pages = append(b.pages, p)
}

// Page returns the current page, nil for an empty book.
func (b *Book) Page() *Page {
	if len(b.pages) == 0 {
		return nil
	}
	return b.pages[b.current]
}

// Index returns the current page index.
func (b *Book) Index() int { return b.current }

// Len returns the number of pages.
func (b *Book) Len() int { return len(b.pages) }

// SetPage switches the current page and requests a display.
func (b *Book) SetPage(i int) error {
	if i < 0 || i >= len(b.pages) {
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, i, len(b.pages))
	}
	b.current = i
	if b.owner != nil {
		b.owner.requestDisplay()
	}
	return nil
}

// Render renders the current page. An empty book renders a blank frame.
func (b *Book) Render() image.Image {
	p := b.Page()
	if p == nil {
		return imaging.New(Width, Height, color.White)
	}
	return p.Render()
}

// Records returns the current page records.
func (b *Book) Records() []touch.Record {
	if p := b.Page(); p != nil {
		return p.Records()
	}
	return nil
}

func (b *Book) pageUpdated(p *Page) {
	if b.owner != nil && b.Page() == p {
		b.owner.requestDisplay()
	}
}
