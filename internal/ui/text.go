package ui

import (
	"image"
	"image/color"
	"strings"

	"epdtouch/internal/touch"
)

// DefaultFontSize matches the 13px bitmap fallback.
const DefaultFontSize = 13

type textStyle struct {
	text       string
	fontSize   float64
	color      color.Color
	background color.Color // nil is transparent
	fonts      *Fonts
}

func newTextStyle(text string) textStyle {
	return textStyle{
		text:     text,
		fontSize: DefaultFontSize,
		color:    color.Black,
		fonts:    DefaultFonts(),
	}
}

// Text is a transparent full-frame layer with a string at its top-left
// corner.
type Text struct {
	base
	textStyle
}

// NewText returns a Text element at loc.
func NewText(loc image.Point, text string) *Text {
	return &Text{base: base{loc: loc, dirty: true}, textStyle: newTextStyle(text)}
}

// Text returns the current string.
func (e *Text) Text() string { return e.text }

func (e *Text) SetText(s string, update bool) {
	e.text = s
	e.changed(update)
}

func (e *Text) SetColor(c color.Color, update bool) {
	e.color = c
	e.changed(update)
}

func (e *Text) SetBackground(c color.Color, update bool) {
	e.background = c
	e.changed(update)
}

func (e *Text) SetFontSize(size float64, update bool) {
	e.fontSize = size
	e.changed(update)
}

func (e *Text) Render() image.Image {
	return e.render(func() image.Image {
		img := newCanvas(Width, Height, e.background)
		drawText(img, image.Point{}, e.text, e.color, e.fonts.Face(e.fontSize), 0)
		return img
	})
}

// Label is a sized text box. The text starts at the border offset.
type Label struct {
	base
	textStyle
	size   image.Point
	border image.Point
}

// NewLabel returns a w x h label at loc.
func NewLabel(loc, size image.Point, text string) *Label {
	return &Label{
		base:      base{loc: loc, dirty: true},
		textStyle: newTextStyle(text),
		size:      size,
	}
}

// Text returns the current string.
func (e *Label) Text() string { return e.text }

// Size returns the label box size.
func (e *Label) Size() image.Point { return e.size }

func (e *Label) SetText(s string, update bool) {
	e.text = s
	e.changed(update)
}

func (e *Label) SetColor(c color.Color, update bool) {
	e.color = c
	e.changed(update)
}

func (e *Label) SetBackground(c color.Color, update bool) {
	e.background = c
	e.changed(update)
}

func (e *Label) SetFontSize(size float64, update bool) {
	e.fontSize = size
	e.changed(update)
}

func (e *Label) SetSize(size image.Point, update bool) {
	e.size = size
	e.changed(update)
}

func (e *Label) SetBorder(border image.Point, update bool) {
	e.border = border
	e.changed(update)
}

func (e *Label) Render() image.Image {
	return e.render(func() image.Image {
		return e.paint(e.text)
	})
}

func (e *Label) paint(text string) *image.NRGBA {
	img := newCanvas(e.size.X, e.size.Y, e.background)
	drawText(img, e.border, text, e.color, e.fonts.Face(e.fontSize), 0)
	return img
}

// MultilineLabel wraps its text by character count to fill the box.
// Newlines in the text are dropped.
type MultilineLabel struct {
	Label
	spacing int
}

// NewMultilineLabel returns a wrapping w x h label at loc.
func NewMultilineLabel(loc, size image.Point, text string) *MultilineLabel {
	e := &MultilineLabel{Label: *NewLabel(loc, size, "")}
	e.text = strings.ReplaceAll(text, "\n", "")
	return e
}

func (e *MultilineLabel) SetText(s string, update bool) {
	e.Label.SetText(strings.ReplaceAll(s, "\n", ""), update)
}

// SetSpacing sets the extra pixels between lines.
func (e *MultilineLabel) SetSpacing(px int, update bool) {
	e.spacing = px
	e.changed(update)
}

// Lines returns the text as it is wrapped on screen.
func (e *MultilineLabel) Lines() []string {
	return wrap(e.text, e.size, e.border, e.fontSize)
}

func (e *MultilineLabel) Render() image.Image {
	return e.render(func() image.Image {
		img := newCanvas(e.size.X, e.size.Y, e.background)
		drawText(img, e.border, strings.Join(e.Lines(), "\n"), e.color, e.fonts.Face(e.fontSize), e.spacing)
		return img
	})
}

// wrap cuts text into lines of (box width / font size) characters, at most
// as many lines as (box height / font size) rounded up.
func wrap(text string, box, border image.Point, fontSize float64) []string {
	runes := []rune(text)
	if len(runes) == 0 || fontSize <= 0 {
		return nil
	}
	perLine := int(float64(box.X-2*border.X) / fontSize)
	if perLine < 1 {
		perLine = 1
	}
	maxLines := ceilDiv(float64(box.Y-2*border.Y), fontSize)
	n := ceilDiv(float64(len(runes)), float64(perLine))
	if n > maxLines {
		n = maxLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		start := i * perLine
		end := start + perLine
		if end > len(runes) {
			end = len(runes)
		}
		lines = append(lines, string(runes[start:end]))
	}
	return lines
}

func ceilDiv(a, b float64) int {
	q := int(a / b)
	if float64(q)*b < a {
		q++
	}
	return q
}

// Button is a Label with a click region covering its box.
type Button struct {
	Label
	fn func()
}

// NewButton returns a w x h button at loc that runs fn when tapped.
func NewButton(loc, size image.Point, text string, fn func()) *Button {
	return &Button{Label: *NewLabel(loc, size, text), fn: fn}
}

// SetFunc replaces the tap handler.
func (e *Button) SetFunc(fn func()) { e.fn = fn }

// Records implements Element.
func (e *Button) Records() []touch.Record {
	r := image.Rectangle{Min: e.loc, Max: e.loc.Add(e.size)}
	return []touch.Record{touch.OnClick(r, e.click, 0)}
}

func (e *Button) click(int) {
	if e.fn != nil {
		e.fn()
	}
}
