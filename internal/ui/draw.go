package ui

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Landscape frame the UI composes in. The screen rotates it onto the panel.
const (
	Width  = 296
	Height = 128
)

// newCanvas returns a w x h canvas filled with bg, or fully transparent
// when bg is nil.
func newCanvas(w, h int, bg color.Color) *image.NRGBA {
	if bg == nil {
		return image.NewNRGBA(image.Rect(0, 0, w, h))
	}
	return imaging.New(w, h, bg)
}

func fillRect(dst *image.NRGBA, r image.Rectangle, c color.Color) {
	r = r.Intersect(dst.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dst.Set(x, y, c)
		}
	}
}

func strokeRect(dst *image.NRGBA, r image.Rectangle, c color.Color) {
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1), c)
	fillRect(dst, image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y), c)
}

func hline(dst *image.NRGBA, x0, x1, y int, c color.Color) {
	fillRect(dst, image.Rect(x0, y, x1, y+1), c)
}
