// Package convert packs rendered frames into the panel's 1bpp RAM layout.
package convert

import (
	"errors"
	"fmt"
	"image"

	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// Native panel geometry (Waveshare 2.9" V2, portrait).
const (
	PanelWidth  = 128
	PanelHeight = 296
)

// ErrUnsupportedGeometry is returned when a frame matches neither the native
// nor the rotated panel orientation.
var ErrUnsupportedGeometry = errors.New("convert: unsupported image geometry")

// FrameBuffer is a packed 1bpp bitmap in panel RAM order.
//
//   - rows are ceil(width/8) bytes, row-major
//   - bit 7 of a byte is the leftmost pixel of its group of 8
//   - a cleared bit is black ink, so an all-0xFF buffer is a blank panel
type FrameBuffer []byte

// Stride returns the number of bytes per panel row.
func Stride(width int) int {
	return (width + 7) / 8
}

// Size returns the buffer length for a width x height panel.
func Size(width, height int) int {
	return Stride(width) * height
}

// Blank returns an all-white buffer.
func Blank(width, height int) FrameBuffer {
	buf := make(FrameBuffer, Size(width, height))
	for i := range buf {
		buf[i] = 0xFF
	}
	return buf
}

// Encode converts img into a FrameBuffer for a width x height panel.
//
// img must be either width x height (native) or height x width (rotated 90°).
// In the rotated case source pixel (x, y) lands on panel pixel
// (y, height-x-1). Pixels are classified with image1bit.BitModel: anything
// that does not convert to On is ink.
func Encode(img image.Image, width, height int) (FrameBuffer, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrUnsupportedGeometry)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch {
	case w == width && h == height:
		return encodeNative(img, width, height), nil
	case w == height && h == width:
		return encodeRotated(img, width, height), nil
	default:
		return nil, fmt.Errorf("%w: got %dx%d, want %dx%d or %dx%d",
			ErrUnsupportedGeometry, w, h, width, height, height, width)
	}
}

func isInk(img image.Image, x, y int) bool {
	return image1bit.BitModel.Convert(img.At(x, y)).(image1bit.Bit) == image1bit.Off
}

func encodeNative(img image.Image, width, height int) FrameBuffer {
	buf := Blank(width, height)
	stride := Stride(width)
	o := img.Bounds().Min
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if isInk(img, o.X+x, o.Y+y) {
				buf[y*stride+x/8] &^= 0x80 >> (x % 8)
			}
		}
	}
	return buf
}

func encodeRotated(img image.Image, width, height int) FrameBuffer {
	buf := Blank(width, height)
	stride := Stride(width)
	o := img.Bounds().Min
	// Source is height wide and width tall.
	for y := 0; y < width; y++ {
		for x := 0; x < height; x++ {
			if !isInk(img, o.X+x, o.Y+y) {
				continue
			}
			newx := y
			newy := height - x - 1
			buf[newy*stride+newx/8] &^= 0x80 >> (y % 8)
		}
	}
	return buf
}
