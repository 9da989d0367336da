package ui

import (
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"

	appLog "epdtouch/internal/log"
)

// Fonts caches one face per point size of a TrueType font. When the font
// cannot be parsed every size falls back to basicfont.Face7x13.
type Fonts struct {
	mu    sync.Mutex
	ttf   *truetype.Font
	faces map[float64]font.Face
}

var (
	defaultFonts     *Fonts
	defaultFontsOnce sync.Once
)

// DefaultFonts returns the shared Go Regular font cache.
func DefaultFonts() *Fonts {
	defaultFontsOnce.Do(func() {
		defaultFonts = NewFonts(goregular.TTF)
	})
	return defaultFonts
}

// NewFonts parses ttf. A nil or broken font yields the bitmap fallback.
func NewFonts(ttf []byte) *Fonts {
	f := &Fonts{faces: make(map[float64]font.Face)}
	if len(ttf) == 0 {
		return f
	}
	parsed, err := truetype.Parse(ttf)
	if err != nil {
		appLog.Warn("font parse failed, using basicfont", "err", err)
		return f
	}
	f.ttf = parsed
	return f
}

// Face returns the face for size points at 72 DPI, so one point is one pixel.
func (f *Fonts) Face(size float64) font.Face {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ttf == nil {
		return basicfont.Face7x13
	}
	if face, ok := f.faces[size]; ok {
		return face
	}
	face := truetype.NewFace(f.ttf, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	f.faces[size] = face
	return face
}

// drawText draws s with its top-left corner at pt. Lines split on '\n' are
// stacked with spacing extra pixels between them.
func drawText(dst draw.Image, pt image.Point, s string, c color.Color, face font.Face, spacing int) {
	if s == "" {
		return
	}
	m := face.Metrics()
	ascent := m.Ascent.Ceil()
	lineHeight := m.Height.Ceil() + spacing
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
	}
	for i, line := range strings.Split(s, "\n") {
		d.Dot = fixed.P(pt.X, pt.Y+ascent+i*lineHeight)
		d.DrawString(line)
	}
}

// textWidth returns the advance of s in pixels.
func textWidth(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}
