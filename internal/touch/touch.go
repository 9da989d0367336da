// Package touch maps taps and swipes to registered screen regions.
//
// Regions are grouped in layers. Dispatch walks the layers in order and the
// records of each layer in registration order; the first record that matches
// handles the event. Coordinates are in the landscape frame (296x128) the UI
// renders in.
package touch

import (
	"fmt"
	"image"
)

// Kind selects what a Record reacts to.
type Kind int

const (
	Click Kind = iota
	SlideX
	SlideY
)

func (k Kind) String() string {
	switch k {
	case Click:
		return "click"
	case SlideX:
		return "slide-x"
	case SlideY:
		return "slide-y"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Handler receives the record's Arg for a click, or the signed swipe delta
// on the record's axis for a slide (negative is left/up).
type Handler func(v int)

// Record is a rectangular hit region bound to a handler.
type Record struct {
	Rect    image.Rectangle
	Kind    Kind
	Handler Handler
	// Arg is passed to the handler of a Click record. It lets one handler
	// serve several regions.
	Arg int
}

// Rect builds the half-open rectangle [x0,x1) x [y0,y1).
func Rect(x0, x1, y0, y1 int) image.Rectangle {
	return image.Rect(x0, y0, x1, y1)
}

// OnClick returns a Click record.
func OnClick(r image.Rectangle, h Handler, arg int) Record {
	return Record{Rect: r, Kind: Click, Handler: h, Arg: arg}
}

// OnSlideX returns a horizontal swipe record.
func OnSlideX(r image.Rectangle, h Handler) Record {
	return Record{Rect: r, Kind: SlideX, Handler: h}
}

// OnSlideY returns a vertical swipe record.
func OnSlideY(r image.Rectangle, h Handler) Record {
	return Record{Rect: r, Kind: SlideY, Handler: h}
}

// EventKind tells taps from swipes.
type EventKind int

const (
	Tap EventKind = iota
	Swipe
)

func (k EventKind) String() string {
	if k == Swipe {
		return "swipe"
	}
	return "tap"
}

// Event is a classified touch gesture. Point is the tap position or the
// swipe start; Delta is the swipe vector (end - start).
type Event struct {
	Kind  EventKind   `json:"kind"`
	Point image.Point `json:"point"`
	Delta image.Point `json:"delta"`
}

// Axis returns SlideX or SlideY by the dominant component of a swipe and
// Click for a tap.
func (e Event) Axis() Kind {
	if e.Kind != Swipe {
		return Click
	}
	if abs(e.Delta.X) >= abs(e.Delta.Y) {
		return SlideX
	}
	return SlideY
}

// Match reports whether r handles ev and the value its handler receives.
func (r Record) Match(ev Event) (int, bool) {
	if !ev.Point.In(r.Rect) {
		return 0, false
	}
	switch r.Kind {
	case Click:
		if ev.Kind == Tap {
			return r.Arg, true
		}
	case SlideX:
		if ev.Axis() == SlideX {
			return ev.Delta.X, true
		}
	case SlideY:
		if ev.Axis() == SlideY {
			return ev.Delta.Y, true
		}
	}
	return 0, false
}

// Dispatch runs the handler of the first record matching ev and reports
// whether one did.
func Dispatch(ev Event, layers ...[]Record) bool {
	for _, layer := range layers {
		for _, r := range layer {
			v, ok := r.Match(ev)
			if !ok {
				continue
			}
			if r.Handler != nil {
				r.Handler(v)
			}
			return true
		}
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
