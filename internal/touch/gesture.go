package touch

import "image"

// DefaultSwipeThreshold is the movement in pixels that turns a tap into a
// swipe.
const DefaultSwipeThreshold = 10

// Gesture turns a press/release sequence into an Event.
type Gesture struct {
	Threshold int

	down  bool
	start image.Point
	last  image.Point
}

// Press records a contact sample. The first sample of a contact is its
// start point.
func (g *Gesture) Press(p image.Point) {
	if !g.down {
		g.down = true
		g.start = p
	}
	g.last = p
}

// Down reports whether a contact is in progress.
func (g *Gesture) Down() bool { return g.down }

// Release ends the contact and classifies it. ok is false when no contact
// was in progress.
func (g *Gesture) Release() (ev Event, ok bool) {
	if !g.down {
		return Event{}, false
	}
	g.down = false

	th := g.Threshold
	if th <= 0 {
		th = DefaultSwipeThreshold
	}
	d := g.last.Sub(g.start)
	if abs(d.X) < th && abs(d.Y) < th {
		return Event{Kind: Tap, Point: g.start}, true
	}
	return Event{Kind: Swipe, Point: g.start, Delta: d}, true
}
