package touch

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDispatchOverlayWins(t *testing.T) {
	var got []string
	overlay := []Record{
		OnClick(Rect(266, 296, 0, 30), func(int) { got = append(got, "overlay") }, 0),
	}
	page := []Record{
		OnClick(Rect(0, 296, 0, 128), func(int) { got = append(got, "page") }, 0),
	}

	if !Dispatch(Event{Kind: Tap, Point: image.Pt(280, 10)}, overlay, page) {
		t.Fatal("tap inside both layers not handled")
	}
	if diff := cmp.Diff([]string{"overlay"}, got); diff != "" {
		t.Errorf("handlers mismatch (-want +got):\n%s", diff)
	}

	got = nil
	if !Dispatch(Event{Kind: Tap, Point: image.Pt(10, 60)}, overlay, page) {
		t.Fatal("tap inside page layer not handled")
	}
	if diff := cmp.Diff([]string{"page"}, got); diff != "" {
		t.Errorf("handlers mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchMiss(t *testing.T) {
	called := false
	recs := []Record{OnClick(Rect(0, 10, 0, 10), func(int) { called = true }, 0)}
	if Dispatch(Event{Kind: Tap, Point: image.Pt(50, 50)}, recs) {
		t.Error("miss reported as handled")
	}
	if Dispatch(Event{Kind: Tap, Point: image.Pt(1, 1)}) {
		t.Error("no layers reported as handled")
	}
	if called {
		t.Error("handler ran on a miss")
	}
}

func TestClickBoundsHalfOpen(t *testing.T) {
	r := OnClick(Rect(0, 296, 31, 61), nil, 0)
	tests := []struct {
		p    image.Point
		want bool
	}{
		{image.Pt(0, 31), true},
		{image.Pt(295, 60), true},
		{image.Pt(296, 40), false},
		{image.Pt(10, 61), false},
		{image.Pt(10, 30), false},
	}
	for _, tt := range tests {
		_, ok := r.Match(Event{Kind: Tap, Point: tt.p})
		if ok != tt.want {
			t.Errorf("Match(%v) = %v, want %v", tt.p, ok, tt.want)
		}
	}
}

func TestFirstRegisteredWins(t *testing.T) {
	var args []int
	h := func(v int) { args = append(args, v) }
	recs := []Record{
		OnClick(Rect(0, 100, 0, 100), h, 1),
		OnClick(Rect(0, 100, 0, 100), h, 2),
	}
	Dispatch(Event{Kind: Tap, Point: image.Pt(5, 5)}, recs)
	if diff := cmp.Diff([]int{1}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestSlideRecords(t *testing.T) {
	var gotX, gotY []int
	recs := []Record{
		OnSlideX(Rect(0, 296, 0, 128), func(v int) { gotX = append(gotX, v) }),
		OnSlideY(Rect(0, 296, 0, 128), func(v int) { gotY = append(gotY, v) }),
	}

	tests := []struct {
		ev      Event
		handled bool
	}{
		{Event{Kind: Swipe, Point: image.Pt(200, 60), Delta: image.Pt(-80, 5)}, true},
		{Event{Kind: Swipe, Point: image.Pt(100, 100), Delta: image.Pt(3, -40)}, true},
		{Event{Kind: Swipe, Point: image.Pt(100, 20), Delta: image.Pt(2, 30)}, true},
		// Start point outside every rect.
		{Event{Kind: Swipe, Point: image.Pt(400, 20), Delta: image.Pt(50, 0)}, false},
		// Taps never match slide records.
		{Event{Kind: Tap, Point: image.Pt(10, 10)}, false},
	}
	for _, tt := range tests {
		if got := Dispatch(tt.ev, recs); got != tt.handled {
			t.Errorf("Dispatch(%+v) = %v, want %v", tt.ev, got, tt.handled)
		}
	}
	if diff := cmp.Diff([]int{-80}, gotX); diff != "" {
		t.Errorf("slide-x deltas (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{-40, 30}, gotY); diff != "" {
		t.Errorf("slide-y deltas (-want +got):\n%s", diff)
	}
}

func TestGesture(t *testing.T) {
	tests := []struct {
		name    string
		samples []image.Point
		want    Event
	}{
		{
			name:    "tap with jitter",
			samples: []image.Point{{50, 50}, {53, 48}, {55, 52}},
			want:    Event{Kind: Tap, Point: image.Pt(50, 50)},
		},
		{
			name:    "swipe left",
			samples: []image.Point{{200, 60}, {150, 62}, {90, 64}},
			want:    Event{Kind: Swipe, Point: image.Pt(200, 60), Delta: image.Pt(-110, 4)},
		},
		{
			name:    "swipe down",
			samples: []image.Point{{100, 20}, {101, 90}},
			want:    Event{Kind: Swipe, Point: image.Pt(100, 20), Delta: image.Pt(1, 70)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g Gesture
			for _, p := range tt.samples {
				g.Press(p)
			}
			got, ok := g.Release()
			if !ok {
				t.Fatal("no event")
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("event mismatch (-want +got):\n%s", diff)
			}
			if _, ok := g.Release(); ok {
				t.Error("second release produced an event")
			}
		})
	}
}

func TestEventAxis(t *testing.T) {
	if k := (Event{Kind: Swipe, Delta: image.Pt(-20, 20)}).Axis(); k != SlideX {
		t.Errorf("tie should resolve to %v, got %v", SlideX, k)
	}
	if k := (Event{Kind: Tap}).Axis(); k != Click {
		t.Errorf("tap axis = %v", k)
	}
}
