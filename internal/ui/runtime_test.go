package ui

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"epdtouch/internal/epd"
	"epdtouch/internal/touch"
)

type fakeDisplay struct {
	mu     sync.Mutex
	frames []image.Image
	err    error
}

func (d *fakeDisplay) DisplayAuto(ctx context.Context, img image.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, img)
	return d.err
}

func (d *fakeDisplay) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

func newTestRuntime(t *testing.T) (*Runtime, *fakeDisplay) {
	t.Helper()
	d := &fakeDisplay{}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	return NewRuntime(d, RuntimeOptions{Clock: clock}), d
}

func TestOverlayRecordsWinOverPage(t *testing.T) {
	rt, d := newTestRuntime(t)
	ctx := context.Background()

	pressed := 0
	page := NewPage(nil)
	page.Add(NewButton(image.Pt(0, 0), image.Pt(100, 30), "btn", func() { pressed++ }))
	theme := NewTheme(rt, NewBook(page))
	rt.BackHome()
	if err := rt.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	// hidden docker: the top strip belongs to the theme
	handled, err := rt.HandleTouch(ctx, tap(10, 10))
	if err != nil || !handled {
		t.Fatalf("HandleTouch = %v, %v", handled, err)
	}
	if pressed != 0 || !theme.Shown() {
		t.Fatalf("pressed=%d shown=%v, want docker shown and button untouched", pressed, theme.Shown())
	}

	// shown docker leaves (10,10) to the page
	if handled, _ := rt.HandleTouch(ctx, tap(10, 10)); !handled || pressed != 1 {
		t.Fatalf("handled=%v pressed=%d, want the button", handled, pressed)
	}

	// below the bar hides the docker
	rt.HandleTouch(ctx, tap(150, 100))
	if theme.Shown() {
		t.Error("docker still shown")
	}

	if d.count() != 3 {
		t.Errorf("displays = %d, want 3", d.count())
	}
}

func TestHandleTouchMiss(t *testing.T) {
	rt, d := newTestRuntime(t)
	ctx := context.Background()
	app, err := NewApp(rt, "a", "A", nil, NewBook(NewPage(nil)))
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.OpenApp(app.Name()); err != nil {
		t.Fatal(err)
	}
	rt.Flush(ctx)

	handled, err := rt.HandleTouch(ctx, tap(10, 60))
	if err != nil || handled {
		t.Fatalf("HandleTouch = %v, %v, want unhandled", handled, err)
	}
	if d.count() != 1 {
		t.Errorf("miss caused a display, count = %d", d.count())
	}
}

func TestOneDisplayPerEvent(t *testing.T) {
	rt, d := newTestRuntime(t)
	ctx := context.Background()

	page := NewPage(nil)
	a := NewLabel(image.Pt(0, 40), image.Pt(100, 20), "a")
	b := NewLabel(image.Pt(0, 70), image.Pt(100, 20), "b")
	page.Add(a, b)
	page.AddRecord(touch.OnClick(touch.Rect(0, Width, 30, Height), func(int) {
		a.SetText("a2", true)
		b.SetText("b2", true)
		page.Update()
	}, 0))
	if _, err := NewApp(rt, "a", "A", nil, NewBook(page)); err != nil {
		t.Fatal(err)
	}
	rt.OpenApp("a")
	rt.Flush(ctx)

	rt.HandleTouch(ctx, tap(10, 60))
	if d.count() != 2 {
		t.Errorf("displays = %d, want 2", d.count())
	}
	if page.Recompositions() != 2 {
		t.Errorf("recompositions = %d, want 2", page.Recompositions())
	}
}

func TestInactiveUpdatesDoNotDisplay(t *testing.T) {
	rt, d := newTestRuntime(t)
	ctx := context.Background()

	NewTheme(rt, nil)
	label := NewLabel(image.Point{}, image.Pt(50, 20), "x")
	page := NewPage(nil)
	page.Add(label)
	if _, err := NewApp(rt, "bg", "BG", nil, NewBook(page)); err != nil {
		t.Fatal(err)
	}
	rt.BackHome()
	rt.Flush(ctx)

	label.SetText("y", true)
	if err := rt.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if d.count() != 1 {
		t.Fatalf("background app update displayed, count = %d", d.count())
	}

	rt.OpenApp("bg")
	label.SetText("z", true)
	rt.Flush(ctx)
	if d.count() != 2 {
		t.Errorf("displays = %d, want 2", d.count())
	}
}

func TestOpenAppAndBackHome(t *testing.T) {
	rt, _ := newTestRuntime(t)
	home := NewTheme(rt, nil)
	app, err := NewApp(rt, "notes", "Notes", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewApp(rt, "notes", "Again", nil, nil); !errors.Is(err, ErrDuplicateApp) {
		t.Errorf("duplicate register err = %v", err)
	}
	if err := rt.OpenApp("missing"); !errors.Is(err, ErrAppNotFound) {
		t.Errorf("OpenApp(missing) err = %v", err)
	}

	if err := rt.OpenApp("notes"); err != nil {
		t.Fatal(err)
	}
	if rt.Active() != app || !app.Active() {
		t.Fatal("app not active")
	}

	// corner shows the bar, corner again goes home
	ctx := context.Background()
	rt.HandleTouch(ctx, tap(280, 10))
	if !app.Shown() {
		t.Fatal("control bar not shown")
	}
	rt.HandleTouch(ctx, tap(280, 10))
	if rt.Active() != home || app.Active() || app.Shown() {
		t.Errorf("not back home: active=%q app.active=%v", rt.Active().Name(), app.Active())
	}
}

func TestDockerOpensDrawer(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()
	NewTheme(rt, nil)
	drawer, err := NewDrawer(rt)
	if err != nil {
		t.Fatal(err)
	}
	opened := false
	notes, err := NewApp(rt, "notes", "Notes", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	notes.OnActivate(func() { opened = true })
	rt.BackHome()

	rt.HandleTouch(ctx, tap(10, 10))
	rt.HandleTouch(ctx, tap(70, 10))
	if rt.Active() != drawer {
		t.Fatalf("active = %q, want drawer", rt.Active().Name())
	}

	// the drawer lists every other app; the first row opens notes
	rt.HandleTouch(ctx, tap(100, 40))
	if !opened || rt.Active() != notes {
		t.Errorf("drawer row did not open notes, active = %q", rt.Active().Name())
	}
}

func TestControlBarDrawnWhenShown(t *testing.T) {
	pct := 0
	d := &fakeDisplay{}
	rt := NewRuntime(d, RuntimeOptions{
		Clock:   clockwork.NewFakeClock(),
		Battery: func() (int, bool) { pct = 87; return pct, true },
	})
	app, err := NewApp(rt, "a", "A", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	rt.OpenApp("a")

	white := color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	at := func(img image.Image) color.Color {
		return color.NRGBAModel.Convert(img.At(150, barHeight-1))
	}
	if got := at(app.Frame()); got != white {
		t.Fatalf("hidden bar pixel = %v, want white", got)
	}
	app.SetShown(true)
	if got := at(app.Frame()); got == white {
		t.Error("shown bar has no rule")
	}
	if pct != 87 {
		t.Error("battery not consulted")
	}
	// the page composite is untouched by the bar
	if got := at(app.Book().Render()); got != white {
		t.Error("bar leaked into the page composite")
	}
}

func TestRunServesTouchesAndJobs(t *testing.T) {
	rt, d := newTestRuntime(t)
	NewTheme(rt, nil)
	app, err := NewApp(rt, "a", "A", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	touches := make(chan touch.Event)
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx, touches) }()

	if err := rt.Do(ctx, func(context.Context) error { return rt.OpenApp("a") }); err != nil {
		t.Fatal(err)
	}
	touches <- tap(280, 10)
	var shown bool
	rt.Do(ctx, func(context.Context) error {
		shown = app.Shown()
		return nil
	})
	if !shown {
		t.Error("touch not handled on the run loop")
	}
	if d.count() != 2 {
		t.Errorf("displays = %d, want 2", d.count())
	}

	want := errors.New("boom")
	if err := rt.Do(ctx, func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("Do err = %v", err)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run err = %v", err)
	}
	if err := rt.Do(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Do after stop err = %v, want ErrStopped", err)
	}
}

func TestFlushWrapsDisplayError(t *testing.T) {
	rt, d := newTestRuntime(t)
	d.err = errors.New("panel gone")
	NewTheme(rt, nil)
	rt.BackHome()
	err := rt.Flush(context.Background())
	if !errors.Is(err, d.err) {
		t.Fatalf("Flush err = %v", err)
	}
	if diff := cmp.Diff(1, d.count()); diff != "" {
		t.Errorf("display count (-want +got):\n%s", diff)
	}
}

func TestFailedDisplayIsRetried(t *testing.T) {
	rt, d := newTestRuntime(t)
	ctx := context.Background()

	label := NewLabel(image.Point{}, image.Pt(50, 20), "a")
	page := NewPage(nil)
	page.Add(label)
	if _, err := NewApp(rt, "app", "App", nil, NewBook(page)); err != nil {
		t.Fatal(err)
	}
	rt.OpenApp("app")
	if err := rt.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	d.mu.Lock()
	d.err = epd.ErrHardwareTimeout
	d.mu.Unlock()
	label.SetText("b", true)
	if err := rt.Flush(ctx); !errors.Is(err, epd.ErrHardwareTimeout) {
		t.Fatalf("Flush err = %v, want ErrHardwareTimeout", err)
	}

	d.mu.Lock()
	d.err = nil
	d.mu.Unlock()
	if err := rt.Flush(ctx); err != nil {
		t.Fatalf("retry Flush: %v", err)
	}
	if diff := cmp.Diff(3, d.count()); diff != "" {
		t.Errorf("display count after retry (-want +got):\n%s", diff)
	}

	// delivered, nothing left to send
	if err := rt.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(3, d.count()); diff != "" {
		t.Errorf("display count after idle Flush (-want +got):\n%s", diff)
	}
}
