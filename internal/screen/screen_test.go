package screen

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"epdtouch/internal/convert"
	"epdtouch/internal/epd"
)

type fakePanel struct {
	mu         sync.Mutex
	calls      []string
	initErr    error
	sleepErr   error
	fullErr    error
	partialErr error
}

func (p *fakePanel) record(name string, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, name)
	return err
}

func (p *fakePanel) Init(context.Context) error {
	p.mu.Lock()
	err := p.initErr
	p.mu.Unlock()
	return p.record("init", err)
}

func (p *fakePanel) FullRefresh(context.Context, convert.FrameBuffer) error {
	p.mu.Lock()
	err := p.fullErr
	p.mu.Unlock()
	return p.record("full", err)
}

func (p *fakePanel) PartialRefresh(_ context.Context, _ convert.FrameBuffer, wait bool) error {
	p.mu.Lock()
	err := p.partialErr
	p.mu.Unlock()
	if wait {
		return p.record("partial+wait", err)
	}
	return p.record("partial", err)
}

func (p *fakePanel) Sleep(context.Context) error {
	p.mu.Lock()
	err := p.sleepErr
	p.mu.Unlock()
	return p.record("sleep", err)
}

func (p *fakePanel) WaitIdle(context.Context) error { return p.record("wait", nil) }
func (p *fakePanel) Shutdown() error                { return p.record("shutdown", nil) }

func (p *fakePanel) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePanel) Reset() {
	p.mu.Lock()
	p.calls = nil
	p.mu.Unlock()
}

func (p *fakePanel) count(name string) int {
	n := 0
	for _, c := range p.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func frame() image.Image {
	img := image.NewGray(image.Rect(0, 0, convert.PanelWidth, convert.PanelHeight))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	img.SetGray(3, 3, color.Gray{})
	return img
}

func newTestScreen(t *testing.T, p *fakePanel, opts Options) (*Screen, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts.Clock = clock
	s := New(p, opts)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, clock
}

func TestDisplayAutoCoalescing(t *testing.T) {
	p := &fakePanel{}
	s, _ := newTestScreen(t, p, Options{Threshold: 3, WaitPartial: true})
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// First frame establishes the base image.
	if err := s.DisplayAuto(ctx, frame()); err != nil {
		t.Fatal(err)
	}
	p.Reset()

	for i := 0; i < 4; i++ {
		if err := s.DisplayAuto(ctx, frame()); err != nil {
			t.Fatalf("DisplayAuto #%d: %v", i+1, err)
		}
	}
	want := []string{"partial+wait", "partial+wait", "partial+wait", "full"}
	if diff := cmp.Diff(want, p.Calls()); diff != "" {
		t.Errorf("refresh sequence mismatch (-want +got):\n%s", diff)
	}
	if st := s.Snapshot(); st.Partials != 0 || st.State != Awake {
		t.Errorf("after coalescing: partials=%d state=%v", st.Partials, st.State)
	}
}

func TestFirstFrameIsFull(t *testing.T) {
	p := &fakePanel{}
	s, _ := newTestScreen(t, p, Options{WaitPartial: true})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.DisplayPartial(ctx, frame()); err != nil {
		t.Fatal(err)
	}
	if err := s.DisplayPartial(ctx, frame()); err != nil {
		t.Fatal(err)
	}
	want := []string{"init", "full", "partial+wait"}
	if diff := cmp.Diff(want, p.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestForceFull(t *testing.T) {
	p := &fakePanel{}
	s, _ := newTestScreen(t, p, Options{WaitPartial: true})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	s.DisplayAuto(ctx, frame())
	s.DisplayAuto(ctx, frame())
	s.ForceFull()
	s.DisplayAuto(ctx, frame())
	s.DisplayAuto(ctx, frame())

	want := []string{"init", "full", "partial+wait", "full", "partial+wait"}
	if diff := cmp.Diff(want, p.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestNonWaitingPartialConfirmedBeforeNextOp(t *testing.T) {
	p := &fakePanel{}
	s, _ := newTestScreen(t, p, Options{})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.DisplayAuto(ctx, frame()); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"init", "full", "partial", "wait", "partial"}
	if diff := cmp.Diff(want, p.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestInitFailureRetried(t *testing.T) {
	p := &fakePanel{initErr: errors.New("spi open failed")}
	s, _ := newTestScreen(t, p, Options{})
	ctx := context.Background()

	err := s.Start(ctx)
	if !errors.Is(err, epd.ErrHardwareInit) {
		t.Fatalf("Start err = %v, want ErrHardwareInit", err)
	}
	if st := s.Snapshot(); st.State != Uninitialized {
		t.Fatalf("state = %v, want uninitialized", st.State)
	}
	if err := s.DisplayAuto(ctx, frame()); !errors.Is(err, epd.ErrHardwareInit) {
		t.Fatalf("DisplayAuto err = %v, want ErrHardwareInit", err)
	}
	if n := p.count("full"); n != 0 {
		t.Fatalf("refreshed %d times without a panel", n)
	}

	p.mu.Lock()
	p.initErr = nil
	p.mu.Unlock()
	if err := s.DisplayAuto(ctx, frame()); err != nil {
		t.Fatalf("DisplayAuto after recovery: %v", err)
	}
	if st := s.Snapshot(); st.State != Awake || st.Fulls != 1 {
		t.Errorf("state=%v fulls=%d", st.State, st.Fulls)
	}
}

func TestUnsupportedGeometryRejected(t *testing.T) {
	p := &fakePanel{}
	s, _ := newTestScreen(t, p, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.Reset()
	err := s.DisplayAuto(context.Background(), image.NewGray(image.Rect(0, 0, 10, 10)))
	if !errors.Is(err, convert.ErrUnsupportedGeometry) {
		t.Fatalf("err = %v, want ErrUnsupportedGeometry", err)
	}
	if calls := p.Calls(); len(calls) != 0 {
		t.Errorf("panel touched: %v", calls)
	}
}

func TestAutoSleepOnceThenWake(t *testing.T) {
	p := &fakePanel{}
	s, clock := newTestScreen(t, p, Options{AutoSleep: 10 * time.Minute, WaitPartial: true})
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.DisplayAuto(ctx, frame()); err != nil {
		t.Fatal(err)
	}
	clock.BlockUntil(1)

	clock.Advance(10 * time.Minute)
	clock.BlockUntil(1) // re-armed after the check
	if st := s.Snapshot(); st.State != Asleep {
		t.Fatalf("state = %v, want asleep", st.State)
	}

	clock.Advance(10 * time.Minute)
	clock.BlockUntil(1)
	clock.Advance(10 * time.Minute)
	clock.BlockUntil(1)
	if n := p.count("sleep"); n != 1 {
		t.Fatalf("sleep issued %d times, want 1", n)
	}

	p.Reset()
	if err := s.DisplayAuto(ctx, frame()); err != nil {
		t.Fatal(err)
	}
	want := []string{"init", "full"}
	if diff := cmp.Diff(want, p.Calls()); diff != "" {
		t.Errorf("wake sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestAutoSleepDeferredByActivity(t *testing.T) {
	p := &fakePanel{}
	s, clock := newTestScreen(t, p, Options{AutoSleep: 10 * time.Minute, WaitPartial: true})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	clock.BlockUntil(1)

	clock.Advance(6 * time.Minute)
	if err := s.DisplayAuto(ctx, frame()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(4 * time.Minute)
	clock.BlockUntil(1)
	if n := p.count("sleep"); n != 0 {
		t.Fatalf("slept after 4m idle")
	}

	clock.Advance(6 * time.Minute)
	clock.BlockUntil(1)
	if n := p.count("sleep"); n != 1 {
		t.Fatalf("sleep issued %d times, want 1", n)
	}
}

func TestSleepTimeoutStaysAwake(t *testing.T) {
	p := &fakePanel{sleepErr: fmt.Errorf("%w after 10s", epd.ErrHardwareTimeout)}
	s, _ := newTestScreen(t, p, Options{})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := s.Sleep(ctx); !errors.Is(err, epd.ErrHardwareTimeout) {
		t.Fatalf("Sleep err = %v, want ErrHardwareTimeout", err)
	}
	if st := s.Snapshot(); st.State != Awake {
		t.Errorf("state = %v, want awake", st.State)
	}
}

func TestRefreshTimeoutKeepsState(t *testing.T) {
	timeout := fmt.Errorf("%w after 5s", epd.ErrHardwareTimeout)
	tests := []struct {
		name     string
		warm     int
		fail     func(p *fakePanel)
		show     func(s *Screen, ctx context.Context) error
		wantNext string
	}{
		{
			name:     "first full",
			fail:     func(p *fakePanel) { p.fullErr = timeout },
			show:     func(s *Screen, ctx context.Context) error { return s.DisplayAuto(ctx, frame()) },
			wantNext: "full",
		},
		{
			name:     "explicit full",
			warm:     2,
			fail:     func(p *fakePanel) { p.fullErr = timeout },
			show:     func(s *Screen, ctx context.Context) error { return s.Display(ctx, frame()) },
			wantNext: "partial+wait",
		},
		{
			name:     "partial",
			warm:     2,
			fail:     func(p *fakePanel) { p.partialErr = timeout },
			show:     func(s *Screen, ctx context.Context) error { return s.DisplayAuto(ctx, frame()) },
			wantNext: "partial+wait",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePanel{}
			s, clock := newTestScreen(t, p, Options{Threshold: 10, WaitPartial: true})
			ctx := context.Background()
			if err := s.Start(ctx); err != nil {
				t.Fatal(err)
			}
			for i := 0; i < tt.warm; i++ {
				if err := s.DisplayAuto(ctx, frame()); err != nil {
					t.Fatal(err)
				}
			}
			before := s.Snapshot()
			clock.Advance(time.Second)

			p.mu.Lock()
			tt.fail(p)
			p.mu.Unlock()
			if err := tt.show(s, ctx); !errors.Is(err, epd.ErrHardwareTimeout) {
				t.Fatalf("err = %v, want ErrHardwareTimeout", err)
			}
			after := s.Snapshot()
			if after.State != Awake {
				t.Errorf("state = %v, want awake", after.State)
			}
			if after.Partials != before.Partials || after.Fulls != before.Fulls || after.PartialsAll != before.PartialsAll {
				t.Errorf("counters moved: before %+v after %+v", before, after)
			}
			if !after.LastDisplay.Equal(before.LastDisplay) {
				t.Errorf("last display = %v, want %v", after.LastDisplay, before.LastDisplay)
			}
			if after.Frame != before.Frame {
				t.Error("failed frame recorded as last frame")
			}

			p.mu.Lock()
			p.fullErr, p.partialErr = nil, nil
			p.mu.Unlock()
			p.Reset()
			if err := s.DisplayAuto(ctx, frame()); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]string{tt.wantNext}, p.Calls()); diff != "" {
				t.Errorf("next refresh mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCloseSleepsAndReleases(t *testing.T) {
	p := &fakePanel{}
	clock := clockwork.NewFakeClock()
	s := New(p, Options{Clock: clock, WaitPartial: true})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.DisplayAuto(ctx, frame()); err != nil {
		t.Fatal(err)
	}

	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := []string{"init", "full", "sleep", "shutdown"}
	if diff := cmp.Diff(want, p.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if err := s.DisplayAuto(ctx, frame()); !errors.Is(err, ErrClosed) {
		t.Errorf("DisplayAuto after Close err = %v, want ErrClosed", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSnapshotKeepsLastFrame(t *testing.T) {
	p := &fakePanel{}
	s, _ := newTestScreen(t, p, Options{})
	ctx := context.Background()
	if st := s.Snapshot(); st.Frame != nil || st.State != Uninitialized {
		t.Fatalf("fresh snapshot = %+v", st)
	}
	s.Start(ctx)
	img := frame()
	s.Display(ctx, img)
	if st := s.Snapshot(); st.Frame != img || st.Fulls != 1 {
		t.Errorf("snapshot frame not recorded")
	}
}

func TestStateText(t *testing.T) {
	b, _ := Asleep.MarshalText()
	if string(b) != "asleep" {
		t.Errorf("MarshalText = %q", b)
	}
}
