package epd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"epdtouch/internal/convert"
	appLog "epdtouch/internal/log"
)

// ErrBufferSize is returned when a frame buffer does not match the panel.
var ErrBufferSize = errors.New("epd: frame buffer size mismatch")

// Options configures a Driver. Zero values select the 2.9" V2 defaults.
type Options struct {
	Width, Height int
	// BusyTimeout bounds every busy-wait.
	BusyTimeout time.Duration
	// PollInterval is the delay between busy pin reads.
	PollInterval time.Duration
}

const (
	defaultBusyTimeout  = 10 * time.Second
	defaultPollInterval = time.Millisecond
)

// Driver sequences SSD1680 commands over a Transport. It is not safe for
// concurrent use; the screen package serializes access.
type Driver struct {
	t Transport

	width, height int
	busyTimeout   time.Duration
	pollInterval  time.Duration

	// delay is swapped in tests to skip reset timings.
	delay func(time.Duration)
}

// New returns a Driver for the given transport.
func New(t Transport, opts Options) *Driver {
	d := &Driver{
		t:            t,
		width:        opts.Width,
		height:       opts.Height,
		busyTimeout:  opts.BusyTimeout,
		pollInterval: opts.PollInterval,
		delay:        time.Sleep,
	}
	if d.width <= 0 {
		d.width = convert.PanelWidth
	}
	if d.height <= 0 {
		d.height = convert.PanelHeight
	}
	if d.busyTimeout <= 0 {
		d.busyTimeout = defaultBusyTimeout
	}
	if d.pollInterval <= 0 {
		d.pollInterval = defaultPollInterval
	}
	return d
}

// Width returns the native panel width.
func (d *Driver) Width() int { return d.width }

// Height returns the native panel height.
func (d *Driver) Height() int { return d.height }

// Busy reports the controller busy line.
func (d *Driver) Busy() bool {
	return d.t.Busy()
}

// WaitIdle blocks until the busy line releases, the timeout elapses
// (ErrHardwareTimeout) or ctx is done.
func (d *Driver) WaitIdle(ctx context.Context) error {
	if !d.t.Busy() {
		return nil
	}
	deadline := time.Now().Add(d.busyTimeout)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for d.t.Busy() {
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w after %s", ErrHardwareTimeout, d.busyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Init runs the cold start sequence: transport open, hardware reset, soft
// reset and the register setup for a full-window, top-down scan.
func (d *Driver) Init(ctx context.Context) error {
	if err := d.t.Open(); err != nil {
		if errors.Is(err, ErrHardwareInit) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrHardwareInit, err)
	}

	if err := d.reset(); err != nil {
		return err
	}
	if err := d.WaitIdle(ctx); err != nil {
		return err
	}
	if err := d.t.Command(cmdSWReset); err != nil {
		return err
	}
	if err := d.WaitIdle(ctx); err != nil {
		return err
	}

	// Gate count: (height-1) little-endian, scan G0 -> G295.
	gates := d.height - 1
	if err := d.send(cmdDriverOutputControl, byte(gates), byte(gates>>8), 0x00); err != nil {
		return err
	}
	// X increment, Y increment, address counter updated in X direction.
	if err := d.send(cmdDataEntryMode, 0x03); err != nil {
		return err
	}
	if err := d.setWindow(0, 0, d.width-1, d.height-1); err != nil {
		return err
	}
	// Normal RAM content, source S8..S167.
	if err := d.send(cmdDisplayUpdateControl1, 0x00, 0x80); err != nil {
		return err
	}
	if err := d.setCursor(ctx, 0, 0); err != nil {
		return err
	}
	if err := d.WaitIdle(ctx); err != nil {
		return err
	}

	appLog.Debug("epd init done", "width", d.width, "height", d.height)
	return nil
}

// FullRefresh writes buf to both RAM banks and runs the full waveform. The
// second bank becomes the base image partial refreshes diff against.
func (d *Driver) FullRefresh(ctx context.Context, buf convert.FrameBuffer) error {
	if err := d.checkBuffer(buf); err != nil {
		return err
	}
	if err := d.WaitIdle(ctx); err != nil {
		return err
	}
	if err := d.setWindow(0, 0, d.width-1, d.height-1); err != nil {
		return err
	}
	if err := d.setCursor(ctx, 0, 0); err != nil {
		return err
	}
	if err := d.send(cmdWriteRAMBW, buf...); err != nil {
		return err
	}
	if err := d.setCursor(ctx, 0, 0); err != nil {
		return err
	}
	if err := d.send(cmdWriteRAMBase, buf...); err != nil {
		return err
	}
	return d.activate(ctx, updateFull, true)
}

// PartialRefresh loads a partial waveform and updates the panel without the
// full flash. With wait false the call returns right after activation and
// the caller must check Busy/WaitIdle before the next operation.
func (d *Driver) PartialRefresh(ctx context.Context, buf convert.FrameBuffer, wait bool) error {
	if err := d.checkBuffer(buf); err != nil {
		return err
	}
	if err := d.WaitIdle(ctx); err != nil {
		return err
	}

	// Waiting partials use the _Wait table, as the vendor driver does.
	lut := LUTPartial
	if wait {
		// Short reset pulse; RAM content survives it.
		if err := d.t.SetReset(false); err != nil {
			return err
		}
		d.delay(time.Millisecond)
		if err := d.t.SetReset(true); err != nil {
			return err
		}
		lut = LUTPartialWait
	}
	if err := d.send(cmdWriteLUT, lut[:]...); err != nil {
		return err
	}
	if err := d.WaitIdle(ctx); err != nil {
		return err
	}

	if err := d.send(cmdWriteOTPSelection, otpSelection...); err != nil {
		return err
	}
	if err := d.send(cmdBorderWaveform, 0x80); err != nil {
		return err
	}
	if err := d.activate(ctx, updatePartialPower, true); err != nil {
		return err
	}

	if err := d.setWindow(0, 0, d.width-1, d.height-1); err != nil {
		return err
	}
	if err := d.setCursor(ctx, 0, 0); err != nil {
		return err
	}
	if err := d.send(cmdWriteRAMBW, buf...); err != nil {
		return err
	}
	return d.activate(ctx, updatePartial, wait)
}

// Clear fills the panel with a single byte value (0xFF white, 0x00 black).
func (d *Driver) Clear(ctx context.Context, fill byte) error {
	buf := make(convert.FrameBuffer, convert.Size(d.width, d.height))
	for i := range buf {
		buf[i] = fill
	}
	return d.FullRefresh(ctx, buf)
}

// Sleep enters deep sleep mode 1. Init must run before the next refresh.
func (d *Driver) Sleep(ctx context.Context) error {
	if err := d.WaitIdle(ctx); err != nil {
		return err
	}
	return d.send(cmdDeepSleep, 0x01)
}

// Shutdown releases the transport.
func (d *Driver) Shutdown() error {
	return d.t.Close()
}

// reset pulses the reset line: high 20ms, low 2ms, high 20ms.
func (d *Driver) reset() error {
	steps := []struct {
		high bool
		hold time.Duration
	}{
		{true, 20 * time.Millisecond},
		{false, 2 * time.Millisecond},
		{true, 20 * time.Millisecond},
	}
	for _, s := range steps {
		if err := d.t.SetReset(s.high); err != nil {
			return err
		}
		d.delay(s.hold)
	}
	return nil
}

func (d *Driver) send(cmd byte, data ...byte) error {
	if err := d.t.Command(cmd); err != nil {
		return fmt.Errorf("epd: command %#02x: %w", cmd, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := d.t.Data(data...); err != nil {
		return fmt.Errorf("epd: data for %#02x: %w", cmd, err)
	}
	return nil
}

func (d *Driver) activate(ctx context.Context, seq byte, wait bool) error {
	if err := d.send(cmdDisplayUpdateControl2, seq); err != nil {
		return err
	}
	if err := d.send(cmdMasterActivation); err != nil {
		return err
	}
	if !wait {
		return nil
	}
	return d.WaitIdle(ctx)
}

// setWindow sets the RAM window. X is in pixels and must be a multiple of 8;
// the low three bits are dropped.
func (d *Driver) setWindow(x0, y0, x1, y1 int) error {
	if err := d.send(cmdSetRAMXWindow, byte(x0>>3), byte(x1>>3)); err != nil {
		return err
	}
	return d.send(cmdSetRAMYWindow, byte(y0), byte(y0>>8), byte(y1), byte(y1>>8))
}

func (d *Driver) setCursor(ctx context.Context, x, y int) error {
	if err := d.send(cmdSetRAMXCounter, byte(x)); err != nil {
		return err
	}
	if err := d.send(cmdSetRAMYCounter, byte(y), byte(y>>8)); err != nil {
		return err
	}
	return d.WaitIdle(ctx)
}

func (d *Driver) checkBuffer(buf convert.FrameBuffer) error {
	if want := convert.Size(d.width, d.height); len(buf) != want {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrBufferSize, len(buf), want)
	}
	return nil
}
