package touch

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	appLog "epdtouch/internal/log"
)

// ICNT86 registers (16-bit, big-endian address).
const (
	regTouchStatus = 0x1001 // number of contacts, cleared by writing 0
	regTouchPoints = 0x1002 // 7 bytes per contact
	pointSize      = 7
	maxContacts    = 5
)

// DefaultAddr is the ICNT86 7-bit I2C address.
const DefaultAddr = 0x48

// Contact is one reported touch point in the landscape frame.
type Contact struct {
	Point    image.Point
	Pressure int
	ID       int
}

// ICNT86Options configures the poller.
type ICNT86Options struct {
	// Width and Height of the landscape frame. Controller coordinates are
	// mirrored on both axes.
	Width, Height  int
	PollInterval   time.Duration
	SwipeThreshold int
	Clock          clockwork.Clock
}

// ICNT86 polls the touch controller of the 2.9" touch e-paper HAT.
type ICNT86 struct {
	dev *i2c.Dev
	// irq is the active-low interrupt line; nil polls the status register.
	irq gpio.PinIn

	width, height int
	poll          time.Duration
	clock         clockwork.Clock
	gesture       Gesture
}

// NewICNT86 returns a poller on an open bus. irq may be nil.
func NewICNT86(bus i2c.Bus, addr uint16, irq gpio.PinIn, opts ICNT86Options) *ICNT86 {
	c := &ICNT86{
		dev:     &i2c.Dev{Bus: bus, Addr: addr},
		irq:     irq,
		width:   opts.Width,
		height:  opts.Height,
		poll:    opts.PollInterval,
		clock:   opts.Clock,
		gesture: Gesture{Threshold: opts.SwipeThreshold},
	}
	if c.width <= 0 {
		c.width = 296
	}
	if c.height <= 0 {
		c.height = 128
	}
	if c.poll <= 0 {
		c.poll = 20 * time.Millisecond
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	return c
}

// OpenICNT86 initializes periph, opens the named bus and interrupt pin and
// returns the poller with the bus to close when done.
func OpenICNT86(busName string, addr uint16, irqPin string, opts ICNT86Options) (*ICNT86, i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("touch: periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("touch: open i2c %q: %w", busName, err)
	}
	var irq gpio.PinIn
	if irqPin != "" {
		p := gpioreg.ByName(irqPin)
		if p == nil {
			bus.Close()
			return nil, nil, fmt.Errorf("touch: gpio %q not found", irqPin)
		}
		if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
			bus.Close()
			return nil, nil, fmt.Errorf("touch: irq pin: %w", err)
		}
		irq = p
	}
	return NewICNT86(bus, addr, irq, opts), bus, nil
}

func (c *ICNT86) read(reg uint16, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := c.dev.Tx([]byte{byte(reg >> 8), byte(reg)}, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *ICNT86) clearStatus() error {
	_, err := c.dev.Write([]byte{byte(regTouchStatus >> 8), byte(regTouchStatus & 0xFF), 0x00})
	return err
}

// Scan reads the current contacts and acknowledges them. An empty result
// means nothing is touching the panel.
func (c *ICNT86) Scan() ([]Contact, error) {
	status, err := c.read(regTouchStatus, 1)
	if err != nil {
		return nil, fmt.Errorf("touch: read status: %w", err)
	}
	n := int(status[0])
	if n == 0 || n > maxContacts {
		return nil, c.clearStatus()
	}

	buf, err := c.read(regTouchPoints, n*pointSize)
	if err != nil {
		return nil, fmt.Errorf("touch: read points: %w", err)
	}
	if err := c.clearStatus(); err != nil {
		return nil, fmt.Errorf("touch: clear status: %w", err)
	}

	contacts := make([]Contact, n)
	for i := range contacts {
		p := buf[i*pointSize : (i+1)*pointSize]
		rawY := int(p[2])<<8 | int(p[1])
		rawX := int(p[4])<<8 | int(p[3])
		contacts[i] = Contact{
			Point:    image.Pt(c.width-1-rawX, c.height-1-rawY),
			Pressure: int(p[5]),
			ID:       int(p[6]),
		}
	}
	return contacts, nil
}

// step samples the controller once and returns a gesture when a contact
// ends. Only the first contact is tracked.
func (c *ICNT86) step() (Event, bool, error) {
	if c.irq != nil && c.irq.Read() == gpio.High {
		ev, ok := c.gesture.Release()
		return ev, ok, nil
	}
	contacts, err := c.Scan()
	if err != nil {
		return Event{}, false, err
	}
	if len(contacts) == 0 {
		if c.irq != nil {
			return Event{}, false, nil
		}
		ev, ok := c.gesture.Release()
		return ev, ok, nil
	}
	c.gesture.Press(contacts[0].Point)
	return Event{}, false, nil
}

// Run polls until ctx is done and sends every classified gesture on out.
// Bus errors are logged once per failure streak and polling continues.
func (c *ICNT86) Run(ctx context.Context, out chan<- Event) error {
	ticker := c.clock.NewTicker(c.poll)
	defer ticker.Stop()
	failing := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}

		ev, ok, err := c.step()
		if err != nil {
			if !failing {
				appLog.Error("touch scan failed", err)
			}
			failing = true
			continue
		}
		if failing {
			appLog.Info("touch scan recovered")
			failing = false
		}
		if !ok {
			continue
		}
		appLog.Debug("touch event", "kind", ev.Kind, "x", ev.Point.X, "y", ev.Point.Y, "dx", ev.Delta.X, "dy", ev.Delta.Y)
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
