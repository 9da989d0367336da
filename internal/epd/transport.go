// Package epd drives the Waveshare 2.9" V2 (SSD1680) e-paper panel.
//
// The package is split in two layers: Transport is the raw DEV_* style
// GPIO/SPI access (reset line, DC-framed command/data writes, busy pin) and
// Driver sequences the controller commands on top of it.
package epd

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	// ErrHardwareInit is returned when the transport cannot be brought up.
	ErrHardwareInit = errors.New("epd: hardware init failed")
	// ErrHardwareTimeout is returned when the busy line never releases.
	ErrHardwareTimeout = errors.New("epd: busy wait timed out")
)

// Transport is the hardware access layer the Driver runs on.
type Transport interface {
	// Open brings up the bus and pins. It may be called again after Close.
	Open() error
	// SetReset drives the active-low reset line.
	SetReset(high bool) error
	// Command writes one command byte (DC low).
	Command(cmd byte) error
	// Data writes data bytes (DC high).
	Data(data ...byte) error
	// Busy reports whether the controller is still processing.
	Busy() bool
	// Close releases the bus.
	Close() error
}

// SPIConfig names the periph.io resources used by SPITransport.
type SPIConfig struct {
	Port    string // spireg name, "" for the first port
	SpeedHz int64

	Reset string // gpioreg names
	DC    string
	CS    string // optional; empty leaves chip select to the SPI driver
	Busy  string
}

// SPITransport implements Transport on top of periph.io.
type SPITransport struct {
	cfg SPIConfig

	port  spi.PortCloser
	c     conn.Conn
	maxTx int

	rst  gpio.PinOut
	dc   gpio.PinOut
	cs   gpio.PinOut
	busy gpio.PinIn
}

// defaultMaxTx matches the spidev default buffer size.
const defaultMaxTx = 4096

// NewSPITransport returns a transport that resolves its port and pins on Open.
func NewSPITransport(cfg SPIConfig) *SPITransport {
	return &SPITransport{cfg: cfg}
}

// NewSPITransportFromPort wires an already opened port and pins. cs may be nil.
func NewSPITransportFromPort(p spi.PortCloser, speedHz int64, rst, dc, cs gpio.PinOut, busy gpio.PinIn) *SPITransport {
	return &SPITransport{
		cfg:  SPIConfig{SpeedHz: speedHz},
		port: p,
		rst:  rst,
		dc:   dc,
		cs:   cs,
		busy: busy,
	}
}

// Open implements Transport.
func (s *SPITransport) Open() error {
	if s.c != nil {
		return nil
	}
	if s.port == nil {
		if err := s.resolve(); err != nil {
			return fmt.Errorf("%w: %v", ErrHardwareInit, err)
		}
	}

	if err := s.rst.Out(gpio.High); err != nil {
		return fmt.Errorf("%w: rst: %v", ErrHardwareInit, err)
	}
	if err := s.dc.Out(gpio.Low); err != nil {
		return fmt.Errorf("%w: dc: %v", ErrHardwareInit, err)
	}
	if s.cs != nil {
		if err := s.cs.Out(gpio.High); err != nil {
			return fmt.Errorf("%w: cs: %v", ErrHardwareInit, err)
		}
	}
	if err := s.busy.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return fmt.Errorf("%w: busy: %v", ErrHardwareInit, err)
	}

	// The port accepts a single Connect, so it comes last and s.c is set
	// only once everything else is configured.
	speed := s.cfg.SpeedHz
	if speed <= 0 {
		speed = 4_000_000
	}
	c, err := s.port.Connect(physic.Frequency(speed)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		return fmt.Errorf("%w: spi connect: %v", ErrHardwareInit, err)
	}
	s.maxTx = defaultMaxTx
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		s.maxTx = l.MaxTxSize()
	}
	s.c = c
	return nil
}

// resolve opens the host drivers, the SPI port and the named pins.
func (s *SPITransport) resolve() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}

	out := func(name string) (gpio.PinOut, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("gpio %q not found", name)
		}
		return p, nil
	}

	var err error
	if s.rst, err = out(s.cfg.Reset); err != nil {
		return err
	}
	if s.dc, err = out(s.cfg.DC); err != nil {
		return err
	}
	if s.cfg.CS != "" {
		if s.cs, err = out(s.cfg.CS); err != nil {
			return err
		}
	}
	busy := gpioreg.ByName(s.cfg.Busy)
	if busy == nil {
		return fmt.Errorf("gpio %q not found", s.cfg.Busy)
	}
	s.busy = busy

	port, err := spireg.Open(s.cfg.Port)
	if err != nil {
		return fmt.Errorf("open spi %q: %w", s.cfg.Port, err)
	}
	s.port = port
	return nil
}

// SetReset implements Transport.
func (s *SPITransport) SetReset(high bool) error {
	return s.rst.Out(gpio.Level(high))
}

// Command implements Transport.
func (s *SPITransport) Command(cmd byte) error {
	if err := s.dc.Out(gpio.Low); err != nil {
		return err
	}
	return s.tx([]byte{cmd})
}

// Data implements Transport. Blocks larger than the port limit are split.
func (s *SPITransport) Data(data ...byte) error {
	if err := s.dc.Out(gpio.High); err != nil {
		return err
	}
	for len(data) > 0 {
		n := len(data)
		if n > s.maxTx {
			n = s.maxTx
		}
		if err := s.tx(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (s *SPITransport) tx(w []byte) error {
	if s.c == nil {
		return errors.New("epd: transport not open")
	}
	if s.cs != nil {
		if err := s.cs.Out(gpio.Low); err != nil {
			return err
		}
		defer s.cs.Out(gpio.High)
	}
	return s.c.Tx(w, nil)
}

// Busy implements Transport. The SSD1680 holds BUSY high while working.
func (s *SPITransport) Busy() bool {
	return s.busy.Read() == gpio.High
}

// Close implements Transport.
func (s *SPITransport) Close() error {
	s.c = nil
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}
