package battery

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Status represents current battery status for the control bar and the API.
type Status struct {
	// Percent is the battery level in 0–100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts, if known.
	VoltageMv int `json:"voltage_mv"`
}

// Reader abstracts how we obtain battery information.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// PiSugar3 registers.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A

	// DefaultAddr is the PiSugar3 battery controller address.
	DefaultAddr = 0x57
)

// I2CReader reads a PiSugar3 style gauge over I2C.
type I2CReader struct {
	dev *i2c.Dev
}

// NewI2CReader wraps an open bus.
func NewI2CReader(bus i2c.Bus, addr uint16) *I2CReader {
	return &I2CReader{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

// OpenI2C initializes periph, opens the named bus ("" for the first one)
// and returns a reader on it. The caller closes the bus.
func OpenI2C(busName string, addr uint16) (*I2CReader, i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("battery: host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("battery: open i2c %q: %w", busName, err)
	}
	return NewI2CReader(bus, addr), bus, nil
}

func (r *I2CReader) readReg(reg byte) (byte, error) {
	buf := []byte{0}
	if err := r.dev.Tx([]byte{reg}, buf); err != nil {
		return 0, fmt.Errorf("battery: read reg %#02x: %w", reg, err)
	}
	return buf[0], nil
}

// Read implements Reader.
func (r *I2CReader) Read(_ context.Context) (Status, error) {
	// Voltage (mV): high at 0x22, low at 0x23
	high, err := r.readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := r.readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := r.readReg(regPercent)
	if err != nil {
		return Status{}, err
	}
	if pct > 100 {
		pct = 100
	}
	return Status{
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// mockReader is used for demo/development. It returns a pseudo-random
// percentage and no voltage.
type mockReader struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMockReader constructs a Reader for machines without a gauge.
func NewMockReader() Reader {
	return &mockReader{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (m *mockReader) Read(_ context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Percent: 20 + m.rnd.Intn(81)}, nil
}

// DefaultTTL is how long Cache serves a reading before asking the gauge again.
const DefaultTTL = 30 * time.Second

// Cache keeps the last good reading for ttl so the control bar and the HTTP
// API do not hit I2C on every draw or request. Failed reads are not cached.
type Cache struct {
	r     Reader
	ttl   time.Duration
	clock clockwork.Clock

	mu        sync.Mutex
	status    Status
	updatedAt time.Time
	valid     bool
}

// NewCache wraps r. A zero ttl selects DefaultTTL; a nil clock the real one.
func NewCache(r Reader, ttl time.Duration, clock clockwork.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{r: r, ttl: ttl, clock: clock}
}

// Get returns the cached status, reading the gauge when it is stale.
func (c *Cache) Get(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if c.valid && now.Sub(c.updatedAt) < c.ttl {
		return c.status, nil
	}
	st, err := c.r.Read(ctx)
	if err != nil {
		return Status{}, err
	}
	c.status, c.updatedAt, c.valid = st, now, true
	return st, nil
}

// Percent is Get shaped for the control bar: ok is false when the gauge
// cannot be read.
func (c *Cache) Percent() (int, bool) {
	st, err := c.Get(context.Background())
	if err != nil {
		return 0, false
	}
	return st.Percent, true
}
