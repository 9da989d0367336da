package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// PanelConfig describes how the e-paper panel is wired.
type PanelConfig struct {
	// SPI is the periph.io SPI port name ("" selects the first port, typically /dev/spidev0.0).
	SPI string `yaml:"spi" json:"spi"`
	// SpeedHz is the SPI clock. The SSD1680 accepts up to 20MHz; 4MHz is safe on long wires.
	SpeedHz int64 `yaml:"speed_hz" json:"speed_hz"`

	// GPIO names as understood by gpioreg.ByName (e.g. "GPIO17").
	ResetPin string `yaml:"reset_pin" json:"reset_pin"`
	DCPin    string `yaml:"dc_pin" json:"dc_pin"`
	// CSPin is optional; empty leaves chip select to the SPI driver (CE0).
	CSPin    string `yaml:"cs_pin" json:"cs_pin"`
	BusyPin  string `yaml:"busy_pin" json:"busy_pin"`

	// BusyTimeoutMs bounds every busy-wait; exceeding it is reported as a hardware timeout.
	BusyTimeoutMs int `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
}

// RefreshConfig controls the refresh state machine.
type RefreshConfig struct {
	// Threshold is the number of partial refreshes allowed before a full refresh is forced.
	Threshold int `yaml:"threshold" json:"threshold"`
	// AutoSleepSeconds is the idle time after which the panel enters deep sleep.
	AutoSleepSeconds int `yaml:"auto_sleep_seconds" json:"auto_sleep_seconds"`
	// WaitPartial makes every partial refresh block until the panel is idle.
	// Otherwise the next panel operation waits for it instead.
	WaitPartial bool `yaml:"wait_partial" json:"wait_partial"`
	// CleanCron, if set, forces the next refresh to be a full one on this schedule
	// (e.g. "0 */6 * * *") to shed accumulated ghosting on rarely-touched screens.
	CleanCron string `yaml:"clean_cron" json:"clean_cron"`
	// ClockCron redraws the active screen so overlay clocks stay current.
	ClockCron string `yaml:"clock_cron" json:"clock_cron"`
}

// TouchConfig describes the capacitive touch controller.
type TouchConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	I2C     string `yaml:"i2c" json:"i2c"`
	Addr    uint16 `yaml:"addr" json:"addr"`
	// IntPin is the controller's interrupt line; empty means poll only.
	IntPin string `yaml:"int_pin" json:"int_pin"`
	// PollMs is the polling interval in milliseconds.
	PollMs int `yaml:"poll_ms" json:"poll_ms"`
	// SwipeThreshold is the minimum movement in pixels for a swipe.
	SwipeThreshold int `yaml:"swipe_threshold" json:"swipe_threshold"`
}

// BatteryConfig describes the optional PiSugar battery gauge.
type BatteryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	I2C     string `yaml:"i2c" json:"i2c"`
	Addr    uint16 `yaml:"addr" json:"addr"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the debug API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the debug HTTP listen address. Empty disables the server.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Panel   PanelConfig   `yaml:"panel" json:"panel"`
	Refresh RefreshConfig `yaml:"refresh" json:"refresh"`
	Touch   TouchConfig   `yaml:"touch" json:"touch"`
	Battery BatteryConfig `yaml:"battery" json:"battery"`

	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// Defaults match the Waveshare 2.9" touch e-paper HAT on a Raspberry Pi.
const (
	DefaultListen           = "127.0.0.1:8080"
	DefaultThreshold        = 60
	DefaultAutoSleepSeconds = 600
	DefaultBusyTimeoutMs    = 10_000
	DefaultSpeedHz          = 4_000_000
	DefaultTouchAddr        = 0x48
	DefaultTouchPollMs      = 20
	DefaultSwipeThreshold   = 10
	DefaultBatteryAddr      = 0x57
	DefaultClockCron        = "* * * * *"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   DefaultListen,
		LogLevel: "info",
		Panel: PanelConfig{
			SPI:           "",
			SpeedHz:       DefaultSpeedHz,
			ResetPin:      "GPIO17",
			DCPin:         "GPIO25",
			CSPin:         "",
			BusyPin:       "GPIO24",
			BusyTimeoutMs: DefaultBusyTimeoutMs,
		},
		Refresh: RefreshConfig{
			Threshold:        DefaultThreshold,
			AutoSleepSeconds: DefaultAutoSleepSeconds,
			CleanCron:        "",
			ClockCron:        DefaultClockCron,
		},
		Touch: TouchConfig{
			Enabled:        true,
			I2C:            "",
			Addr:           DefaultTouchAddr,
			IntPin:         "GPIO27",
			PollMs:         DefaultTouchPollMs,
			SwipeThreshold: DefaultSwipeThreshold,
		},
		Battery: BatteryConfig{
			Enabled: false,
			I2C:     "",
			Addr:    DefaultBatteryAddr,
		},
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly. Invalid cron specs are cleared rather than
// rejected; the scheduler then simply skips that job.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Panel.SpeedHz <= 0 {
		c.Panel.SpeedHz = DefaultSpeedHz
	}
	if c.Panel.BusyTimeoutMs <= 0 {
		c.Panel.BusyTimeoutMs = DefaultBusyTimeoutMs
	}

	if c.Refresh.Threshold <= 0 {
		c.Refresh.Threshold = DefaultThreshold
	}
	if c.Refresh.AutoSleepSeconds <= 0 {
		c.Refresh.AutoSleepSeconds = DefaultAutoSleepSeconds
	}
	if !validCron(c.Refresh.CleanCron) {
		c.Refresh.CleanCron = ""
	}
	if !validCron(c.Refresh.ClockCron) {
		c.Refresh.ClockCron = ""
	}

	if c.Touch.Addr == 0 {
		c.Touch.Addr = DefaultTouchAddr
	}
	if c.Touch.PollMs <= 0 {
		c.Touch.PollMs = DefaultTouchPollMs
	}
	if c.Touch.SwipeThreshold <= 0 {
		c.Touch.SwipeThreshold = DefaultSwipeThreshold
	}

	if c.Battery.Addr == 0 {
		c.Battery.Addr = DefaultBatteryAddr
	}
}

func validCron(spec string) bool {
	if spec == "" {
		return true
	}
	_, err := cron.ParseStandard(spec)
	return err == nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled on top of the defaults and
//     normalized, so omitted sections keep their default values.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".epdtouch-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
