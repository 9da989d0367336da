package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"epdtouch/internal/battery"
	"epdtouch/internal/config"
	"epdtouch/internal/epd"
	appLog "epdtouch/internal/log"
	"epdtouch/internal/schedule"
	"epdtouch/internal/screen"
	"epdtouch/internal/touch"
	"epdtouch/internal/ui"
	"epdtouch/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	debug      bool
	noTouch    bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("epdtouch starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"threshold", conf.Refresh.Threshold,
		"auto_sleep_s", conf.Refresh.AutoSleepSeconds,
		"wait_partial", conf.Refresh.WaitPartial,
		"touch", conf.Touch.Enabled && !flags.noTouch,
		"battery", conf.Battery.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("epdtouch failed", err)
		os.Exit(1)
	}
	appLog.Info("epdtouch exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	clock := clockwork.NewRealClock()

	transport := epd.NewSPITransport(epd.SPIConfig{
		Port:    conf.Panel.SPI,
		SpeedHz: conf.Panel.SpeedHz,
		Reset:   conf.Panel.ResetPin,
		DC:      conf.Panel.DCPin,
		CS:      conf.Panel.CSPin,
		Busy:    conf.Panel.BusyPin,
	})
	driver := epd.New(transport, epd.Options{
		BusyTimeout: time.Duration(conf.Panel.BusyTimeoutMs) * time.Millisecond,
	})
	scr := screen.New(driver, screen.Options{
		Threshold:   conf.Refresh.Threshold,
		AutoSleep:   time.Duration(conf.Refresh.AutoSleepSeconds) * time.Second,
		WaitPartial: conf.Refresh.WaitPartial,
		Clock:       clock,
	})
	if err := scr.Start(ctx); err != nil {
		// The next display retries the init.
		appLog.Error("panel init failed", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := scr.Close(closeCtx); err != nil {
			appLog.Error("panel shutdown failed", err)
		}
	}()

	bat, closeBattery := openBattery(conf, flags.debug, clock)
	defer closeBattery()
	var percent func() (int, bool)
	if bat != nil {
		percent = bat.Percent
	}

	rt := ui.NewRuntime(scr, ui.RuntimeOptions{Clock: clock, Battery: percent})
	if err := buildApps(rt, scr, clock); err != nil {
		return err
	}
	rt.BackHome()

	var wg sync.WaitGroup
	touches := make(chan touch.Event, 8)

	if conf.Touch.Enabled && !flags.noTouch {
		tp, bus, err := touch.OpenICNT86(conf.Touch.I2C, conf.Touch.Addr, conf.Touch.IntPin, touch.ICNT86Options{
			PollInterval:   time.Duration(conf.Touch.PollMs) * time.Millisecond,
			SwipeThreshold: conf.Touch.SwipeThreshold,
			Clock:          clock,
		})
		if err != nil {
			appLog.Error("touch panel unavailable; continuing without touch", err)
		} else {
			defer bus.Close()
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := tp.Run(ctx, touches); err != nil && !errors.Is(err, context.Canceled) {
					appLog.Error("touch loop stopped", err)
				}
			}()
		}
	}

	sched, err := schedule.New(schedule.Options{
		CleanSpec: conf.Refresh.CleanCron,
		ClockSpec: conf.Refresh.ClockCron,
	}, scr, rt)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	if conf.Listen != "" {
		srv := web.NewServer(conf, scr, rt, bat)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx); err != nil {
				appLog.Error("HTTP server stopped", err)
			}
		}()
	}

	// First frame; Run owns the UI from here on.
	if err := rt.Redraw(ctx); err != nil {
		appLog.Error("initial draw failed", err)
	}
	err = rt.Run(ctx, touches)
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openBattery returns a cached gauge reader, a mock one in debug mode when
// no gauge is configured, or nil. The returned func releases the bus.
func openBattery(conf *config.Config, debug bool, clock clockwork.Clock) (*battery.Cache, func()) {
	nop := func() {}
	if !conf.Battery.Enabled {
		if debug {
			return battery.NewCache(battery.NewMockReader(), 0, clock), nop
		}
		return nil, nop
	}
	r, bus, err := battery.OpenI2C(conf.Battery.I2C, conf.Battery.Addr)
	if err != nil {
		appLog.Error("battery gauge unavailable", err)
		return nil, nop
	}
	return battery.NewCache(r, 0, clock), func() { bus.Close() }
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epdtouch/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging and a mock battery when no gauge is configured")
	flag.BoolVar(&cfg.noTouch, "no-touch", false, "Do not open the touch controller")

	flag.Parse()

	return cfg
}
