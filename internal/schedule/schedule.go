// Package schedule runs the periodic panel jobs: a clean (forced full)
// refresh to shed ghosting and a clock redraw while a control bar is shown.
package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "epdtouch/internal/log"
)

// Screen is satisfied by *screen.Screen.
type Screen interface {
	ForceFull()
}

// UI is satisfied by *ui.Runtime. Redraw and ClockShown are only called
// from inside Do.
type UI interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
	Redraw(ctx context.Context) error
	ClockShown() bool
}

// Options holds standard 5-field cron specs. An empty spec disables its job.
type Options struct {
	CleanSpec string
	ClockSpec string
}

// Scheduler owns a cron instance with the panel jobs registered.
type Scheduler struct {
	c      *cron.Cron
	screen Screen
	ui     UI
	ctx    context.Context
}

// New validates the specs and registers the jobs. Nothing runs until Run.
func New(opts Options, scr Screen, u UI) (*Scheduler, error) {
	l := cronLogger{}
	s := &Scheduler{
		c:      cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l))),
		screen: scr,
		ui:     u,
		ctx:    context.Background(),
	}
	if opts.CleanSpec != "" {
		if _, err := s.c.AddFunc(opts.CleanSpec, func() { s.clean(s.ctx) }); err != nil {
			return nil, fmt.Errorf("schedule: clean spec %q: %w", opts.CleanSpec, err)
		}
	}
	if opts.ClockSpec != "" {
		if _, err := s.c.AddFunc(opts.ClockSpec, func() { s.tick(s.ctx) }); err != nil {
			return nil, fmt.Errorf("schedule: clock spec %q: %w", opts.ClockSpec, err)
		}
	}
	return s, nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int { return len(s.c.Entries()) }

// Run starts the cron loop and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.c.Start()
	<-ctx.Done()
	<-s.c.Stop().Done()
}

// clean forces the next refresh to be full and redraws right away.
func (s *Scheduler) clean(ctx context.Context) {
	s.screen.ForceFull()
	if err := s.ui.Do(ctx, s.ui.Redraw); err != nil {
		appLog.Error("clean refresh failed", err)
		return
	}
	appLog.Info("clean refresh done")
}

// tick redraws the active app when its clock is visible.
func (s *Scheduler) tick(ctx context.Context) {
	err := s.ui.Do(ctx, func(ctx context.Context) error {
		if !s.ui.ClockShown() {
			return nil
		}
		return s.ui.Redraw(ctx)
	})
	if err != nil {
		appLog.Warn("clock redraw failed", "err", err)
	}
}

// cronLogger routes cron's own logging into the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
