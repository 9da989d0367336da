package screen

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	appLog "epdtouch/internal/log"
)

// sleepLoop is the sleep manager. The timer is re-armed for the remaining
// idle time after every check, and Close stops it without waiting for it
// to fire.
func (s *Screen) sleepLoop(timer clockwork.Timer) {
	defer close(s.done)
	defer timer.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-timer.Chan():
			timer.Reset(s.checkIdle())
		}
	}
}

// checkIdle sleeps the panel when it has been idle long enough and returns
// the delay until the next check.
func (s *Screen) checkIdle() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != Awake {
		return s.autoSleep
	}
	idle := s.clock.Since(s.lastDisplay)
	if idle < s.autoSleep {
		return s.autoSleep - idle
	}
	if err := s.sleepLocked(context.Background()); err != nil {
		appLog.Error("auto sleep failed", err, "idle", idle)
	}
	return s.autoSleep
}
