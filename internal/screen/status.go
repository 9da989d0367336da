package screen

import (
	"fmt"
	"image"
	"time"
)

// State is the logical panel state.
type State int

const (
	Uninitialized State = iota
	Awake
	Asleep
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Awake:
		return "awake"
	case Asleep:
		return "asleep"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time copy of the Screen state.
type Status struct {
	State       State     `json:"state"`
	Partials    int       `json:"partials"`
	Threshold   int       `json:"threshold"`
	LastDisplay time.Time `json:"last_display"`
	Fulls       uint64    `json:"full_refreshes"`
	PartialsAll uint64    `json:"partial_refreshes"`
	Sleeps      uint64    `json:"sleeps"`

	// Frame is the last image sent to the panel, nil before the first draw.
	Frame image.Image `json:"-"`
}

// Snapshot returns the current state.
func (s *Screen) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:       s.state,
		Partials:    s.partials,
		Threshold:   s.threshold,
		LastDisplay: s.lastDisplay,
		Fulls:       s.fulls,
		PartialsAll: s.partialsAll,
		Sleeps:      s.sleeps,
		Frame:       s.lastFrame,
	}
}
