// Package clock provides an injectable abstraction over timestamps,
// timeouts, and periodic scheduling so session and PTY lifecycle logic can
// be tested deterministically instead of depending on wall-clock timers.
package clock

import "time"

// Clock is the minimal surface components need from time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors time.Ticker so it can be faked in tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// System is the real, wall-clock-backed Clock used in production.
type System struct{}

// New returns the production Clock.
func New() Clock { return System{} }

func (System) Now() time.Time { return time.Now() }

func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (System) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }
