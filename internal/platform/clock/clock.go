// Package clock provides an injectable time source so expiry sweeps,
// code validation, and used_at stamping are deterministic in tests.
package clock

import "time"

// Clock is the time source used by the authorization engine.
type Clock interface {
	Now() time.Time
	Today() time.Time
}

type systemClock struct{}

// System returns a Clock backed by the wall clock.
func System() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Today() time.Time {
	y, m, d := time.Now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Fixed is a Clock pinned to a single instant, for tests and replays.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }

func (f Fixed) Today() time.Time {
	y, m, d := f.T.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
