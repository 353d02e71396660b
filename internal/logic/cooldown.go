package logic

import "time"

// Cooldown enforces a minimum gap between accepted manual starts.
// It is process-wide: one window shared by every zone.
type Cooldown struct {
	Period    time.Duration
	LastStart time.Time // zero until the first accepted manual start
}

// Allows reports whether a manual start at now is outside the window.
// Elapsed time equal to Period is allowed.
func (c Cooldown) Allows(now time.Time) bool {
	if c.LastStart.IsZero() {
		return true
	}
	return now.Sub(c.LastStart) >= c.Period
}

// Remaining returns how long until the next manual start is allowed.
func (c Cooldown) Remaining(now time.Time) time.Duration {
	if c.Allows(now) {
		return 0
	}
	return c.Period - now.Sub(c.LastStart)
}
