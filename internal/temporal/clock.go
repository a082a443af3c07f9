package temporal

import (
	"time"

	"github.com/tempusnet/tempus/utils/timer/mockable"
)

// DefaultFinalityInterval is the configured default of spec.md §6.
const DefaultFinalityInterval = 60 * time.Second

// DefaultClockTolerance is spec.md §6's clock_tolerance_seconds default.
const DefaultClockTolerance = 5 * time.Second

// BoundaryClock maintains the current UTC window index and admits or
// rejects timestamps relative to local UTC within a configured
// tolerance (spec.md §4.2).
type BoundaryClock struct {
	clock     mockable.Clock
	interval  time.Duration
	tolerance time.Duration
}

func NewBoundaryClock(interval, tolerance time.Duration) *BoundaryClock {
	return &BoundaryClock{interval: interval, tolerance: tolerance}
}

// Set fakes the clock's notion of "now", for deterministic tests that
// need to drive the engine across several UTC boundaries without
// sleeping real wall-clock time.
func (c *BoundaryClock) Set(t time.Time) { c.clock.Set(t) }

// Sync returns the clock to tracking the real OS wall clock.
func (c *BoundaryClock) Sync() { c.clock.Sync() }

func (c *BoundaryClock) Now() time.Time { return c.clock.Time() }

// CurrentWindow returns ⌊now_utc / interval⌋.
func (c *BoundaryClock) CurrentWindow() uint64 {
	return c.WindowOf(c.Now())
}

// WindowOf returns the UTC window index containing t.
func (c *BoundaryClock) WindowOf(t time.Time) uint64 {
	secs := t.UTC().Unix()
	if secs < 0 {
		secs = 0
	}
	return uint64(secs) / uint64(c.interval/time.Second)
}

// BoundaryOf returns the wall-clock instant at which window w closes
// (equivalently, window w+1 opens).
func (c *BoundaryClock) BoundaryOf(w uint64) time.Time {
	secs := int64(w+1) * int64(c.interval/time.Second)
	return time.Unix(secs, 0).UTC()
}

// SecondsToNextBoundary returns how many seconds remain until the
// current window closes.
func (c *BoundaryClock) SecondsToNextBoundary() float64 {
	boundary := c.BoundaryOf(c.CurrentWindow())
	return boundary.Sub(c.Now()).Seconds()
}

// Interval returns the configured finality interval.
func (c *BoundaryClock) Interval() time.Duration { return c.interval }

// AdmitProofWindow reports whether a delay-function proof declaring
// window w may still be embedded in a block: its window must not be
// ahead of the current window, and the embedding block must arrive
// before window w+1 closes (spec.md §4.2).
func (c *BoundaryClock) AdmitProofWindow(w uint64) error {
	current := c.CurrentWindow()
	if w > current {
		return newErr("AdmitProofWindow", KindWindowMismatch, ErrWindowMismatch)
	}
	if w+1 < current {
		// The window this proof was for, and the window after it, have
		// both already closed: too late to embed.
		return newErr("AdmitProofWindow", KindWindowMismatch, ErrWindowMismatch)
	}
	return nil
}

// CheckTimestamp enforces spec.md §4.2/§6's ±tolerance admissibility
// rule: a timestamp exactly tolerance seconds away is accepted; one
// nanosecond further is rejected with ClockSkew.
func (c *BoundaryClock) CheckTimestamp(ts time.Time) error {
	delta := ts.Sub(c.Now())
	if delta < 0 {
		delta = -delta
	}
	if delta > c.tolerance {
		return newErr("CheckTimestamp", KindClockSkew, ErrClockSkew)
	}
	return nil
}
