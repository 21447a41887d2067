package agenda

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Empty reports whether the interval contains no instant.
func (i Interval) Empty() bool { return !i.Start.Before(i.End) }

// Overlaps reports whether the two intervals share at least one instant.
// Intervals that only touch at a boundary do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	if i.Empty() || o.Empty() {
		return false
	}
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Overlaps is the symmetric pairwise test used by occupancy and conflict
// detection.
func Overlaps(a, b Interval) bool { return a.Overlaps(b) }

// Gap returns the time between the end of the earlier interval and the start
// of the later one. It is negative when the intervals overlap.
func Gap(a, b Interval) time.Duration {
	if b.Start.Before(a.Start) {
		a, b = b, a
	}
	return b.Start.Sub(a.End)
}
