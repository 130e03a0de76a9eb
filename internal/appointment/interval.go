package appointment

import "time"

// MaxDurationMinutes bounds a single appointment to one day.
const MaxDurationMinutes = 24 * 60

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds the range covered by a start time and a duration in minutes.
func NewInterval(start time.Time, minutes int) Interval {
	return Interval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// Overlaps reports whether two ranges share any instant. Touching endpoints do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}
