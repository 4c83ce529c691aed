package availability

import (
	"iter"
	"time"
)

// GenerateSlots yields candidate intervals of length duration starting at open
// and stepping by granularity. A slot that would end after close is dropped,
// not truncated. The sequence is pure, so ranging it again yields the same
// slots.
func GenerateSlots(open, close time.Time, duration, granularity time.Duration) iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		if duration <= 0 || granularity <= 0 || !close.After(open) {
			return
		}
		for start := open; !start.Add(duration).After(close); start = start.Add(granularity) {
			if !yield(Interval{Start: start, End: start.Add(duration)}) {
				return
			}
		}
	}
}
