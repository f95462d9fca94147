// Package window computes the UTC time range a fetch run covers and splits it
// into provider-bounded chunks. Providers page through chunks sequentially, so
// the split must partition the window exactly: ascending, contiguous, no
// overlap, no gap.
package window

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMonths is returned when the requested month offset is not a
// positive integer.
var ErrInvalidMonths = errors.New("months back must be a positive integer")

// Window is an immutable [Start, End) UTC time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Chunk is a sub-range of a window bounded by a provider-specific maximum
// span. Chunks produced by Split cover the parent window exactly once.
type Chunk struct {
	Start time.Time
	End   time.Time
}

// Plan computes the window for a fetch run. End is now truncated to the top of
// the current hour; Start is midnight on the first day of the calendar month
// monthsBack months before End's month, with year rollover handled by month
// arithmetic.
func Plan(monthsBack int, now time.Time) (Window, error) {
	if monthsBack <= 0 {
		return Window{}, fmt.Errorf("%w: got %d", ErrInvalidMonths, monthsBack)
	}

	end := now.UTC().Truncate(time.Hour)

	year := end.Year()
	month := int(end.Month()) - monthsBack
	for month <= 0 {
		month += 12
		year--
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)

	return Window{Start: start, End: end}, nil
}

// Split partitions the window into contiguous chunks no larger than maxSpan.
// The final chunk is truncated to the window end. A non-positive maxSpan
// yields a single chunk covering the whole window.
func (w Window) Split(maxSpan time.Duration) []Chunk {
	if maxSpan <= 0 {
		return []Chunk{{Start: w.Start, End: w.End}}
	}

	var chunks []Chunk
	cur := w.Start
	for cur.Before(w.End) {
		next := cur.Add(maxSpan)
		if next.After(w.End) {
			next = w.End
		}
		chunks = append(chunks, Chunk{Start: cur, End: next})
		cur = next
	}
	return chunks
}

// Duration returns the total span of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Hours returns the number of whole hours the window covers, which is the
// expected bar count when source data has no gaps.
func (w Window) Hours() int {
	return int(w.Duration() / time.Hour)
}

// Contains reports whether t falls inside the half-open window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// String formats the window for logs.
func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
