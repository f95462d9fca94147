// Package gaps reports missing hours in an aggregated bar sequence. Gaps are
// never filled or interpolated; they are surfaced so the operator can see
// where source data genuinely has holes.
package gaps

import (
	"fmt"
	"time"

	"github.com/hijack0631/btc-hourly-export/internal/models"
	"github.com/hijack0631/btc-hourly-export/internal/window"
)

// Gap is a contiguous range of hours inside the fetch window with no bar.
// Start is the first missing hour; End is the hour after the last missing
// one, so the range is half-open like the window itself.
type Gap struct {
	Start        time.Time
	End          time.Time
	MissingHours int
}

// String formats the gap for logs and the run summary.
func (g Gap) String() string {
	return fmt.Sprintf("%s..%s (%d hours)", g.Start.Format(time.RFC3339), g.End.Format(time.RFC3339), g.MissingHours)
}

// Detect scans the window hour by hour and returns the contiguous ranges for
// which bars carry no data. Bars must be sorted ascending, as the aggregator
// produces them.
func Detect(bars []models.HourlyBar, win window.Window) []Gap {
	present := make(map[int64]struct{}, len(bars))
	for i := range bars {
		present[bars[i].BarTime.Unix()] = struct{}{}
	}

	var out []Gap
	var open *Gap
	for hour := win.Start.Truncate(time.Hour); hour.Before(win.End); hour = hour.Add(time.Hour) {
		if _, ok := present[hour.Unix()]; ok {
			if open != nil {
				out = append(out, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &Gap{Start: hour, End: hour.Add(time.Hour), MissingHours: 1}
			continue
		}
		open.End = hour.Add(time.Hour)
		open.MissingHours++
	}
	if open != nil {
		out = append(out, *open)
	}
	return out
}

// TotalMissing sums the missing hours across all gaps.
func TotalMissing(gapList []Gap) int {
	total := 0
	for _, g := range gapList {
		total += g.MissingHours
	}
	return total
}
