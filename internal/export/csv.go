// Package export serializes the accepted bar sequence to a flat output file.
// The format is chosen by file extension: .xlsx gets a spreadsheet, anything
// else the canonical CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hijack0631/btc-hourly-export/internal/models"
)

// isoLayout matches the original export format: ISO-8601 with a numeric
// offset, e.g. 2024-03-15T10:00:00+0000.
const isoLayout = "2006-01-02T15:04:05-0700"

// Header is the canonical output column order.
var Header = []string{"time_iso_utc", "time_unix_ms", "Open", "High", "Low", "Close", "Volume"}

// Options controls output formatting.
type Options struct {
	// Location is the timezone for the ISO column. The unix-ms column is
	// always UTC-based regardless. Nil means UTC.
	Location *time.Location
}

// Write serializes bars to path, picking the sink by extension.
func Write(path string, bars []models.HourlyBar, opts Options) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return writeXLSX(path, bars, opts)
	}
	return writeCSV(path, bars, opts)
}

func writeCSV(path string, bars []models.HourlyBar, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := range bars {
		if err := w.Write(row(&bars[i], opts)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return f.Close()
}

// row formats one bar. Prices and volume are fixed to 8 decimal places.
func row(b *models.HourlyBar, opts Options) []string {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return []string{
		b.BarTime.In(loc).Format(isoLayout),
		strconv.FormatInt(b.BarTime.UnixMilli(), 10),
		b.Open.StringFixed(8),
		b.High.StringFixed(8),
		b.Low.StringFixed(8),
		b.Close.StringFixed(8),
		b.Volume.StringFixed(8),
	}
}
