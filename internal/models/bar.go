// Package models provides the data structures flowing through the hourly
// OHLCV export pipeline: raw provider samples, hourly bars, and the tagged
// result a provider attempt produces.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RawSample is a single provider-reported observation (price or volume) at an
// arbitrary instant. Timestamps are unix milliseconds; they are not required
// to be hour-aligned.
type RawSample struct {
	TimeMS int64           `json:"time_ms"`
	Value  decimal.Decimal `json:"value"`
}

// Time returns the sample instant in UTC.
func (s RawSample) Time() time.Time {
	return time.UnixMilli(s.TimeMS).UTC()
}

// HourlyBar is one hour of OHLCV data. BarTime is the opening instant of the
// hour, truncated to the top of the hour, always UTC.
type HourlyBar struct {
	BarTime time.Time       `json:"bar_time"`
	Open    decimal.Decimal `json:"open"`
	High    decimal.Decimal `json:"high"`
	Low     decimal.Decimal `json:"low"`
	Close   decimal.Decimal `json:"close"`
	Volume  decimal.Decimal `json:"volume"`
}

// ValidationError reports a bar field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks the structural invariants of a bar: the timestamp must be
// hour-aligned UTC, prices positive, volume non-negative, and the OHLC
// relationship low <= {open, close} <= high must hold.
func (b *HourlyBar) Validate() error {
	if b.BarTime.IsZero() {
		return &ValidationError{Field: "bar_time", Message: "bar time cannot be zero"}
	}
	if !b.BarTime.Equal(b.BarTime.Truncate(time.Hour)) {
		return &ValidationError{Field: "bar_time", Message: "bar time must be aligned to the top of the hour"}
	}

	zero := decimal.Zero
	if b.Open.LessThanOrEqual(zero) {
		return &ValidationError{Field: "open", Message: "open price must be greater than 0"}
	}
	if b.High.LessThanOrEqual(zero) {
		return &ValidationError{Field: "high", Message: "high price must be greater than 0"}
	}
	if b.Low.LessThanOrEqual(zero) {
		return &ValidationError{Field: "low", Message: "low price must be greater than 0"}
	}
	if b.Close.LessThanOrEqual(zero) {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}
	if b.Volume.LessThan(zero) {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	maxOpenClose := decimal.Max(b.Open, b.Close)
	if b.High.LessThan(maxOpenClose) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close) (%s)", b.High, maxOpenClose),
		}
	}

	minOpenClose := decimal.Min(b.Open, b.Close)
	if b.Low.GreaterThan(minOpenClose) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close) (%s)", b.Low, minOpenClose),
		}
	}

	return nil
}

// IsFlat reports whether the bar is degenerate: open, high, low, and close are
// all exactly equal. Free-tier endpoints that interpolate or repeat the
// last-known price produce long runs of flat bars, which is the signal the
// quality gate looks for.
func (b *HourlyBar) IsFlat() bool {
	return b.Open.Equal(b.High) && b.Open.Equal(b.Low) && b.Open.Equal(b.Close)
}

// String returns a human-readable representation of the bar.
func (b *HourlyBar) String() string {
	return fmt.Sprintf("HourlyBar{Time: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		b.BarTime.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close, b.Volume)
}

// Series is the raw output of one provider fetch over a window. Sample-based
// providers (CoinGecko) populate Prices and Volumes; providers that serve
// native hourly candles (Binance, Bitfinex) populate Bars directly and leave
// the sample slices empty.
type Series struct {
	Prices  []RawSample
	Volumes []RawSample
	Bars    []HourlyBar
}

// IsNative reports whether the series carries provider-built hourly bars
// rather than irregular samples.
func (s *Series) IsNative() bool {
	return len(s.Bars) > 0
}

// Empty reports whether the series contains no usable observations at all.
func (s *Series) Empty() bool {
	return len(s.Prices) == 0 && len(s.Bars) == 0
}

// ProviderResult is an ordered sequence of hourly bars tagged with the
// provider that produced it and the computed flat-bar ratio the quality gate
// evaluated.
type ProviderResult struct {
	Provider  string      `json:"provider"`
	Bars      []HourlyBar `json:"bars"`
	FlatRatio float64     `json:"flat_ratio"`
}
