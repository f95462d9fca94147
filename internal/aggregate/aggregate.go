// Package aggregate turns irregular provider samples into strict hourly OHLCV
// bars. Duplicate timestamps are resolved last-write-wins (later chunks
// overwrite earlier ones at chunk-boundary overlaps), price and volume streams
// are outer-joined on timestamp, and hours with no price observation are
// omitted rather than fabricated.
package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hijack0631/btc-hourly-export/internal/errs"
	"github.com/hijack0631/btc-hourly-export/internal/models"
)

// Aggregate converts a provider series into ordered hourly bars.
//
// Native series (providers that already serve 1-hour candles) only get
// deduplication and sorting; their OHLC values are trusted as-is. Sample
// series are resampled into hour buckets. A series with zero price
// observations yields a KindEmptyResult error, which advances the fallback
// chain.
func Aggregate(provider string, series *models.Series) ([]models.HourlyBar, error) {
	if series == nil || series.Empty() {
		return nil, &errs.ProviderError{
			Provider: provider,
			Op:       "aggregate",
			Kind:     errs.KindEmptyResult,
		}
	}

	if series.IsNative() {
		return dedupeBars(series.Bars), nil
	}

	prices := dedupeSamples(series.Prices)
	volumes := dedupeSamples(series.Volumes)
	return resample(prices, volumes), nil
}

// FlatRatio returns the fraction of bars where open, high, low, and close are
// exactly equal. An empty slice counts as fully flat so the quality gate
// rejects it.
func FlatRatio(bars []models.HourlyBar) float64 {
	if len(bars) == 0 {
		return 1.0
	}
	flat := 0
	for i := range bars {
		if bars[i].IsFlat() {
			flat++
		}
	}
	return float64(flat) / float64(len(bars))
}

// dedupeSamples collapses a sample stream to one value per timestamp,
// last-write-wins, and returns it sorted ascending.
func dedupeSamples(samples []models.RawSample) []models.RawSample {
	if len(samples) == 0 {
		return nil
	}

	byTime := make(map[int64]decimal.Decimal, len(samples))
	for _, s := range samples {
		byTime[s.TimeMS] = s.Value
	}

	out := make([]models.RawSample, 0, len(byTime))
	for ts, v := range byTime {
		out = append(out, models.RawSample{TimeMS: ts, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeMS < out[j].TimeMS })
	return out
}

// dedupeBars collapses native bars to one per bar time, last-write-wins, and
// returns them sorted ascending.
func dedupeBars(bars []models.HourlyBar) []models.HourlyBar {
	byTime := make(map[int64]models.HourlyBar, len(bars))
	for _, b := range bars {
		byTime[b.BarTime.UnixMilli()] = b
	}

	out := make([]models.HourlyBar, 0, len(byTime))
	for _, b := range byTime {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BarTime.Before(out[j].BarTime) })
	return out
}

// joined is one timestamp of the outer-joined price/volume series.
type joined struct {
	timeMS int64
	price  decimal.Decimal
	volume decimal.Decimal
}

// join outer-joins deduplicated, sorted price and volume streams on
// timestamp. Volume-only timestamps take the most recent known price
// (forward-fill only, never backward); price-only timestamps get zero volume.
// Volume-only timestamps preceding the first price are dropped because there
// is no price to fill from.
func join(prices, volumes []models.RawSample) []joined {
	volumeAt := make(map[int64]decimal.Decimal, len(volumes))
	for _, v := range volumes {
		volumeAt[v.TimeMS] = v.Value
	}
	priceAt := make(map[int64]struct{}, len(prices))
	for _, p := range prices {
		priceAt[p.TimeMS] = struct{}{}
	}

	// Merge the two timestamp sets, ascending.
	allTimes := make([]int64, 0, len(prices)+len(volumes))
	for _, p := range prices {
		allTimes = append(allTimes, p.TimeMS)
	}
	for _, v := range volumes {
		if _, ok := priceAt[v.TimeMS]; !ok {
			allTimes = append(allTimes, v.TimeMS)
		}
	}
	sort.Slice(allTimes, func(i, j int) bool { return allTimes[i] < allTimes[j] })

	priceVal := make(map[int64]decimal.Decimal, len(prices))
	for _, p := range prices {
		priceVal[p.TimeMS] = p.Value
	}

	out := make([]joined, 0, len(allTimes))
	var lastPrice decimal.Decimal
	havePrice := false
	for _, ts := range allTimes {
		if p, ok := priceVal[ts]; ok {
			lastPrice = p
			havePrice = true
		}
		if !havePrice {
			continue
		}
		row := joined{timeMS: ts, price: lastPrice}
		if v, ok := volumeAt[ts]; ok {
			row.volume = v
		}
		out = append(out, row)
	}
	return out
}

// resample buckets the joined series into hour-aligned windows and computes
// OHLCV per non-empty bucket: open is the first price by time, close the
// last, high/low the extremes, volume the sum.
func resample(prices, volumes []models.RawSample) []models.HourlyBar {
	rows := join(prices, volumes)
	if len(rows) == 0 {
		return nil
	}

	var bars []models.HourlyBar
	var cur *models.HourlyBar
	for _, row := range rows {
		hour := time.UnixMilli(row.timeMS).UTC().Truncate(time.Hour)

		if cur == nil || !cur.BarTime.Equal(hour) {
			if cur != nil {
				bars = append(bars, *cur)
			}
			cur = &models.HourlyBar{
				BarTime: hour,
				Open:    row.price,
				High:    row.price,
				Low:     row.price,
				Close:   row.price,
				Volume:  row.volume,
			}
			continue
		}

		if row.price.GreaterThan(cur.High) {
			cur.High = row.price
		}
		if row.price.LessThan(cur.Low) {
			cur.Low = row.price
		}
		cur.Close = row.price
		cur.Volume = cur.Volume.Add(row.volume)
	}
	bars = append(bars, *cur)
	return bars
}
