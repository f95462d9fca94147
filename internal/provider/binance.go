package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hijack0631/btc-hourly-export/internal/config"
	"github.com/hijack0631/btc-hourly-export/internal/errs"
	"github.com/hijack0631/btc-hourly-export/internal/models"
	"github.com/hijack0631/btc-hourly-export/internal/window"
)

const (
	binanceBaseURL = "https://api.binance.com"

	// Binance returns klines already aligned to the hour.
	binanceInterval   = "1h"
	binanceIntervalMS = int64(time.Hour / time.Millisecond)
)

// Binance fetches native 1-hour klines from /api/v3/klines, paging by bar
// count with a startTime cursor. After each call the cursor advances to the
// last returned open time plus one hour; a cursor that fails to advance stops
// the fetch rather than looping forever.
type Binance struct {
	http    *httpClient
	baseURL string
	symbol  string
	maxBars int
	logger  *slog.Logger
}

// NewBinance builds the Binance client from run configuration.
func NewBinance(cfg *config.Config, logger *slog.Logger) *Binance {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.HTTPTimeout
	if timeout > 20*time.Second {
		timeout = 20 * time.Second
	}
	return &Binance{
		http:    newHTTPClient(config.ProviderBinance, timeout, cfg.RequestDelay, retryPolicy(cfg), logger),
		baseURL: binanceBaseURL,
		symbol:  cfg.BinanceSymbol,
		maxBars: cfg.MaxBarsPerRequest,
		logger:  logger,
	}
}

// Name implements Provider.
func (b *Binance) Name() string { return config.ProviderBinance }

// FetchWindow implements Provider.
func (b *Binance) FetchWindow(ctx context.Context, win window.Window, onProgress ProgressFunc) (*models.Series, error) {
	series := &models.Series{}
	startMS := win.Start.UnixMilli()
	endMS := win.End.UnixMilli()
	cursor := startMS

	for cursor < endMS {
		b.logger.Info("fetching chunk",
			"provider", b.Name(),
			"cursor", time.UnixMilli(cursor).UTC().Format(time.RFC3339),
			"limit", b.maxBars)

		var klines [][]json.RawMessage
		if err := b.http.getJSON(ctx, "klines", b.klinesURL(cursor), &klines); err != nil {
			return nil, err
		}
		if len(klines) == 0 {
			b.logger.Warn("empty kline chunk, stopping pagination", "provider", b.Name())
			break
		}

		added := 0
		var lastOpenMS int64
		for _, k := range klines {
			bar, openMS, err := decodeKline(k)
			if err != nil {
				b.logger.Warn("skipping malformed kline", "provider", b.Name(), "error", err)
				continue
			}
			lastOpenMS = openMS
			if openMS < startMS || openMS >= endMS {
				continue
			}
			series.Bars = append(series.Bars, bar)
			added++
		}

		notify(onProgress, Progress{
			Provider:   b.Name(),
			ChunkStart: time.UnixMilli(cursor).UTC(),
			ChunkEnd:   time.UnixMilli(lastOpenMS).UTC().Add(time.Hour),
			Bars:       added,
		})

		next := lastOpenMS + binanceIntervalMS
		if next <= cursor {
			return nil, &errs.ProviderError{
				Provider: b.Name(),
				Op:       "klines",
				Kind:     errs.KindRejected,
				Err:      fmt.Errorf("pagination stalled at cursor %d", cursor),
			}
		}
		cursor = next
	}

	return series, nil
}

func (b *Binance) klinesURL(startMS int64) string {
	params := url.Values{}
	params.Set("symbol", b.symbol)
	params.Set("interval", binanceInterval)
	params.Set("startTime", strconv.FormatInt(startMS, 10))
	params.Set("limit", strconv.Itoa(b.maxBars))
	return b.baseURL + "/api/v3/klines?" + params.Encode()
}

// decodeKline parses one kline tuple:
// [openTime, open, high, low, close, volume, closeTime, ...].
// Prices and volume arrive as decimal strings; timestamps as integers.
func decodeKline(k []json.RawMessage) (models.HourlyBar, int64, error) {
	if len(k) < 6 {
		return models.HourlyBar{}, 0, fmt.Errorf("kline has %d fields, want at least 6", len(k))
	}

	var openMS int64
	if err := json.Unmarshal(k[0], &openMS); err != nil {
		return models.HourlyBar{}, 0, fmt.Errorf("invalid open time: %w", err)
	}

	fields := make([]decimal.Decimal, 5)
	for i := 1; i <= 5; i++ {
		var raw string
		if err := json.Unmarshal(k[i], &raw); err != nil {
			return models.HourlyBar{}, 0, fmt.Errorf("invalid kline field %d: %w", i, err)
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return models.HourlyBar{}, 0, fmt.Errorf("invalid decimal in kline field %d: %w", i, err)
		}
		fields[i-1] = value
	}

	bar := models.HourlyBar{
		BarTime: time.UnixMilli(openMS).UTC(),
		Open:    fields[0],
		High:    fields[1],
		Low:     fields[2],
		Close:   fields[3],
		Volume:  fields[4],
	}
	return bar, openMS, nil
}

var _ Provider = (*Binance)(nil)
