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

const bitfinexBaseURL = "https://api-pub.bitfinex.com"

// Bitfinex fetches native 1-hour candles from /v2/candles with ascending
// sort, paging by bar count. The cursor advances to the last candle's
// timestamp plus one millisecond after each call.
//
// Bitfinex candle tuples are [time, open, close, high, low, volume]: open and
// close precede high and low, unlike every other provider here.
type Bitfinex struct {
	http    *httpClient
	baseURL string
	symbol  string
	maxBars int
	logger  *slog.Logger
}

// NewBitfinex builds the Bitfinex client from run configuration.
func NewBitfinex(cfg *config.Config, logger *slog.Logger) *Bitfinex {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bitfinex{
		http:    newHTTPClient(config.ProviderBitfinex, cfg.HTTPTimeout, cfg.RequestDelay, retryPolicy(cfg), logger),
		baseURL: bitfinexBaseURL,
		symbol:  cfg.BitfinexSymbol,
		maxBars: cfg.MaxBarsPerRequest,
		logger:  logger,
	}
}

// Name implements Provider.
func (b *Bitfinex) Name() string { return config.ProviderBitfinex }

// FetchWindow implements Provider.
func (b *Bitfinex) FetchWindow(ctx context.Context, win window.Window, onProgress ProgressFunc) (*models.Series, error) {
	series := &models.Series{}
	startMS := win.Start.UnixMilli()
	endMS := win.End.UnixMilli()
	cursor := startMS

	for cursor < endMS {
		b.logger.Info("fetching chunk",
			"provider", b.Name(),
			"cursor", time.UnixMilli(cursor).UTC().Format(time.RFC3339),
			"limit", b.maxBars)

		var candles [][6]json.Number
		if err := b.http.getJSON(ctx, "candles", b.candlesURL(cursor, endMS), &candles); err != nil {
			return nil, err
		}
		if len(candles) == 0 {
			b.logger.Warn("empty candle chunk, stopping pagination", "provider", b.Name())
			break
		}

		added := 0
		var lastMS int64
		for _, c := range candles {
			bar, ts, err := decodeCandle(c)
			if err != nil {
				b.logger.Warn("skipping malformed candle", "provider", b.Name(), "error", err)
				continue
			}
			lastMS = ts
			if ts < startMS || ts >= endMS {
				continue
			}
			series.Bars = append(series.Bars, bar)
			added++
		}

		notify(onProgress, Progress{
			Provider:   b.Name(),
			ChunkStart: time.UnixMilli(cursor).UTC(),
			ChunkEnd:   time.UnixMilli(lastMS).UTC().Add(time.Hour),
			Bars:       added,
		})

		next := lastMS + 1
		if next <= cursor {
			return nil, &errs.ProviderError{
				Provider: b.Name(),
				Op:       "candles",
				Kind:     errs.KindRejected,
				Err:      fmt.Errorf("pagination stalled at cursor %d", cursor),
			}
		}
		cursor = next
	}

	return series, nil
}

func (b *Bitfinex) candlesURL(startMS, endMS int64) string {
	params := url.Values{}
	params.Set("start", strconv.FormatInt(startMS, 10))
	params.Set("end", strconv.FormatInt(endMS, 10))
	params.Set("limit", strconv.Itoa(b.maxBars))
	params.Set("sort", "1")
	return fmt.Sprintf("%s/v2/candles/trade:1h:%s/hist?%s", b.baseURL, b.symbol, params.Encode())
}

// decodeCandle parses one [time, open, close, high, low, volume] tuple.
func decodeCandle(c [6]json.Number) (models.HourlyBar, int64, error) {
	ts, err := c[0].Int64()
	if err != nil {
		return models.HourlyBar{}, 0, fmt.Errorf("invalid candle timestamp: %w", err)
	}

	values := make([]decimal.Decimal, 5)
	for i := 1; i <= 5; i++ {
		v, err := decimal.NewFromString(c[i].String())
		if err != nil {
			return models.HourlyBar{}, 0, fmt.Errorf("invalid decimal in candle field %d: %w", i, err)
		}
		values[i-1] = v
	}

	bar := models.HourlyBar{
		BarTime: time.UnixMilli(ts).UTC(),
		Open:    values[0],
		Close:   values[1],
		High:    values[2],
		Low:     values[3],
		Volume:  values[4],
	}
	return bar, ts, nil
}

var _ Provider = (*Bitfinex)(nil)
