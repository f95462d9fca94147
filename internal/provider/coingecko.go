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
	"github.com/hijack0631/btc-hourly-export/internal/models"
	"github.com/hijack0631/btc-hourly-export/internal/window"
)

const coinGeckoBaseURL = "https://api.coingecko.com/api/v3"

// CoinGecko fetches irregular price and volume samples from the
// market_chart/range endpoint. The window is paged in calendar-day chunks of
// at most 90 days: within that span the free tier returns hourly-granularity
// samples without any interval parameter. Forcing interval=hourly is an
// Enterprise-tier feature and makes the free tier reject the request, so the
// parameter is only sent when explicitly configured.
type CoinGecko struct {
	http      *httpClient
	baseURL   string
	coin      string
	vs        string
	interval  string
	chunkSpan time.Duration
	logger    *slog.Logger
}

// NewCoinGecko builds the CoinGecko client from run configuration.
func NewCoinGecko(cfg *config.Config, logger *slog.Logger) *CoinGecko {
	if logger == nil {
		logger = slog.Default()
	}
	return &CoinGecko{
		http:      newHTTPClient(config.ProviderCoinGecko, cfg.HTTPTimeout, cfg.RequestDelay, retryPolicy(cfg), logger),
		baseURL:   coinGeckoBaseURL,
		coin:      cfg.Coin,
		vs:        cfg.VsCurrency,
		interval:  cfg.CoinGeckoInterval,
		chunkSpan: time.Duration(cfg.ChunkDays) * 24 * time.Hour,
		logger:    logger,
	}
}

// Name implements Provider.
func (c *CoinGecko) Name() string { return config.ProviderCoinGecko }

// marketChartResponse mirrors the market_chart/range payload: parallel lists
// of [timestamp_ms, value] pairs.
type marketChartResponse struct {
	Prices       [][2]json.Number `json:"prices"`
	TotalVolumes [][2]json.Number `json:"total_volumes"`
}

// FetchWindow implements Provider. Chunks are concatenated as fetched; the
// aggregator deduplicates chunk-boundary overlaps last-write-wins.
func (c *CoinGecko) FetchWindow(ctx context.Context, win window.Window, onProgress ProgressFunc) (*models.Series, error) {
	series := &models.Series{}

	for _, chunk := range win.Split(c.chunkSpan) {
		c.logger.Info("fetching chunk",
			"provider", c.Name(),
			"from", chunk.Start.Format(time.RFC3339),
			"to", chunk.End.Format(time.RFC3339))

		var resp marketChartResponse
		if err := c.http.getJSON(ctx, "market_chart_range", c.rangeURL(chunk), &resp); err != nil {
			return nil, err
		}

		before := len(series.Prices)
		series.Prices = appendSamples(series.Prices, resp.Prices)
		series.Volumes = appendSamples(series.Volumes, resp.TotalVolumes)

		notify(onProgress, Progress{
			Provider:   c.Name(),
			ChunkStart: chunk.Start,
			ChunkEnd:   chunk.End,
			Samples:    len(series.Prices) - before,
		})
	}

	return series, nil
}

func (c *CoinGecko) rangeURL(chunk window.Chunk) string {
	params := url.Values{}
	params.Set("vs_currency", c.vs)
	params.Set("from", strconv.FormatInt(chunk.Start.Unix(), 10))
	params.Set("to", strconv.FormatInt(chunk.End.Unix(), 10))
	if c.interval != "" {
		params.Set("interval", c.interval)
	}
	return fmt.Sprintf("%s/coins/%s/market_chart/range?%s", c.baseURL, c.coin, params.Encode())
}

var _ Provider = (*CoinGecko)(nil)

// appendSamples converts [timestamp_ms, value] pairs into raw samples,
// skipping entries that do not parse.
func appendSamples(dst []models.RawSample, pairs [][2]json.Number) []models.RawSample {
	for _, pair := range pairs {
		ts, err := pair[0].Int64()
		if err != nil {
			// Timestamps occasionally arrive with a fractional part.
			f, ferr := pair[0].Float64()
			if ferr != nil {
				continue
			}
			ts = int64(f)
		}
		value, err := decimal.NewFromString(pair[1].String())
		if err != nil {
			continue
		}
		dst = append(dst, models.RawSample{TimeMS: ts, Value: value})
	}
	return dst
}
