package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hijack0631/btc-hourly-export/internal/config"
	"github.com/hijack0631/btc-hourly-export/internal/errs"
	"github.com/hijack0631/btc-hourly-export/internal/window"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RequestDelay = 0
	cfg.MaxRetries = 2
	cfg.HTTPTimeout = 5 * time.Second
	return cfg
}

func testWindow(hours int) window.Window {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return window.Window{Start: start, End: start.Add(time.Duration(hours) * time.Hour)}
}

func TestCoinGeckoFetchWindow(t *testing.T) {
	t.Run("parses samples and omits interval parameter", func(t *testing.T) {
		var gotQuery atomic.Value
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/coins/bitcoin/market_chart/range", r.URL.Path)
			gotQuery.Store(r.URL.Query())
			w.Write([]byte(`{
				"prices": [[1709251200000, 62000.5], [1709254800000, 62100.25]],
				"total_volumes": [[1709251200000, 1000.0], [1709254800000, 1100.0]]
			}`))
		}))
		defer server.Close()

		cg := NewCoinGecko(testConfig(), nil)
		cg.baseURL = server.URL

		series, err := cg.FetchWindow(context.Background(), testWindow(2), nil)
		require.NoError(t, err)

		require.Len(t, series.Prices, 2)
		require.Len(t, series.Volumes, 2)
		assert.False(t, series.IsNative())
		assert.Equal(t, int64(1709251200000), series.Prices[0].TimeMS)
		assert.Equal(t, "62000.5", series.Prices[0].Value.String())

		query := gotQuery.Load().(url.Values)
		assert.Equal(t, "usd", query.Get("vs_currency"))
		assert.NotEmpty(t, query.Get("from"))
		assert.NotEmpty(t, query.Get("to"))
		_, hasInterval := query["interval"]
		assert.False(t, hasInterval, "free tier must not receive an interval parameter")
	})

	t.Run("sends interval parameter only when configured", func(t *testing.T) {
		var gotInterval atomic.Value
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotInterval.Store(r.URL.Query().Get("interval"))
			w.Write([]byte(`{"prices": [[1709251200000, 62000]], "total_volumes": []}`))
		}))
		defer server.Close()

		cfg := testConfig()
		cfg.CoinGeckoInterval = "hourly"
		cg := NewCoinGecko(cfg, nil)
		cg.baseURL = server.URL

		_, err := cg.FetchWindow(context.Background(), testWindow(1), nil)
		require.NoError(t, err)
		assert.Equal(t, "hourly", gotInterval.Load())
	})

	t.Run("one request per chunk with progress callbacks", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.Write([]byte(`{"prices": [[1709251200000, 62000]], "total_volumes": []}`))
		}))
		defer server.Close()

		cfg := testConfig()
		cfg.ChunkDays = 2
		cg := NewCoinGecko(cfg, nil)
		cg.baseURL = server.URL

		var progress []Progress
		win := testWindow(5 * 24) // five days -> three 2-day chunks
		_, err := cg.FetchWindow(context.Background(), win, func(p Progress) {
			progress = append(progress, p)
		})
		require.NoError(t, err)

		assert.Equal(t, int32(3), requests.Load())
		require.Len(t, progress, 3)
		assert.Equal(t, win.Start, progress[0].ChunkStart)
		assert.Equal(t, win.End, progress[2].ChunkEnd)
	})

	t.Run("retries server errors then succeeds", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"prices": [[1709251200000, 62000]], "total_volumes": []}`))
		}))
		defer server.Close()

		cg := NewCoinGecko(testConfig(), nil)
		cg.baseURL = server.URL

		series, err := cg.FetchWindow(context.Background(), testWindow(1), nil)
		require.NoError(t, err)
		assert.Len(t, series.Prices, 1)
		assert.Equal(t, int32(2), requests.Load())
	})

	t.Run("client error fails immediately without retry", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "interval=hourly is Enterprise only"}`))
		}))
		defer server.Close()

		cg := NewCoinGecko(testConfig(), nil)
		cg.baseURL = server.URL

		_, err := cg.FetchWindow(context.Background(), testWindow(1), nil)
		require.Error(t, err)
		assert.Equal(t, int32(1), requests.Load())

		var pe *errs.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, errs.KindRejected, pe.Kind)
		assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
		assert.Contains(t, pe.Body, "Enterprise")
	})

	t.Run("retry ceiling surfaces exhaustion", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		cg := NewCoinGecko(testConfig(), nil)
		cg.baseURL = server.URL

		_, err := cg.FetchWindow(context.Background(), testWindow(1), nil)
		require.Error(t, err)

		var pe *errs.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, errs.KindExhausted, pe.Kind)
	})

	t.Run("malformed sample entries are skipped", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"prices": [[1709251200000, 62000], [1709254800000.7, 62100]], "total_volumes": []}`))
		}))
		defer server.Close()

		cg := NewCoinGecko(testConfig(), nil)
		cg.baseURL = server.URL

		series, err := cg.FetchWindow(context.Background(), testWindow(2), nil)
		require.NoError(t, err)
		// The fractional timestamp is still usable after truncation.
		require.Len(t, series.Prices, 2)
		assert.Equal(t, int64(1709254800000), series.Prices[1].TimeMS)
	})
}
