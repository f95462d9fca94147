// Package provider implements the market-data clients the pipeline pages
// through: CoinGecko (irregular price/volume samples over calendar-day
// chunks), Binance (native hourly klines over a startTime cursor), and
// Bitfinex (native hourly candles over an ascending-sort cursor).
//
// All providers fetch sequentially. Binance and Bitfinex pagination cursors
// are stateful, and every provider enforces a request-rate ceiling, so chunk
// fetches are never issued concurrently.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hijack0631/btc-hourly-export/internal/config"
	"github.com/hijack0631/btc-hourly-export/internal/errs"
	"github.com/hijack0631/btc-hourly-export/internal/models"
	"github.com/hijack0631/btc-hourly-export/internal/window"
)

// Progress describes one completed chunk fetch.
type Progress struct {
	Provider   string
	ChunkStart time.Time
	ChunkEnd   time.Time
	Samples    int
	Bars       int
}

// ProgressFunc receives chunk-level progress during a window fetch. May be
// nil.
type ProgressFunc func(Progress)

// Provider fetches raw market data for a full time window, paging through
// provider-specific chunks internally.
type Provider interface {
	// Name returns the provider identifier used in logs, provenance tags, and
	// the fallback chain configuration.
	Name() string

	// FetchWindow retrieves all raw data for the window, in ascending time
	// order, invoking onProgress after each chunk. Implementations fetch
	// chunks strictly sequentially and pause between requests according to
	// the configured polite delay.
	FetchWindow(ctx context.Context, win window.Window, onProgress ProgressFunc) (*models.Series, error)
}

// BuildChain instantiates the configured fallback chain in priority order.
func BuildChain(cfg *config.Config, logger *slog.Logger) ([]Provider, error) {
	chain := make([]Provider, 0, len(cfg.ProviderChain))
	for _, name := range cfg.ProviderChain {
		switch name {
		case config.ProviderCoinGecko:
			chain = append(chain, NewCoinGecko(cfg, logger))
		case config.ProviderBinance:
			chain = append(chain, NewBinance(cfg, logger))
		case config.ProviderBitfinex:
			chain = append(chain, NewBitfinex(cfg, logger))
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
	return chain, nil
}

func retryPolicy(cfg *config.Config) errs.RetryPolicy {
	return errs.RetryPolicy{MaxAttempts: cfg.MaxRetries, Base: cfg.BackoffBase}
}

func notify(fn ProgressFunc, p Progress) {
	if fn != nil {
		fn(p)
	}
}
