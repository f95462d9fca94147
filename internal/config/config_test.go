package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hijack0631/btc-hourly-export/internal/window"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "bitcoin", cfg.Coin)
	assert.Equal(t, "usd", cfg.VsCurrency)
	assert.Equal(t, "BTCUSDT", cfg.BinanceSymbol)
	assert.Equal(t, "tBTCUSD", cfg.BitfinexSymbol)
	assert.Equal(t, 10, cfg.MonthsBack)
	assert.Equal(t, 90, cfg.ChunkDays)
	assert.Equal(t, 1000, cfg.MaxBarsPerRequest)
	assert.Equal(t, 6, cfg.MaxRetries)
	assert.Equal(t, 2.0, cfg.BackoffBase)
	assert.Equal(t, 250*time.Millisecond, cfg.RequestDelay)
	assert.Equal(t, 0.8, cfg.FlatRatioThreshold)
	assert.Equal(t, []string{ProviderCoinGecko, ProviderBinance, ProviderBitfinex}, cfg.ProviderChain)
	assert.Empty(t, cfg.CoinGeckoInterval, "interval parameter defaults to omitted")
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
coin: ethereum
months_back: 3
out: eth_1h.csv
chunk_days: 30
flat_ratio_threshold: 0.5
provider_chain: [binance, bitfinex]
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ethereum", cfg.Coin)
	assert.Equal(t, 3, cfg.MonthsBack)
	assert.Equal(t, "eth_1h.csv", cfg.Out)
	assert.Equal(t, 30, cfg.ChunkDays)
	assert.Equal(t, 0.5, cfg.FlatRatioThreshold)
	assert.Equal(t, []string{"binance", "bitfinex"}, cfg.ProviderChain)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, "usd", cfg.VsCurrency)
	assert.Equal(t, 6, cfg.MaxRetries)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BTCFETCH_COIN", "litecoin")
	t.Setenv("BTCFETCH_MONTHS_BACK", "5")
	t.Setenv("BTCFETCH_CHUNK_DAYS", "45")
	t.Setenv("BTCFETCH_BACKOFF_BASE", "1.5")
	t.Setenv("BTCFETCH_REQUEST_DELAY", "350ms")
	t.Setenv("BTCFETCH_PROVIDER_CHAIN", " Binance , coingecko ")
	t.Setenv("BTCFETCH_COINGECKO_INTERVAL", "hourly")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "litecoin", cfg.Coin)
	assert.Equal(t, 5, cfg.MonthsBack)
	assert.Equal(t, 45, cfg.ChunkDays)
	assert.Equal(t, 1.5, cfg.BackoffBase)
	assert.Equal(t, 350*time.Millisecond, cfg.RequestDelay)
	assert.Equal(t, []string{"binance", "coingecko"}, cfg.ProviderChain)
	assert.Equal(t, "hourly", cfg.CoinGeckoInterval)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("months_back: 3\n"), 0o644))

	t.Setenv("BTCFETCH_MONTHS_BACK", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MonthsBack, "environment wins over the file layer")
}

func TestLoadRejectsBadEnvValues(t *testing.T) {
	t.Setenv("BTCFETCH_MONTHS_BACK", "ten")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	mutations := map[string]func(*Config){
		"non-positive months":     func(c *Config) { c.MonthsBack = 0 },
		"empty output path":       func(c *Config) { c.Out = "" },
		"chunk days over cap":     func(c *Config) { c.ChunkDays = 91 },
		"zero bars per request":   func(c *Config) { c.MaxBarsPerRequest = 0 },
		"bars per request over":   func(c *Config) { c.MaxBarsPerRequest = 2000 },
		"zero retries":            func(c *Config) { c.MaxRetries = 0 },
		"backoff base at one":     func(c *Config) { c.BackoffBase = 1.0 },
		"negative request delay":  func(c *Config) { c.RequestDelay = -time.Second },
		"zero http timeout":       func(c *Config) { c.HTTPTimeout = 0 },
		"flat threshold at zero":  func(c *Config) { c.FlatRatioThreshold = 0 },
		"flat threshold over one": func(c *Config) { c.FlatRatioThreshold = 1.1 },
		"empty provider chain":    func(c *Config) { c.ProviderChain = nil },
		"unknown provider":        func(c *Config) { c.ProviderChain = []string{"kraken"} },
		"bad display timezone":    func(c *Config) { c.DisplayTZ = "Mars/Olympus" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("non-positive months carries the usage sentinel", func(t *testing.T) {
		cfg := Default()
		cfg.MonthsBack = 0
		assert.ErrorIs(t, cfg.Validate(), window.ErrInvalidMonths)
	})

	t.Run("threshold of exactly one is allowed", func(t *testing.T) {
		cfg := Default()
		cfg.FlatRatioThreshold = 1.0
		assert.NoError(t, cfg.Validate())
	})
}
