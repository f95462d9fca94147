// Package config provides configuration for the export pipeline. Values are
// resolved in priority order: built-in defaults, then an optional YAML file,
// then BTCFETCH_* environment variables. A .env file in the working directory
// is loaded before environment resolution.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hijack0631/btc-hourly-export/internal/window"
)

// Provider names recognized in the fallback chain.
const (
	ProviderCoinGecko = "coingecko"
	ProviderBinance   = "binance"
	ProviderBitfinex  = "bitfinex"
)

// Config is the complete runtime configuration for one export run.
type Config struct {
	// Instrument identifiers, one per provider naming scheme.
	Coin           string `yaml:"coin" env:"BTCFETCH_COIN"`                       // CoinGecko coin id, e.g. "bitcoin"
	VsCurrency     string `yaml:"vs_currency" env:"BTCFETCH_VS_CURRENCY"`         // CoinGecko quote currency
	BinanceSymbol  string `yaml:"binance_symbol" env:"BTCFETCH_BINANCE_SYMBOL"`   // e.g. "BTCUSDT"
	BitfinexSymbol string `yaml:"bitfinex_symbol" env:"BTCFETCH_BITFINEX_SYMBOL"` // e.g. "tBTCUSD"

	// Window parameters.
	MonthsBack int `yaml:"months_back" env:"BTCFETCH_MONTHS_BACK"`

	// Output.
	Out       string `yaml:"out" env:"BTCFETCH_OUT"`
	DisplayTZ string `yaml:"display_tz" env:"BTCFETCH_DISPLAY_TZ"` // ISO column timezone; unix ms stays UTC

	// Chunking and pagination.
	ChunkDays         int `yaml:"chunk_days" env:"BTCFETCH_CHUNK_DAYS"`                   // CoinGecko calendar-day chunk bound
	MaxBarsPerRequest int `yaml:"max_bars_per_request" env:"BTCFETCH_MAX_BARS_PER_REQUEST"` // Binance/Bitfinex bar-count bound

	// Retry and pacing.
	MaxRetries   int           `yaml:"max_retries" env:"BTCFETCH_MAX_RETRIES"`
	BackoffBase  float64       `yaml:"backoff_base" env:"BTCFETCH_BACKOFF_BASE"`
	RequestDelay time.Duration `yaml:"request_delay" env:"BTCFETCH_REQUEST_DELAY"`
	HTTPTimeout  time.Duration `yaml:"http_timeout" env:"BTCFETCH_HTTP_TIMEOUT"`

	// Quality gate.
	FlatRatioThreshold float64  `yaml:"flat_ratio_threshold" env:"BTCFETCH_FLAT_RATIO_THRESHOLD"`
	ProviderChain      []string `yaml:"provider_chain" env:"BTCFETCH_PROVIDER_CHAIN"`

	// CoinGeckoInterval optionally forces the interval parameter on the range
	// endpoint. The free tier rejects interval=hourly; paid tiers require it
	// for guaranteed granularity. Empty means the parameter is omitted.
	CoinGeckoInterval string `yaml:"coingecko_interval" env:"BTCFETCH_COINGECKO_INTERVAL"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"BTCFETCH_LOG_LEVEL"`             // debug, info, warn, error
	Format     string `yaml:"format" env:"BTCFETCH_LOG_FORMAT"`           // json, text
	Output     string `yaml:"output" env:"BTCFETCH_LOG_OUTPUT"`           // stdout, stderr, file
	FilePath   string `yaml:"file_path" env:"BTCFETCH_LOG_FILE_PATH"`     // log file path when output=file
	MaxSize    int    `yaml:"max_size" env:"BTCFETCH_LOG_MAX_SIZE"`       // MB per rotated file
	MaxBackups int    `yaml:"max_backups" env:"BTCFETCH_LOG_MAX_BACKUPS"` // rotated files to keep
	MaxAge     int    `yaml:"max_age" env:"BTCFETCH_LOG_MAX_AGE"`         // days
	Compress   bool   `yaml:"compress" env:"BTCFETCH_LOG_COMPRESS"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Coin:               "bitcoin",
		VsCurrency:         "usd",
		BinanceSymbol:      "BTCUSDT",
		BitfinexSymbol:     "tBTCUSD",
		MonthsBack:         10,
		Out:                "btcusdt_1h.csv",
		DisplayTZ:          "UTC",
		ChunkDays:          90,
		MaxBarsPerRequest:  1000,
		MaxRetries:         6,
		BackoffBase:        2.0,
		RequestDelay:       250 * time.Millisecond,
		HTTPTimeout:        30 * time.Second,
		FlatRatioThreshold: 0.8,
		ProviderChain:      []string{ProviderCoinGecko, ProviderBinance, ProviderBitfinex},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file, and the
// environment. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Best effort: a missing .env file is not an error.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from BTCFETCH_* environment variables.
func (c *Config) applyEnv() error {
	setString(&c.Coin, "BTCFETCH_COIN")
	setString(&c.VsCurrency, "BTCFETCH_VS_CURRENCY")
	setString(&c.BinanceSymbol, "BTCFETCH_BINANCE_SYMBOL")
	setString(&c.BitfinexSymbol, "BTCFETCH_BITFINEX_SYMBOL")
	setString(&c.Out, "BTCFETCH_OUT")
	setString(&c.DisplayTZ, "BTCFETCH_DISPLAY_TZ")
	setString(&c.CoinGeckoInterval, "BTCFETCH_COINGECKO_INTERVAL")
	setString(&c.Logging.Level, "BTCFETCH_LOG_LEVEL")
	setString(&c.Logging.Format, "BTCFETCH_LOG_FORMAT")
	setString(&c.Logging.Output, "BTCFETCH_LOG_OUTPUT")
	setString(&c.Logging.FilePath, "BTCFETCH_LOG_FILE_PATH")

	if err := setInt(&c.MonthsBack, "BTCFETCH_MONTHS_BACK"); err != nil {
		return err
	}
	if err := setInt(&c.ChunkDays, "BTCFETCH_CHUNK_DAYS"); err != nil {
		return err
	}
	if err := setInt(&c.MaxBarsPerRequest, "BTCFETCH_MAX_BARS_PER_REQUEST"); err != nil {
		return err
	}
	if err := setInt(&c.MaxRetries, "BTCFETCH_MAX_RETRIES"); err != nil {
		return err
	}
	if err := setFloat(&c.BackoffBase, "BTCFETCH_BACKOFF_BASE"); err != nil {
		return err
	}
	if err := setFloat(&c.FlatRatioThreshold, "BTCFETCH_FLAT_RATIO_THRESHOLD"); err != nil {
		return err
	}
	if err := setDuration(&c.RequestDelay, "BTCFETCH_REQUEST_DELAY"); err != nil {
		return err
	}
	if err := setDuration(&c.HTTPTimeout, "BTCFETCH_HTTP_TIMEOUT"); err != nil {
		return err
	}

	if raw, ok := os.LookupEnv("BTCFETCH_PROVIDER_CHAIN"); ok {
		chain := make([]string, 0, 3)
		for _, name := range strings.Split(raw, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name != "" {
				chain = append(chain, name)
			}
		}
		c.ProviderChain = chain
	}

	return nil
}

// Validate rejects configurations that cannot produce a correct run.
func (c *Config) Validate() error {
	// Wrapped in the window sentinel so the CLI can map a bad months value
	// to a usage error rather than a config error.
	if c.MonthsBack <= 0 {
		return fmt.Errorf("%w: months_back is %d", window.ErrInvalidMonths, c.MonthsBack)
	}
	if c.Out == "" {
		return fmt.Errorf("output path cannot be empty")
	}
	if c.ChunkDays <= 0 || c.ChunkDays > 90 {
		return fmt.Errorf("chunk_days must be in (0, 90], got %d", c.ChunkDays)
	}
	if c.MaxBarsPerRequest <= 0 || c.MaxBarsPerRequest > 1000 {
		return fmt.Errorf("max_bars_per_request must be in (0, 1000], got %d", c.MaxBarsPerRequest)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", c.MaxRetries)
	}
	if c.BackoffBase <= 1 {
		return fmt.Errorf("backoff_base must be greater than 1, got %g", c.BackoffBase)
	}
	if c.RequestDelay < 0 {
		return fmt.Errorf("request_delay cannot be negative")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}
	if c.FlatRatioThreshold <= 0 || c.FlatRatioThreshold > 1 {
		return fmt.Errorf("flat_ratio_threshold must be in (0, 1], got %g", c.FlatRatioThreshold)
	}
	if len(c.ProviderChain) == 0 {
		return fmt.Errorf("provider_chain cannot be empty")
	}
	for _, name := range c.ProviderChain {
		switch name {
		case ProviderCoinGecko, ProviderBinance, ProviderBitfinex:
		default:
			return fmt.Errorf("unknown provider %q in provider_chain", name)
		}
	}
	if _, err := time.LoadLocation(c.DisplayTZ); err != nil {
		return fmt.Errorf("invalid display_tz %q: %w", c.DisplayTZ, err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid float for %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	*dst = parsed
	return nil
}
