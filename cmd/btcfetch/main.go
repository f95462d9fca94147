// btcfetch downloads historical hourly BTC OHLCV data from public
// market-data APIs and writes it to a flat CSV or XLSX file.
//
// Usage:
//
//	btcfetch --months 10 --out btcusdt_1h_10months.csv
//	btcfetch --months 3 --providers binance,bitfinex --flat-threshold 0.9
//
// Providers are tried in the configured order; a provider whose data fails
// the flat-ratio quality gate, or whose fetch fails outright, is skipped in
// favor of the next one in the chain.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hijack0631/btc-hourly-export/internal/config"
	"github.com/hijack0631/btc-hourly-export/internal/export"
	"github.com/hijack0631/btc-hourly-export/internal/gaps"
	"github.com/hijack0631/btc-hourly-export/internal/logger"
	"github.com/hijack0631/btc-hourly-export/internal/pipeline"
	"github.com/hijack0631/btc-hourly-export/internal/provider"
	"github.com/hijack0631/btc-hourly-export/internal/window"
)

const version = "1.0.0"

// Exit codes follow the usual batch-job conventions.
const (
	exitUsageError  = 1
	exitConfigError = 2
	exitDataError   = 4
)

type flags struct {
	configPath    string
	months        int
	out           string
	delay         time.Duration
	chunkDays     int
	flatThreshold float64
	providers     string
	coin          string
	binanceSymbol string
	tz            string
	logLevel      string
	logFormat     string
}

func main() {
	var fl flags

	root := &cobra.Command{
		Use:           "btcfetch",
		Short:         "Export historical hourly BTC OHLCV data to a flat file",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, &fl)
		},
	}

	root.Flags().StringVar(&fl.configPath, "config", "", "Path to YAML config file")
	root.Flags().IntVar(&fl.months, "months", 10, "How many months back to fetch")
	root.Flags().StringVar(&fl.out, "out", "btcusdt_1h.csv", "Output file path (.csv or .xlsx)")
	root.Flags().DurationVar(&fl.delay, "delay", 250*time.Millisecond, "Polite delay between chunk requests")
	root.Flags().IntVar(&fl.chunkDays, "chunk-days", 90, "Days per CoinGecko chunk (<=90)")
	root.Flags().Float64Var(&fl.flatThreshold, "flat-threshold", 0.8, "Flat-bar ratio at or above which a provider is rejected")
	root.Flags().StringVar(&fl.providers, "providers", "", "Comma-separated provider chain (coingecko,binance,bitfinex)")
	root.Flags().StringVar(&fl.coin, "coin", "bitcoin", "CoinGecko coin id")
	root.Flags().StringVar(&fl.binanceSymbol, "symbol", "BTCUSDT", "Binance symbol")
	root.Flags().StringVar(&fl.tz, "tz", "UTC", "Display timezone for the ISO column")
	root.Flags().StringVar(&fl.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.Flags().StringVar(&fl.logFormat, "log-format", "text", "Log format (text, json)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		switch {
		case errors.Is(err, pipeline.ErrAllProvidersFailed):
			os.Exit(exitDataError)
		case errors.Is(err, window.ErrInvalidMonths):
			os.Exit(exitUsageError)
		default:
			os.Exit(exitConfigError)
		}
	}
}

func run(cmd *cobra.Command, fl *flags) error {
	cfg, err := buildConfig(cmd, fl)
	if err != nil {
		return err
	}

	log, closer, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	win, err := window.Plan(cfg.MonthsBack, time.Now())
	if err != nil {
		return err
	}

	chain, err := provider.BuildChain(cfg, log)
	if err != nil {
		return err
	}

	report, runErr := pipeline.New(cfg, chain, log).Run(ctx, win)
	printSummary(report)
	if runErr != nil {
		return runErr
	}

	loc, err := time.LoadLocation(cfg.DisplayTZ)
	if err != nil {
		return fmt.Errorf("invalid display timezone %q: %w", cfg.DisplayTZ, err)
	}

	if err := export.Write(cfg.Out, report.Result.Bars, export.Options{Location: loc}); err != nil {
		return err
	}

	log.Info("wrote output file",
		"path", cfg.Out,
		"rows", len(report.Result.Bars),
		"provider", report.Result.Provider)
	return nil
}

// buildConfig layers defaults, the optional config file, the environment, and
// finally any explicitly set command-line flags.
func buildConfig(cmd *cobra.Command, fl *flags) (*config.Config, error) {
	cfg, err := config.Load(fl.configPath)
	if err != nil {
		return nil, err
	}

	set := cmd.Flags().Changed
	if set("months") {
		cfg.MonthsBack = fl.months
	}
	if set("out") {
		cfg.Out = fl.out
	}
	if set("delay") {
		cfg.RequestDelay = fl.delay
	}
	if set("chunk-days") {
		cfg.ChunkDays = fl.chunkDays
	}
	if set("flat-threshold") {
		cfg.FlatRatioThreshold = fl.flatThreshold
	}
	if set("coin") {
		cfg.Coin = fl.coin
	}
	if set("symbol") {
		cfg.BinanceSymbol = fl.binanceSymbol
	}
	if set("tz") {
		cfg.DisplayTZ = fl.tz
	}
	if set("log-level") {
		cfg.Logging.Level = fl.logLevel
	}
	if set("log-format") {
		cfg.Logging.Format = fl.logFormat
	}
	if set("providers") {
		var chain []string
		for _, name := range strings.Split(fl.providers, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name != "" {
				chain = append(chain, name)
			}
		}
		cfg.ProviderChain = chain
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// printSummary renders the per-provider attempt table and any data gaps in
// the accepted result.
func printSummary(report *pipeline.RunReport) {
	if report == nil || len(report.Attempts) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Provider", "Bars", "Flat Ratio", "Elapsed", "Outcome"})
	for _, a := range report.Attempts {
		t.AppendRow(table.Row{
			a.Provider,
			a.Bars,
			fmt.Sprintf("%.3f", a.FlatRatio),
			a.Elapsed.Round(time.Millisecond),
			a.Reason(),
		})
	}
	t.Render()

	if len(report.Gaps) > 0 {
		fmt.Printf("Data gaps (%d missing hours):\n", gaps.TotalMissing(report.Gaps))
		for _, g := range report.Gaps {
			fmt.Printf("  %s\n", g)
		}
	}
}
