// Package pipeline orchestrates the fetch run: it tries each configured
// provider in priority order, aggregates its raw output into hourly bars,
// applies the flat-ratio quality gate, and falls back to the next provider on
// any failure. Only exhaustion of the whole chain surfaces as an error.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hijack0631/btc-hourly-export/internal/aggregate"
	"github.com/hijack0631/btc-hourly-export/internal/config"
	"github.com/hijack0631/btc-hourly-export/internal/gaps"
	"github.com/hijack0631/btc-hourly-export/internal/models"
	"github.com/hijack0631/btc-hourly-export/internal/provider"
	"github.com/hijack0631/btc-hourly-export/internal/window"
)

// ErrAllProvidersFailed is returned when every provider in the chain was
// tried and none produced acceptable bars.
var ErrAllProvidersFailed = errors.New("all providers failed or were rejected by the quality gate")

// Attempt records the outcome of one provider try, for diagnostics and the
// end-of-run summary.
type Attempt struct {
	Provider  string
	Bars      int
	FlatRatio float64
	Accepted  bool
	Err       error
	Elapsed   time.Duration
}

// Reason describes why the attempt did not produce the accepted result.
func (a Attempt) Reason() string {
	switch {
	case a.Accepted:
		return "accepted"
	case a.Err != nil:
		return a.Err.Error()
	default:
		return "rejected by flat-ratio gate"
	}
}

// RunReport is the full outcome of a pipeline run.
type RunReport struct {
	Window   window.Window
	Result   *models.ProviderResult
	Attempts []Attempt
	Gaps     []gaps.Gap
	Requests int
	Elapsed  time.Duration
}

// Orchestrator drives the provider chain for a single run.
type Orchestrator struct {
	cfg       *config.Config
	providers []provider.Provider
	logger    *slog.Logger
}

// New builds an orchestrator over an explicit provider chain. The chain must
// contain at least one provider; config.Validate guarantees that for chains
// built from configuration.
func New(cfg *config.Config, providers []provider.Provider, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, providers: providers, logger: logger}
}

// Run executes the fallback state machine over the window and returns the
// accepted result. Providers are tried strictly sequentially; a provider is
// rejected if its fetch fails, its output is empty, or its flat-bar ratio
// reaches the configured threshold.
func (o *Orchestrator) Run(ctx context.Context, win window.Window) (*RunReport, error) {
	report := &RunReport{Window: win}
	runStart := time.Now()

	o.logger.Info("starting fetch run",
		"window", win.String(),
		"expected_hours", win.Hours(),
		"providers", len(o.providers),
		"flat_ratio_threshold", o.cfg.FlatRatioThreshold)

	for i, p := range o.providers {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		attempt := o.try(ctx, p, win, report)
		report.Attempts = append(report.Attempts, attempt)

		if !attempt.Accepted {
			o.logger.Warn("provider rejected, advancing fallback chain",
				"provider", p.Name(),
				"position", i+1,
				"remaining", len(o.providers)-i-1,
				"reason", attempt.Reason())
			continue
		}

		report.Elapsed = time.Since(runStart)
		o.logger.Info("run accepted",
			"provider", report.Result.Provider,
			"bars", len(report.Result.Bars),
			"flat_ratio", report.Result.FlatRatio,
			"gaps", len(report.Gaps),
			"missing_hours", gaps.TotalMissing(report.Gaps),
			"elapsed", report.Elapsed)
		return report, nil
	}

	report.Elapsed = time.Since(runStart)
	return report, ErrAllProvidersFailed
}

// try runs fetch, aggregation, and the quality gate for one provider. The
// named result lets the deferred Elapsed assignment reach the caller.
func (o *Orchestrator) try(ctx context.Context, p provider.Provider, win window.Window, report *RunReport) (attempt Attempt) {
	attempt.Provider = p.Name()
	start := time.Now()
	defer func() { attempt.Elapsed = time.Since(start) }()

	onProgress := func(prog provider.Progress) {
		report.Requests++
		o.logger.Debug("chunk fetched",
			"provider", prog.Provider,
			"chunk_start", prog.ChunkStart.Format(time.RFC3339),
			"chunk_end", prog.ChunkEnd.Format(time.RFC3339),
			"samples", prog.Samples,
			"bars", prog.Bars)
	}

	series, err := p.FetchWindow(ctx, win, onProgress)
	if err != nil {
		attempt.Err = err
		return attempt
	}

	bars, err := aggregate.Aggregate(p.Name(), series)
	if err != nil {
		attempt.Err = err
		return attempt
	}
	attempt.Bars = len(bars)

	attempt.FlatRatio = aggregate.FlatRatio(bars)
	if attempt.FlatRatio >= o.cfg.FlatRatioThreshold {
		// A mostly-flat series means the provider served repeated or
		// interpolated prices instead of real intra-hour movement.
		o.logger.Warn("flat-ratio gate failed",
			"provider", p.Name(),
			"flat_ratio", attempt.FlatRatio,
			"threshold", o.cfg.FlatRatioThreshold,
			"bars", attempt.Bars)
		return attempt
	}

	attempt.Accepted = true
	report.Result = &models.ProviderResult{
		Provider:  p.Name(),
		Bars:      bars,
		FlatRatio: attempt.FlatRatio,
	}
	report.Gaps = gaps.Detect(bars, win)
	return attempt
}
