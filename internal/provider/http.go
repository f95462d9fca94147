package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hijack0631/btc-hourly-export/internal/errs"
)

const (
	userAgent = "btc-hourly-export/1.0"

	// maxErrorBody bounds how much of a failed response is carried in error
	// messages and logs.
	maxErrorBody = 800
)

// httpClient wraps the transport concerns every provider shares: bounded
// per-request timeouts, polite inter-request pacing, retry with exponential
// backoff, and error classification by status code.
type httpClient struct {
	provider string
	client   *http.Client
	limiter  *rate.Limiter
	retry    errs.RetryPolicy
	logger   *slog.Logger
}

func newHTTPClient(provider string, timeout, requestDelay time.Duration, retry errs.RetryPolicy, logger *slog.Logger) *httpClient {
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if requestDelay > 0 {
		limit = rate.Every(requestDelay)
	}

	return &httpClient{
		provider: provider,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, 1),
		retry:   retry,
		logger:  logger,
	}
}

// getJSON fetches url and decodes the 200 response body into dst. Transient
// failures (transport faults, 429/418, 5xx) are retried with backoff; any
// other non-2xx response fails immediately with a rejection error carrying
// the status and a truncated body.
func (c *httpClient) getJSON(ctx context.Context, op, url string, dst any) error {
	// Polite pacing: at most one request per configured delay, applied
	// across chunks. Skipping this is grounds for a provider ban.
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := errs.Retry(ctx, c.retry, c.provider, op, c.logger, func() ([]byte, error) {
		return c.doOnce(ctx, op, url)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return &errs.ProviderError{
			Provider: c.provider,
			Op:       op,
			Kind:     errs.KindRejected,
			Err:      fmt.Errorf("failed to parse response: %w", err),
		}
	}
	return nil
}

func (c *httpClient) doOnce(ctx context.Context, op, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &errs.ProviderError{Provider: c.provider, Op: op, Kind: errs.KindRejected, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.ClassifyTransport(c.provider, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.ClassifyTransport(c.provider, op, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errs.ProviderError{
			Provider:   c.provider,
			Op:         op,
			Kind:       errs.ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), maxErrorBody),
		}
	}

	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
