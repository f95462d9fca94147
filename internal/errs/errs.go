// Package errs classifies fetch failures and drives the retry policy shared
// by all provider clients. Transient conditions (network faults, rate limits,
// server errors) are retried with exponential backoff; provider rejections are
// permanent and advance the fallback chain instead.
package errs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Kind classifies a provider failure for retry and fallback decisions.
type Kind string

const (
	// KindTransport covers network-level faults and request timeouts.
	KindTransport Kind = "transport"
	// KindRateLimited covers HTTP 429 and Binance's 418 ban status.
	KindRateLimited Kind = "rate_limited"
	// KindServerError covers HTTP 5xx responses.
	KindServerError Kind = "server_error"
	// KindRejected covers any other non-2xx response; never retried.
	KindRejected Kind = "rejected"
	// KindExhausted marks a provider whose retry ceiling was hit.
	KindExhausted Kind = "exhausted"
	// KindEmptyResult marks a provider that returned zero usable samples.
	KindEmptyResult Kind = "empty_result"
)

// ProviderError carries the classification and HTTP context of a failed
// provider operation.
type ProviderError struct {
	Provider   string
	Op         string
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("[%s/%s] %s: HTTP %d: %s", e.Provider, e.Kind, e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("[%s/%s] %s: HTTP %d", e.Provider, e.Kind, e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("[%s/%s] %s: %v", e.Provider, e.Kind, e.Op, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches two ProviderErrors by kind, so callers can probe with
// errors.Is(err, &ProviderError{Kind: KindExhausted}).
func (e *ProviderError) Is(target error) bool {
	var pe *ProviderError
	if errors.As(target, &pe) {
		return e.Kind == pe.Kind
	}
	return false
}

// Retryable reports whether the error represents a transient condition worth
// another attempt against the same provider.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindRateLimited, KindServerError:
		return true
	default:
		return false
	}
}

// ClassifyStatus maps an HTTP status code to a failure kind. 418 is included
// with 429 because Binance uses it for temporary IP bans, which resolve with
// the same backoff treatment.
func ClassifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return KindRateLimited
	case status >= 500:
		return KindServerError
	default:
		return KindRejected
	}
}

// ClassifyTransport wraps a transport-level failure (connection error or
// timeout) from an HTTP round trip.
func ClassifyTransport(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Kind: KindTransport, Err: err}
}

// RetryPolicy configures the shared retry loop.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries including the first one.
	MaxAttempts int
	// Base is the exponent base for backoff delays: Base^attempt seconds.
	Base float64
}

// DefaultRetryPolicy mirrors the provider clients' shared policy: six
// attempts, delays of 1s, 2s, 4s, 8s, 16s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 6, Base: 2.0}
}

// Retry runs op with exponential backoff until it succeeds, returns a
// non-retryable error, or the attempt ceiling is reached. Non-retryable
// errors are returned as-is; an exhausted ceiling wraps the last error in a
// KindExhausted ProviderError.
func Retry[T any](ctx context.Context, policy RetryPolicy, provider, opName string, logger *slog.Logger, op func() (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.Multiplier = policy.Base
	expo.RandomizationFactor = 0
	expo.MaxInterval = 5 * time.Minute
	expo.MaxElapsedTime = 0

	strategy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(policy.MaxAttempts-1)), ctx)

	attempt := 0
	var lastErr error
	wrapped := func() (T, error) {
		attempt++
		result, err := op()
		if err == nil {
			return result, nil
		}

		lastErr = err
		var pe *ProviderError
		retryable := errors.As(err, &pe) && pe.Retryable()

		logger.Warn("provider request failed",
			"provider", provider,
			"operation", opName,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"retryable", retryable,
			"error", err.Error())

		if !retryable {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	result, err := backoff.RetryWithData(wrapped, strategy)
	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		return result, fmt.Errorf("%s %s canceled: %w", provider, opName, ctx.Err())
	}

	var pe *ProviderError
	if errors.As(err, &pe) && !pe.Retryable() {
		return result, err
	}

	return result, &ProviderError{
		Provider: provider,
		Op:       opName,
		Kind:     KindExhausted,
		Err:      fmt.Errorf("failed after %d attempts: %w", attempt, lastErr),
	}
}
