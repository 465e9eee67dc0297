package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultRetryInterval is the fixed wait between attempts.
const DefaultRetryInterval = 1000 * time.Millisecond

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// Interval is the constant wait between two attempts.
	Interval time.Duration

	// MaxAttempts bounds the number of attempts including the first one.
	// Zero means retry until the context ends.
	MaxAttempts int

	// StopOnClientError makes 4xx responses (other than 408 and 429) terminal.
	StopOnClientError bool
}

// DefaultRetryConfig retries every non-success response once per second
// until it succeeds or the context is cancelled.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Interval: DefaultRetryInterval,
	}
}

// NewBackOff builds the backoff schedule for one logical request.
func (c RetryConfig) NewBackOff() backoff.BackOff {
	var b backoff.BackOff = backoff.NewConstantBackOff(c.Interval)
	if c.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(c.MaxAttempts-1))
	}
	b.Reset()
	return b
}

// shouldRetry determines if an error should be retried based on its classification.
func (c RetryConfig) shouldRetry(class ErrorClass) bool {
	switch class {
	case "":
		return false
	case ErrorClassClient:
		return !c.StopOnClientError
	default:
		return true
	}
}

// retryWithBackoff runs fn until it succeeds, returns a non-retryable
// error, exhausts the policy, or ctx ends. Cancellation interrupts the
// backoff wait immediately.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, logger zerolog.Logger, fn func(ctx context.Context) error) error {
	attempts := 0
	op := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !cfg.shouldRetry(apiErr.Class) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		class := errorClassOf(err)
		retriesTotal.WithLabelValues(string(class)).Inc()
		logger.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Msg("Request failed, retrying after backoff")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(cfg.NewBackOff(), ctx), notify)
	if err == nil {
		if attempts > 1 {
			logger.Info().Int("attempt", attempts).Msg("Request succeeded after retry")
		}
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Debug().Int("attempt", attempts).Msg("Request cancelled")
		return fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && cfg.shouldRetry(apiErr.Class) {
		retryExhaustedTotal.WithLabelValues(string(apiErr.Class)).Inc()
		logger.Error().
			Err(err).
			Int("max_attempts", cfg.MaxAttempts).
			Msg("Retry attempts exhausted")
		return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, err)
	}

	return err
}

func errorClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ErrorClassNetwork
}
