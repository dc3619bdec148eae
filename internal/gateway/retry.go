package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/qflowio/queueworker/internal/apierr"
)

// retryConfig controls the Gateway's retry classification: transient
// faults are retried with exponential back-off (base 1s, cap 10s,
// jitter), up to N attempts (default 3); permanent faults fail
// immediately.
type retryConfig struct {
	maxAttempts int
	base        time.Duration
	cap         time.Duration
}

var defaultRetry = retryConfig{maxAttempts: 3, base: time.Second, cap: 10 * time.Second}

// withRetry runs op, retrying transient failures per cfg and
// tripping breaker on repeated failure. A permanent fault is wrapped in
// backoff.Permanent so a single classification pass decides whether to
// retry at all, the same two-branch shape as the Temporal dial loop in
// internal/temporalx/client.go (isRetryableRPC gating whether
// clampBackoff continues).
func withRetry(ctx context.Context, breaker *gobreaker.CircuitBreaker, cfg retryConfig, op func() error) error {
	wrapped := func() (struct{}, error) {
		_, err := breaker.Execute(func() (interface{}, error) {
			return nil, op()
		})
		if err == nil {
			return struct{}{}, nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return struct{}{}, backoff.Permanent(apierr.StoreUnavailable("circuit breaker open", err))
		}
		if classify(err) == FaultPermanent {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.base
	b.MaxInterval = cfg.cap
	b.Multiplier = 2
	b.RandomizationFactor = 0.3

	_, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.maxAttempts)),
	)
	if err == nil {
		return nil
	}

	var apiErr *apierr.Error
	if as(err, &apiErr) {
		return apiErr
	}
	if classify(err) == FaultTransient {
		return apierr.StoreUnavailable("exhausted retries", err)
	}
	return apierr.StoreError("permanent store fault", err)
}

func as(err error, target **apierr.Error) bool {
	for err != nil {
		if e, ok := err.(*apierr.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// newBreaker builds a per-store circuit breaker: trips after 5
// consecutive failures, half-opens after 30s, grounded on sony/gobreaker's
// standard ReadyToTrip/ConsecutiveFailures pattern.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return gobreaker.NewCircuitBreaker(st)
}
