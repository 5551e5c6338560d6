package workflow

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pavelanni/markbook/internal/apiclient"
)

// RetryPolicy retries transient failures with exponential backoff. The delay
// before retry n is BaseDelay·2^(n-1).
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxRetries int
	// Retryable decides which errors are retried. Nil means
	// apiclient.IsTransient.
	Retryable func(error) bool
	// NewTimer creates the timer that waits between attempts. Nil means a
	// real timer.
	NewTimer func() backoff.Timer
}

// DefaultRetryPolicy waits 1s, 2s, 4s and 8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: time.Second, MaxRetries: 4}
}

// backOff is the unjittered exponential schedule of p.
func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = math.MaxInt64
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delay returns the wait before retry n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	b := p.backOff()
	d := b.NextBackOff()
	for i := 1; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Do runs op until it succeeds, fails with a non-retryable error or the
// retries run out. onRetry is called before each retry with the 1-based
// retry number and MaxRetries.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error, onRetry func(n, max int)) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = apiclient.IsTransient
	}
	maxRetries := max(p.MaxRetries, 0)
	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(maxRetries)), ctx)

	var timer backoff.Timer
	if p.NewTimer != nil {
		timer = p.NewTimer()
	}

	retries := 0
	return backoff.RetryNotifyWithTimer(func() error {
		err := op(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(error, time.Duration) {
		retries++
		if onRetry != nil {
			onRetry(retries, maxRetries)
		}
	}, timer)
}
