package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retry behavior for one error category.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero means fail immediately.
	MaxRetries int

	// InitialDelay is the base delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed backoff before jitter is added.
	MaxDelay time.Duration

	// Multiplier scales the delay after each failed attempt.
	Multiplier float64
}

// policies maps each failure category to its retry policy. Validation
// failures are never retried.
var policies = map[ErrorCategory]Policy{
	CategoryNetwork:    {MaxRetries: 5, InitialDelay: 1 * time.Second, MaxDelay: 60 * time.Second, Multiplier: 2},
	CategoryRateLimit:  {MaxRetries: 3, InitialDelay: 5 * time.Second, MaxDelay: 300 * time.Second, Multiplier: 3},
	CategoryAuth:       {MaxRetries: 2, InitialDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2},
	CategoryValidation: {MaxRetries: 0, InitialDelay: 0, MaxDelay: 0, Multiplier: 1},
	CategoryTimeout:    {MaxRetries: 3, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second, Multiplier: 2},
}

// PolicyFor returns the retry policy for a category. Unknown categories get
// the network policy.
func PolicyFor(category ErrorCategory) Policy {
	if p, ok := policies[category]; ok {
		return p
	}
	return policies[CategoryNetwork]
}

// RetryOptions configures WithRetry / WithAutoRetry.
type RetryOptions struct {
	// Category fixes the failure category up front. When empty, WithRetry
	// classifies the first error and keeps that category for the whole
	// sequence; WithAutoRetry ignores this field entirely.
	Category ErrorCategory

	// Overrides replaces the category's policy when non-nil.
	Overrides *Policy

	// OnRetry is called before each backoff sleep with the 1-based number
	// of the attempt that just failed. Observability only; it cannot alter
	// control flow.
	OnRetry func(attempt int, err error, category ErrorCategory)
}

// WithRetry executes op under the retry policy of a single failure
// category. The last error encountered propagates once retries are
// exhausted.
func WithRetry(ctx context.Context, opts RetryOptions, op func(ctx context.Context) error) error {
	_, err := retry(ctx, opts, false, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// WithAutoRetry is like WithRetry but reclassifies the error after every
// failure instead of assuming a category up front, so an operation that
// first times out and then hits a rate limit is retried under each
// category's own policy.
func WithAutoRetry(ctx context.Context, opts RetryOptions, op func(ctx context.Context) error) error {
	_, err := retry(ctx, opts, true, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// WithAutoRetryVal is WithAutoRetry for operations that return a value.
func WithAutoRetryVal[T any](ctx context.Context, opts RetryOptions, op func(ctx context.Context) (T, error)) (T, error) {
	return retry(ctx, opts, true, op)
}

func retry[T any](ctx context.Context, opts RetryOptions, auto bool, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	category := opts.Category

	for attempt := 1; ; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}

		if auto || category == "" {
			category = Classify(err)
		}

		pol := PolicyFor(category)
		if opts.Overrides != nil {
			pol = *opts.Overrides
		}

		// attempt-1 retries have already happened.
		if attempt-1 >= pol.MaxRetries {
			return zero, err
		}

		if ctx.Err() != nil {
			return zero, err
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, category)
		}

		delay := backoffDelay(attempt, pol)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

// backoffDelay computes the sleep before the retry following the given
// failed attempt (1-based): min(initial*multiplier^(attempt-1), max) plus
// one-sided jitter of up to 10% of the base. Jitter only ever adds delay.
func backoffDelay(attempt int, pol Policy) time.Duration {
	base := float64(pol.InitialDelay) * math.Pow(pol.Multiplier, float64(attempt-1))
	if base > float64(pol.MaxDelay) {
		base = float64(pol.MaxDelay)
	}
	jitter := rand.Float64() * 0.10 * base
	return time.Duration(base + jitter)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(source, operation string) func(int, error, ErrorCategory) {
	return func(attempt int, err error, category ErrorCategory) {
		zap.L().Warn("retrying operation",
			zap.String("source", source),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("category", string(category)),
			zap.Error(err),
		)
	}
}
