package fn

import (
	"context"
	"time"
)

// RetryConfig defines the parameters for exponential backoff retry behavior.
type RetryConfig struct {
	// MaxRetries specifies how many times to retry after the initial
	// attempt fails.
	MaxRetries int

	// InitialBackoff sets the delay before the first retry attempt.
	InitialBackoff time.Duration

	// BackoffMultiplier determines the growth rate of the backoff between
	// successive retries.
	BackoffMultiplier float64

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// IsRetryable decides whether an error is worth another attempt. A nil
	// value retries on every error.
	IsRetryable func(error) bool
}

// DefaultRetryConfig returns the retry policy used for reads against external
// services (object store, relay, chain backend).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    200 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        4 * time.Second,
	}
}

// RetryFuncN executes f with exponential backoff until it succeeds, the
// retries are exhausted, the error is classified as permanent, or the context
// is cancelled.
func RetryFuncN[T any](ctx context.Context, config RetryConfig,
	f func() (T, error)) (T, error) {

	var (
		result T
		err    error
	)

	backoff := config.InitialBackoff
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result, err = f()
		if err == nil {
			return result, nil
		}

		if attempt == config.MaxRetries {
			return result, err
		}
		if config.IsRetryable != nil && !config.IsRetryable(err) {
			return result, err
		}

		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()

		case <-time.After(backoff):
			backoff = time.Duration(
				float64(backoff) * config.BackoffMultiplier,
			)
		}
	}

	return result, err
}
