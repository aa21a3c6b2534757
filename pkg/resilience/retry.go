// Package resilience retries operations that fail transiently.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig provides sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Permanent marks err as not worth retrying. Retry returns err unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs fn until it succeeds, returns a Permanent error, runs out of
// attempts or ctx ends. The last error is returned wrapped with the attempt
// count; a permanent error is returned as is.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.InitialDelay
	b.MaxInterval = config.MaxDelay
	if config.BackoffFactor >= 1 {
		b.Multiplier = config.BackoffFactor
	}
	if !config.JitterEnabled {
		b.RandomizationFactor = 0
	}

	tries := 0
	var permanent *backoff.PermanentError
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		err := fn()
		if err != nil {
			errors.As(err, &permanent)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(attempts)), backoff.WithMaxElapsedTime(0))

	switch {
	case err == nil:
		return nil
	case permanent != nil:
		return permanent.Unwrap()
	case ctx.Err() != nil:
		return err
	}
	return fmt.Errorf("gave up after %d attempts: %w", tries, err)
}
