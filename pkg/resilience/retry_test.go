package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestRetry(t *testing.T) {
	errDown := errors.New("connection refused")

	tests := []struct {
		name      string
		attempts  int
		failures  int
		permanent bool
		wantCalls int
		wantErr   bool
	}{
		{"first try", 3, 0, false, 1, false},
		{"recovers", 3, 2, false, 3, false},
		{"exhausted", 3, 5, false, 3, true},
		{"permanent stops early", 5, 5, true, 1, true},
		{"zero attempts runs once", 0, 5, false, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), fastConfig(tt.attempts), func() error {
				calls++
				if calls <= tt.failures {
					if tt.permanent {
						return Permanent(errDown)
					}
					return errDown
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, errDown)
			if tt.permanent {
				assert.Same(t, errDown, err)
			}
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, &RetryConfig{MaxAttempts: 10, InitialDelay: time.Hour, MaxDelay: time.Hour}, func() error {
		calls++
		cancel()
		return errors.New("down")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetry_DefaultConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.True(t, cfg.JitterEnabled)

	require.NoError(t, Retry(context.Background(), nil, func() error { return nil }))
}
