package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethara/fabric-gateway/fabricerr"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
		Jitter:            0,
	}
}

// TestWithRetryRetriesUpstreamErrorUntilSuccess verifies a transient
// UPSTREAM_ERROR is retried and a later success is returned.
func TestWithRetryRetriesUpstreamErrorUntilSuccess(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return fabricerr.New(fabricerr.CodeUpstreamError, "transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

// TestWithRetryStopsOnNonRetryableError verifies BAD_INPUT is never retried.
func TestWithRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		attempts++
		return fabricerr.New(fabricerr.CodeBadInput, "bad")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

// TestWithRetryExhaustsAttemptsAndReturnsLastError verifies that a
// persistently failing call stops after MaxAttempts and surfaces the last
// observed error.
func TestWithRetryExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	attempts := 0
	cfg := fastRetryConfig()
	err := withRetry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return fabricerr.Newf(fabricerr.CodeUpstreamError, "attempt %d", attempts)
	})
	require.Error(t, err)
	assert.Equal(t, cfg.MaxAttempts, attempts)
	fe, ok := fabricerr.As(err)
	require.True(t, ok)
	assert.Equal(t, fabricerr.CodeUpstreamError, fe.Code)
}

// TestWithRetryHonorsContextCancellation verifies a cancelled context
// stops retries during the backoff wait rather than spinning forever.
func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}

	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := withRetry(ctx, cfg, func(ctx context.Context) error {
		attempts++
		return fabricerr.New(fabricerr.CodeUpstreamError, "transient")
	})
	require.Error(t, err)
	assert.Less(t, attempts, cfg.MaxAttempts)
}
