// Package adapters provides the concrete runtime adapters (C5): httpA2A,
// native, and stub, each implementing adapter.Adapter for one agent wire
// kind. Selection among them happens by manifest.Agent.RuntimeKind at
// registration time.
package adapters

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/aethara/fabric-gateway/fabricerr"
)

// RetryConfig configures the bounded exponential backoff applied to
// transient UPSTREAM_ERROR failures from a remote agent.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            float64
}

// DefaultRetryConfig returns the gateway's baseline retry policy for
// outbound adapter calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// isRetryable reports whether err is worth retrying: only an UPSTREAM_ERROR
// or a TIMEOUT from the remote side qualifies, never a caller mistake
// (BAD_INPUT) or a routing failure (AGENT_NOT_FOUND and friends).
func isRetryable(err error) bool {
	fe, ok := fabricerr.As(err)
	if !ok {
		return false
	}
	switch fe.Code {
	case fabricerr.CodeUpstreamError, fabricerr.CodeTimeout:
		return true
	default:
		return false
	}
}

// withRetry executes fn, retrying transient failures under cfg's bounded
// exponential backoff. A non-retryable error returns immediately. The
// context's own deadline (the envelope's timeout) bounds the whole
// sequence regardless of how many attempts remain.
func withRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) || attempt >= cfg.MaxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(backoffFor(cfg, attempt)):
		}
	}
	return lastErr
}

func backoffFor(cfg RetryConfig, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		backoff += backoff * cfg.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter, not security sensitive
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}
