package bridgeclient

import (
	"context"
	"errors"
	"time"
)

// RetryConfig controls invoke()'s exponential backoff, ported from the
// teacher's retry.go shape.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig retries transient transport failures a handful of
// times with capped exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

func (c *Client) invoke(ctx context.Context, fn func(context.Context) error) error {
	backoff := c.retry.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(err) || attempt == c.retry.MaxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.retry.MaxBackoff {
			backoff = c.retry.MaxBackoff
		}
	}
	return lastErr
}

// shouldRetry limits retries to the transient transport conditions: the
// peer being briefly unavailable, or a connection being dropped
// mid-request. A logical TIMEOUT is never retried — the caller's own
// deadline has already been judged authoritative by the Bridge (§9).
func shouldRetry(err error) bool {
	return errors.Is(err, ErrPeerUnavailable) || errors.Is(err, ErrPeerDisconnected)
}
