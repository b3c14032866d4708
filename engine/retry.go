package engine

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// retryPolicy mirrors broker retry contract: transient errors are
// retried up to 3 times at a fixed 100ms spacing (not exponential — the
// exchange documents this spacing explicitly, so we honor it verbatim
// rather than substituting jpillora/backoff's curve here).
const (
	maxTransientRetries = 3
	transientRetrySpacing = 100 * time.Millisecond
)

// withRetry runs op, retrying per the ErrorKind the op's error carries.
// Only ErrorKindTransient is retried; everything else is returned as-is so
// the caller's own fallback logic (skip signal, widen stop, drop) runs.
func withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if KindOf(err) != ErrorKindTransient {
			return err
		}
		if attempt == maxTransientRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(transientRetrySpacing):
		}
	}
	return err
}

// StreamBackoff() builds the capped exponential backoff used by bar/trade
// stream readers on reconnect.
func StreamBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min: 500 * time.Millisecond,
		Max: 30 * time.Second,
		Factor: 2,
		Jitter: true,
	}
}
