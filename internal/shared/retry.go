package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// BusyRetries is how many attempts RetryOnConflict makes before giving up.
const BusyRetries = 3

// busyBaseDelay is the first backoff step: 100ms, 200ms, 400ms.
var busyBaseDelay = 100 * time.Millisecond

// RetryOnConflict runs fn until it succeeds, fails with an error that is not
// a SQLite concurrency error, or BusyRetries attempts have been made. Waits
// between attempts back off exponentially and stop early when ctx is done.
func RetryOnConflict(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := range BusyRetries {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsSQLiteConflictError(err) || i == BusyRetries-1 {
			break
		}

		delay := busyBaseDelay * time.Duration(1<<i)
		slog.Debug("sqlite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
