// Package retry runs fallible setup calls with backoff and provides a
// context-aware sleep.
//
// It is used for the stream rule calls, which may hit transient network or
// server errors before a connection is ever opened. The stream connection
// itself is never retried.
//
//	err := retry.Do(ctx, &retry.Config{
//	    MaxAttempts: 3,
//	    Backoff:     retry.NewExponentialBackoff(time.Second, 30*time.Second),
//	}, func(ctx context.Context) error {
//	    return api.AddRules(ctx, rules)
//	})
//
// Errors typed by pkg/errors are retried according to errors.IsRetryable;
// context cancellation is never retried.
package retry
