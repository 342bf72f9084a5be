package concurrency

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jamesenh/novelgen/internal/errs"
)

// WithBackoff retries fn when it returns a *errs.TransientError, using
// exponential backoff with base 2. Non-transient errors surface
// immediately without retrying, per the core's retry contract: timeout-
// class errors back off, everything else is final.
func WithBackoff(ctx context.Context, maxAttempts uint, fn func() error) error {
	if maxAttempts == 0 {
		maxAttempts = 4
	}
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isTransient),
		retry.LastErrorOnly(true),
	)
}

func isTransient(err error) bool {
	var te *errs.TransientError
	return errors.As(err, &te)
}
