package pipeline

import (
	"context"

	"github.com/avast/retry-go/v4"
)

// WithRetry calls attempt up to maxAttempts times. After a failure adjust may
// change the parameters of the next attempt and reports whether to try again.
// The last error is returned as is.
func WithRetry(ctx context.Context, maxAttempts int, attempt func(n int) error, adjust func(n int, err error) bool) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	n := 0
	return retry.Do(
		func() error {
			err := attempt(n)
			n++
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(maxAttempts)),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return adjust(n-1, err)
		}),
	)
}
