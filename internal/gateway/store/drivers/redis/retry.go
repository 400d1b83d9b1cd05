package redis

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/store"
	"github.com/cenkalti/backoff/v5"
)

// readRetryInterval is the pause before the single retry of a read.
const readRetryInterval = 50 * time.Millisecond

// withReadRetry runs an idempotent read, retrying once after a transient
// network failure. Anything else, including ErrNotFound, returns at once.
func withReadRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !isTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(readRetryInterval)),
		backoff.WithMaxTries(2),
	)
}

func isTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
