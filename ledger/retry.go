package ledger

import (
	"context"
	"time"

	"ledger_scanner/utils"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how many times a single ledger call is repeated after a
// transient failure. Other kinds are never retried.
type RetryPolicy struct {
	MaxRetries int
	// NewBackOff defaults to utils.NewExponentialBackoff.
	NewBackOff func() backoff.BackOff
}

func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	newBackOff := p.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return utils.NewExponentialBackoff() }
	}
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(retries)), ctx)

	return backoff.RetryNotify(func() error {
		err := op(ctx)
		if err != nil && !KindOf(err).Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		utils.Logger.Debugw("Retrying ledger call", "error", err, "wait", wait)
	})
}
