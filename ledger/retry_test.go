package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestRetryPolicy_RetriesTransientOnce(t *testing.T) {
	p := RetryPolicy{MaxRetries: 1, NewBackOff: zeroBackOff}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return newError(KindTransient, "probe", errors.New("timeout"))
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicy_SucceedsOnRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 1, NewBackOff: zeroBackOff}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return newError(KindTransient, "probe", errors.New("timeout"))
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicy_DoesNotRetryPermanentKinds(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, NewBackOff: zeroBackOff}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return newError(KindMalformed, "trades", errors.New("bad json"))
	})
	assert.Equal(t, KindMalformed, KindOf(err))
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ZeroRetries(t *testing.T) {
	calls := 0
	_ = RetryPolicy{NewBackOff: zeroBackOff}.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("reset")
	})
	assert.Equal(t, 1, calls)
}
