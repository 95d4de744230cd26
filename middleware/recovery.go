package middleware

import (
	"fmt"
	"runtime/debug"
	"time"

	"ledger_scanner/utils"

	"github.com/sony/gobreaker"
)

// NewBreaker trips after the given number of consecutive failed ledger calls
// and stays open for timeout before letting probes through again.
func NewBreaker(name string, consecutiveFailures int, timeout time.Duration) *gobreaker.CircuitBreaker {
	if consecutiveFailures <= 0 {
		consecutiveFailures = 10
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(consecutiveFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			utils.Logger.Warnw("Circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})
}

// WithCircuitBreaker runs fn through cb. Errors for which ignore returns true
// are returned to the caller without counting as failures.
func WithCircuitBreaker(cb *gobreaker.CircuitBreaker, ignore func(error) bool, fn func() error) error {
	var passthrough error
	_, err := cb.Execute(func() (interface{}, error) {
		err := fn()
		if err != nil && ignore != nil && ignore(err) {
			passthrough = err
			return nil, nil
		}
		return nil, err
	})
	if err != nil {
		return err
	}
	return passthrough
}

// Recover runs fn and converts a panic into an error.
func Recover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			utils.Logger.Errorw("Panic recovered",
				"error", r,
				"stack", string(stack))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
