package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker"
)

// Kind classifies ledger failures by how callers should react to them.
type Kind int

const (
	// KindTransient covers network errors and timeouts.
	KindTransient Kind = iota
	// KindNotFound means the resource does not exist. It is not a failure.
	KindNotFound
	// KindMalformed means the ledger answered with something we cannot use.
	KindMalformed
	// KindFatal means no request can succeed: the call could not be built or
	// the run was cancelled.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindMalformed:
		return "malformed"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt could succeed.
func (k Kind) Retryable() bool {
	return k == KindTransient
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// BreakerOpen reports whether err came from the shared circuit breaker
// refusing the call.
func BreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// KindOf classifies err. Unrecognised errors are transient, and so is a
// refusal by the circuit breaker: it only affects the call at hand.
func KindOf(err error) Kind {
	var ledgerErr *Error
	if errors.As(err, &ledgerErr) {
		return ledgerErr.Kind
	}
	if BreakerOpen(err) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindMalformed
	}
	return KindTransient
}
