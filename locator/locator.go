package locator

import (
	"context"
	"errors"
	"fmt"

	"ledger_scanner/ledger"
	"ledger_scanner/metrics"
	"ledger_scanner/utils"
)

// ErrServiceUnreachable aborts a run: the ledger cannot be reached at all.
var ErrServiceUnreachable = errors.New("ledger unreachable")

type Strategy string

const (
	// Linear probes every ID until the first absence.
	Linear Strategy = "linear"
	// Binary searches [start, ceiling] assuming existence is monotonic in ID.
	Binary Strategy = "binary"
	// Exponential doubles its step while IDs exist, then refines the last gap.
	Exponential Strategy = "exponential"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case Linear, Binary, Exponential:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown locator strategy %q", s)
}

// Prober answers whether an account ID exists.
type Prober interface {
	LookupAddress(ctx context.Context, accountID int64) (string, bool, error)
}

type Options struct {
	Strategy Strategy
	// Ceiling is the highest ID Binary may return. Zero means unbounded for
	// Linear and Exponential.
	Ceiling int64
	Retry   ledger.RetryPolicy
	Pacer   *Pacer
	Book    *AddressBook
}

type Locator struct {
	prober Prober
	opts   Options

	probes   int
	answered bool
}

func New(prober Prober, opts Options) *Locator {
	if opts.Strategy == "" {
		opts.Strategy = Linear
	}
	if opts.Book == nil {
		opts.Book = NewAddressBook()
	}
	return &Locator{prober: prober, opts: opts}
}

// Probes returns how many IDs were probed by the last Locate.
func (l *Locator) Probes() int {
	return l.probes
}

// Locate returns the inclusive ID range to scan, starting at start.
func (l *Locator) Locate(ctx context.Context, start int64) (Range, error) {
	l.probes = 0
	l.answered = false

	var (
		r   Range
		err error
	)
	switch l.opts.Strategy {
	case Linear:
		r, err = l.linear(ctx, start)
	case Binary:
		r, err = l.binary(ctx, start)
	case Exponential:
		r, err = l.exponential(ctx, start)
	default:
		return Range{}, fmt.Errorf("unknown locator strategy %q", l.opts.Strategy)
	}
	if err != nil {
		return Range{}, err
	}
	if !l.answered {
		return Range{}, fmt.Errorf("%w: no probe starting at %d got an answer", ErrServiceUnreachable, start)
	}

	utils.Logger.Infow("Located ID range",
		"strategy", l.opts.Strategy,
		"start", r.Start,
		"end", r.End,
		"accounts", r.Len(),
		"probes", l.probes)
	return r, nil
}

func (l *Locator) linear(ctx context.Context, start int64) (Range, error) {
	id := start
	for l.opts.Ceiling <= 0 || id <= l.opts.Ceiling {
		found, err := l.probe(ctx, id)
		if err != nil {
			return Range{}, err
		}
		if !found {
			break
		}
		id++
	}
	return Range{Start: start, End: id - 1}, nil
}

func (l *Locator) binary(ctx context.Context, start int64) (Range, error) {
	if l.opts.Ceiling < start {
		return Range{}, fmt.Errorf("binary locator needs a ceiling >= %d, got %d", start, l.opts.Ceiling)
	}
	found, err := l.probe(ctx, start)
	if err != nil || !found {
		return Range{Start: start, End: start - 1}, err
	}
	end, err := l.refine(ctx, start, l.opts.Ceiling+1)
	return Range{Start: start, End: end}, err
}

func (l *Locator) exponential(ctx context.Context, start int64) (Range, error) {
	found, err := l.probe(ctx, start)
	if err != nil || !found {
		return Range{Start: start, End: start - 1}, err
	}

	lo, hi := start, int64(0)
	for step := int64(1); ; step *= 2 {
		next := start + step
		if l.opts.Ceiling > 0 && next > l.opts.Ceiling {
			if lo == l.opts.Ceiling {
				return Range{Start: start, End: lo}, nil
			}
			// probe the ceiling itself before refining below it
			found, err := l.probe(ctx, l.opts.Ceiling)
			if err != nil {
				return Range{}, err
			}
			if found {
				return Range{Start: start, End: l.opts.Ceiling}, nil
			}
			hi = l.opts.Ceiling
			break
		}
		found, err := l.probe(ctx, next)
		if err != nil {
			return Range{}, err
		}
		if !found {
			hi = next
			break
		}
		lo = next
	}

	end, err := l.refine(ctx, lo, hi)
	return Range{Start: start, End: end}, err
}

// refine narrows lo (exists) and hi (absent) to the last existing ID.
func (l *Locator) refine(ctx context.Context, lo, hi int64) (int64, error) {
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		found, err := l.probe(ctx, mid)
		if err != nil {
			return 0, err
		}
		if found {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// probe checks one ID, retrying transient failures per the retry policy. A
// probe that still fails is treated as absent. Only fatal errors, an open
// circuit breaker and ctx's own error are returned.
func (l *Locator) probe(ctx context.Context, id int64) (bool, error) {
	l.probes++
	var (
		addr  string
		found bool
	)
	err := l.opts.Retry.Do(ctx, func(ctx context.Context) error {
		if err := l.opts.Pacer.Wait(ctx); err != nil {
			return err
		}
		var err error
		addr, found, err = l.prober.LookupAddress(ctx, id)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		kind := ledger.KindOf(err)
		metrics.ProbesTotal.WithLabelValues("error").Inc()
		metrics.IncrementErrors(kind.String())
		if kind == ledger.KindFatal || ledger.BreakerOpen(err) {
			return false, fmt.Errorf("%w: probe %d: %v", ErrServiceUnreachable, id, err)
		}
		utils.Logger.Warnw("Probe failed, treating ID as absent", "id", id, "kind", kind.String(), "error", err)
		return false, nil
	}

	l.answered = true
	if !found {
		metrics.ProbesTotal.WithLabelValues("absent").Inc()
		return false, nil
	}
	metrics.ProbesTotal.WithLabelValues("found").Inc()
	l.opts.Book.Put(id, addr)
	return true, nil
}
