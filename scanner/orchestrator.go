package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger_scanner/aggregator"
	"ledger_scanner/fetcher"
	"ledger_scanner/ledger"
	"ledger_scanner/locator"
	"ledger_scanner/metrics"
	"ledger_scanner/middleware"
	"ledger_scanner/models"
	"ledger_scanner/store"
	"ledger_scanner/utils"

	"golang.org/x/sync/errgroup"
)

// ErrServiceUnreachable is returned when the ledger cannot be reached at all.
var ErrServiceUnreachable = locator.ErrServiceUnreachable

// AccountState is where an account ID ended up.
type AccountState int

const (
	StateNotStarted AccountState = iota
	StateAddressAbsent
	StateAddressResolved
	StateTradesFetched
	// StateNoTrades: the account exists but has no trade history.
	StateNoTrades
	StateZeroFee
	StateNonzeroFee
	// StateFailed: the address lookup failed after retries.
	StateFailed
)

func (s AccountState) String() string {
	switch s {
	case StateAddressAbsent:
		return "address_absent"
	case StateAddressResolved:
		return "address_resolved"
	case StateTradesFetched:
		return "trades_fetched"
	case StateNoTrades:
		return "no_trades"
	case StateZeroFee:
		return "zero_fee"
	case StateNonzeroFee:
		return "nonzero_fee"
	case StateFailed:
		return "failed"
	default:
		return "not_started"
	}
}

type Options struct {
	// Workers is the batch size; IDs in a batch are scanned concurrently.
	Workers int
	// CheckpointEvery persists results after this many processed IDs. Zero
	// checkpoints after every batch.
	CheckpointEvery int
	Skip            map[int64]struct{}
	// AddressRetry applies to address lookups of IDs the locator did not
	// already resolve.
	AddressRetry ledger.RetryPolicy
}

// Summary describes a finished run.
type Summary struct {
	Range        locator.Range
	Scanned      int
	Found        int
	Absent       int
	NoTrades     int
	Failed       int
	Discarded    int
	BreakerFired bool
	BreakerID    int64
	Interrupted  bool
	Elapsed      time.Duration
}

type Orchestrator struct {
	locator    *locator.Locator
	book       *locator.AddressBook
	lookup     locator.Prober
	fetcher    *fetcher.Fetcher
	aggregator *aggregator.Aggregator
	results    *store.ResultStore
	state      *ScanState
	opts       Options
	now        func() time.Time
}

func New(
	loc *locator.Locator,
	book *locator.AddressBook,
	lookup locator.Prober,
	f *fetcher.Fetcher,
	agg *aggregator.Aggregator,
	results *store.ResultStore,
	state *ScanState,
	opts Options,
) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if book == nil {
		book = locator.NewAddressBook()
	}
	return &Orchestrator{
		locator:    loc,
		book:       book,
		lookup:     lookup,
		fetcher:    f,
		aggregator: agg,
		results:    results,
		state:      state,
		opts:       opts,
		now:        time.Now,
	}
}

type outcome struct {
	id      int64
	state   AccountState
	address string
	sums    aggregator.Sums
	stop    fetcher.StopReason
	err     error
}

// Run locates the ID range starting at start and scans it batch by batch
// until the range is exhausted, the zero-fee breaker fires, ctx is cancelled
// or the ledger becomes unreachable.
func (o *Orchestrator) Run(ctx context.Context, start int64) (Summary, error) {
	began := o.now()
	var summary Summary

	r, err := o.locator.Locate(ctx, start)
	if err != nil {
		if ctx.Err() != nil {
			summary.Interrupted = true
			summary.Elapsed = o.now().Sub(began)
			return summary, nil
		}
		return summary, err
	}
	summary.Range = r

	seq := r.Sequence(o.opts.Skip)
	sinceCheckpoint := 0
	var runErr error

	for {
		if stopped, _ := o.state.Stopped(); stopped {
			break
		}
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}
		ids := seq.Batch(o.opts.Workers)
		if len(ids) == 0 {
			break
		}

		outcomes := o.runBatch(ctx, ids)
		fatal := o.fold(outcomes, &summary)
		sinceCheckpoint += len(ids)

		if fatal != nil {
			if ctx.Err() != nil {
				summary.Interrupted = true
			} else {
				runErr = fmt.Errorf("%w: %v", ErrServiceUnreachable, fatal)
			}
			break
		}
		if o.opts.CheckpointEvery == 0 || sinceCheckpoint >= o.opts.CheckpointEvery {
			// a failed checkpoint is retried at the next cadence
			_ = o.results.Checkpoint(ctx)
			sinceCheckpoint = 0
		}
	}

	summary.BreakerFired, summary.BreakerID = o.state.Stopped()
	summary.Elapsed = o.now().Sub(began)

	// the final snapshot must land even if ctx was cancelled
	if err := o.results.Checkpoint(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = fmt.Errorf("final checkpoint: %w", err)
	}
	return summary, runErr
}

// runBatch scans ids concurrently. outcomes[i] belongs to ids[i].
func (o *Orchestrator) runBatch(ctx context.Context, ids []int64) []outcome {
	outcomes := make([]outcome, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			err := middleware.Recover(func() error {
				outcomes[i] = o.scanAccount(ctx, id)
				return nil
			})
			if err != nil {
				outcomes[i] = outcome{id: id, state: StateFailed, err: err}
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) scanAccount(ctx context.Context, id int64) outcome {
	oc := outcome{id: id, state: StateNotStarted}

	addr, found, err := o.resolve(ctx, id)
	if err != nil {
		oc.state = StateFailed
		oc.err = err
		return oc
	}
	if !found {
		oc.state = StateAddressAbsent
		return oc
	}
	oc.address = addr
	oc.state = StateAddressResolved

	it := o.fetcher.Trades(id)
	oc.sums = o.aggregator.Aggregate(ctx, it)
	oc.stop = it.Reason()
	oc.err = it.Err()
	oc.state = StateTradesFetched
	metrics.TradesTotal.Add(float64(oc.sums.Count))

	switch {
	case oc.sums.Count == 0:
		oc.state = StateNoTrades
	case oc.sums.Fee.IsZero():
		oc.state = StateZeroFee
	default:
		oc.state = StateNonzeroFee
	}
	return oc
}

func (o *Orchestrator) resolve(ctx context.Context, id int64) (string, bool, error) {
	if addr, ok := o.book.Get(id); ok {
		return addr, true, nil
	}
	var (
		addr  string
		found bool
	)
	err := o.opts.AddressRetry.Do(ctx, func(ctx context.Context) error {
		var err error
		addr, found, err = o.lookup.LookupAddress(ctx, id)
		return err
	})
	if err != nil {
		return "", false, err
	}
	if found {
		o.book.Put(id, addr)
	}
	return addr, found, nil
}

// fold applies a finished batch in ascending ID order. Once the breaker fires,
// the rest of the batch is discarded. It returns the first fatal error seen.
func (o *Orchestrator) fold(outcomes []outcome, summary *Summary) error {
	var fatal error
	tripped, _ := o.state.Stopped()

	for _, oc := range outcomes {
		if oc.err != nil && fatal == nil && ledger.KindOf(oc.err) == ledger.KindFatal {
			fatal = fmt.Errorf("account %d: %w", oc.id, oc.err)
		}
		if tripped {
			summary.Discarded++
			continue
		}

		summary.Scanned++
		metrics.IncrementProcessed()
		metrics.AccountsTotal.WithLabelValues(oc.state.String()).Inc()

		switch oc.state {
		case StateAddressAbsent:
			summary.Absent++
		case StateFailed:
			summary.Failed++
			metrics.IncrementErrors(ledger.KindOf(oc.err).String())
			utils.Logger.Warnw("Account skipped", "id", oc.id, "error", oc.err)
		case StateNoTrades:
			summary.NoTrades++
		case StateZeroFee, StateNonzeroFee:
			stats, ok := o.aggregator.Stats(oc.id, oc.sums, o.now())
			if !ok {
				summary.NoTrades++
				continue
			}
			o.results.Put(oc.address, stats)
			summary.Found++
			metrics.IncrementFound()
			o.logProgress(oc, stats)

			if o.state.Record(oc.id, oc.sums.Fee) {
				tripped = true
				utils.Logger.Infow("Zero-fee breaker fired", "id", oc.id, "streak", o.state.Streak())
			}
		}
	}
	return fatal
}

func (o *Orchestrator) logProgress(oc outcome, stats models.AccountStats) {
	fields := []interface{}{
		"id", oc.id,
		"address", shortAddress(oc.address),
		"volume", stats.TotalVolume.StringFixed(2),
		"fee", stats.TotalFee.StringFixed(4),
		"trades", stats.TradeCount,
	}
	if oc.stop != fetcher.StopExhausted {
		fields = append(fields, "partial", oc.stop.String())
	}
	utils.Logger.Infow("Account scanned", fields...)
}

func shortAddress(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:8] + "..."
}

// IsFatal reports whether err ended the run because the ledger was unreachable.
func IsFatal(err error) bool {
	return errors.Is(err, ErrServiceUnreachable)
}
