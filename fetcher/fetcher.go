package fetcher

import (
	"context"
	"fmt"

	"ledger_scanner/ledger"
	"ledger_scanner/metrics"
	"ledger_scanner/models"
	"ledger_scanner/utils"
)

type Pagination string

const (
	// Offset advances by the page size and stops on a short page.
	Offset Pagination = "offset"
	// Cursor follows the server's continuation token until it is empty.
	Cursor Pagination = "cursor"
)

func ParsePagination(s string) (Pagination, error) {
	switch Pagination(s) {
	case Offset, Cursor:
		return Pagination(s), nil
	}
	return "", fmt.Errorf("unknown pagination %q", s)
}

// StopReason records why an account's trade stream ended.
type StopReason int

const (
	StopNone StopReason = iota
	// StopExhausted: the ledger has no more pages.
	StopExhausted
	// StopCapped: the page or trade ceiling was hit.
	StopCapped
	// StopFailed: a page request failed; earlier pages still count.
	StopFailed
	// StopMalformed: a page could not be decoded; it contributes nothing.
	StopMalformed
)

func (r StopReason) String() string {
	switch r {
	case StopExhausted:
		return "exhausted"
	case StopCapped:
		return "capped"
	case StopFailed:
		return "failed"
	case StopMalformed:
		return "malformed"
	default:
		return "running"
	}
}

// Pager fetches one page of trade history.
type Pager interface {
	Trades(ctx context.Context, accountID int64, q ledger.PageQuery) (ledger.TradePage, error)
}

type Options struct {
	Pagination Pagination
	PageSize   int
	// MaxPages and MaxTrades bound work per account. Zero means unbounded.
	MaxPages  int
	MaxTrades int
	// Retry applies to each page request.
	Retry ledger.RetryPolicy
}

type Fetcher struct {
	pager Pager
	opts  Options
}

func New(pager Pager, opts Options) *Fetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Pagination == "" {
		opts.Pagination = Offset
	}
	return &Fetcher{pager: pager, opts: opts}
}

// Trades returns a lazy iterator over an account's trade history. No request
// is made until the first call to Next.
func (f *Fetcher) Trades(accountID int64) *Iterator {
	return &Iterator{f: f, accountID: accountID}
}

type Iterator struct {
	f         *Fetcher
	accountID int64

	buf    []models.Trade
	pos    int
	offset int
	cursor string

	pages   int
	emitted int
	last    bool
	reason  StopReason
	err     error
}

// Next returns the next trade, fetching pages as needed. It returns false once
// the stream has ended; Reason and Err tell why.
func (it *Iterator) Next(ctx context.Context) (models.Trade, bool) {
	if it.reason != StopNone {
		return models.Trade{}, false
	}
	// the cap is checked before any further page is requested
	if limit := it.f.opts.MaxTrades; limit > 0 && it.emitted >= limit {
		if it.last && it.pos >= len(it.buf) {
			it.stop(StopExhausted, nil)
		} else {
			it.buf = nil
			it.stop(StopCapped, nil)
		}
		return models.Trade{}, false
	}
	for it.pos >= len(it.buf) {
		if it.reason != StopNone {
			return models.Trade{}, false
		}
		if it.last {
			it.stop(StopExhausted, nil)
			return models.Trade{}, false
		}
		it.fetch(ctx)
	}
	t := it.buf[it.pos]
	it.pos++
	it.emitted++
	return t, true
}

func (it *Iterator) Reason() StopReason { return it.reason }

func (it *Iterator) Err() error { return it.err }

func (it *Iterator) Pages() int { return it.pages }

func (it *Iterator) stop(reason StopReason, err error) {
	it.reason = reason
	it.err = err
}

func (it *Iterator) fetch(ctx context.Context) {
	opts := it.f.opts
	if opts.MaxPages > 0 && it.pages >= opts.MaxPages {
		it.stop(StopCapped, nil)
		return
	}

	q := ledger.PageQuery{Limit: opts.PageSize}
	if opts.Pagination == Cursor {
		q.UseCursor = true
		q.Cursor = it.cursor
	} else {
		q.Offset = it.offset
	}

	var page ledger.TradePage
	err := opts.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		page, err = it.f.pager.Trades(ctx, it.accountID, q)
		return err
	})
	if err != nil {
		it.fail(err)
		return
	}

	it.pages++
	metrics.PagesTotal.WithLabelValues(string(opts.Pagination)).Inc()
	it.buf = page.Trades
	it.pos = 0

	if len(page.Trades) == 0 {
		it.last = true
		return
	}
	switch opts.Pagination {
	case Cursor:
		if page.NextCursor == "" || page.NextCursor == it.cursor {
			it.last = true
		}
		it.cursor = page.NextCursor
	default:
		if len(page.Trades) < opts.PageSize {
			it.last = true
		}
		it.offset += opts.PageSize
	}
}

func (it *Iterator) fail(err error) {
	kind := ledger.KindOf(err)
	metrics.IncrementErrors(kind.String())
	it.buf = nil
	switch kind {
	case ledger.KindNotFound:
		it.stop(StopExhausted, nil)
	case ledger.KindMalformed:
		utils.Logger.Warnw("Malformed trade page, keeping earlier pages",
			"account_id", it.accountID, "page", it.pages+1, "error", err)
		it.stop(StopMalformed, err)
	default:
		utils.Logger.Warnw("Trade page fetch failed, keeping earlier pages",
			"account_id", it.accountID, "page", it.pages+1, "kind", kind.String(), "error", err)
		it.stop(StopFailed, err)
	}
}
