package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ledger_scanner/aggregator"
	"ledger_scanner/fetcher"
	"ledger_scanner/ledger"
	"ledger_scanner/locator"
	"ledger_scanner/middleware"
	"ledger_scanner/models"
	"ledger_scanner/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger serves addresses and single-page trade histories.
type fakeLedger struct {
	mu         sync.Mutex
	accounts   map[int64][]models.Trade // nil slice: account exists without trades
	lookupErr  error
	tradeErr   map[int64]error
	onTrades   func(id int64)
	onLookup   func(id int64)
	tradeCalls map[int64]int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts:   make(map[int64][]models.Trade),
		tradeErr:   make(map[int64]error),
		tradeCalls: make(map[int64]int),
	}
}

// withFees adds accounts start, start+1, ... each holding one sell trade
// paying the given fee. A negative fee adds an account with no trades.
func (f *fakeLedger) withFees(start int64, fees ...int64) *fakeLedger {
	for i, fee := range fees {
		id := start + int64(i)
		if fee < 0 {
			f.accounts[id] = nil
			continue
		}
		f.accounts[id] = []models.Trade{{
			SymbolID:       "1",
			Quantity:       decimal.NewFromInt(1),
			RawFee:         decimal.NewFromInt(fee),
			Side:           models.SideSell,
			ExecutionPrice: decimal.NewFromInt(100),
		}}
	}
	return f
}

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func addressOf(id int64) string { return fmt.Sprintf("0xaddr%06d", id) }

func (f *fakeLedger) LookupAddress(ctx context.Context, id int64) (string, bool, error) {
	if f.onLookup != nil {
		f.onLookup(id)
	}
	if err := ctx.Err(); err != nil {
		return "", false, &ledger.Error{Kind: ledger.KindFatal, Op: "address", Err: err}
	}
	if f.lookupErr != nil {
		return "", false, f.lookupErr
	}
	if _, ok := f.accounts[id]; !ok {
		return "", false, nil
	}
	return addressOf(id), true, nil
}

func (f *fakeLedger) Trades(_ context.Context, id int64, q ledger.PageQuery) (ledger.TradePage, error) {
	f.mu.Lock()
	f.tradeCalls[id]++
	err := f.tradeErr[id]
	f.mu.Unlock()
	if f.onTrades != nil {
		f.onTrades(id)
	}
	if err != nil {
		return ledger.TradePage{}, err
	}
	if q.Offset > 0 {
		return ledger.TradePage{}, nil
	}
	return ledger.TradePage{Trades: f.accounts[id]}, nil
}

func (f *fakeLedger) calls(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tradeCalls[id]
}

type countingSink struct {
	mu     sync.Mutex
	writes int
	last   map[string]models.AccountStats
}

func (c *countingSink) Name() string { return "counting" }

func (c *countingSink) Write(_ context.Context, s map[string]models.AccountStats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	c.last = s
	return nil
}

type harness struct {
	ledger  *fakeLedger
	results *store.ResultStore
	sink    *countingSink
	orch    *Orchestrator
}

func fastRetry(n int) ledger.RetryPolicy {
	return ledger.RetryPolicy{MaxRetries: n, NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} }}
}

func newHarness(fl *fakeLedger, threshold, workers, cadence int, skip map[int64]struct{}) *harness {
	book := locator.NewAddressBook()
	loc := locator.New(fl, locator.Options{Strategy: locator.Linear, Retry: fastRetry(1), Book: book})
	f := fetcher.New(fl, fetcher.Options{Pagination: fetcher.Offset, PageSize: 100, Retry: fastRetry(0)})
	agg := aggregator.New(aggregator.NewNormalizer(models.PriceMap{}, aggregator.DefaultFeeRule()), aggregator.DefaultPrecision())
	sink := &countingSink{}
	results := store.NewResultStore(sink)
	orch := New(loc, book, fl, f, agg, results, NewScanState(threshold), Options{
		Workers:         workers,
		CheckpointEvery: cadence,
		Skip:            skip,
		AddressRetry:    fastRetry(1),
	})
	return &harness{ledger: fl, results: results, sink: sink, orch: orch}
}

func TestRun_BreakerStopsBeforeNonzeroTail(t *testing.T) {
	h := newHarness(newFakeLedger().withFees(1, 5, 0, 0, 0, 9), 3, 1, 10, nil)

	summary, err := h.orch.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, summary.BreakerFired)
	assert.Equal(t, int64(4), summary.BreakerID)
	assert.Equal(t, 4, summary.Found)
	assert.Equal(t, locator.Range{Start: 1, End: 5}, summary.Range)
	assert.Zero(t, h.ledger.calls(5), "account after the breaker must never be scanned")
	_, ok := h.results.Get(addressOf(5))
	assert.False(t, ok)
}

func TestRun_BreakerOvershootIsDiscarded(t *testing.T) {
	h := newHarness(newFakeLedger().withFees(1, 5, 0, 0, 0, 9), 3, 5, 10, nil)

	summary, err := h.orch.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, summary.BreakerFired)
	assert.Equal(t, int64(4), summary.BreakerID)
	assert.Equal(t, 1, summary.Discarded)
	assert.Equal(t, 4, h.results.Len())
	_, ok := h.results.Get(addressOf(5))
	assert.False(t, ok, "in-flight overshoot must not be included")
}

func TestRun_ResultsIndependentOfWorkerCount(t *testing.T) {
	fees := []int64{3, 0, 7, -1, 2, 0, 0, 1, 4, 0, 5, 6, -1, 8}
	var snaps []map[string]models.AccountStats
	for _, workers := range []int{1, 3, 8} {
		h := newHarness(newFakeLedger().withFees(100, fees...), 0, workers, 0, nil)
		h.orch.now = func() time.Time { return fixedNow }
		_, err := h.orch.Run(context.Background(), 100)
		require.NoError(t, err)
		snaps = append(snaps, h.results.Snapshot())
	}
	assert.Len(t, snaps[0], 12)
	assert.Equal(t, snaps[0], snaps[1])
	assert.Equal(t, snaps[0], snaps[2])
}

func TestRun_AccountsWithoutTradesDoNotTouchStreak(t *testing.T) {
	h := newHarness(newFakeLedger().withFees(1, 0, -1, 0, -1, 0, 9), 3, 1, 10, nil)

	summary, err := h.orch.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, summary.BreakerFired)
	assert.Equal(t, int64(5), summary.BreakerID)
	assert.Equal(t, 2, summary.NoTrades)
	assert.Equal(t, 3, h.results.Len())
}

func TestRun_SkipList(t *testing.T) {
	skip := map[int64]struct{}{3: {}}
	h := newHarness(newFakeLedger().withFees(1, 1, 2, 3, 4), 0, 2, 10, skip)

	summary, err := h.orch.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Scanned)
	assert.Zero(t, h.ledger.calls(3))
	_, ok := h.results.Get(addressOf(3))
	assert.False(t, ok)
}

func TestRun_CheckpointCadence(t *testing.T) {
	fees := []int64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}

	h := newHarness(newFakeLedger().withFees(1, fees...), 0, 2, 4, nil)
	_, err := h.orch.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, h.sink.writes, "after IDs 4 and 8, plus the final snapshot")
	assert.Len(t, h.sink.last, 10)

	h = newHarness(newFakeLedger().withFees(1, fees...), 0, 2, 0, nil)
	_, err = h.orch.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 6, h.sink.writes, "every batch, plus the final snapshot")
}

func TestRun_FeeAndVolumeAreRounded(t *testing.T) {
	fl := newFakeLedger()
	fl.accounts[1] = []models.Trade{
		{SymbolID: "9", Quantity: decimal.RequireFromString("0.333"), RawFee: decimal.RequireFromString("0.00001"), Side: models.SideBuy, ExecutionPrice: decimal.RequireFromString("1.23")},
		{SymbolID: "9", Quantity: decimal.RequireFromString("2"), RawFee: decimal.RequireFromString("0.011111"), Side: models.SideSell, ExecutionPrice: decimal.RequireFromString("1.23")},
	}
	h := newHarness(fl, 0, 1, 10, nil)

	_, err := h.orch.Run(context.Background(), 1)
	require.NoError(t, err)

	stats, ok := h.results.Get(addressOf(1))
	require.True(t, ok)
	// volume 0.40959 + 2.46 = 2.86959, fee 0.0000123 + 0.011111 = 0.0111233
	assert.Equal(t, "2.87", stats.TotalVolume.StringFixed(2))
	assert.Equal(t, "0.0111", stats.TotalFee.StringFixed(4))
	assert.Equal(t, int64(2), stats.TradeCount)
}

func TestRun_FatalMidScanHalts(t *testing.T) {
	fl := newFakeLedger().withFees(1, 1, 2, 3, 4, 5)
	fl.tradeErr[3] = &ledger.Error{Kind: ledger.KindFatal, Op: "trades", Err: errors.New("unsupported protocol scheme")}
	h := newHarness(fl, 0, 1, 10, nil)

	summary, err := h.orch.Run(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Zero(t, h.ledger.calls(4))
	assert.Equal(t, 3, summary.Scanned)
	assert.Equal(t, 1, h.sink.writes, "final snapshot is still written")
	assert.Len(t, h.sink.last, 2)
}

func TestRun_TransientTradeFailureSkipsOnlyThatAccount(t *testing.T) {
	fl := newFakeLedger().withFees(1, 1, 2, 3)
	fl.tradeErr[2] = &ledger.Error{Kind: ledger.KindTransient, Op: "trades", Err: errors.New("timeout")}
	h := newHarness(fl, 0, 1, 10, nil)

	summary, err := h.orch.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Scanned)
	assert.Equal(t, 1, summary.NoTrades)
	assert.Equal(t, 2, h.results.Len())
}

func TestRun_OpenLedgerBreakerOnlySkipsAccounts(t *testing.T) {
	var tradeCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/trades" {
			tradeCalls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var id int64
		if _, err := fmt.Sscanf(r.URL.Path, "/user/%d/address", &id); err != nil || id > 30 {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"code":0,"data":{"address":%q}}`, addressOf(id))
	}))
	t.Cleanup(srv.Close)

	client := ledger.NewClient(ledger.Endpoints{
		AddressURL: srv.URL + "/user/%d/address",
		TradesURL:  srv.URL + "/trades",
	}, time.Second, middleware.NewBreaker("test", 10, time.Minute))
	book := locator.NewAddressBook()
	loc := locator.New(client, locator.Options{Strategy: locator.Linear, Retry: fastRetry(1), Book: book})
	f := fetcher.New(client, fetcher.Options{Pagination: fetcher.Offset, PageSize: 100, Retry: fastRetry(0)})
	agg := aggregator.New(aggregator.NewNormalizer(models.PriceMap{}, aggregator.DefaultFeeRule()), aggregator.DefaultPrecision())
	results := store.NewResultStore(&countingSink{})
	orch := New(loc, book, client, f, agg, results, NewScanState(0), Options{Workers: 1, AddressRetry: fastRetry(1)})

	summary, err := orch.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, IsFatal(err))
	assert.Equal(t, locator.Range{Start: 1, End: 30}, summary.Range)
	assert.Equal(t, 30, summary.Scanned)
	assert.Equal(t, 30, summary.NoTrades)
	assert.Equal(t, int32(10), tradeCalls.Load(), "open breaker fails the rest fast")
	assert.Zero(t, results.Len())
}

func TestRun_CancelDuringDiscoveryIsInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fl := newFakeLedger().withFees(1, 1, 2, 3, 4, 5)
	fl.onLookup = func(id int64) {
		if id == 3 {
			cancel()
		}
	}
	h := newHarness(fl, 0, 1, 10, nil)

	summary, err := h.orch.Run(ctx, 1)
	require.NoError(t, err)
	assert.False(t, IsFatal(err))
	assert.True(t, summary.Interrupted)
	assert.Zero(t, summary.Scanned)
	assert.Zero(t, h.ledger.calls(1))
}

func TestRun_UnreachableAtDiscovery(t *testing.T) {
	fl := newFakeLedger().withFees(1, 1, 2)
	fl.lookupErr = errors.New("connection refused")
	h := newHarness(fl, 0, 1, 10, nil)

	_, err := h.orch.Run(context.Background(), 1)
	assert.ErrorIs(t, err, ErrServiceUnreachable)
	assert.Zero(t, h.sink.writes)
}

func TestRun_CancelFinishesInFlightBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fl := newFakeLedger().withFees(1, 1, 2, 3, 4, 5, 6)
	fl.onTrades = func(id int64) {
		if id == 2 {
			cancel()
		}
	}
	h := newHarness(fl, 0, 2, 10, nil)

	summary, err := h.orch.Run(ctx, 1)
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 2, summary.Scanned)
	assert.Zero(t, h.ledger.calls(3))
	assert.Equal(t, 1, h.sink.writes)
}
