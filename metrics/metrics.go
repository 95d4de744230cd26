package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_id_probes_total",
		Help: "Existence probes by outcome",
	}, []string{"result"})

	AccountsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_accounts_total",
		Help: "Scanned account IDs by terminal state",
	}, []string{"state"})

	PagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_trade_pages_total",
		Help: "Trade history pages fetched",
	}, []string{"pagination"})

	TradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanner_trades_total",
		Help: "Trades folded into account sums",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_errors_total",
		Help: "Ledger errors by kind",
	}, []string{"kind"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scanner_ledger_request_seconds",
		Help:    "Latency of ledger HTTP calls",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"op"})

	ZeroFeeStreak = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scanner_zero_fee_streak",
		Help: "Current run of consecutive trade-bearing accounts with zero fee",
	})

	CheckpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_checkpoints_total",
		Help: "Result snapshot writes by sink and status",
	}, []string{"sink", "status"})

	// Internal counters
	processedIDs  uint64
	accountsFound uint64
	errorCount    uint64
	lastProcessed atomic.Int64
	startTime     = time.Now()
)

func IncrementProcessed() {
	atomic.AddUint64(&processedIDs, 1)
	lastProcessed.Store(time.Now().UnixNano())
}

func IncrementFound() {
	atomic.AddUint64(&accountsFound, 1)
}

func IncrementErrors(kind string) {
	atomic.AddUint64(&errorCount, 1)
	ErrorsTotal.WithLabelValues(kind).Inc()
}

// GetStats returns processed IDs, accounts found, errors, last processed time
// and uptime.
func GetStats() (uint64, uint64, uint64, time.Time, time.Duration) {
	var last time.Time
	if ns := lastProcessed.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return atomic.LoadUint64(&processedIDs),
		atomic.LoadUint64(&accountsFound),
		atomic.LoadUint64(&errorCount),
		last,
		time.Since(startTime)
}

func RecordRequestDuration(op string, duration time.Duration) {
	RequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}
