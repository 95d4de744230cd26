package scanner

import (
	"sync"

	"ledger_scanner/metrics"

	"github.com/shopspring/decimal"
)

// ScanState counts consecutive trade-bearing accounts whose aggregate fee is
// zero and raises the stop signal once the count reaches the threshold. The
// heuristic assumes zero-fee accounts cluster at the tail of the ID space; it
// can end a scan early and is never a correctness guarantee.
type ScanState struct {
	mu        sync.Mutex
	threshold int
	streak    int
	stopped   bool
	stoppedAt int64
}

// NewScanState returns a state whose breaker fires after threshold zero-fee
// accounts in a row. A threshold of zero disables it.
func NewScanState(threshold int) *ScanState {
	return &ScanState{threshold: threshold}
}

// Record classifies one trade-bearing account and reports whether the scan
// must stop.
func (s *ScanState) Record(accountID int64, fee decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return true
	}
	if !fee.IsZero() {
		s.streak = 0
		metrics.ZeroFeeStreak.Set(0)
		return false
	}
	s.streak++
	metrics.ZeroFeeStreak.Set(float64(s.streak))
	if s.threshold > 0 && s.streak >= s.threshold {
		s.stopped = true
		s.stoppedAt = accountID
	}
	return s.stopped
}

// Stopped reports whether the breaker fired and at which account ID.
func (s *ScanState) Stopped() (bool, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped, s.stoppedAt
}

func (s *ScanState) Streak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streak
}
