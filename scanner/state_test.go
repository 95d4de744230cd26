package scanner

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestScanState_FiresExactlyAtThreshold(t *testing.T) {
	s := NewScanState(3)
	fees := []int64{5, 0, 0, 0, 9}

	var firedAt int64
	for i, f := range fees {
		id := int64(100 + i)
		if s.Record(id, decimal.NewFromInt(f)) {
			firedAt = id
			break
		}
		stopped, _ := s.Stopped()
		assert.False(t, stopped, "must not fire before the third zero")
	}

	stopped, at := s.Stopped()
	assert.True(t, stopped)
	assert.Equal(t, int64(103), at)
	assert.Equal(t, int64(103), firedAt)
}

func TestScanState_NonzeroFeeResets(t *testing.T) {
	s := NewScanState(3)
	for _, f := range []int64{0, 0, 1, 0, 0} {
		assert.False(t, s.Record(1, decimal.NewFromInt(f)))
	}
	assert.Equal(t, 2, s.Streak())
}

func TestScanState_ZeroThresholdDisables(t *testing.T) {
	s := NewScanState(0)
	for i := 0; i < 100; i++ {
		assert.False(t, s.Record(int64(i), decimal.Zero))
	}
}

func TestScanState_ConcurrentRecords(t *testing.T) {
	s := NewScanState(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Record(1, decimal.Zero)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Streak())
}
