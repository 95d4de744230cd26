package aggregator

import (
	"context"
	"time"

	"ledger_scanner/models"

	"github.com/shopspring/decimal"
)

// Iterator yields trades one at a time.
type Iterator interface {
	Next(ctx context.Context) (models.Trade, bool)
}

// Sums are the unrounded running totals for one account.
type Sums struct {
	Volume decimal.Decimal
	Fee    decimal.Decimal
	Count  int64
}

type Aggregator struct {
	normalizer *Normalizer
	precision  Precision
}

func New(normalizer *Normalizer, precision Precision) *Aggregator {
	return &Aggregator{normalizer: normalizer, precision: precision}
}

// Add folds one trade into s.
func (a *Aggregator) Add(s *Sums, t models.Trade) {
	volume, fee := a.normalizer.Normalize(t, a.normalizer.Price(t))
	s.Volume = s.Volume.Add(volume)
	s.Fee = s.Fee.Add(fee)
	s.Count++
}

// Aggregate drains it. Whatever was folded before the iterator stopped is kept.
func (a *Aggregator) Aggregate(ctx context.Context, it Iterator) Sums {
	var s Sums
	for {
		t, ok := it.Next(ctx)
		if !ok {
			return s
		}
		a.Add(&s, t)
	}
}

// Stats rounds s into an AccountStats. It returns false when the account had
// no trades.
func (a *Aggregator) Stats(accountID int64, s Sums, now time.Time) (models.AccountStats, bool) {
	if s.Count == 0 {
		return models.AccountStats{}, false
	}
	return models.AccountStats{
		AccountID:   accountID,
		TotalVolume: a.precision.Volume(s.Volume),
		TotalFee:    a.precision.Fee(s.Fee),
		TradeCount:  s.Count,
		LastUpdated: now.UTC().Truncate(time.Second),
	}, true
}
