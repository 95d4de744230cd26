package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStats is the rounded per-account result. Only accounts with at least
// one trade produce one.
type AccountStats struct {
	AccountID   int64
	TotalVolume decimal.Decimal
	TotalFee    decimal.Decimal
	TradeCount  int64
	LastUpdated time.Time
}
