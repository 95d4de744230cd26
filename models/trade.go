package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Side tells which currency a trade's raw fee is denominated in.
type Side int

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide maps the ledger's side codes. Any non-empty code that is not a buy
// code is a sell.
func ParseSide(code string) Side {
	code = strings.ToLower(strings.TrimSpace(code))
	switch code {
	case "":
		return SideUnknown
	case "1", "buy", "b", "bid":
		return SideBuy
	default:
		return SideSell
	}
}

type Trade struct {
	SymbolID       string
	Quantity       decimal.Decimal
	RawFee         decimal.Decimal
	Side           Side
	ExecutionPrice decimal.Decimal
}
