package models

import "github.com/shopspring/decimal"

// PriceMap maps symbol ID to mark price. It is built once per run and only
// read afterwards.
type PriceMap map[string]decimal.Decimal

// Lookup returns the mark price for symbolID if one is known.
func (p PriceMap) Lookup(symbolID string) (decimal.Decimal, bool) {
	price, ok := p[symbolID]
	return price, ok
}
