package aggregator

import (
	"ledger_scanner/models"

	"github.com/shopspring/decimal"
)

// FeeRule configures the fallback used when a trade carries no side.
type FeeRule struct {
	// ThresholdFallback enables the notional-ratio heuristic for side-less
	// trades. When off they are treated as quote-currency fees.
	ThresholdFallback bool
	ThresholdRatio    decimal.Decimal
}

func DefaultFeeRule() FeeRule {
	return FeeRule{ThresholdFallback: true, ThresholdRatio: decimal.RequireFromString("0.02")}
}

// Normalizer turns raw trades into quote-currency volume and fee.
type Normalizer struct {
	prices models.PriceMap
	rule   FeeRule
}

func NewNormalizer(prices models.PriceMap, rule FeeRule) *Normalizer {
	return &Normalizer{prices: prices, rule: rule}
}

// Price prefers the mark price for the trade's symbol and falls back to the
// trade's own execution price.
func (n *Normalizer) Price(t models.Trade) decimal.Decimal {
	if p, ok := n.prices.Lookup(t.SymbolID); ok {
		return p
	}
	return t.ExecutionPrice
}

// Normalize returns the trade's quote-currency volume and fee at price.
//
// Buy fees are charged in the traded asset and are converted at price. Sell
// fees (any non-buy side) are already in quote currency.
func (n *Normalizer) Normalize(t models.Trade, price decimal.Decimal) (volume, fee decimal.Decimal) {
	volume = t.Quantity.Abs().Mul(price.Abs())
	raw := t.RawFee.Abs()

	switch t.Side {
	case models.SideBuy:
		fee = raw.Mul(price.Abs())
	case models.SideSell:
		fee = raw
	default:
		fee = n.sidelessFee(raw, price.Abs(), volume)
	}
	return volume, fee
}

// sidelessFee guesses the fee currency by comparing the converted fee to a
// fixed share of the notional. A converted fee above that share means the
// raw fee was already quote currency.
func (n *Normalizer) sidelessFee(raw, price, notional decimal.Decimal) decimal.Decimal {
	if !n.rule.ThresholdFallback {
		return raw
	}
	converted := raw.Mul(price)
	if converted.GreaterThan(notional.Mul(n.rule.ThresholdRatio)) {
		return raw
	}
	return converted
}
