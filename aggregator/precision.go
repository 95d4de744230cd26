package aggregator

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Rounding int

const (
	// RoundHalfEven is banker's rounding: ties go to the even digit.
	RoundHalfEven Rounding = iota
	// RoundHalfUp rounds ties away from zero.
	RoundHalfUp
)

func ParseRounding(s string) (Rounding, error) {
	switch s {
	case "half_even", "":
		return RoundHalfEven, nil
	case "half_up":
		return RoundHalfUp, nil
	}
	return 0, fmt.Errorf("unknown rounding mode %q", s)
}

// Precision controls how sums are rounded into AccountStats. Intermediate sums
// are never rounded.
type Precision struct {
	VolumePlaces int32
	FeePlaces    int32
	Rounding     Rounding
}

func DefaultPrecision() Precision {
	return Precision{VolumePlaces: 2, FeePlaces: 4, Rounding: RoundHalfEven}
}

func (p Precision) round(d decimal.Decimal, places int32) decimal.Decimal {
	if p.Rounding == RoundHalfUp {
		return d.Round(places)
	}
	return d.RoundBank(places)
}

func (p Precision) Volume(d decimal.Decimal) decimal.Decimal {
	return p.round(d, p.VolumePlaces)
}

func (p Precision) Fee(d decimal.Decimal) decimal.Decimal {
	return p.round(d, p.FeePlaces)
}
