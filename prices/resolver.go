package prices

import (
	"context"
	"fmt"

	"ledger_scanner/models"
	"ledger_scanner/utils"

	"github.com/shopspring/decimal"
)

// Source is the part of the ledger client the resolver needs.
type Source interface {
	Symbols(ctx context.Context) (map[string]string, error)
	MarkPrices(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Cache stores a resolved price map between runs.
type Cache interface {
	Get(ctx context.Context) (models.PriceMap, bool, error)
	Set(ctx context.Context, prices models.PriceMap) error
}

type Resolver struct {
	source Source
	cache  Cache
}

func NewResolver(source Source, cache Cache) *Resolver {
	return &Resolver{source: source, cache: cache}
}

// Load builds the symbol ID -> mark price map. Symbols without a mark price
// are left out so trades on them fall back to their execution price.
func (r *Resolver) Load(ctx context.Context) (models.PriceMap, error) {
	if r.cache != nil {
		cached, ok, err := r.cache.Get(ctx)
		if err != nil {
			utils.Logger.Warnw("Price cache read failed", "error", err)
		} else if ok {
			utils.Logger.Infow("Using cached prices", "symbols", len(cached))
			return cached, nil
		}
	}

	symbols, err := r.source.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch symbols: %w", err)
	}
	marks, err := r.source.MarkPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mark prices: %w", err)
	}

	prices := make(models.PriceMap, len(symbols))
	for id, name := range symbols {
		if p, ok := marks[name]; ok && p.IsPositive() {
			prices[id] = p
		}
	}
	utils.Logger.Infow("Loaded mark prices", "symbols", len(symbols), "priced", len(prices))

	if r.cache != nil && len(prices) > 0 {
		if err := r.cache.Set(ctx, prices); err != nil {
			utils.Logger.Warnw("Price cache write failed", "error", err)
		}
	}
	return prices, nil
}
