package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var ErrPriceUnavailable = errors.New("reference price unavailable")

// Source yields the authoritative reference price of an asset, quoted in the
// market's currency token.
type Source interface {
	ReferencePrice(ctx context.Context, assetID string) (decimal.Decimal, error)
}

// StaticSource serves fixed prices. Used by tests and local development.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	s := &StaticSource{prices: map[string]decimal.Decimal{}}
	for k, v := range prices {
		s.prices[k] = v
	}
	return s
}

func (s *StaticSource) Set(assetID string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[assetID] = price
}

func (s *StaticSource) ReferencePrice(ctx context.Context, assetID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[assetID]
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, assetID)
	}
	return p, nil
}
