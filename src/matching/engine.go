package matching

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"tokenexchange/src/model"
)

// DefaultTopN bounds how many candidates a caller executes per invocation.
const DefaultTopN = 5

// Candidate is one realisable buy/sell pairing.
type Candidate struct {
	BuyOrder         model.Order     `json:"buy_order"`
	SellOrder        model.Order     `json:"sell_order"`
	MatchedQuantity  decimal.Decimal `json:"matched_quantity"`
	ExecutionPrice   decimal.Decimal `json:"execution_price"`
	PriceImprovement decimal.Decimal `json:"price_improvement"`
}

// Matchable reports whether an order can take part in matching: resting,
// with quantity left, and confirmed on the ledger.
func Matchable(o *model.Order) bool {
	return o.Status.IsOpen() && o.QuantityRemaining.IsPositive() && o.HasLedgerID()
}

func sameOwner(a, b string) bool {
	return strings.EqualFold(a, b)
}

// FindMatches pairs every compatible buy and sell order of a snapshot. Buys
// are expected best price first, sells best price first, ties by time. The
// result is ordered by price improvement, largest first; equal improvements
// keep the input priority. The function keeps no state and does not modify
// its inputs.
func FindMatches(buys, sells []model.Order) []Candidate {
	if len(buys) == 0 || len(sells) == 0 {
		return []Candidate{}
	}

	candidates := make([]Candidate, 0)
	for i := range buys {
		buy := &buys[i]
		if !Matchable(buy) {
			continue
		}
		for j := range sells {
			sell := &sells[j]
			if !Matchable(sell) || sameOwner(buy.OwnerAddress, sell.OwnerAddress) {
				continue
			}
			if buy.LimitPrice.LessThan(sell.LimitPrice) {
				continue
			}

			candidates = append(candidates, Candidate{
				BuyOrder:         *buy,
				SellOrder:        *sell,
				MatchedQuantity:  decimal.Min(buy.QuantityRemaining, sell.QuantityRemaining),
				ExecutionPrice:   sell.LimitPrice,
				PriceImprovement: buy.LimitPrice.Sub(sell.LimitPrice),
			})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].PriceImprovement.GreaterThan(candidates[b].PriceImprovement)
	})

	return candidates
}

// Top returns at most n candidates from the head of the list.
func Top(candidates []Candidate, n int) []Candidate {
	if n <= 0 || n >= len(candidates) {
		return candidates
	}
	return candidates[:n]
}
