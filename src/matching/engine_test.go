package matching

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"tokenexchange/src/model"
	"tokenexchange/src/testutil"
)

var t0 = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func order(id uint, side model.OrderSide, price, qty, owner string, ledgerID *uint64) model.Order {
	o := testutil.Order("GOLD", side, price, qty, owner, ledgerID, t0.Add(time.Duration(id)*time.Second))
	o.ID = id
	return o
}

func TestFindMatchesScenarios(t *testing.T) {
	t.Run("crossing pair executes at the sell price", func(t *testing.T) {
		buys := []model.Order{order(1, model.SideBuy, "10", "5", testutil.AddrAlice, testutil.LedgerID(1))}
		sells := []model.Order{order(2, model.SideSell, "9", "3", testutil.AddrBob, testutil.LedgerID(2))}

		got := FindMatches(buys, sells)
		require.Len(t, got, 1)
		assert.True(t, testutil.D("3").Equal(got[0].MatchedQuantity))
		assert.True(t, testutil.D("9").Equal(got[0].ExecutionPrice))
		assert.True(t, testutil.D("1").Equal(got[0].PriceImprovement))
	})

	t.Run("buy below sell does not match", func(t *testing.T) {
		buys := []model.Order{order(1, model.SideBuy, "8", "5", testutil.AddrAlice, testutil.LedgerID(1))}
		sells := []model.Order{order(2, model.SideSell, "9", "3", testutil.AddrBob, testutil.LedgerID(2))}

		assert.Empty(t, FindMatches(buys, sells))
	})

	t.Run("empty sides", func(t *testing.T) {
		buys := []model.Order{order(1, model.SideBuy, "10", "5", testutil.AddrAlice, testutil.LedgerID(1))}

		got := FindMatches(buys, nil)
		assert.NotNil(t, got)
		assert.Empty(t, got)
		assert.Empty(t, FindMatches(nil, nil))
	})

	t.Run("orders without a ledger id are skipped", func(t *testing.T) {
		buys := []model.Order{order(1, model.SideBuy, "10", "5", testutil.AddrAlice, nil)}
		sells := []model.Order{order(2, model.SideSell, "9", "3", testutil.AddrBob, testutil.LedgerID(2))}

		assert.Empty(t, FindMatches(buys, sells))
	})

	t.Run("self trades are excluded regardless of address case", func(t *testing.T) {
		buys := []model.Order{order(1, model.SideBuy, "10", "5", "0xabcabcabcabcabcabcabcabcabcabcabcabcabca", testutil.LedgerID(1))}
		sells := []model.Order{order(2, model.SideSell, "9", "3", "0xABCABCABCABCABCABCABCABCABCABCABCABCABCA", testutil.LedgerID(2))}

		assert.Empty(t, FindMatches(buys, sells))
	})

	t.Run("filled and cancelled orders are skipped, partially filled ones match", func(t *testing.T) {
		filled := order(1, model.SideBuy, "12", "1", testutil.AddrAlice, testutil.LedgerID(1))
		filled.Status = model.OrderStatusCancelled
		partial := order(2, model.SideBuy, "10", "2", testutil.AddrAlice, testutil.LedgerID(2))
		partial.Status = model.OrderStatusPartiallyFilled
		sells := []model.Order{order(3, model.SideSell, "9", "3", testutil.AddrBob, testutil.LedgerID(3))}

		got := FindMatches([]model.Order{filled, partial}, sells)
		require.Len(t, got, 1)
		assert.Equal(t, uint(2), got[0].BuyOrder.ID)
	})

	t.Run("largest price improvement first, ties keep book priority", func(t *testing.T) {
		buys := []model.Order{
			order(1, model.SideBuy, "12", "1", testutil.AddrAlice, testutil.LedgerID(1)),
			order(2, model.SideBuy, "10", "1", testutil.AddrCarol, testutil.LedgerID(2)),
		}
		sells := []model.Order{
			order(3, model.SideSell, "9", "1", testutil.AddrBob, testutil.LedgerID(3)),
			order(4, model.SideSell, "10", "1", testutil.AddrBob, testutil.LedgerID(4)),
		}

		got := FindMatches(buys, sells)
		require.Len(t, got, 4)
		assert.Equal(t, [2]uint{1, 3}, [2]uint{got[0].BuyOrder.ID, got[0].SellOrder.ID})
		assert.Equal(t, [2]uint{1, 4}, [2]uint{got[1].BuyOrder.ID, got[1].SellOrder.ID})
		assert.Equal(t, [2]uint{2, 3}, [2]uint{got[2].BuyOrder.ID, got[2].SellOrder.ID})
		assert.Equal(t, [2]uint{2, 4}, [2]uint{got[3].BuyOrder.ID, got[3].SellOrder.ID})

		assert.Len(t, Top(got, 2), 2)
		assert.Len(t, Top(got, 10), 4)
		assert.Len(t, Top(got, 0), 4)
	})
}

var (
	owners   = []string{testutil.AddrAlice, testutil.AddrBob, testutil.AddrCarol}
	statuses = []model.OrderStatus{
		model.OrderStatusOpen,
		model.OrderStatusOpen,
		model.OrderStatusPartiallyFilled,
		model.OrderStatusFilled,
		model.OrderStatusCancelled,
	}
)

func drawOrders(t *rapid.T, side model.OrderSide, firstID uint) []model.Order {
	n := rapid.IntRange(0, 8).Draw(t, fmt.Sprintf("%s-count", side))
	orders := make([]model.Order, n)
	for i := range orders {
		id := firstID + uint(i)
		var ledgerID *uint64
		if rapid.Bool().Draw(t, fmt.Sprintf("%s-%d-confirmed", side, i)) {
			ledgerID = testutil.LedgerID(uint64(id))
		}
		orders[i] = model.Order{
			ID:                id,
			LedgerOrderID:     ledgerID,
			AssetID:           "GOLD",
			Side:              side,
			OwnerAddress:      rapid.SampledFrom(owners).Draw(t, fmt.Sprintf("%s-%d-owner", side, i)),
			LimitPrice:        decimal.NewFromInt(rapid.Int64Range(1, 20).Draw(t, fmt.Sprintf("%s-%d-price", side, i))),
			QuantityRemaining: decimal.NewFromInt(rapid.Int64Range(0, 10).Draw(t, fmt.Sprintf("%s-%d-qty", side, i))),
			Status:            rapid.SampledFrom(statuses).Draw(t, fmt.Sprintf("%s-%d-status", side, i)),
			CreatedAt:         t0.Add(time.Duration(id) * time.Second),
		}
	}
	return orders
}

func TestFindMatchesProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		buys := drawOrders(t, model.SideBuy, 1)
		sells := drawOrders(t, model.SideSell, 100)

		buysBefore := append([]model.Order(nil), buys...)
		sellsBefore := append([]model.Order(nil), sells...)

		got := FindMatches(buys, sells)

		for i, c := range got {
			if c.BuyOrder.OwnerAddress == c.SellOrder.OwnerAddress {
				t.Fatalf("candidate %d pairs orders of the same owner %s", i, c.BuyOrder.OwnerAddress)
			}
			if !c.ExecutionPrice.Equal(c.SellOrder.LimitPrice) {
				t.Fatalf("candidate %d executes at %s, sell limit is %s", i, c.ExecutionPrice, c.SellOrder.LimitPrice)
			}
			if c.BuyOrder.LimitPrice.LessThan(c.ExecutionPrice) || c.ExecutionPrice.LessThan(c.SellOrder.LimitPrice) {
				t.Fatalf("candidate %d price %s outside [%s, %s]", i, c.ExecutionPrice, c.SellOrder.LimitPrice, c.BuyOrder.LimitPrice)
			}
			if !c.MatchedQuantity.Equal(decimal.Min(c.BuyOrder.QuantityRemaining, c.SellOrder.QuantityRemaining)) || !c.MatchedQuantity.IsPositive() {
				t.Fatalf("candidate %d has quantity %s", i, c.MatchedQuantity)
			}
			if !Matchable(&c.BuyOrder) || !Matchable(&c.SellOrder) {
				t.Fatalf("candidate %d uses an unmatchable order", i)
			}
			if i > 0 && got[i-1].PriceImprovement.LessThan(c.PriceImprovement) {
				t.Fatalf("candidates not ordered by price improvement at %d", i)
			}
		}

		again := FindMatches(buys, sells)
		if !assert.ObjectsAreEqual(got, again) {
			t.Fatalf("FindMatches is not deterministic")
		}
		if !assert.ObjectsAreEqual(buysBefore, buys) || !assert.ObjectsAreEqual(sellsBefore, sells) {
			t.Fatalf("FindMatches modified its input")
		}
	})
}
