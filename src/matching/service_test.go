package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tokenexchange/src/ledger"
	"tokenexchange/src/model"
	"tokenexchange/src/recorder"
	"tokenexchange/src/repository"
	"tokenexchange/src/testutil"
)

type fixture struct {
	db      *gorm.DB
	backend *ledger.MemoryBackend
	market  ledger.Market
	orders  *repository.OrderRepository
	trades  *repository.TradeRepository
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db := testutil.NewSQLiteDB(t)
	markets := (&repository.MarketRepository{}).WithDB(db)
	m := testutil.Market("GOLD")
	require.NoError(t, markets.Create(ctx, &m))

	backend := ledger.NewMemoryBackend("mem", testutil.AddrCustodian)
	client, err := ledger.NewClient(ctx, ledger.Config{
		ProbeTimeout: time.Second,
		ReceiptPoll:  time.Millisecond,
	}, []ledger.Backend{backend})
	require.NoError(t, err)

	orders := (&repository.OrderRepository{}).WithDB(db)
	trades := (&repository.TradeRepository{}).WithDB(db)
	rec := recorder.NewRecorder(trades)

	return &fixture{
		db:      db,
		backend: backend,
		market:  ledger.MarketFromModel(&m),
		orders:  orders,
		trades:  trades,
		service: NewService(orders, orders, markets, client, rec, nil),
	}
}

// place puts an order on the ledger and mirrors it.
func (f *fixture) place(t *testing.T, side model.OrderSide, price, qty, owner string) model.Order {
	t.Helper()
	id := f.backend.AddOrder(f.market, owner, side, testutil.D(qty), testutil.D(price))
	o := testutil.Order("GOLD", side, price, qty, owner, testutil.LedgerID(id), time.Now().UTC())
	testutil.Seed(t, f.db, &o)
	return o
}

func TestServiceFindMatchesReadsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.place(t, model.SideBuy, "10", "5", testutil.AddrAlice)
	f.place(t, model.SideSell, "9", "3", testutil.AddrBob)

	got, err := f.service.FindMatches(context.Background(), "GOLD")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, testutil.D("3").Equal(got[0].MatchedQuantity))
}

func TestExecuteMatchesFillsLedgerAndMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buy := f.place(t, model.SideBuy, "10", "5", testutil.AddrAlice)
	sell := f.place(t, model.SideSell, "9", "3", testutil.AddrBob)

	result, err := f.service.ExecuteMatches(ctx, "GOLD")
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Zero(t, result.Failed)

	trade := result.Trades[0]
	assert.Equal(t, model.ExecutionSourceOrderBook, trade.ExecutionSource)
	assert.True(t, testutil.D("9").Equal(trade.ExecutionPrice))
	require.NotNil(t, trade.BlockNumber)

	gotBuy, err := f.orders.FindByID(ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPartiallyFilled, gotBuy.Status)
	assert.True(t, testutil.D("2").Equal(gotBuy.QuantityRemaining))

	gotSell, err := f.orders.FindByID(ctx, sell.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFilled, gotSell.Status)

	onLedger, err := f.backend.GetOrder(ctx, f.market, *sell.LedgerOrderID)
	require.NoError(t, err)
	assert.False(t, onLedger.Active)

	t.Run("second run finds nothing left", func(t *testing.T) {
		result, err := f.service.ExecuteMatches(ctx, "GOLD")
		require.NoError(t, err)
		assert.Zero(t, result.Candidates)
	})
}

func TestExecuteMatchesTracksQuantityAcrossOverlappingCandidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.place(t, model.SideBuy, "10", "3", testutil.AddrAlice)
	f.place(t, model.SideSell, "8", "2", testutil.AddrBob)
	f.place(t, model.SideSell, "9", "2", testutil.AddrCarol)

	result, err := f.service.ExecuteMatches(ctx, "GOLD")
	require.NoError(t, err)
	require.Len(t, result.Trades, 2)
	assert.True(t, testutil.D("2").Equal(result.Trades[0].Quantity))
	assert.True(t, testutil.D("1").Equal(result.Trades[1].Quantity))
	assert.Zero(t, result.Failed)
}

func TestExecuteMatchesCountsFailuresWithoutRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.place(t, model.SideBuy, "10", "5", testutil.AddrAlice)
	f.place(t, model.SideSell, "9", "3", testutil.AddrBob)

	calls := 0
	f.backend.BeforeSubmit = func(op string) error {
		calls++
		return errors.New("replacement transaction underpriced")
	}

	result, err := f.service.ExecuteMatches(ctx, "GOLD")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, result.Trades)
	assert.Equal(t, 1, calls)
}

func TestExecuteMatchesRespectsTopN(t *testing.T) {
	f := newFixture(t)
	f.service.TopN = 1

	f.place(t, model.SideBuy, "10", "1", testutil.AddrAlice)
	f.place(t, model.SideBuy, "10", "1", testutil.AddrCarol)
	f.place(t, model.SideSell, "9", "5", testutil.AddrBob)

	result, err := f.service.ExecuteMatches(context.Background(), "GOLD")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Candidates)
	assert.Equal(t, 1, result.Attempted)
}

func TestExecuteMatchesUnknownAsset(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.ExecuteMatches(context.Background(), "COPPER")
	assert.ErrorIs(t, err, ErrUnknownAsset)
}
