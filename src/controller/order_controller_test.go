package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tokenexchange/src/ledger"
	"tokenexchange/src/model"
	"tokenexchange/src/repository"
	"tokenexchange/src/testutil"
)

type fixture struct {
	db         *gorm.DB
	backend    *ledger.MemoryBackend
	market     ledger.Market
	orders     *repository.OrderRepository
	controller *OrderController
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
	return &fixture{
		db:         db,
		backend:    backend,
		market:     ledger.MarketFromModel(&m),
		orders:     orders,
		controller: NewOrderController(client, orders, markets, Config{ConfirmTimeout: time.Second}),
	}
}

func placeReq(side model.OrderSide, price, qty string) PlaceRequest {
	return PlaceRequest{
		AssetID:      "GOLD",
		OwnerAddress: testutil.AddrAlice,
		Side:         side,
		Quantity:     testutil.D(qty),
		LimitPrice:   testutil.D(price),
	}
}

func (f *fixture) placeConfirmed(t *testing.T) *model.Order {
	t.Helper()
	ctx := context.Background()
	placed, err := f.controller.PlaceOrder(ctx, placeReq(model.SideBuy, "10", "5"))
	require.NoError(t, err)
	confirmed, err := f.controller.ConfirmCreation(ctx, placed.ID)
	require.NoError(t, err)
	require.True(t, confirmed.HasLedgerID())
	return confirmed
}

func TestPlaceOrderMirrorsSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.controller.PlaceOrder(ctx, placeReq(model.SideBuy, "10", "5"))
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
	assert.Nil(t, order.LedgerOrderID)
	assert.NotEmpty(t, order.CreationTxHash)
	assert.Equal(t, model.OrderStatusOpen, order.Status)

	confirmed, err := f.controller.ConfirmCreation(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, confirmed.LedgerOrderID)
	assert.Equal(t, uint64(1), *confirmed.LedgerOrderID)

	onLedger, err := f.backend.GetOrder(ctx, f.market, 1)
	require.NoError(t, err)
	assert.Equal(t, testutil.AddrAlice, onLedger.Maker)
	assert.True(t, testutil.D("5").Equal(onLedger.Quantity))

	t.Run("confirming twice is a no-op", func(t *testing.T) {
		again, err := f.controller.ConfirmCreation(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, *confirmed.LedgerOrderID, *again.LedgerOrderID)
	})
}

func TestConfirmCreationPending(t *testing.T) {
	f := newFixture(t)
	f.backend.HideReceipts = true

	order, err := f.controller.PlaceOrder(context.Background(), placeReq(model.SideSell, "9", "1"))
	require.NoError(t, err)

	_, err = f.controller.ConfirmCreation(context.Background(), order.ID)
	assert.ErrorIs(t, err, ErrCreationPending)
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := placeReq(model.SideBuy, "10", "0")
	_, err := f.controller.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	req = placeReq("hold", "10", "1")
	_, err = f.controller.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	req = placeReq(model.SideBuy, "10", "1")
	req.AssetID = "COPPER"
	_, err = f.controller.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrUnknownAsset)

	require.NoError(t, f.db.Model(&model.Market{}).Where("asset_id = ?", "GOLD").
		Update("trading_deadline", time.Now().Add(-time.Hour).UTC()).Error)
	_, err = f.controller.PlaceOrder(ctx, placeReq(model.SideBuy, "10", "1"))
	assert.ErrorIs(t, err, ErrTradingClosed)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeConfirmed(t)

	_, err := f.controller.CancelOrder(ctx, order.ID, testutil.AddrBob)
	assert.ErrorIs(t, err, ErrNotOwner)

	cancelled, err := f.controller.CancelOrder(ctx, order.ID, testutil.AddrAlice)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)

	onLedger, err := f.backend.GetOrder(ctx, f.market, *order.LedgerOrderID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderStateCancelled, onLedger.State)

	logs, err := f.orders.FindLogsByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, model.OrderLogReasonCancel, logs[len(logs)-1].Reason)

	_, err = f.controller.CancelOrder(ctx, order.ID, testutil.AddrAlice)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestCancelOrderRejectedByLedger(t *testing.T) {
	f := newFixture(t)
	order := f.placeConfirmed(t)
	f.backend.SetOrder(f.market, *order.LedgerOrderID, testutil.D("0"), ledger.OrderStateFilled)

	_, err := f.controller.CancelOrder(context.Background(), order.ID, testutil.AddrAlice)
	assert.ErrorIs(t, err, ErrLedgerRejected)

	got, err := f.orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusOpen, got.Status)
}

func TestCancelOrderBeforeConfirmation(t *testing.T) {
	f := newFixture(t)
	order, err := f.controller.PlaceOrder(context.Background(), placeReq(model.SideBuy, "10", "5"))
	require.NoError(t, err)

	_, err = f.controller.CancelOrder(context.Background(), order.ID, testutil.AddrAlice)
	assert.ErrorIs(t, err, ErrCreationPending)
}

func TestCancelUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.controller.CancelOrder(context.Background(), 404, testutil.AddrAlice)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
