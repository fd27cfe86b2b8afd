package settlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tokenexchange/src/ledger"
	"tokenexchange/src/model"
	"tokenexchange/src/pricing"
	"tokenexchange/src/recorder"
	"tokenexchange/src/repository"
	"tokenexchange/src/testutil"
)

type fixture struct {
	db        *gorm.DB
	backend   *ledger.MemoryBackend
	client    *ledger.Client
	market    ledger.Market
	prices    *pricing.StaticSource
	markets   *repository.MarketRepository
	orders    *repository.OrderRepository
	incidents *repository.IncidentRepository
	trades    *repository.TradeRepository
	executor  *Executor
	router    *Router
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
		ProbeTimeout:       time.Second,
		ReceiptPoll:        time.Millisecond,
		CustodianAddress:   testutil.AddrCustodian,
		BreakerMaxFailures: 1000,
	}, []ledger.Backend{backend})
	require.NoError(t, err)

	orders := (&repository.OrderRepository{}).WithDB(db)
	incidents := (&repository.IncidentRepository{}).WithDB(db)
	trades := (&repository.TradeRepository{}).WithDB(db)
	rec := recorder.NewRecorder(trades)
	prices := pricing.NewStaticSource(map[string]decimal.Decimal{"GOLD": testutil.D("10")})

	cfg := Config{
		Discount:       testutil.D("0.02"),
		ProtocolFee:    testutil.D("0.005"),
		ConfirmTimeout: time.Second,
	}
	executor := NewExecutor(client, markets, prices, incidents, rec, cfg, nil)

	return &fixture{
		db:        db,
		backend:   backend,
		client:    client,
		market:    ledger.MarketFromModel(&m),
		prices:    prices,
		markets:   markets,
		orders:    orders,
		incidents: incidents,
		trades:    trades,
		executor:  executor,
		router:    NewRouter(orders, orders, client, markets, rec, executor, nil),
	}
}

// fund gives the custodian liquidity and the trader balance plus allowance.
func (f *fixture) fund(custodianTokens, custodianCurrency, traderTokens, traderCurrency string) {
	f.backend.Credit(f.market.Token, testutil.AddrCustodian, testutil.D(custodianTokens))
	f.backend.Credit(f.market.Currency, testutil.AddrCustodian, testutil.D(custodianCurrency))
	f.backend.Credit(f.market.Token, testutil.AddrAlice, testutil.D(traderTokens))
	f.backend.Credit(f.market.Currency, testutil.AddrAlice, testutil.D(traderCurrency))
	f.backend.Approve(f.market.Token, testutil.AddrAlice, testutil.AddrCustodian, testutil.D(traderTokens))
	f.backend.Approve(f.market.Currency, testutil.AddrAlice, testutil.AddrCustodian, testutil.D(traderCurrency))
}

func (f *fixture) balance(t *testing.T, token ledger.Token, owner string) decimal.Decimal {
	t.Helper()
	b, err := f.client.BalanceOf(context.Background(), token, owner)
	require.NoError(t, err)
	return b
}

func (f *fixture) tradeCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.Trade{}).Count(&n).Error)
	return n
}

func buy(qty string) Request {
	return Request{AssetID: "GOLD", TraderAddress: testutil.AddrAlice, Side: model.SideBuy, Quantity: testutil.D(qty)}
}

func sell(qty string) Request {
	return Request{AssetID: "GOLD", TraderAddress: testutil.AddrAlice, Side: model.SideSell, Quantity: testutil.D(qty)}
}

func TestExecuteFallbackBuy(t *testing.T) {
	f := newFixture(t)
	f.fund("1000", "0", "0", "100")

	result, err := f.executor.ExecuteFallback(context.Background(), buy("5"))
	require.NoError(t, err)

	// 10 * 1.02 = 10.2; 5 * 10.2 = 51; fee 0.255
	assert.True(t, testutil.D("10.2").Equal(result.Quote.ExecutionPrice))
	assert.True(t, testutil.D("0.255").Equal(result.Quote.Fee))
	assert.True(t, testutil.D("51.255").Equal(result.Quote.CurrencyAmount))
	assert.NotEmpty(t, result.SettlementID)

	trade := result.Trade
	require.NotNil(t, trade)
	assert.Equal(t, model.ExecutionSourceFallback, trade.ExecutionSource)
	assert.Equal(t, testutil.AddrAlice, trade.BuyerAddress)
	assert.Equal(t, testutil.AddrCustodian, trade.SellerAddress)
	assert.Equal(t, result.TraderLegTxHash, trade.CounterLegTxHash)
	assert.True(t, testutil.D("10.2").Equal(trade.ExecutionPrice))
	require.NotNil(t, trade.BlockNumber)

	assert.True(t, testutil.D("5").Equal(f.balance(t, f.market.Token, testutil.AddrAlice)))
	assert.True(t, testutil.D("48.745").Equal(f.balance(t, f.market.Currency, testutil.AddrAlice)))
	assert.True(t, testutil.D("51.255").Equal(f.balance(t, f.market.Currency, testutil.AddrCustodian)))
	assert.Len(t, f.backend.Transfers(), 2)
}

func TestExecuteFallbackSell(t *testing.T) {
	f := newFixture(t)
	f.fund("0", "1000", "2", "0")

	result, err := f.executor.ExecuteFallback(context.Background(), sell("2"))
	require.NoError(t, err)

	// 10 * 0.98 = 9.8; 2 * 9.8 = 19.6; fee 0.098
	assert.True(t, testutil.D("9.8").Equal(result.Quote.ExecutionPrice))
	assert.True(t, testutil.D("19.502").Equal(result.Quote.CurrencyAmount))
	assert.Equal(t, testutil.AddrCustodian, result.Trade.BuyerAddress)
	assert.Equal(t, testutil.AddrAlice, result.Trade.SellerAddress)

	assert.True(t, f.balance(t, f.market.Token, testutil.AddrAlice).IsZero())
	assert.True(t, testutil.D("19.502").Equal(f.balance(t, f.market.Currency, testutil.AddrAlice)))
}

func TestExecuteFallbackInsufficientLiquiditySubmitsNothing(t *testing.T) {
	f := newFixture(t)
	f.fund("100", "0", "0", "10000")

	var submits int32
	f.backend.BeforeSubmit = func(op string) error {
		atomic.AddInt32(&submits, 1)
		return nil
	}

	_, err := f.executor.ExecuteFallback(context.Background(), buy("150"))
	require.ErrorIs(t, err, ErrInsufficientFallbackLiquidity)

	var shortfall *ShortfallError
	require.True(t, errors.As(err, &shortfall))
	assert.True(t, testutil.D("150").Equal(shortfall.Required))
	assert.True(t, testutil.D("100").Equal(shortfall.Available))
	assert.True(t, testutil.D("50").Equal(shortfall.Shortfall()))
	assert.Equal(t, "token", shortfall.Token)
	assert.Equal(t, "insufficient_fallback_liquidity", Code(err))

	assert.Zero(t, atomic.LoadInt32(&submits))
	assert.Empty(t, f.backend.Transfers())
	assert.Zero(t, f.tradeCount(t))
}

func TestExecuteFallbackPreconditionOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled before anything else", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.db.Model(&model.Market{}).Where("asset_id = ?", "GOLD").
			Update("fallback_enabled", false).Error)

		_, err := f.executor.ExecuteFallback(ctx, buy("150"))
		assert.ErrorIs(t, err, ErrFallbackDisabled)
	})

	t.Run("trader balance", func(t *testing.T) {
		f := newFixture(t)
		f.fund("1000", "0", "0", "10")

		_, err := f.executor.ExecuteFallback(ctx, buy("5"))
		require.ErrorIs(t, err, ErrInsufficientTraderBalance)
		var shortfall *ShortfallError
		require.True(t, errors.As(err, &shortfall))
		assert.True(t, testutil.D("51.255").Equal(shortfall.Required))
		assert.True(t, testutil.D("10").Equal(shortfall.Available))
		assert.Equal(t, "currency", shortfall.Token)
	})

	t.Run("allowance", func(t *testing.T) {
		f := newFixture(t)
		f.fund("1000", "0", "0", "100")
		f.backend.Approve(f.market.Currency, testutil.AddrAlice, testutil.AddrCustodian, testutil.D("20"))

		_, err := f.executor.ExecuteFallback(ctx, buy("5"))
		require.ErrorIs(t, err, ErrInsufficientAllowance)
		var shortfall *ShortfallError
		require.True(t, errors.As(err, &shortfall))
		assert.True(t, testutil.D("31.255").Equal(shortfall.Shortfall()))
	})

	t.Run("deadline after resource checks", func(t *testing.T) {
		f := newFixture(t)
		f.fund("1000", "0", "0", "100")
		past := time.Now().Add(-time.Hour).UTC()
		require.NoError(t, f.db.Model(&model.Market{}).Where("asset_id = ?", "GOLD").
			Update("trading_deadline", past).Error)

		_, err := f.executor.ExecuteFallback(ctx, buy("5"))
		assert.ErrorIs(t, err, ErrTradingClosed)
		assert.Empty(t, f.backend.Transfers())
	})

	t.Run("invalid request", func(t *testing.T) {
		f := newFixture(t)
		req := buy("0")
		_, err := f.executor.ExecuteFallback(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidRequest)

		req = buy("1")
		req.TraderAddress = "alice"
		_, err = f.executor.ExecuteFallback(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("unknown asset", func(t *testing.T) {
		f := newFixture(t)
		req := buy("1")
		req.AssetID = "COPPER"
		_, err := f.executor.ExecuteFallback(ctx, req)
		assert.ErrorIs(t, err, ErrUnknownAsset)
	})

	t.Run("no reference price", func(t *testing.T) {
		f := newFixture(t)
		f.prices.Set("GOLD", decimal.Zero)
		_, err := f.executor.ExecuteFallback(ctx, buy("1"))
		assert.ErrorIs(t, err, pricing.ErrPriceUnavailable)
	})
}

func TestExecuteFallbackTraderLegFailureIsNotPartial(t *testing.T) {
	f := newFixture(t)
	f.fund("1000", "0", "0", "100")
	f.backend.BeforeSubmit = func(op string) error {
		return errors.New("nonce too low")
	}

	_, err := f.executor.ExecuteFallback(context.Background(), buy("5"))
	require.ErrorIs(t, err, ErrSettlementFailed)
	assert.NotErrorIs(t, err, ErrPartialSettlement)

	open, err := f.incidents.ListOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestExecuteFallbackSecondLegFailureIsPartialSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund("1000", "0", "0", "100")

	var transfers int32
	f.backend.BeforeSubmit = func(op string) error {
		if op == "transfer" && atomic.AddInt32(&transfers, 1) == 2 {
			return errors.New("custodian key locked")
		}
		return nil
	}

	_, err := f.executor.ExecuteFallback(ctx, buy("5"))
	require.ErrorIs(t, err, ErrPartialSettlement)
	assert.Equal(t, "partial_settlement", Code(err))

	var partial *PartialSettlementError
	require.True(t, errors.As(err, &partial))
	require.NotEmpty(t, partial.ConfirmedTxHash)
	assert.Empty(t, partial.PendingTxHash)
	assert.NotZero(t, partial.IncidentID)

	// leg 1 is on the ledger, leg 2 is not, and no trade exists
	receipt, err := f.client.GetTransactionReceipt(ctx, partial.ConfirmedTxHash)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.True(t, testutil.D("48.745").Equal(f.balance(t, f.market.Currency, testutil.AddrAlice)))
	assert.True(t, f.balance(t, f.market.Token, testutil.AddrAlice).IsZero())
	assert.Zero(t, f.tradeCount(t))

	incident, err := f.incidents.FindByID(ctx, partial.IncidentID)
	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, model.IncidentStatusOpen, incident.Status)
	assert.Equal(t, partial.ConfirmedTxHash, incident.ConfirmedTxHash)
	assert.Equal(t, partial.SettlementID, incident.SettlementID)

	t.Run("operator completes the second leg once", func(t *testing.T) {
		f.backend.BeforeSubmit = nil

		result, err := f.executor.CompletePartial(ctx, partial.IncidentID)
		require.NoError(t, err)
		assert.Equal(t, partial.ConfirmedTxHash, result.Trade.CounterLegTxHash)
		assert.True(t, testutil.D("5").Equal(f.balance(t, f.market.Token, testutil.AddrAlice)))
		assert.Equal(t, int64(1), f.tradeCount(t))

		resolved, err := f.incidents.FindByID(ctx, partial.IncidentID)
		require.NoError(t, err)
		assert.Equal(t, model.IncidentStatusResolved, resolved.Status)
		assert.Equal(t, result.Trade.TransactionHash, resolved.ResolutionTxHash)

		_, err = f.executor.CompletePartial(ctx, partial.IncidentID)
		assert.ErrorIs(t, err, ErrIncidentResolved)
		assert.True(t, testutil.D("5").Equal(f.balance(t, f.market.Token, testutil.AddrAlice)))
	})
}

func TestCompletePartialAdoptsConfirmedPendingLeg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund("1000", "0", "0", "100")

	// the custodian leg is broadcast but its receipt shows up too late
	var transfers int32
	f.backend.BeforeSubmit = func(op string) error {
		if op == "transfer" && atomic.AddInt32(&transfers, 1) == 2 {
			f.backend.HideReceipts = true
		}
		return nil
	}
	f.executor.cfg.ConfirmTimeout = 20 * time.Millisecond

	_, err := f.executor.ExecuteFallback(ctx, buy("5"))
	var partial *PartialSettlementError
	require.True(t, errors.As(err, &partial))
	require.NotEmpty(t, partial.PendingTxHash)

	t.Run("still pending", func(t *testing.T) {
		_, err := f.executor.CompletePartial(ctx, partial.IncidentID)
		assert.ErrorIs(t, err, ErrSettlementFailed)
	})

	f.backend.HideReceipts = false
	f.backend.BeforeSubmit = nil

	result, err := f.executor.CompletePartial(ctx, partial.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, partial.PendingTxHash, result.Trade.TransactionHash)
	assert.Len(t, f.backend.Transfers(), 2)
}

// partialBuy leaves a buy of 5 with the trader leg confirmed and the
// custodian leg never submitted.
func (f *fixture) partialBuy(t *testing.T) *PartialSettlementError {
	t.Helper()
	f.fund("1000", "0", "0", "100")

	var transfers int32
	f.backend.BeforeSubmit = func(op string) error {
		if op == "transfer" && atomic.AddInt32(&transfers, 1) == 2 {
			return errors.New("custodian key locked")
		}
		return nil
	}
	_, err := f.executor.ExecuteFallback(context.Background(), buy("5"))
	var partial *PartialSettlementError
	require.True(t, errors.As(err, &partial))
	require.NotZero(t, partial.IncidentID)
	f.backend.BeforeSubmit = nil
	return partial
}

func TestCompletePartialConcurrentCallsPayOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	partial := f.partialBuy(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.executor.CompletePartial(ctx, partial.IncidentID)
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrIncidentResolved)
	}
	assert.Equal(t, 1, succeeded)
	assert.True(t, testutil.D("5").Equal(f.balance(t, f.market.Token, testutil.AddrAlice)))
	assert.Len(t, f.backend.Transfers(), 2)
	assert.Equal(t, int64(1), f.tradeCount(t))
}

func TestCompletePartialClaimSpansExecutors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	partial := f.partialBuy(t)

	// a second process sharing the database but not the asset locks
	other := NewExecutor(f.client, f.markets, f.prices, f.incidents, recorder.NewRecorder(f.trades), f.executor.cfg, nil)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	f.backend.BeforeSubmit = func(op string) error {
		close(entered)
		<-proceed
		return nil
	}

	results := make(chan error, 1)
	go func() {
		_, err := f.executor.CompletePartial(ctx, partial.IncidentID)
		results <- err
	}()
	<-entered

	_, err := other.CompletePartial(ctx, partial.IncidentID)
	require.ErrorIs(t, err, ErrIncidentInProgress)
	assert.Equal(t, "incident_in_progress", Code(err))

	close(proceed)
	require.NoError(t, <-results)

	_, err = other.CompletePartial(ctx, partial.IncidentID)
	assert.ErrorIs(t, err, ErrIncidentResolved)
	assert.True(t, testutil.D("5").Equal(f.balance(t, f.market.Token, testutil.AddrAlice)))
	assert.Len(t, f.backend.Transfers(), 2)
	assert.Equal(t, int64(1), f.tradeCount(t))
}

func TestCompletePartialFailureReopensWithSubmittedLeg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	partial := f.partialBuy(t)

	// the retry is broadcast but never confirms in time
	f.backend.BeforeSubmit = func(op string) error {
		f.backend.HideReceipts = true
		return nil
	}
	f.executor.cfg.ConfirmTimeout = 20 * time.Millisecond

	_, err := f.executor.CompletePartial(ctx, partial.IncidentID)
	require.ErrorIs(t, err, ErrSettlementFailed)

	incident, err := f.incidents.FindByID(ctx, partial.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, model.IncidentStatusOpen, incident.Status)
	require.NotEmpty(t, incident.PendingTxHash, "the broadcast leg is kept for the next attempt")

	f.backend.HideReceipts = false
	f.backend.BeforeSubmit = nil

	result, err := f.executor.CompletePartial(ctx, partial.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, incident.PendingTxHash, result.Trade.TransactionHash)
	assert.True(t, testutil.D("5").Equal(f.balance(t, f.market.Token, testutil.AddrAlice)))
	assert.Len(t, f.backend.Transfers(), 2)
}

func TestExecuteFallbackUnconfirmedTraderLegOpensIncident(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund("1000", "0", "0", "100")

	f.backend.BeforeSubmit = func(op string) error {
		f.backend.HideReceipts = true
		return nil
	}
	f.executor.cfg.ConfirmTimeout = 20 * time.Millisecond

	_, err := f.executor.ExecuteFallback(ctx, buy("5"))
	require.ErrorIs(t, err, ErrSettlementPending)
	assert.NotErrorIs(t, err, ErrPartialSettlement)
	assert.Equal(t, "settlement_pending", Code(err))

	var pending *PendingSettlementError
	require.True(t, errors.As(err, &pending))
	require.NotEmpty(t, pending.TraderTxHash)
	require.NotZero(t, pending.IncidentID)
	assert.Len(t, f.backend.Transfers(), 1, "the custodian leg is not sent")
	assert.Zero(t, f.tradeCount(t))

	incident, err := f.incidents.FindByID(ctx, pending.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, model.IncidentKindUnconfirmedTraderLeg, incident.Kind)
	assert.Equal(t, model.IncidentStatusOpen, incident.Status)
	assert.Equal(t, pending.TraderTxHash, incident.PendingTxHash)
	assert.Empty(t, incident.ConfirmedTxHash)

	t.Run("still unknown", func(t *testing.T) {
		_, err := f.executor.CompletePartial(ctx, pending.IncidentID)
		require.ErrorIs(t, err, ErrSettlementFailed)

		got, err := f.incidents.FindByID(ctx, pending.IncidentID)
		require.NoError(t, err)
		assert.Equal(t, model.IncidentStatusOpen, got.Status)
		assert.Equal(t, model.IncidentKindUnconfirmedTraderLeg, got.Kind)
	})

	f.backend.HideReceipts = false
	f.backend.BeforeSubmit = nil

	result, err := f.executor.CompletePartial(ctx, pending.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, pending.TraderTxHash, result.TraderLegTxHash)
	assert.Equal(t, pending.TraderTxHash, result.Trade.CounterLegTxHash)
	assert.True(t, testutil.D("5").Equal(f.balance(t, f.market.Token, testutil.AddrAlice)))
	assert.Len(t, f.backend.Transfers(), 2)
	assert.Equal(t, int64(1), f.tradeCount(t))

	resolved, err := f.incidents.FindByID(ctx, pending.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, model.IncidentStatusResolved, resolved.Status)
	assert.Equal(t, model.IncidentKindPartialSettlement, resolved.Kind)
}

func TestCompletePartialClosesRevertedTraderLeg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund("1000", "0", "0", "100")

	// the allowance is gone by the time the trader leg executes
	f.backend.BeforeSubmit = func(op string) error {
		f.backend.Approve(f.market.Currency, testutil.AddrAlice, testutil.AddrCustodian, decimal.Zero)
		f.backend.HideReceipts = true
		return nil
	}
	f.executor.cfg.ConfirmTimeout = 20 * time.Millisecond

	_, err := f.executor.ExecuteFallback(ctx, buy("5"))
	var pending *PendingSettlementError
	require.True(t, errors.As(err, &pending))

	f.backend.HideReceipts = false
	f.backend.BeforeSubmit = nil

	_, err = f.executor.CompletePartial(ctx, pending.IncidentID)
	require.ErrorIs(t, err, ErrSettlementFailed)
	assert.Empty(t, f.backend.Transfers())
	assert.True(t, testutil.D("100").Equal(f.balance(t, f.market.Currency, testutil.AddrAlice)))

	incident, err := f.incidents.FindByID(ctx, pending.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, model.IncidentStatusResolved, incident.Status)
	assert.Empty(t, incident.ResolutionTxHash)

	_, err = f.executor.CompletePartial(ctx, pending.IncidentID)
	assert.ErrorIs(t, err, ErrIncidentResolved)
}

func TestCompletePartialUnknownIncident(t *testing.T) {
	f := newFixture(t)
	_, err := f.executor.CompletePartial(context.Background(), 42)
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestQuoteDoesNotTouchTheLedger(t *testing.T) {
	f := newFixture(t)
	f.backend.ReadErr = errors.New("unreachable")

	q, err := f.executor.Quote(context.Background(), sell("3"))
	require.NoError(t, err)
	assert.True(t, testutil.D("9.8").Equal(q.ExecutionPrice))
	assert.True(t, testutil.D("29.253").Equal(q.CurrencyAmount))
}

func TestCode(t *testing.T) {
	cases := map[string]error{
		"settled":                     nil,
		"fallback_disabled":           ErrFallbackDisabled,
		"insufficient_trader_balance": &ShortfallError{Kind: ErrInsufficientTraderBalance},
		"insufficient_allowance":      &ShortfallError{Kind: ErrInsufficientAllowance},
		"partial_settlement":          &PartialSettlementError{Cause: ledger.ErrLedgerUnavailable},
		"settlement_pending":          &PendingSettlementError{Cause: context.DeadlineExceeded},
		"incident_in_progress":        ErrIncidentInProgress,
		"ledger_unavailable":          ledger.ErrLedgerUnavailable,
		"trading_closed":              ErrTradingClosed,
		"internal_error":              errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Code(err), want)
	}
}
