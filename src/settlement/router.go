package settlement

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tokenexchange/src/ledger"
	"tokenexchange/src/matching"
	"tokenexchange/src/model"
	"tokenexchange/src/recorder"
)

type OrderBook interface {
	OpenOrdersForMatching(ctx context.Context, assetID string) ([]model.Order, []model.Order, error)
}

type FillStore interface {
	ApplyFill(ctx context.Context, orderID uint, qty decimal.Decimal) (bool, error)
}

type TakerLedger interface {
	SubmitTakerFill(ctx context.Context, m ledger.Market, orderID uint64, taker string, qty decimal.Decimal) (string, error)
	WaitForReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error)
}

// Router sends a trade request to a resting counter-order when one can fill
// it completely and to the fallback executor otherwise.
type Router struct {
	book     OrderBook
	fills    FillStore
	ledger   TakerLedger
	markets  Markets
	recorder TradeRecorder
	fallback *Executor
	log      *logrus.Entry
}

func NewRouter(book OrderBook, fills FillStore, l TakerLedger, markets Markets, rec TradeRecorder, fallback *Executor, log *logrus.Entry) *Router {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Router{
		book:     book,
		fills:    fills,
		ledger:   l,
		markets:  markets,
		recorder: rec,
		fallback: fallback,
		log:      log.WithField("component", "router"),
	}
}

// counterOrder picks the best-priority resting order on the other side that
// does not belong to the trader and covers the whole quantity.
func counterOrder(book []model.Order, trader string, qty decimal.Decimal) *model.Order {
	for i := range book {
		o := &book[i]
		if !matching.Matchable(o) || strings.EqualFold(o.OwnerAddress, trader) {
			continue
		}
		if o.QuantityRemaining.GreaterThanOrEqual(qty) {
			return o
		}
	}
	return nil
}

// Trade executes the request. A failed order-book fill is returned as is and
// never falls through to the fallback wallet.
func (r *Router) Trade(ctx context.Context, req Request) (*Result, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	m, err := r.markets.FindByAssetID(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, req.AssetID)
	}
	if m.DeadlinePassed(r.fallback.now()) {
		return nil, fmt.Errorf("%w: %s", ErrTradingClosed, m.AssetID)
	}

	buys, sells, err := r.book.OpenOrdersForMatching(ctx, req.AssetID)
	if err != nil {
		return nil, fmt.Errorf("read order book: %w", err)
	}
	book := sells
	if req.Side == model.SideSell {
		book = buys
	}

	maker := counterOrder(book, req.TraderAddress, req.Quantity)
	if maker == nil {
		r.log.WithFields(logrus.Fields{
			"asset_id": req.AssetID,
			"side":     req.Side,
			"quantity": req.Quantity.String(),
		}).Info("No counter-order, routing to fallback")
		return r.fallback.ExecuteFallback(ctx, req)
	}
	return r.fillAgainst(ctx, m, maker, req)
}

func (r *Router) fillAgainst(ctx context.Context, m *model.Market, maker *model.Order, req Request) (*Result, error) {
	log := r.log.WithFields(logrus.Fields{
		"asset_id":        m.AssetID,
		"order_id":        maker.ID,
		"ledger_order_id": *maker.LedgerOrderID,
		"taker":           req.TraderAddress,
		"quantity":        req.Quantity.String(),
	})

	txHash, err := r.ledger.SubmitTakerFill(ctx, ledger.MarketFromModel(m), *maker.LedgerOrderID, req.TraderAddress, req.Quantity)
	if err != nil {
		log.WithError(err).Error("Taker fill submission failed")
		return nil, fmt.Errorf("%w: fill order %d: %w", ErrSettlementFailed, maker.ID, err)
	}
	receipt, err := r.ledger.WaitForReceipt(ctx, txHash)
	if err != nil {
		log.WithField("tx_hash", txHash).WithError(err).Error("Taker fill not confirmed")
		return nil, fmt.Errorf("%w: fill %s: %w", ErrSettlementFailed, txHash, err)
	}

	makerID := maker.ID
	block := receipt.BlockNumber
	details := recorder.TradeDetails{
		TransactionHash: txHash,
		AssetID:         m.AssetID,
		Quantity:        req.Quantity,
		ExecutionPrice:  maker.LimitPrice,
		ExecutionSource: model.ExecutionSourceOrderBook,
		BlockNumber:     &block,
	}
	if maker.Side == model.SideSell {
		details.BuyerAddress, details.SellerAddress = req.TraderAddress, maker.OwnerAddress
		details.SellOrderID = &makerID
	} else {
		details.BuyerAddress, details.SellerAddress = maker.OwnerAddress, req.TraderAddress
		details.BuyOrderID = &makerID
	}

	trade, err := r.recorder.RecordTrade(ctx, details)
	if err != nil {
		return nil, err
	}

	applied, err := r.fills.ApplyFill(ctx, maker.ID, req.Quantity)
	if err != nil || !applied {
		// reconciliation converges the row onto the ledger
		log.WithField("tx_hash", txHash).WithError(err).Warn("Mirror fill not applied")
	}

	log.WithField("tx_hash", txHash).Info("Filled against resting order")
	return &Result{Source: model.ExecutionSourceOrderBook, Trade: trade}, nil
}
