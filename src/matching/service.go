package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tokenexchange/src/ledger"
	"tokenexchange/src/metrics"
	"tokenexchange/src/model"
	"tokenexchange/src/recorder"
)

var ErrUnknownAsset = errors.New("unknown asset")

type OrderBook interface {
	OpenOrdersForMatching(ctx context.Context, assetID string) ([]model.Order, []model.Order, error)
}

type FillStore interface {
	ApplyFill(ctx context.Context, orderID uint, qty decimal.Decimal) (bool, error)
}

type Markets interface {
	FindByAssetID(ctx context.Context, assetID string) (*model.Market, error)
}

type Ledger interface {
	SubmitOrderFill(ctx context.Context, m ledger.Market, buyID, sellID uint64, qty decimal.Decimal) (string, error)
	WaitForReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error)
}

type TradeRecorder interface {
	RecordTrade(ctx context.Context, details recorder.TradeDetails) (*model.Trade, error)
}

// Service runs the matching engine over order-book snapshots and executes
// the resulting fills on the ledger.
type Service struct {
	book     OrderBook
	fills    FillStore
	markets  Markets
	ledger   Ledger
	recorder TradeRecorder
	metrics  *metrics.Metrics
	log      *logrus.Entry

	TopN           int
	ConfirmTimeout time.Duration
}

func NewService(book OrderBook, fills FillStore, markets Markets, l Ledger, rec TradeRecorder, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		book:           book,
		fills:          fills,
		markets:        markets,
		ledger:         l,
		recorder:       rec,
		log:            log.WithField("component", "matching"),
		TopN:           DefaultTopN,
		ConfirmTimeout: 2 * time.Minute,
	}
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// FindMatches loads the current snapshot of an asset's book and returns every
// candidate, best first.
func (s *Service) FindMatches(ctx context.Context, assetID string) ([]Candidate, error) {
	buys, sells, err := s.book.OpenOrdersForMatching(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("load order book %s: %w", assetID, err)
	}

	candidates := FindMatches(buys, sells)

	s.log.WithFields(logrus.Fields{
		"asset_id":   assetID,
		"buys":       len(buys),
		"sells":      len(sells),
		"candidates": len(candidates),
	}).Debug("Matching snapshot evaluated")

	return candidates, nil
}

// ExecutionResult summarises one ExecuteMatches call.
type ExecutionResult struct {
	AssetID    string        `json:"asset_id"`
	Candidates int           `json:"candidates"`
	Attempted  int           `json:"attempted"`
	Trades     []model.Trade `json:"trades"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
}

// ExecuteMatches submits one ledger fill per top candidate, waits for each
// receipt, records the trade and decrements both mirror orders. A failed
// candidate is counted and skipped; nothing is retried.
func (s *Service) ExecuteMatches(ctx context.Context, assetID string) (*ExecutionResult, error) {
	market, err := s.markets.FindByAssetID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	lm := ledger.MarketFromModel(market)

	candidates, err := s.FindMatches(ctx, assetID)
	if err != nil {
		return nil, err
	}

	result := &ExecutionResult{AssetID: assetID, Candidates: len(candidates), Trades: []model.Trade{}}

	// Candidates overlap; track what is left of each order within this batch.
	remaining := map[uint]decimal.Decimal{}
	left := func(o *model.Order) decimal.Decimal {
		if q, ok := remaining[o.ID]; ok {
			return q
		}
		return o.QuantityRemaining
	}

	for _, c := range candidates {
		if result.Attempted >= s.TopN {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		qty := decimal.Min(left(&c.BuyOrder), left(&c.SellOrder))
		if !qty.IsPositive() {
			result.Skipped++
			continue
		}
		result.Attempted++

		trade, err := s.executeOne(ctx, lm, c, qty)
		if err != nil {
			result.Failed++
			s.metrics.ObserveMatch(assetID, "failed")
			s.log.WithFields(logrus.Fields{
				"asset_id":      assetID,
				"buy_order_id":  c.BuyOrder.ID,
				"sell_order_id": c.SellOrder.ID,
				"qty":           qty.String(),
			}).WithError(err).Warn("Fill failed")
			continue
		}

		remaining[c.BuyOrder.ID] = left(&c.BuyOrder).Sub(qty)
		remaining[c.SellOrder.ID] = left(&c.SellOrder).Sub(qty)
		result.Trades = append(result.Trades, *trade)
		s.metrics.ObserveMatch(assetID, "filled")
	}

	s.log.WithFields(logrus.Fields{
		"asset_id":   assetID,
		"candidates": result.Candidates,
		"attempted":  result.Attempted,
		"filled":     len(result.Trades),
		"failed":     result.Failed,
	}).Info("Auto-match finished")

	return result, nil
}

func (s *Service) executeOne(ctx context.Context, m ledger.Market, c Candidate, qty decimal.Decimal) (*model.Trade, error) {
	txHash, err := s.ledger.SubmitOrderFill(ctx, m, *c.BuyOrder.LedgerOrderID, *c.SellOrder.LedgerOrderID, qty)
	if err != nil {
		return nil, fmt.Errorf("submit fill: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.ConfirmTimeout)
	defer cancel()

	receipt, err := s.ledger.WaitForReceipt(waitCtx, txHash)
	if err != nil {
		return nil, fmt.Errorf("confirm fill %s: %w", txHash, err)
	}

	buyID, sellID := c.BuyOrder.ID, c.SellOrder.ID
	block := receipt.BlockNumber
	trade, err := s.recorder.RecordTrade(ctx, recorder.TradeDetails{
		TransactionHash: txHash,
		AssetID:         m.AssetID,
		BuyerAddress:    c.BuyOrder.OwnerAddress,
		SellerAddress:   c.SellOrder.OwnerAddress,
		Quantity:        qty,
		ExecutionPrice:  c.ExecutionPrice,
		ExecutionSource: model.ExecutionSourceOrderBook,
		BuyOrderID:      &buyID,
		SellOrderID:     &sellID,
		BlockNumber:     &block,
	})
	if err != nil {
		return nil, fmt.Errorf("record fill %s: %w", txHash, err)
	}

	// The fill is on the ledger; a mirror that refuses it is drift for
	// reconciliation, not a failed match.
	for _, id := range []uint{buyID, sellID} {
		applied, err := s.fills.ApplyFill(ctx, id, qty)
		if err != nil || !applied {
			s.log.WithFields(logrus.Fields{
				"order_id": id,
				"tx_hash":  txHash,
				"applied":  applied,
			}).WithError(err).Warn("Mirror did not take the fill")
		}
	}

	return trade, nil
}
