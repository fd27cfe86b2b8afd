package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tokenexchange/src/ledger"
	"tokenexchange/src/metrics"
	"tokenexchange/src/model"
)

var (
	ErrInvalidTrade = errors.New("invalid trade")
	ErrUnconfirmed  = errors.New("transaction is not confirmed on the ledger")
)

// TradeDetails describes a ledger-confirmed execution.
type TradeDetails struct {
	TransactionHash  string                `json:"transaction_hash"`
	AssetID          string                `json:"asset_id"`
	BuyerAddress     string                `json:"buyer_address"`
	SellerAddress    string                `json:"seller_address"`
	Quantity         decimal.Decimal       `json:"quantity"`
	ExecutionPrice   decimal.Decimal       `json:"execution_price"`
	ExecutionSource  model.ExecutionSource `json:"execution_source"`
	BuyOrderID       *uint                 `json:"buy_order_id,omitempty"`
	SellOrderID      *uint                 `json:"sell_order_id,omitempty"`
	CounterLegTxHash string                `json:"counter_leg_tx_hash,omitempty"`
	BlockNumber      *uint64               `json:"block_number,omitempty"`
}

type Store interface {
	InsertIfAbsent(ctx context.Context, trade *model.Trade) (bool, error)
	FindByTransactionHash(ctx context.Context, txHash string) (*model.Trade, error)
	AttachBlockNumber(ctx context.Context, txHash string, blockNumber uint64) (bool, error)
}

// Publisher is notified once per newly recorded trade.
type Publisher interface {
	PublishTrade(ctx context.Context, trade model.Trade) error
}

type ReceiptReader interface {
	GetTransactionReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error)
}

// Recorder is the single path through which confirmed ledger transactions
// become Trade rows.
type Recorder struct {
	store      Store
	publishers []Publisher
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewRecorder(store Store, publishers ...Publisher) *Recorder {
	return &Recorder{
		store:      store,
		publishers: publishers,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) WithMetrics(m *metrics.Metrics) *Recorder {
	r.metrics = m
	return r
}

func (d *TradeDetails) toModel(recordedAt time.Time) (*model.Trade, error) {
	hash, err := model.NormalizeTxHash(d.TransactionHash)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction_hash: %v", ErrInvalidTrade, err)
	}
	buyer, err := model.NormalizeAddress(d.BuyerAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: buyer_address: %v", ErrInvalidTrade, err)
	}
	seller, err := model.NormalizeAddress(d.SellerAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: seller_address: %v", ErrInvalidTrade, err)
	}
	if d.AssetID == "" {
		return nil, fmt.Errorf("%w: asset_id is required", ErrInvalidTrade)
	}
	if !d.Quantity.IsPositive() || !d.ExecutionPrice.IsPositive() {
		return nil, fmt.Errorf("%w: quantity and execution_price must be positive", ErrInvalidTrade)
	}
	if !d.ExecutionSource.Valid() {
		return nil, fmt.Errorf("%w: unknown execution_source %q", ErrInvalidTrade, d.ExecutionSource)
	}

	counterLeg := d.CounterLegTxHash
	if counterLeg != "" {
		if counterLeg, err = model.NormalizeTxHash(counterLeg); err != nil {
			return nil, fmt.Errorf("%w: counter_leg_tx_hash: %v", ErrInvalidTrade, err)
		}
	}

	return &model.Trade{
		TransactionHash:  hash,
		AssetID:          d.AssetID,
		BuyerAddress:     buyer,
		SellerAddress:    seller,
		Quantity:         d.Quantity,
		ExecutionPrice:   d.ExecutionPrice,
		ExecutionSource:  d.ExecutionSource,
		BuyOrderID:       d.BuyOrderID,
		SellOrderID:      d.SellOrderID,
		CounterLegTxHash: counterLeg,
		BlockNumber:      d.BlockNumber,
		RecordedAt:       recordedAt,
	}, nil
}

// RecordTrade inserts the trade unless its transaction hash is already
// recorded and returns the stored row either way. Publishers only hear about
// the call that created the row.
func (r *Recorder) RecordTrade(ctx context.Context, details TradeDetails) (*model.Trade, error) {
	trade, err := details.toModel(r.now())
	if err != nil {
		return nil, err
	}

	log := logger.WithFields(map[string]interface{}{
		"component": "TradeRecorder",
		"tx_hash":   trade.TransactionHash,
		"asset_id":  trade.AssetID,
		"source":    trade.ExecutionSource,
	})

	inserted, err := r.store.InsertIfAbsent(ctx, trade)
	if err != nil {
		log.WithError(err).Error("Failed to record trade")
		return nil, fmt.Errorf("record trade %s: %w", trade.TransactionHash, err)
	}

	stored, err := r.store.FindByTransactionHash(ctx, trade.TransactionHash)
	if err != nil {
		return nil, fmt.Errorf("reload trade %s: %w", trade.TransactionHash, err)
	}
	if stored == nil {
		return nil, fmt.Errorf("trade %s vanished after insert", trade.TransactionHash)
	}

	r.metrics.ObserveTrade(string(trade.ExecutionSource), inserted)

	if !inserted {
		log.Info("Trade already recorded")
		return stored, nil
	}

	log.WithFields(map[string]interface{}{
		"trade_id": stored.ID,
		"quantity": stored.Quantity.String(),
		"price":    stored.ExecutionPrice.String(),
	}).Info("Trade recorded")

	for _, p := range r.publishers {
		if err := p.PublishTrade(ctx, *stored); err != nil {
			log.WithError(err).Warn("Trade publisher failed")
		}
	}

	return stored, nil
}

// ConfirmAndRecord verifies the transaction receipt before recording. It is
// the path for trades reported from outside the service.
func (r *Recorder) ConfirmAndRecord(ctx context.Context, receipts ReceiptReader, details TradeDetails) (*model.Trade, error) {
	receipt, err := receipts.GetTransactionReceipt(ctx, details.TransactionHash)
	if err != nil {
		if errors.Is(err, ledger.ErrReceiptNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrUnconfirmed, err)
		}
		return nil, err
	}
	if !receipt.Success {
		return nil, fmt.Errorf("%w: transaction reverted", ErrUnconfirmed)
	}

	block := receipt.BlockNumber
	details.BlockNumber = &block
	return r.RecordTrade(ctx, details)
}

// AttachBlockNumber sets the block number of a recorded trade once.
func (r *Recorder) AttachBlockNumber(ctx context.Context, txHash string, blockNumber uint64) (bool, error) {
	hash, err := model.NormalizeTxHash(txHash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidTrade, err)
	}
	return r.store.AttachBlockNumber(ctx, hash, blockNumber)
}
