package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tokenexchange/src/ledger"
	"tokenexchange/src/model"
)

var (
	ErrInvalidOrder    = errors.New("invalid order")
	ErrUnknownAsset    = errors.New("unknown asset")
	ErrTradingClosed   = errors.New("trading deadline has passed")
	ErrOrderNotFound   = errors.New("order not found")
	ErrNotOwner        = errors.New("order belongs to another trader")
	ErrNotCancellable  = errors.New("order is not open")
	ErrCreationPending = errors.New("order creation is not confirmed yet")
	ErrLedgerRejected  = errors.New("ledger rejected the transaction")
)

type orderLedger interface {
	SubmitOrderCreation(ctx context.Context, m ledger.Market, maker string, side model.OrderSide, qty, price decimal.Decimal) (string, error)
	SubmitOrderCancel(ctx context.Context, m ledger.Market, orderID uint64) (string, error)
	GetTransactionReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error)
	WaitForReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error)
}

type orderStore interface {
	Create(ctx context.Context, order *model.Order) error
	FindByID(ctx context.Context, id uint) (*model.Order, error)
	AttachLedgerOrderID(ctx context.Context, orderID uint, ledgerOrderID uint64) (bool, error)
	RepairStatus(ctx context.Context, orderID uint, expected, next model.OrderStatus, qty decimal.Decimal, reason string) (bool, error)
}

type marketStore interface {
	FindByAssetID(ctx context.Context, assetID string) (*model.Market, error)
}

// PlaceRequest is a limit order submitted by a trader.
type PlaceRequest struct {
	AssetID      string          `json:"asset_id"`
	OwnerAddress string          `json:"owner_address"`
	Side         model.OrderSide `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	LimitPrice   decimal.Decimal `json:"limit_price"`
}

// OrderController drives the order lifecycle: it submits to the ledger first
// and mirrors what was submitted. Anything it misses is converged later by
// reconciliation.
type OrderController struct {
	ledger  orderLedger
	orders  orderStore
	markets marketStore
	cfg     Config
	now     func() time.Time
}

func NewOrderController(l orderLedger, orders orderStore, markets marketStore, cfg Config) *OrderController {
	return &OrderController{
		ledger:  l,
		orders:  orders,
		markets: markets,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (c *OrderController) market(ctx context.Context, assetID string) (*model.Market, error) {
	m, err := c.markets.FindByAssetID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	return m, nil
}

// PlaceOrder submits the creation transaction and inserts the mirror row
// with its hash. The ledger id is attached by ConfirmCreation or by the next
// reconciliation pass.
func (c *OrderController) PlaceOrder(ctx context.Context, req PlaceRequest) (*model.Order, error) {
	owner, err := model.NormalizeAddress(req.OwnerAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: owner_address: %v", ErrInvalidOrder, err)
	}
	if !req.Side.Valid() {
		return nil, fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
	if !req.Quantity.IsPositive() || !req.LimitPrice.IsPositive() {
		return nil, fmt.Errorf("%w: quantity and limit_price must be positive", ErrInvalidOrder)
	}

	m, err := c.market(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	if m.DeadlinePassed(c.now()) {
		return nil, fmt.Errorf("%w: %s", ErrTradingClosed, m.AssetID)
	}

	txHash, err := c.ledger.SubmitOrderCreation(ctx, ledger.MarketFromModel(m), owner, req.Side, req.Quantity, req.LimitPrice)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		AssetID:           m.AssetID,
		Side:              req.Side,
		QuantityRemaining: req.Quantity,
		LimitPrice:        req.LimitPrice,
		OwnerAddress:      owner,
		Status:            model.OrderStatusOpen,
		CreationTxHash:    txHash,
	}
	if err := c.orders.Create(ctx, order); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "OrderController",
			"asset_id":  m.AssetID,
			"tx_hash":   txHash,
		}).WithError(err).Error("Order submitted but not mirrored")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"component": "OrderController",
		"order_id":  order.ID,
		"asset_id":  m.AssetID,
		"side":      order.Side,
		"tx_hash":   txHash,
	}).Info("Order submitted")

	return order, nil
}

// ConfirmCreation attaches the ledger id once the creation receipt exists.
// A reverted creation cancels the mirror row.
func (c *OrderController) ConfirmCreation(ctx context.Context, orderID uint) (*model.Order, error) {
	order, err := c.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	if order.HasLedgerID() || order.CreationTxHash == "" {
		return order, nil
	}

	receipt, err := c.ledger.GetTransactionReceipt(ctx, order.CreationTxHash)
	if err != nil {
		if errors.Is(err, ledger.ErrReceiptNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCreationPending, order.CreationTxHash)
		}
		return nil, err
	}

	switch {
	case receipt.Success && receipt.CreatedOrderID != nil:
		if _, err := c.orders.AttachLedgerOrderID(ctx, order.ID, *receipt.CreatedOrderID); err != nil {
			return nil, err
		}
	case !receipt.Success && order.Status.IsOpen():
		if _, err := c.orders.RepairStatus(ctx, order.ID, order.Status, model.OrderStatusCancelled, order.QuantityRemaining, model.OrderLogReasonConfirm); err != nil {
			return nil, err
		}
	}

	return c.orders.FindByID(ctx, order.ID)
}

// CancelOrder cancels a resting order on the ledger and marks the mirror row
// cancelled once the receipt confirms it.
func (c *OrderController) CancelOrder(ctx context.Context, orderID uint, owner string) (*model.Order, error) {
	order, err := c.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	if !strings.EqualFold(order.OwnerAddress, owner) {
		return nil, ErrNotOwner
	}
	if !order.Status.IsOpen() {
		return nil, fmt.Errorf("%w: status %s", ErrNotCancellable, order.Status)
	}
	if !order.HasLedgerID() {
		return nil, fmt.Errorf("%w: %s", ErrCreationPending, order.CreationTxHash)
	}

	m, err := c.market(ctx, order.AssetID)
	if err != nil {
		return nil, err
	}

	log := logger.WithFields(map[string]interface{}{
		"component":       "OrderController",
		"order_id":        order.ID,
		"ledger_order_id": *order.LedgerOrderID,
	})

	txHash, err := c.ledger.SubmitOrderCancel(ctx, ledger.MarketFromModel(m), *order.LedgerOrderID)
	if err != nil {
		return nil, err
	}

	waitCtx := ctx
	if c.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
		defer cancel()
	}
	if _, err := c.ledger.WaitForReceipt(waitCtx, txHash); err != nil {
		log.WithField("tx_hash", txHash).WithError(err).Warn("Cancel not confirmed")
		if errors.Is(err, ledger.ErrTransactionReverted) {
			return nil, fmt.Errorf("%w: cancel %s", ErrLedgerRejected, txHash)
		}
		return nil, err
	}

	applied, err := c.orders.RepairStatus(ctx, order.ID, order.Status, model.OrderStatusCancelled, order.QuantityRemaining, model.OrderLogReasonCancel)
	if err != nil {
		return nil, err
	}
	log.WithFields(map[string]interface{}{
		"tx_hash": txHash,
		"applied": applied,
	}).Info("Order cancelled")

	return c.orders.FindByID(ctx, order.ID)
}
