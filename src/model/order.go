package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Valid reports whether s is one of the known sides.
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the counter side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// OpenStatuses are the statuses of orders still resting on the ledger book.
var OpenStatuses = []OrderStatus{OrderStatusOpen, OrderStatusPartiallyFilled}

// IsOpen reports whether the order is still resting (open or partially filled).
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusOpen || s == OrderStatusPartiallyFilled
}

// IsTerminal reports whether no further transitions are expected.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

var (
	ErrNegativeQuantity   = errors.New("quantity_remaining must not be negative")
	ErrExhaustedNotFilled = errors.New("order with zero quantity_remaining must be filled")
)

// Order is the mirror of a resting ledger order. It is never authoritative:
// the ledger owns the truth and reconciliation converges this row onto it.
type Order struct {
	ID uint `gorm:"primaryKey" json:"id"`
	// LedgerOrderID stays nil until the creation transaction is confirmed.
	// Ledger ids are numbered per exchange contract, so they are unique per
	// asset only.
	LedgerOrderID     *uint64         `gorm:"uniqueIndex:idx_orders_asset_ledger,priority:2" json:"ledger_order_id,omitempty"`
	AssetID           string          `gorm:"size:100;not null;index;uniqueIndex:idx_orders_asset_ledger,priority:1" json:"asset_id"`
	Side              OrderSide       `gorm:"size:10;not null" json:"side"`
	QuantityRemaining decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"quantity_remaining"`
	LimitPrice        decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"limit_price"`
	OwnerAddress      string          `gorm:"size:42;not null;index" json:"owner_address"`
	Status            OrderStatus     `gorm:"size:20;not null;default:open;index" json:"status"`
	CreationTxHash    string          `gorm:"size:66;index" json:"creation_tx_hash,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	// One-to-many relation: audit trail of status transitions
	Logs []OrderLog `gorm:"foreignKey:OrderID" json:"order_logs,omitempty"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// Validate checks the quantity/status invariants of a mirror order.
func (o *Order) Validate() error {
	if !o.Side.Valid() {
		return fmt.Errorf("invalid side %q", o.Side)
	}
	if o.QuantityRemaining.IsNegative() {
		return ErrNegativeQuantity
	}
	if o.QuantityRemaining.IsZero() && o.Status != OrderStatusFilled {
		return ErrExhaustedNotFilled
	}
	return nil
}

// HasLedgerID reports whether the creation transaction has been confirmed.
func (o *Order) HasLedgerID() bool {
	return o.LedgerOrderID != nil
}
