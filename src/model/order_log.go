package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reasons recorded on OrderLog rows.
const (
	OrderLogReasonReconcile = "reconcile"
	OrderLogReasonMatch     = "match"
	OrderLogReasonCancel    = "cancel"
	OrderLogReasonConfirm   = "confirm"
)

// OrderLog stores one status/quantity transition of a mirror order so that
// reconciliation repairs and fills can be audited after the fact.
type OrderLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Foreign key to Order
	OrderID uint   `gorm:"index" json:"order_id"`
	Order   *Order `gorm:"constraint:OnDelete:CASCADE" json:"order,omitempty"`

	FromStatus        OrderStatus     `gorm:"size:20" json:"from_status"`
	ToStatus          OrderStatus     `gorm:"size:20;not null" json:"to_status"`
	QuantityRemaining decimal.Decimal `gorm:"type:numeric(38,18)" json:"quantity_remaining"`
	LedgerOrderID     *uint64         `json:"ledger_order_id,omitempty"`
	Reason            string          `gorm:"size:50" json:"reason"` // see OrderLogReason* constants
	CreatedAt         time.Time       `json:"created_at"`
}

// TableName allows you to control the exact table name for order logs.
func (OrderLog) TableName() string {
	return "order_logs"
}
