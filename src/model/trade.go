package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExecutionSource string

const (
	ExecutionSourceOrderBook ExecutionSource = "orderbook"
	ExecutionSourceFallback  ExecutionSource = "fallback"
)

func (s ExecutionSource) Valid() bool {
	return s == ExecutionSourceOrderBook || s == ExecutionSourceFallback
}

// Trade is a ledger-confirmed execution. TransactionHash is the idempotency
// key: at most one row exists per hash. Only BlockNumber may change after insert.
type Trade struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	TransactionHash string          `gorm:"size:66;not null;uniqueIndex" json:"transaction_hash"`
	AssetID         string          `gorm:"size:100;not null;index" json:"asset_id"`
	BuyerAddress    string          `gorm:"size:42;not null;index" json:"buyer_address"`
	SellerAddress   string          `gorm:"size:42;not null;index" json:"seller_address"`
	Quantity        decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"quantity"`
	ExecutionPrice  decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"execution_price"`
	ExecutionSource ExecutionSource `gorm:"size:20;not null" json:"execution_source"`

	// Audit links to the mirror orders the trade came from (order-book trades only).
	BuyOrderID  *uint `gorm:"index" json:"buy_order_id,omitempty"`
	SellOrderID *uint `gorm:"index" json:"sell_order_id,omitempty"`

	// CounterLegTxHash is the first leg of a two-legged fallback settlement.
	CounterLegTxHash string `gorm:"size:66" json:"counter_leg_tx_hash,omitempty"`

	BlockNumber *uint64   `json:"block_number,omitempty"`
	RecordedAt  time.Time `gorm:"not null" json:"recorded_at"`
}

func (Trade) TableName() string {
	return "trades"
}
