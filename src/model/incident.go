package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	IncidentKindPartialSettlement = "partial_settlement"
	// the trader leg was broadcast but its outcome is unknown
	IncidentKindUnconfirmedTraderLeg = "unconfirmed_trader_leg"

	IncidentStatusOpen = "open"
	// claimed by an operator completion in progress
	IncidentStatusCompleting = "completing"
	IncidentStatusResolved   = "resolved"
)

// Incident is a settlement failure that must be persisted for operators.
// Partial settlements are never resolved automatically; an operator completes
// them explicitly.
type Incident struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Kind         string `gorm:"size:50;not null;index" json:"kind"`
	Status       string `gorm:"size:20;not null;index" json:"status"`
	SettlementID string `gorm:"size:36;not null;uniqueIndex" json:"settlement_id"`

	AssetID        string          `gorm:"size:100;not null;index" json:"asset_id"`
	TraderAddress  string          `gorm:"size:42;not null" json:"trader_address"`
	Side           OrderSide       `gorm:"size:10;not null" json:"side"`
	Quantity       decimal.Decimal `gorm:"type:numeric(38,18)" json:"quantity"`
	ExecutionPrice decimal.Decimal `gorm:"type:numeric(38,18)" json:"execution_price"`
	CurrencyAmount decimal.Decimal `gorm:"type:numeric(38,18)" json:"currency_amount"`

	// ConfirmedTxHash is the leg that reached the ledger. Empty for an
	// unconfirmed trader leg.
	ConfirmedTxHash string `gorm:"size:66;not null" json:"confirmed_tx_hash"`
	// PendingTxHash is the last leg broadcast but never confirmed.
	PendingTxHash string `gorm:"size:66" json:"pending_tx_hash,omitempty"`

	Message string `gorm:"type:text" json:"message"`

	ResolutionTxHash string     `gorm:"size:66" json:"resolution_tx_hash,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (Incident) TableName() string {
	return "incidents"
}
