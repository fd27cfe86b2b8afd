package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusMismatch records a mirror row whose open/closed state disagreed with
// the ledger's active flag.
type StatusMismatch struct {
	OrderID       uint        `json:"order_id"`
	LedgerOrderID uint64      `json:"ledger_order_id"`
	Before        OrderStatus `json:"before"`
	After         OrderStatus `json:"after"`
	// Applied is false when a concurrent writer changed the row first.
	Applied bool `json:"applied"`
}

// QuantitySync records a resting order whose remaining quantity lagged
// behind the ledger, typically after a fill that bypassed the mirror.
type QuantitySync struct {
	OrderID       uint            `json:"order_id"`
	LedgerOrderID uint64          `json:"ledger_order_id"`
	Before        decimal.Decimal `json:"before"`
	After         decimal.Decimal `json:"after"`
	Applied       bool            `json:"applied"`
}

type OrphanedOrder struct {
	OrderID       uint   `json:"order_id"`
	LedgerOrderID uint64 `json:"ledger_order_id"`
}

type IdentifierRepair struct {
	OrderID        uint   `json:"order_id"`
	LedgerOrderID  uint64 `json:"ledger_order_id"`
	CreationTxHash string `json:"creation_tx_hash"`
}

// ReconciliationReport is produced per reconcile pass and never persisted.
// LedgerOrders counts successfully read ledger orders only.
type ReconciliationReport struct {
	AssetID              string             `json:"asset_id"`
	LedgerOrderCounter   uint64             `json:"ledger_order_counter"`
	LedgerOrders         int                `json:"ledger_orders"`
	MirrorOrders         int                `json:"mirror_orders"`
	MissingFromMirror    []uint64           `json:"missing_from_mirror"`
	StatusMismatches     []StatusMismatch   `json:"status_mismatches"`
	QuantitiesSynced     []QuantitySync     `json:"quantities_synced"`
	OrphanedMirrorOrders []OrphanedOrder    `json:"orphaned_mirror_orders"`
	IdentifiersRepaired  []IdentifierRepair `json:"identifiers_repaired"`
	ReadErrors           int                `json:"read_errors"`
	StartedAt            time.Time          `json:"started_at"`
	FinishedAt           time.Time          `json:"finished_at"`
}
