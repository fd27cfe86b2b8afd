package migrations

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DataMigration tracks executed data migrations.
// Table name is fixed to avoid collisions with other models.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

func ensureDataMigrationsTable(db *gorm.DB) error {
	return db.AutoMigrate(&DataMigration{})
}

// RunOnce runs fn only if migrationID was not executed before.
// It records the migration as executed only after fn succeeds.
func RunOnce(db *gorm.DB, migrationID string, fn func(*gorm.DB) error) error {
	if db == nil {
		return nil
	}
	if migrationID == "" {
		return fmt.Errorf("migration id is empty")
	}
	if fn == nil {
		return fmt.Errorf("migration %q has nil fn", migrationID)
	}

	if err := ensureDataMigrationsTable(db); err != nil {
		return fmt.Errorf("ensure data migrations table: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var m DataMigration
		err := tx.First(&m, "id = ?", migrationID).Error
		if err == nil {
			// already applied
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check migration %q: %w", migrationID, err)
		}

		if err := fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", migrationID, err)
		}

		rec := DataMigration{
			ID:        migrationID,
			AppliedAt: time.Now().UTC(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", migrationID, err)
		}

		return nil
	})
}

// Run executes all data migrations that go beyond schema auto-migrations.
// Append new migrations at the bottom with a stable unique id.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	if err := RunOnce(db, "00001_close_exhausted_orders", closeExhaustedOrders); err != nil {
		return err
	}
	if err := RunOnce(db, "00002_lowercase_tx_hashes", lowercaseTxHashes); err != nil {
		return err
	}
	if err := RunOnce(db, "00003_ledger_order_id_per_asset", dropGlobalLedgerOrderIndex); err != nil {
		return err
	}

	return nil
}

// closeExhaustedOrders enforces "quantity_remaining = 0 implies filled" on rows
// written before the invariant was checked in code.
func closeExhaustedOrders(tx *gorm.DB) error {
	return tx.Exec(
		"UPDATE orders SET status = ? WHERE quantity_remaining = 0 AND status <> ?",
		"filled", "filled",
	).Error
}

// lowercaseTxHashes brings hashes stored before normalisation in line with
// the lookups, which always use lowercase hex.
func lowercaseTxHashes(tx *gorm.DB) error {
	for _, stmt := range []string{
		"UPDATE trades SET transaction_hash = LOWER(transaction_hash), counter_leg_tx_hash = LOWER(counter_leg_tx_hash)",
		"UPDATE orders SET creation_tx_hash = LOWER(creation_tx_hash)",
	} {
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// dropGlobalLedgerOrderIndex removes the table-wide unique index on
// ledger_order_id. Ledger ids restart at 1 for every exchange contract; the
// schema now enforces uniqueness on (asset_id, ledger_order_id).
func dropGlobalLedgerOrderIndex(tx *gorm.DB) error {
	return tx.Exec("DROP INDEX IF EXISTS idx_orders_ledger_order_id").Error
}
