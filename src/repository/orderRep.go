package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tokenexchange/src/database"
	"tokenexchange/src/model"
)

// ErrLedgerOrderIDTaken is returned when a ledger order id is already bound
// to another mirror row.
var ErrLedgerOrderIDTaken = errors.New("ledger order id already bound to another mirror order")

// OrderRepository handles read/write operations for mirror orders and their logs.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Info("Creating new OrderRepository with MainDB")

	return &OrderRepository{
		db: database.MainDB,
	}
}

// NewSnapshotOrderRepository reads from the read-only database. Writes through
// it are a programming error.
func NewSnapshotOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Info("Creating new OrderRepository with ReadOnlyDB")

	return &OrderRepository{
		db: database.ReadOnlyDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Debug("Creating OrderRepository with custom DB instance")

	return &OrderRepository{db: db}
}

// ---------------------------------------------------
// Order methods
// ---------------------------------------------------

// Create inserts a new order into the database after checking its invariants.
// The given order will be updated with the generated ID and timestamps.
func (r *OrderRepository) Create(
	ctx context.Context,
	order *model.Order,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Create",
		"asset_id": order.AssetID,
		"side":     order.Side,
		"qty":      order.QuantityRemaining.String(),
	}).Debug("Creating new order")

	if err := order.Validate(); err != nil {
		return err
	}

	err := r.db.WithContext(ctx).Create(order).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create order")

		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrLedgerOrderIDTaken
		}
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Create",
		"order_id": order.ID,
	}).Info("Order created successfully")

	return nil
}

// FindByID fetches a single order by its primary ID.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Order, error) {

	logger.WithFields(map[string]interface{}{
		"repo": "OrderRepository",
		"op":   "FindByID",
		"id":   id,
	}).Debug("Fetching order by ID")

	var order model.Order

	err := r.db.WithContext(ctx).
		First(&order, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "OrderRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Order not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")

		return nil, err
	}

	return &order, nil
}

// FindByAsset returns every mirror order of an asset, oldest first.
func (r *OrderRepository) FindByAsset(
	ctx context.Context,
	assetID string,
) ([]model.Order, error) {

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("id ASC").
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "FindByAsset",
			"asset_id": assetID,
		}).WithError(err).Error("Failed to fetch orders by asset")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "OrderRepository",
		"op":          "FindByAsset",
		"asset_id":    assetID,
		"rows_return": len(orders),
	}).Debug("Orders fetched by asset")

	return orders, nil
}

// OpenOrdersForMatching returns the matchable book of an asset: resting,
// non-empty, ledger-confirmed orders. Buys come best (highest) price first and
// sells best (lowest) price first; ties keep submission order.
func (r *OrderRepository) OpenOrdersForMatching(
	ctx context.Context,
	assetID string,
) ([]model.Order, []model.Order, error) {

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "OpenOrdersForMatching",
		"asset_id": assetID,
	}).Debug("Loading order book snapshot")

	buys, err := r.openSide(ctx, assetID, model.SideBuy, "limit_price DESC, created_at ASC, id ASC")
	if err != nil {
		return nil, nil, err
	}

	sells, err := r.openSide(ctx, assetID, model.SideSell, "limit_price ASC, created_at ASC, id ASC")
	if err != nil {
		return nil, nil, err
	}

	return buys, sells, nil
}

func (r *OrderRepository) openSide(
	ctx context.Context,
	assetID string,
	side model.OrderSide,
	orderBy string,
) ([]model.Order, error) {
	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("asset_id = ? AND side = ? AND status IN ? AND quantity_remaining > 0 AND ledger_order_id IS NOT NULL",
			assetID, side, model.OpenStatuses).
		Order(orderBy).
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "OpenOrdersForMatching",
			"asset_id": assetID,
			"side":     side,
		}).WithError(err).Error("Failed to load order book side")

		return nil, err
	}

	return orders, nil
}

// ---------------------------------------------------
// Single-row conditional updates
// ---------------------------------------------------

// RepairStatus moves an order from expected to next, writing the given
// remaining quantity, and logs the transition. It only touches the row if its
// status is still expected; the boolean reports whether it did.
func (r *OrderRepository) RepairStatus(
	ctx context.Context,
	orderID uint,
	expected model.OrderStatus,
	next model.OrderStatus,
	quantityRemaining decimal.Decimal,
	reason string,
) (bool, error) {

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "RepairStatus",
		"order_id": orderID,
		"from":     expected,
		"to":       next,
		"reason":   reason,
	}).Debug("Repairing order status")

	probe := model.Order{Side: model.SideBuy, Status: next, QuantityRemaining: quantityRemaining}
	if err := probe.Validate(); err != nil {
		return false, fmt.Errorf("repair order %d: %w", orderID, err)
	}

	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ? AND status = ?", orderID, expected).
			Updates(map[string]interface{}{
				"status":             next,
				"quantity_remaining": quantityRemaining,
				"updated_at":         time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		return tx.Create(&model.OrderLog{
			OrderID:           orderID,
			FromStatus:        expected,
			ToStatus:          next,
			QuantityRemaining: quantityRemaining,
			Reason:            reason,
			CreatedAt:         time.Now().UTC(),
		}).Error
	})

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "RepairStatus",
			"order_id": orderID,
		}).WithError(err).Error("Failed to repair order status")

		return false, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "RepairStatus",
		"order_id": orderID,
		"applied":  applied,
	}).Info("Order status repair finished")

	return applied, nil
}

// AttachLedgerOrderID binds a confirmed ledger id to a mirror order that has
// none yet. Returns false when the row already carries an id.
func (r *OrderRepository) AttachLedgerOrderID(
	ctx context.Context,
	orderID uint,
	ledgerOrderID uint64,
) (bool, error) {

	logger.WithFields(map[string]interface{}{
		"repo":            "OrderRepository",
		"op":              "AttachLedgerOrderID",
		"order_id":        orderID,
		"ledger_order_id": ledgerOrderID,
	}).Debug("Attaching ledger order id")

	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND ledger_order_id IS NULL", orderID).
		Updates(map[string]interface{}{
			"ledger_order_id": ledgerOrderID,
			"updated_at":      time.Now().UTC(),
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":            "OrderRepository",
			"op":              "AttachLedgerOrderID",
			"order_id":        orderID,
			"ledger_order_id": ledgerOrderID,
		}).WithError(res.Error).Error("Failed to attach ledger order id")

		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, ErrLedgerOrderIDTaken
		}
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// ApplyFill subtracts a filled quantity from a resting order and moves it to
// partially_filled or filled. The update is skipped (false) when the order is
// no longer resting or has less than qty remaining.
func (r *OrderRepository) ApplyFill(
	ctx context.Context,
	orderID uint,
	qty decimal.Decimal,
) (bool, error) {

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "ApplyFill",
		"order_id": orderID,
		"qty":      qty.String(),
	}).Debug("Applying fill to order")

	if !qty.IsPositive() {
		return false, fmt.Errorf("fill quantity must be positive, got %s", qty)
	}

	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ? AND status IN ? AND quantity_remaining >= ?", orderID, model.OpenStatuses, qty).
			Updates(map[string]interface{}{
				"quantity_remaining": gorm.Expr("quantity_remaining - ?", qty),
				"status": gorm.Expr("CASE WHEN quantity_remaining - ? <= 0 THEN ? ELSE ? END",
					qty, model.OrderStatusFilled, model.OrderStatusPartiallyFilled),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		var order model.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			return err
		}
		return tx.Create(&model.OrderLog{
			OrderID:           orderID,
			ToStatus:          order.Status,
			QuantityRemaining: order.QuantityRemaining,
			LedgerOrderID:     order.LedgerOrderID,
			Reason:            model.OrderLogReasonMatch,
			CreatedAt:         time.Now().UTC(),
		}).Error
	})

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "ApplyFill",
			"order_id": orderID,
		}).WithError(err).Error("Failed to apply fill")

		return false, err
	}

	return applied, nil
}

// ---------------------------------------------------
// OrderLog methods
// ---------------------------------------------------

func (r *OrderRepository) FindLogsByOrderID(
	ctx context.Context,
	orderID uint,
) ([]model.OrderLog, error) {

	var logs []model.OrderLog

	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&logs).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "FindLogsByOrderID",
			"order_id": orderID,
		}).WithError(err).Error("Failed to fetch order logs")

		return nil, err
	}

	return logs, nil
}
