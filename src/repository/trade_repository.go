package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tokenexchange/src/database"
	"tokenexchange/src/model"
)

// TradeRepository stores confirmed trades keyed by transaction hash.
type TradeRepository struct {
	db *gorm.DB
}

func NewTradeRepository() *TradeRepository {
	logger.WithField("component", "TradeRepository").
		Info("Creating new TradeRepository with MainDB")

	return &TradeRepository{
		db: database.MainDB,
	}
}

func (r *TradeRepository) WithDB(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// InsertIfAbsent inserts the trade unless a row with the same transaction hash
// already exists. The boolean reports whether this call created the row.
func (r *TradeRepository) InsertIfAbsent(
	ctx context.Context,
	trade *model.Trade,
) (bool, error) {

	logger.WithFields(map[string]interface{}{
		"repo":    "TradeRepository",
		"op":      "InsertIfAbsent",
		"tx_hash": trade.TransactionHash,
		"source":  trade.ExecutionSource,
	}).Debug("Recording trade")

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_hash"}},
			DoNothing: true,
		}).
		Create(trade)

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "TradeRepository",
			"op":      "InsertIfAbsent",
			"tx_hash": trade.TransactionHash,
		}).WithError(res.Error).Error("Failed to record trade")

		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// FindByTransactionHash returns (nil, nil) when no trade carries the hash.
func (r *TradeRepository) FindByTransactionHash(
	ctx context.Context,
	txHash string,
) (*model.Trade, error) {
	var trade model.Trade

	err := r.db.WithContext(ctx).
		Where("transaction_hash = ?", txHash).
		First(&trade).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":    "TradeRepository",
			"op":      "FindByTransactionHash",
			"tx_hash": txHash,
		}).WithError(err).Error("Failed to fetch trade")

		return nil, err
	}

	return &trade, nil
}

// FindByAsset lists the most recent trades of an asset.
func (r *TradeRepository) FindByAsset(
	ctx context.Context,
	assetID string,
	limit int,
) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 100
	}

	var trades []model.Trade
	err := r.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("recorded_at DESC, id DESC").
		Limit(limit).
		Find(&trades).Error

	return trades, err
}

// AttachBlockNumber sets the block number once. It is the only mutation a
// recorded trade accepts.
func (r *TradeRepository) AttachBlockNumber(
	ctx context.Context,
	txHash string,
	blockNumber uint64,
) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Trade{}).
		Where("transaction_hash = ? AND block_number IS NULL", txHash).
		Update("block_number", blockNumber)

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "TradeRepository",
			"op":      "AttachBlockNumber",
			"tx_hash": txHash,
		}).WithError(res.Error).Error("Failed to attach block number")

		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}
