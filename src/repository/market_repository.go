package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tokenexchange/src/database"
	"tokenexchange/src/model"
)

// MarketRepository implements market persistence using GORM.
type MarketRepository struct {
	db *gorm.DB
}

// NewMarketRepository creates a new Market repository on the main database.
func NewMarketRepository() *MarketRepository {
	logger.WithField("component", "MarketRepository").
		Info("Creating new MarketRepository with MainDB")

	return &MarketRepository{
		db: database.MainDB,
	}
}

func (r *MarketRepository) WithDB(db *gorm.DB) *MarketRepository {
	return &MarketRepository{db: db}
}

// Create inserts a new market into the database.
func (r *MarketRepository) Create(
	ctx context.Context,
	market *model.Market,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":     "MarketRepository",
		"op":       "Create",
		"asset_id": market.AssetID,
	}).Debug("Creating new market")

	err := r.db.WithContext(ctx).Create(market).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "MarketRepository",
			"op":       "Create",
			"asset_id": market.AssetID,
		}).WithError(err).Error("Failed to create market")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "MarketRepository",
		"op":        "Create",
		"market_id": market.ID,
		"asset_id":  market.AssetID,
	}).Info("Market created successfully")

	return nil
}

// FindByAssetID fetches a market by its asset identifier.
// Returns (nil, nil) if not found.
func (r *MarketRepository) FindByAssetID(
	ctx context.Context,
	assetID string,
) (*model.Market, error) {

	logger.WithFields(map[string]interface{}{
		"repo":     "MarketRepository",
		"op":       "FindByAssetID",
		"asset_id": assetID,
	}).Debug("Fetching market by asset id")

	var market model.Market

	err := r.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		First(&market).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo":     "MarketRepository",
				"op":       "FindByAssetID",
				"asset_id": assetID,
			}).Info("Market not found by asset id")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":     "MarketRepository",
			"op":       "FindByAssetID",
			"asset_id": assetID,
		}).WithError(err).Error("Failed to fetch market by asset id")

		return nil, err
	}

	return &market, nil
}

// ListActive returns every market the background loop should serve.
func (r *MarketRepository) ListActive(ctx context.Context) ([]model.Market, error) {
	var markets []model.Market

	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("asset_id ASC").
		Find(&markets).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "MarketRepository",
			"op":   "ListActive",
		}).WithError(err).Error("Failed to list active markets")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "MarketRepository",
		"op":    "ListActive",
		"count": len(markets),
	}).Debug("Active markets fetched")

	return markets, nil
}
