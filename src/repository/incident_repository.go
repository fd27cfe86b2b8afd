package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tokenexchange/src/database"
	"tokenexchange/src/model"
)

// IncidentRepository handles persistence of settlement incidents.
type IncidentRepository struct {
	db *gorm.DB
}

// NewIncidentRepository creates a new repository instance.
func NewIncidentRepository() *IncidentRepository {
	return &IncidentRepository{
		db: database.MainDB,
	}
}

func (r *IncidentRepository) WithDB(db *gorm.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Create persists a new incident in the database.
func (r *IncidentRepository) Create(
	ctx context.Context,
	incident *model.Incident,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":          "IncidentRepository",
		"kind":          incident.Kind,
		"settlement_id": incident.SettlementID,
		"asset_id":      incident.AssetID,
		"confirmed_tx":  incident.ConfirmedTxHash,
	}).Error("Persisting settlement incident")

	if incident.Status == "" {
		incident.Status = model.IncidentStatusOpen
	}

	return r.db.WithContext(ctx).Create(incident).Error
}

// FindByID returns (nil, nil) if the incident does not exist.
func (r *IncidentRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Incident, error) {
	var incident model.Incident

	err := r.db.WithContext(ctx).First(&incident, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "IncidentRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch incident")

		return nil, err
	}

	return &incident, nil
}

// ListOpen returns unresolved incidents, oldest first. Incidents claimed by
// a completion in progress are included.
func (r *IncidentRepository) ListOpen(ctx context.Context) ([]model.Incident, error) {
	var incidents []model.Incident

	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{model.IncidentStatusOpen, model.IncidentStatusCompleting}).
		Order("id ASC").
		Find(&incidents).Error

	return incidents, err
}

// Claim moves an open incident to completing. Only one caller can hold the
// claim; false means it is resolved or claimed elsewhere.
func (r *IncidentRepository) Claim(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Incident{}).
		Where("id = ? AND status = ?", id, model.IncidentStatusOpen).
		Update("status", model.IncidentStatusCompleting)

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "IncidentRepository",
			"op":   "Claim",
			"id":   id,
		}).WithError(res.Error).Error("Failed to claim incident")

		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// Release reopens a claimed incident. When legs is set, its kind, hashes and
// message are stored so the next completion starts from them.
func (r *IncidentRepository) Release(ctx context.Context, id uint, legs *model.Incident) error {
	updates := map[string]interface{}{
		"status": model.IncidentStatusOpen,
	}
	if legs != nil {
		updates["kind"] = legs.Kind
		updates["confirmed_tx_hash"] = legs.ConfirmedTxHash
		updates["pending_tx_hash"] = legs.PendingTxHash
		updates["message"] = legs.Message
	}

	res := r.db.WithContext(ctx).
		Model(&model.Incident{}).
		Where("id = ? AND status = ?", id, model.IncidentStatusCompleting).
		Updates(updates)

	log := logger.WithFields(map[string]interface{}{
		"repo": "IncidentRepository",
		"op":   "Release",
		"id":   id,
	})
	if legs != nil {
		log = log.WithField("pending_tx", legs.PendingTxHash)
	}
	if res.Error != nil {
		log.WithError(res.Error).Error("Failed to release incident")
		return res.Error
	}
	log.Info("Incident released")

	return nil
}

// Resolve closes an unresolved incident with the transaction that completed
// it. Returns false if the incident was already resolved.
func (r *IncidentRepository) Resolve(
	ctx context.Context,
	id uint,
	resolutionTxHash string,
) (bool, error) {
	now := time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&model.Incident{}).
		Where("id = ? AND status IN ?", id, []string{model.IncidentStatusOpen, model.IncidentStatusCompleting}).
		Updates(map[string]interface{}{
			"status":             model.IncidentStatusResolved,
			"resolution_tx_hash": resolutionTxHash,
			"resolved_at":        now,
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "IncidentRepository",
			"op":   "Resolve",
			"id":   id,
		}).WithError(res.Error).Error("Failed to resolve incident")

		return false, res.Error
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "IncidentRepository",
		"op":         "Resolve",
		"id":         id,
		"resolved":   res.RowsAffected == 1,
		"resolution": resolutionTxHash,
	}).Info("Incident resolution attempted")

	return res.RowsAffected == 1, nil
}
