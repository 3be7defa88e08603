package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

// datasetRepository is the gorm-backed DatasetRepository
type datasetRepository struct {
	db *gorm.DB
}

// NewDatasetRepository creates a new dataset repository
func NewDatasetRepository(db *gorm.DB) DatasetRepository {
	return &datasetRepository{db: db}
}

func (r *datasetRepository) Create(ctx context.Context, version *models.DatasetVersion) error {
	return r.db.WithContext(ctx).Create(version).Error
}

func (r *datasetRepository) GetByNameVersion(ctx context.Context, datasetName, version string) (*models.DatasetVersion, error) {
	var v models.DatasetVersion
	err := r.db.WithContext(ctx).
		First(&v, "dataset_name = ? AND version = ?", datasetName, version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (r *datasetRepository) GetActive(ctx context.Context, datasetName string) (*models.DatasetVersion, error) {
	var v models.DatasetVersion
	err := r.db.WithContext(ctx).
		First(&v, "dataset_name = ? AND status = ?", datasetName, models.DatasetActive).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (r *datasetRepository) Update(ctx context.Context, version *models.DatasetVersion) error {
	return r.db.WithContext(ctx).Save(version).Error
}

func (r *datasetRepository) ActivateVersion(ctx context.Context, datasetName string, versionID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var current models.DatasetVersion
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&current, "dataset_name = ? AND status = ?", datasetName, models.DatasetActive).Error
		switch {
		case err == nil:
			current.Status = models.DatasetSuperseded
			current.DeactivatedAt = &now
			if err := tx.Save(&current).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// First activation for this dataset.
		default:
			return err
		}

		var next models.DatasetVersion
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&next, "id = ? AND dataset_name = ?", versionID, datasetName).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		next.Status = models.DatasetActive
		next.ActivatedAt = &now
		next.DeactivatedAt = nil
		return tx.Save(&next).Error
	})
}

func (r *datasetRepository) RollbackActive(ctx context.Context, datasetName string) (*models.DatasetVersion, error) {
	var promoted *models.DatasetVersion
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var current models.DatasetVersion
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&current, "dataset_name = ? AND status = ?", datasetName, models.DatasetActive).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var previous models.DatasetVersion
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("dataset_name = ? AND status = ?", datasetName, models.DatasetSuperseded).
			Order("deactivated_at DESC").
			First(&previous).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		current.Status = models.DatasetRolledBack
		current.DeactivatedAt = &now
		if err := tx.Save(&current).Error; err != nil {
			return err
		}

		previous.Status = models.DatasetActive
		previous.ActivatedAt = &now
		previous.DeactivatedAt = nil
		if err := tx.Save(&previous).Error; err != nil {
			return err
		}
		promoted = &previous
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}
