package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

// availabilityRepository is the gorm-backed AvailabilityRepository
type availabilityRepository struct {
	db *gorm.DB
}

// NewAvailabilityRepository creates a new availability repository
func NewAvailabilityRepository(db *gorm.DB) AvailabilityRepository {
	return &availabilityRepository{db: db}
}

func (r *availabilityRepository) Get(ctx context.Context, tenantID uuid.UUID, sourceType string) (*models.DataAvailability, error) {
	var availability models.DataAvailability
	err := r.db.WithContext(ctx).
		First(&availability, "tenant_id = ? AND source_type = ?", tenantID, sourceType).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &availability, nil
}

func (r *availabilityRepository) Upsert(ctx context.Context, availability *models.DataAvailability) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "source_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"state", "reason", "warn_threshold_minutes", "error_threshold_minutes",
			"state_changed_at", "previous_state", "billing_tier", "updated_at",
		}),
	}).Create(availability).Error
}

// incidentRepository is the gorm-backed IncidentRepository
type incidentRepository struct {
	db *gorm.DB
}

// NewIncidentRepository creates a new incident repository
func NewIncidentRepository(db *gorm.DB) IncidentRepository {
	return &incidentRepository{db: db}
}

func (r *incidentRepository) Create(ctx context.Context, incident *models.DQIncident) error {
	return r.db.WithContext(ctx).Create(incident).Error
}

func (r *incidentRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.DQIncident, error) {
	var incident models.DQIncident
	err := r.db.WithContext(ctx).
		First(&incident, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &incident, nil
}

func (r *incidentRepository) GetOpenByConnector(ctx context.Context, tenantID, connectorID uuid.UUID) (*models.DQIncident, error) {
	var incident models.DQIncident
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND connector_id = ? AND status IN ?", tenantID, connectorID,
			[]models.IncidentStatus{models.IncidentOpen, models.IncidentAcknowledged}).
		Order("opened_at DESC").
		First(&incident).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &incident, nil
}

func (r *incidentRepository) Update(ctx context.Context, incident *models.DQIncident) error {
	return r.db.WithContext(ctx).Save(incident).Error
}

func (r *incidentRepository) ListOpen(ctx context.Context, tenantID uuid.UUID) ([]models.DQIncident, error) {
	var incidents []models.DQIncident
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ?", tenantID,
			[]models.IncidentStatus{models.IncidentOpen, models.IncidentAcknowledged}).
		Order("opened_at DESC").
		Find(&incidents).Error
	return incidents, err
}
