package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

// auditRepository is the gorm-backed AuditRepository
type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, record *models.AuditRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *auditRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AuditRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var records []models.AuditRecord
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
