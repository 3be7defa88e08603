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

// dashboardRepository is the gorm-backed DashboardRepository
type dashboardRepository struct {
	db *gorm.DB
}

// NewDashboardRepository creates a new dashboard repository
func NewDashboardRepository(db *gorm.DB) DashboardRepository {
	return &dashboardRepository{db: db}
}

func (r *dashboardRepository) CreateWithLimit(ctx context.Context, dash *models.CustomDashboard, maxDashboards int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the tenant's non-archived rows so concurrent creates serialize
		// on the count and the name check.
		var existing []models.CustomDashboard
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ? AND status <> ?", dash.TenantID, models.DashboardArchived).
			Find(&existing).Error; err != nil {
			return err
		}
		if maxDashboards > 0 && len(existing) >= maxDashboards {
			return ErrLimitExceeded
		}
		for _, d := range existing {
			if d.Name == dash.Name {
				return ErrNameConflict
			}
		}
		return tx.Create(dash).Error
	})
}

func (r *dashboardRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.CustomDashboard, error) {
	var dash models.CustomDashboard
	err := r.db.WithContext(ctx).
		First(&dash, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &dash, nil
}

func (r *dashboardRepository) CountNonArchived(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CustomDashboard{}).
		Where("tenant_id = ? AND status <> ?", tenantID, models.DashboardArchived).
		Count(&count).Error
	return count, err
}

func (r *dashboardRepository) UpdateOptimistic(ctx context.Context, dash *models.CustomDashboard, expectedUpdatedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.CustomDashboard{}).
		Where("id = ? AND tenant_id = ? AND updated_at = ?", dash.ID, dash.TenantID, expectedUpdatedAt).
		Updates(map[string]interface{}{
			"name":           dash.Name,
			"status":         dash.Status,
			"layout_json":    dash.LayoutJSON,
			"filters_json":   dash.FiltersJSON,
			"version_number": dash.VersionNumber,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleUpdate
	}
	return nil
}

func (r *dashboardRepository) Update(ctx context.Context, dash *models.CustomDashboard) error {
	return r.db.WithContext(ctx).Save(dash).Error
}

func (r *dashboardRepository) ListReports(ctx context.Context, tenantID, dashboardID uuid.UUID) ([]models.DashboardReport, error) {
	var reports []models.DashboardReport
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND dashboard_id = ?", tenantID, dashboardID).
		Order("position ASC").
		Find(&reports).Error
	return reports, err
}

func (r *dashboardRepository) ReplaceReports(ctx context.Context, tenantID, dashboardID uuid.UUID, reports []models.DashboardReport) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ? AND dashboard_id = ?", tenantID, dashboardID).
			Delete(&models.DashboardReport{}).Error; err != nil {
			return err
		}
		if len(reports) == 0 {
			return nil
		}
		return tx.Create(&reports).Error
	})
}

func (r *dashboardRepository) CreateVersion(ctx context.Context, version *models.DashboardVersion) error {
	return r.db.WithContext(ctx).Create(version).Error
}

func (r *dashboardRepository) GetVersion(ctx context.Context, tenantID, dashboardID uuid.UUID, versionNumber int) (*models.DashboardVersion, error) {
	var version models.DashboardVersion
	err := r.db.WithContext(ctx).
		First(&version, "tenant_id = ? AND dashboard_id = ? AND version_number = ?",
			tenantID, dashboardID, versionNumber).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &version, nil
}

func (r *dashboardRepository) CountVersions(ctx context.Context, dashboardID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.DashboardVersion{}).
		Where("dashboard_id = ?", dashboardID).
		Count(&count).Error
	return count, err
}

func (r *dashboardRepository) PruneVersions(ctx context.Context, dashboardID uuid.UUID, cap int) (int64, error) {
	var pruned int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.DashboardVersion{}).
			Where("dashboard_id = ?", dashboardID).
			Count(&count).Error; err != nil {
			return err
		}
		excess := count - int64(cap)
		if excess <= 0 {
			return nil
		}
		var victims []uuid.UUID
		if err := tx.Model(&models.DashboardVersion{}).
			Where("dashboard_id = ?", dashboardID).
			Order("version_number ASC").
			Limit(int(excess)).
			Pluck("id", &victims).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", victims).Delete(&models.DashboardVersion{})
		pruned = res.RowsAffected
		return res.Error
	})
	return pruned, err
}

func (r *dashboardRepository) ListShares(ctx context.Context, tenantID, dashboardID uuid.UUID) ([]models.DashboardShare, error) {
	var shares []models.DashboardShare
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND dashboard_id = ?", tenantID, dashboardID).
		Find(&shares).Error
	return shares, err
}
