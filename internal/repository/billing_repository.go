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

// planRepository is the gorm-backed PlanRepository
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).First(&plan, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) GetByName(ctx context.Context, name string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).First(&plan, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// subscriptionRepository is the gorm-backed SubscriptionRepository
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) ListCandidates(ctx context.Context, tenantID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Joins("JOIN plans ON plans.id = subscriptions.plan_id").
		Where("subscriptions.tenant_id = ? AND subscriptions.status IN ?", tenantID, []models.SubscriptionStatus{
			models.SubscriptionActive,
			models.SubscriptionTrialing,
			models.SubscriptionFrozen,
			models.SubscriptionCanceled,
			models.SubscriptionPending,
		}).
		Order("plans.tier_rank DESC, subscriptions.created_at DESC").
		Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		First(&sub, "external_subscription_id = ?", externalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListByStatuses(ctx context.Context, statuses []models.SubscriptionStatus) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("status IN ?", statuses).
		Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) UpdateWithLock(ctx context.Context, id uuid.UUID, fn func(*models.Subscription) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&sub, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := fn(&sub); err != nil {
			return err
		}
		return tx.Save(&sub).Error
	})
}

// overrideRepository is the gorm-backed OverrideRepository
type overrideRepository struct {
	db *gorm.DB
}

// NewOverrideRepository creates a new override repository
func NewOverrideRepository(db *gorm.DB) OverrideRepository {
	return &overrideRepository{db: db}
}

func (r *overrideRepository) ListActive(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]models.TenantEntitlementOverride, error) {
	var overrides []models.TenantEntitlementOverride
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND expires_at > ?", tenantID, now).
		Find(&overrides).Error
	return overrides, err
}

func (r *overrideRepository) Get(ctx context.Context, tenantID uuid.UUID, featureKey string) (*models.TenantEntitlementOverride, error) {
	var override models.TenantEntitlementOverride
	err := r.db.WithContext(ctx).
		First(&override, "tenant_id = ? AND feature_key = ?", tenantID, featureKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &override, nil
}

func (r *overrideRepository) Upsert(ctx context.Context, override *models.TenantEntitlementOverride) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "feature_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", "expires_at", "reason", "created_by", "updated_at",
		}),
	}).Create(override).Error
}

func (r *overrideRepository) Delete(ctx context.Context, tenantID uuid.UUID, featureKey string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("tenant_id = ? AND feature_key = ?", tenantID, featureKey).
		Delete(&models.TenantEntitlementOverride{})
	return res.RowsAffected > 0, res.Error
}

func (r *overrideRepository) ListExpired(ctx context.Context, now time.Time) ([]models.TenantEntitlementOverride, error) {
	var overrides []models.TenantEntitlementOverride
	err := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Find(&overrides).Error
	return overrides, err
}

func (r *overrideRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&models.TenantEntitlementOverride{}).Error
}

// billingEventRepository is the gorm-backed BillingEventRepository
type billingEventRepository struct {
	db *gorm.DB
}

// NewBillingEventRepository creates a new billing event repository
func NewBillingEventRepository(db *gorm.DB) BillingEventRepository {
	return &billingEventRepository{db: db}
}

func (r *billingEventRepository) ExistsByExternalEventID(ctx context.Context, externalEventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.BillingEvent{}).
		Where("external_event_id = ?", externalEventID).
		Count(&count).Error
	return count > 0, err
}

func (r *billingEventRepository) Create(ctx context.Context, event *models.BillingEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}
