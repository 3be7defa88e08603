package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

// tenantRepository is the gorm-backed TenantRepository
type tenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *tenantRepository) GetByExternalOrgID(ctx context.Context, externalOrgID string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "external_org_id = ?", externalOrgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *tenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	return r.db.WithContext(ctx).Create(tenant).Error
}

func (r *tenantRepository) Update(ctx context.Context, tenant *models.Tenant) error {
	return r.db.WithContext(ctx).Save(tenant).Error
}

func (r *tenantRepository) ListActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("status = ?", models.TenantActive).
		Pluck("id", &ids).Error
	return ids, err
}

// userRepository is the gorm-backed UserRepository
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByExternalUserID(ctx context.Context, externalUserID string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "external_user_id = ?", externalUserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

// roleRepository is the gorm-backed RoleRepository
type roleRepository struct {
	db *gorm.DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) ListActive(ctx context.Context, userID, tenantID uuid.UUID) ([]models.UserTenantRole, error) {
	var roles []models.UserTenantRole
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ? AND is_active = true", userID, tenantID).
		Find(&roles).Error
	return roles, err
}

func (r *roleRepository) Upsert(ctx context.Context, role *models.UserTenantRole) (bool, bool, error) {
	var reactivated, created bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.UserTenantRole
		err := tx.Where(
			"user_id = ? AND tenant_id = ? AND role = ?",
			role.UserID, role.TenantID, role.Role,
		).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created = true
			return tx.Create(role).Error
		}
		if err != nil {
			return err
		}
		if !existing.IsActive {
			reactivated = true
			existing.IsActive = true
			existing.Source = role.Source
			return tx.Save(&existing).Error
		}
		// Already active: idempotent no-op.
		*role = existing
		return nil
	})
	return reactivated, created, err
}

func (r *roleRepository) Deactivate(ctx context.Context, userID, tenantID uuid.UUID, role models.Role) error {
	return r.db.WithContext(ctx).
		Model(&models.UserTenantRole{}).
		Where("user_id = ? AND tenant_id = ? AND role = ?", userID, tenantID, role).
		Update("is_active", false).Error
}

func (r *roleRepository) DeactivateAll(ctx context.Context, userID, tenantID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.UserTenantRole{}).
		Where("user_id = ? AND tenant_id = ?", userID, tenantID).
		Update("is_active", false).Error
}
