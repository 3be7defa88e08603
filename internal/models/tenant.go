package models

import (
	"time"

	"github.com/google/uuid"
)

// BillingTier represents the commercial tier a tenant is on
type BillingTier string

const (
	TierFree       BillingTier = "free"
	TierGrowth     BillingTier = "growth"
	TierPro        BillingTier = "pro"
	TierEnterprise BillingTier = "enterprise"
)

// TenantStatus represents the lifecycle status of a tenant
type TenantStatus string

const (
	TenantActive      TenantStatus = "active"
	TenantSuspended   TenantStatus = "suspended"
	TenantDeactivated TenantStatus = "deactivated"
)

// Tenant is the billing and data-isolation boundary. Every tenant-scoped row
// in the schema carries its id.
type Tenant struct {
	ID            uuid.UUID    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ExternalOrgID string       `json:"externalOrgId" gorm:"type:varchar(255);uniqueIndex;not null"`
	Name          string       `json:"name" gorm:"type:varchar(255);not null"`
	BillingTier   BillingTier  `json:"billingTier" gorm:"type:varchar(20);not null;default:'free'"`
	Status        TenantStatus `json:"status" gorm:"type:varchar(20);not null;default:'active';index"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// TableName specifies the table name
func (Tenant) TableName() string {
	return "tenants"
}

// IsActive checks whether the tenant may serve requests
func (t *Tenant) IsActive() bool {
	return t.Status == TenantActive
}

// User mirrors a hosted-identity-provider user. No passwords are stored.
type User struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ExternalUserID string    `json:"externalUserId" gorm:"type:varchar(255);uniqueIndex;not null"`
	Email          string    `json:"email" gorm:"type:varchar(255)"`
	IsActive       bool      `json:"isActive" gorm:"not null;default:true"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

// Role represents an access role within a tenant
type Role string

const (
	RoleMerchantAdmin  Role = "MERCHANT_ADMIN"
	RoleMerchantViewer Role = "MERCHANT_VIEWER"
	RoleAgencyAdmin    Role = "AGENCY_ADMIN"
	RoleAgencyAnalyst  Role = "AGENCY_ANALYST"
)

// RoleSource records how a role grant came to exist
type RoleSource string

const (
	RoleSourceWebhook     RoleSource = "webhook"
	RoleSourceLazySync    RoleSource = "lazy_sync"
	RoleSourceAgencyGrant RoleSource = "agency_grant"
	RoleSourceAdminGrant  RoleSource = "admin_grant"
)

// UserTenantRole binds a user to a role within one tenant. Revocation flips
// IsActive to false; rows are never deleted so access history can be
// reconstructed from the audit trail.
type UserTenantRole struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID    uuid.UUID  `json:"userId" gorm:"type:uuid;not null;uniqueIndex:idx_user_tenant_role,priority:1"`
	TenantID  uuid.UUID  `json:"tenantId" gorm:"type:uuid;not null;uniqueIndex:idx_user_tenant_role,priority:2;index"`
	Role      Role       `json:"role" gorm:"type:varchar(50);not null;uniqueIndex:idx_user_tenant_role,priority:3"`
	IsActive  bool       `json:"isActive" gorm:"not null;default:true"`
	Source    RoleSource `json:"source" gorm:"type:varchar(20);not null"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// TableName specifies the table name
func (UserTenantRole) TableName() string {
	return "user_tenant_roles"
}

// MapIdentityRole maps an identity-provider organization role onto a local
// role. The mapping is closed: unknown provider roles become viewers.
func MapIdentityRole(providerRole string) Role {
	switch providerRole {
	case "org:admin", "org:owner":
		return RoleMerchantAdmin
	case "org:member", "org:viewer", "org:billing":
		return RoleMerchantViewer
	default:
		return RoleMerchantViewer
	}
}
