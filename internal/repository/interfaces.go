package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

// Sentinel errors shared by all repositories. Services translate these into
// coded application errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrStaleUpdate   = errors.New("record changed since read")
	ErrLimitExceeded = errors.New("limit exceeded")
	ErrNameConflict  = errors.New("name already in use")
)

// TenantRepository accesses tenant rows
type TenantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetByExternalOrgID(ctx context.Context, externalOrgID string) (*models.Tenant, error)
	Create(ctx context.Context, tenant *models.Tenant) error
	Update(ctx context.Context, tenant *models.Tenant) error
	ListActiveIDs(ctx context.Context) ([]uuid.UUID, error)
}

// UserRepository accesses user rows
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByExternalUserID(ctx context.Context, externalUserID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
}

// RoleRepository accesses user-tenant role grants
type RoleRepository interface {
	ListActive(ctx context.Context, userID, tenantID uuid.UUID) ([]models.UserTenantRole, error)
	// Upsert creates the grant or reactivates an inactive one. It reports
	// whether an inactive row was reactivated so identity sync can audit
	// role_assigned exactly once per reactivation.
	Upsert(ctx context.Context, role *models.UserTenantRole) (reactivated bool, created bool, err error)
	Deactivate(ctx context.Context, userID, tenantID uuid.UUID, role models.Role) error
	DeactivateAll(ctx context.Context, userID, tenantID uuid.UUID) error
}

// PlanRepository accesses global plan definitions
type PlanRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	GetByName(ctx context.Context, name string) (*models.Plan, error)
}

// SubscriptionRepository accesses subscriptions
type SubscriptionRepository interface {
	// ListCandidates returns non-terminal subscriptions for a tenant with
	// plans preloaded, ordered by plan tier rank desc then created_at desc so
	// the first row wins deterministically.
	ListCandidates(ctx context.Context, tenantID uuid.UUID) ([]models.Subscription, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	ListByStatuses(ctx context.Context, statuses []models.SubscriptionStatus) ([]models.Subscription, error)
	// UpdateWithLock loads the row under a row-level lock, applies fn and
	// saves, all within one transaction.
	UpdateWithLock(ctx context.Context, id uuid.UUID, fn func(*models.Subscription) error) error
}

// OverrideRepository accesses tenant entitlement overrides
type OverrideRepository interface {
	ListActive(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]models.TenantEntitlementOverride, error)
	Get(ctx context.Context, tenantID uuid.UUID, featureKey string) (*models.TenantEntitlementOverride, error)
	Upsert(ctx context.Context, override *models.TenantEntitlementOverride) error
	// Delete removes an override; deleting a missing override is not an error.
	Delete(ctx context.Context, tenantID uuid.UUID, featureKey string) (bool, error)
	ListExpired(ctx context.Context, now time.Time) ([]models.TenantEntitlementOverride, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) error
}

// BillingEventRepository accesses billing state-transition records
type BillingEventRepository interface {
	ExistsByExternalEventID(ctx context.Context, externalEventID string) (bool, error)
	Create(ctx context.Context, event *models.BillingEvent) error
}

// ConnectionRepository accesses connector connections
type ConnectionRepository interface {
	Create(ctx context.Context, conn *models.ConnectorConnection) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ConnectorConnection, error)
	GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*models.ConnectorConnection, error)
	// FindActiveByShopDomain searches across all tenants; the duplicate-shop
	// guard needs global visibility.
	FindActiveByShopDomain(ctx context.Context, normalizedDomain string) (*models.ConnectorConnection, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.ConnectorConnection, error)
	ListEnabled(ctx context.Context) ([]models.ConnectorConnection, error)
	Update(ctx context.Context, conn *models.ConnectorConnection) error
	UpdateSyncState(ctx context.Context, tenantID, id uuid.UUID, at time.Time, status models.SyncRunStatus) error
}

// CredentialRepository accesses encrypted credentials. Only the vault may use
// it; other components go through the vault's API.
type CredentialRepository interface {
	Create(ctx context.Context, cred *models.ConnectorCredential) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ConnectorCredential, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.ConnectorCredential, error)
	ListExpiring(ctx context.Context, before time.Time) ([]models.ConnectorCredential, error)
	// UpdateWithLock loads the credential under a row-level lock, applies fn
	// and saves within one transaction.
	UpdateWithLock(ctx context.Context, id uuid.UUID, fn func(*models.ConnectorCredential) error) error
}

// SyncRunRepository accesses sync run history
type SyncRunRepository interface {
	Create(ctx context.Context, run *models.SyncRun) error
	Complete(ctx context.Context, runID uuid.UUID, status models.SyncRunStatus, rows int64, errMsg string) error
	GetLatest(ctx context.Context, tenantID, connectorID uuid.UUID) (*models.SyncRun, error)
}

// AvailabilityRepository accesses per-source freshness state
type AvailabilityRepository interface {
	Get(ctx context.Context, tenantID uuid.UUID, sourceType string) (*models.DataAvailability, error)
	Upsert(ctx context.Context, availability *models.DataAvailability) error
}

// IncidentRepository accesses data-quality incidents
type IncidentRepository interface {
	Create(ctx context.Context, incident *models.DQIncident) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.DQIncident, error)
	GetOpenByConnector(ctx context.Context, tenantID, connectorID uuid.UUID) (*models.DQIncident, error)
	Update(ctx context.Context, incident *models.DQIncident) error
	ListOpen(ctx context.Context, tenantID uuid.UUID) ([]models.DQIncident, error)
}

// AuditRepository appends audit records. There is deliberately no update or
// delete: the table is append-only.
type AuditRepository interface {
	Create(ctx context.Context, record *models.AuditRecord) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AuditRecord, error)
}

// DashboardRepository accesses custom dashboards, their reports, versions and
// shares
type DashboardRepository interface {
	// CreateWithLimit inserts the dashboard inside a transaction that counts
	// non-archived dashboards under a row-level lock, returning
	// ErrLimitExceeded or ErrNameConflict without inserting.
	CreateWithLimit(ctx context.Context, dash *models.CustomDashboard, maxDashboards int) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.CustomDashboard, error)
	CountNonArchived(ctx context.Context, tenantID uuid.UUID) (int64, error)
	// UpdateOptimistic applies updates only when updated_at still equals
	// expected; returns ErrStaleUpdate otherwise.
	UpdateOptimistic(ctx context.Context, dash *models.CustomDashboard, expectedUpdatedAt time.Time) error
	Update(ctx context.Context, dash *models.CustomDashboard) error

	ListReports(ctx context.Context, tenantID, dashboardID uuid.UUID) ([]models.DashboardReport, error)
	ReplaceReports(ctx context.Context, tenantID, dashboardID uuid.UUID, reports []models.DashboardReport) error

	CreateVersion(ctx context.Context, version *models.DashboardVersion) error
	GetVersion(ctx context.Context, tenantID, dashboardID uuid.UUID, versionNumber int) (*models.DashboardVersion, error)
	CountVersions(ctx context.Context, dashboardID uuid.UUID) (int64, error)
	// PruneVersions removes the oldest versions FIFO until at most cap remain.
	PruneVersions(ctx context.Context, dashboardID uuid.UUID, cap int) (int64, error)

	ListShares(ctx context.Context, tenantID, dashboardID uuid.UUID) ([]models.DashboardShare, error)
}

// DatasetRepository accesses BI dataset versions
type DatasetRepository interface {
	Create(ctx context.Context, version *models.DatasetVersion) error
	GetByNameVersion(ctx context.Context, datasetName, version string) (*models.DatasetVersion, error)
	GetActive(ctx context.Context, datasetName string) (*models.DatasetVersion, error)
	Update(ctx context.Context, version *models.DatasetVersion) error
	// ActivateVersion atomically demotes the current active version (if any)
	// to superseded and promotes the given version to active.
	ActivateVersion(ctx context.Context, datasetName string, versionID uuid.UUID) error
	// RollbackActive atomically demotes the active version to rolled_back and
	// promotes the latest superseded version back to active. It returns the
	// promoted version.
	RollbackActive(ctx context.Context, datasetName string) (*models.DatasetVersion, error)
}
