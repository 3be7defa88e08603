package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DashboardStatus tracks the dashboard lifecycle
type DashboardStatus string

const (
	DashboardDraft     DashboardStatus = "draft"
	DashboardPublished DashboardStatus = "published"
	DashboardArchived  DashboardStatus = "archived"
)

// DashboardVersionCap is the maximum number of retained versions per
// dashboard; the oldest versions are pruned FIFO on overflow.
const DashboardVersionCap = 50

// CustomDashboard is a tenant-built dashboard. Name is unique within
// (tenant, non-archived).
type CustomDashboard struct {
	ID            uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID      uuid.UUID       `json:"tenantId" gorm:"type:uuid;not null;index"`
	Name          string          `json:"name" gorm:"type:varchar(255);not null"`
	Status        DashboardStatus `json:"status" gorm:"type:varchar(20);not null;default:'draft';index"`
	LayoutJSON    datatypes.JSON  `json:"layout" gorm:"type:jsonb"`
	FiltersJSON   datatypes.JSON  `json:"filters" gorm:"type:jsonb"`
	VersionNumber int             `json:"versionNumber" gorm:"not null;default:1"`
	CreatedBy     uuid.UUID       `json:"createdBy" gorm:"type:uuid;not null"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// TableName specifies the table name
func (CustomDashboard) TableName() string {
	return "custom_dashboards"
}

// DashboardReport is one report placed on a dashboard. Restore from a
// snapshot recreates reports with new ids.
type DashboardReport struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	DashboardID uuid.UUID      `json:"dashboardId" gorm:"type:uuid;not null;index"`
	TenantID    uuid.UUID      `json:"tenantId" gorm:"type:uuid;not null;index"`
	Position    int            `json:"position" gorm:"not null;default:0"`
	Title       string         `json:"title" gorm:"type:varchar(255)"`
	QueryJSON   datatypes.JSON `json:"query" gorm:"type:jsonb"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// TableName specifies the table name
func (DashboardReport) TableName() string {
	return "dashboard_reports"
}

// DashboardVersion is an immutable snapshot of a dashboard plus its ordered
// reports at a given version number.
type DashboardVersion struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	DashboardID   uuid.UUID      `json:"dashboardId" gorm:"type:uuid;not null;uniqueIndex:idx_dashboard_version,priority:1"`
	TenantID      uuid.UUID      `json:"tenantId" gorm:"type:uuid;not null;index"`
	VersionNumber int            `json:"versionNumber" gorm:"not null;uniqueIndex:idx_dashboard_version,priority:2"`
	SnapshotJSON  datatypes.JSON `json:"snapshot" gorm:"type:jsonb;not null"`
	ChangeSummary string         `json:"changeSummary" gorm:"type:text"`
	CreatedBy     uuid.UUID      `json:"createdBy" gorm:"type:uuid"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// TableName specifies the table name
func (DashboardVersion) TableName() string {
	return "dashboard_versions"
}

// DashboardAccessLevel ranks what a user may do with a shared dashboard
type DashboardAccessLevel string

const (
	DashboardAccessOwner DashboardAccessLevel = "owner"
	DashboardAccessAdmin DashboardAccessLevel = "admin"
	DashboardAccessEdit  DashboardAccessLevel = "edit"
	DashboardAccessRead  DashboardAccessLevel = "read"
)

// CanWrite checks whether the access level permits mutation
func (l DashboardAccessLevel) CanWrite() bool {
	return l == DashboardAccessOwner || l == DashboardAccessAdmin || l == DashboardAccessEdit
}

// DashboardShare grants another user access to a dashboard. Expired shares do
// not apply.
type DashboardShare struct {
	ID          uuid.UUID            `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	DashboardID uuid.UUID            `json:"dashboardId" gorm:"type:uuid;not null;uniqueIndex:idx_dashboard_share,priority:1"`
	TenantID    uuid.UUID            `json:"tenantId" gorm:"type:uuid;not null;index"`
	UserID      uuid.UUID            `json:"userId" gorm:"type:uuid;not null;uniqueIndex:idx_dashboard_share,priority:2"`
	AccessLevel DashboardAccessLevel `json:"accessLevel" gorm:"type:varchar(20);not null"`
	ExpiresAt   *time.Time           `json:"expiresAt"`
	CreatedAt   time.Time            `json:"createdAt"`
}

// TableName specifies the table name
func (DashboardShare) TableName() string {
	return "dashboard_shares"
}

// IsExpired checks whether the share has lapsed at the given instant
func (s *DashboardShare) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

// DashboardSnapshot is the JSON payload stored in a DashboardVersion
type DashboardSnapshot struct {
	Name    string           `json:"name"`
	Status  DashboardStatus  `json:"status"`
	Layout  datatypes.JSON   `json:"layout"`
	Filters datatypes.JSON   `json:"filters"`
	Reports []SnapshotReport `json:"reports"`
}

// SnapshotReport is one report captured inside a dashboard snapshot
type SnapshotReport struct {
	Position int            `json:"position"`
	Title    string         `json:"title"`
	Query    datatypes.JSON `json:"query"`
}
