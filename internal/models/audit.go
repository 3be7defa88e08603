package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditAction names a security-sensitive action. The registry is closed:
// components pick from these constants rather than inventing strings.
type AuditAction string

const (
	// Security / guard
	ActionCrossTenantDenied     AuditAction = "security.cross_tenant_denied"
	ActionAccessRevokedEnforced AuditAction = "identity.access_revoked_enforced"
	ActionRoleChangeEnforced    AuditAction = "identity.role_change_enforced"
	ActionUserBootstrapped      AuditAction = "identity.user_bootstrapped"
	ActionRoleAssigned          AuditAction = "identity.role_assigned"
	ActionRoleRevoked           AuditAction = "identity.role_revoked"

	// Billing
	ActionSubscriptionUpdated       AuditAction = "billing.subscription_updated"
	ActionRoleRevokedDueToDowngrade AuditAction = "billing.role_revoked_due_to_downgrade"
	ActionReconciliationCorrection  AuditAction = "billing.reconciliation_correction"

	// Entitlements
	ActionOverrideCreated AuditAction = "entitlement.override_created"
	ActionOverrideUpdated AuditAction = "entitlement.override_updated"
	ActionOverrideDeleted AuditAction = "entitlement.override_deleted"
	ActionOverrideExpired AuditAction = "entitlement.override_expired"

	// Connector lifecycle
	ActionConnectionRegistered      AuditAction = "connector.connection_registered"
	ActionConnectionDisconnected    AuditAction = "connector.connection_disconnected"
	ActionConnectionToggled         AuditAction = "connector.connection_toggled"
	ActionDuplicateShopBlocked      AuditAction = "connector.duplicate_shop_domain_blocked"
	ActionCredentialStored          AuditAction = "connector.credential_stored"
	ActionCredentialRefreshed       AuditAction = "connector.credential_refreshed"
	ActionCredentialRefreshFailed   AuditAction = "connector.credential_refresh_failed"
	ActionCredentialExpired         AuditAction = "connector.credential_expired"
	ActionCredentialRevoked         AuditAction = "connector.credential_revoked"

	// Data freshness
	ActionFreshnessStale       AuditAction = "data.freshness.stale"
	ActionFreshnessUnavailable AuditAction = "data.freshness.unavailable"
	ActionFreshnessRecovered   AuditAction = "data.freshness.recovered"
	ActionIncidentOpened       AuditAction = "data.incident_opened"
	ActionIncidentResolved     AuditAction = "data.incident_resolved"

	// Governance
	ActionApprovalDecision AuditAction = "governance.approval_decision"
	ActionRollbackExecuted AuditAction = "governance.rollback_executed"
	ActionRollbackReversed AuditAction = "governance.rollback_reversed"
	ActionGuardrailCheck   AuditAction = "governance.guardrail_check"
	ActionGuardrailRefusal AuditAction = "governance.guardrail_refusal"
	ActionMetricSunsetHit  AuditAction = "governance.metric_sunset_blocked"
	ActionRetentionCleanup AuditAction = "governance.retention_cleanup"

	// Dashboards and datasets
	ActionDashboardCreated  AuditAction = "dashboard.created"
	ActionDashboardUpdated  AuditAction = "dashboard.updated"
	ActionDashboardRestored AuditAction = "dashboard.restored"
	ActionDashboardArchived AuditAction = "dashboard.archived"
	ActionDatasetActivated  AuditAction = "dataset.version_activated"
	ActionDatasetRolledBack AuditAction = "dataset.version_rolled_back"
)

// AuditOutcome records whether the audited action succeeded
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
	OutcomeDenied  AuditOutcome = "denied"
)

// AuditSource records which ingress produced the event
type AuditSource string

const (
	AuditSourceAPI     AuditSource = "api"
	AuditSourceWorker  AuditSource = "worker"
	AuditSourceSystem  AuditSource = "system"
	AuditSourceWebhook AuditSource = "webhook"
)

// AuditRecord is an immutable append-only log entry. A database trigger
// rejects UPDATE and DELETE on the table; the application only ever inserts.
type AuditRecord struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID      uuid.UUID      `json:"tenantId" gorm:"type:uuid;index:idx_audit_tenant_ts,priority:1;index:idx_audit_tenant_action,priority:1;index:idx_audit_tenant_user,priority:1"`
	UserID        *uuid.UUID     `json:"userId" gorm:"type:uuid;index:idx_audit_tenant_user,priority:2"`
	Action        AuditAction    `json:"action" gorm:"type:varchar(100);not null;index:idx_audit_tenant_action,priority:2"`
	Timestamp     time.Time      `json:"timestamp" gorm:"not null;index:idx_audit_tenant_ts,priority:2"`
	IPAddress     string         `json:"ipAddress" gorm:"type:varchar(45)"`
	UserAgent     string         `json:"userAgent" gorm:"type:text"`
	ResourceType  string         `json:"resourceType" gorm:"type:varchar(50);index"`
	ResourceID    string         `json:"resourceId" gorm:"type:varchar(255)"`
	Metadata      datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	CorrelationID string         `json:"correlationId" gorm:"type:varchar(100);index"`
	Source        AuditSource    `json:"source" gorm:"type:varchar(20);not null"`
	Outcome       AuditOutcome   `json:"outcome" gorm:"type:varchar(20);not null"`
	ErrorCode     string         `json:"errorCode" gorm:"type:varchar(50)"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// TableName specifies the table name
func (AuditRecord) TableName() string {
	return "audit_records"
}

// BeforeCreate hook to set the event timestamp
func (a *AuditRecord) BeforeCreate(tx *gorm.DB) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	return nil
}

// IsDenial checks whether the record describes a denied request
func (a *AuditRecord) IsDenial() bool {
	return a.Outcome == OutcomeDenied
}
