package models

import (
	"time"

	"github.com/google/uuid"
)

// AvailabilityState reflects whether a tenant's data for a source meets its
// SLA window
type AvailabilityState string

const (
	AvailabilityFresh       AvailabilityState = "fresh"
	AvailabilityStale       AvailabilityState = "stale"
	AvailabilityUnavailable AvailabilityState = "unavailable"
)

// AvailabilityReason explains why a source is in its current state
type AvailabilityReason string

const (
	ReasonSyncOK              AvailabilityReason = "sync_ok"
	ReasonSLAExceeded         AvailabilityReason = "sla_exceeded"
	ReasonGraceWindowExceeded AvailabilityReason = "grace_window_exceeded"
	ReasonSyncFailed          AvailabilityReason = "sync_failed"
	ReasonNeverSynced         AvailabilityReason = "never_synced"
	ReasonBackfillInProgress  AvailabilityReason = "backfill_in_progress"
)

// DataAvailability is the persisted freshness state per (tenant, source).
// State is a pure function of sync metadata and thresholds; it is never set
// manually.
type DataAvailability struct {
	ID                    uuid.UUID          `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID              uuid.UUID          `json:"tenantId" gorm:"type:uuid;not null;uniqueIndex:idx_tenant_source,priority:1"`
	SourceType            string             `json:"sourceType" gorm:"type:varchar(50);not null;uniqueIndex:idx_tenant_source,priority:2"`
	State                 AvailabilityState  `json:"state" gorm:"type:varchar(20);not null"`
	Reason                AvailabilityReason `json:"reason" gorm:"type:varchar(30);not null"`
	WarnThresholdMinutes  int                `json:"warnThresholdMinutes" gorm:"not null"`
	ErrorThresholdMinutes int                `json:"errorThresholdMinutes" gorm:"not null"`
	StateChangedAt        time.Time          `json:"stateChangedAt"`
	PreviousState         AvailabilityState  `json:"previousState" gorm:"type:varchar(20)"`
	BillingTier           BillingTier        `json:"billingTier" gorm:"type:varchar(20)"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

// TableName specifies the table name
func (DataAvailability) TableName() string {
	return "data_availability"
}

// IncidentSeverity ranks how bad a data-quality incident is
type IncidentSeverity string

const (
	SeverityWarning  IncidentSeverity = "warning"
	SeverityHigh     IncidentSeverity = "high"
	SeverityCritical IncidentSeverity = "critical"
)

// IncidentStatus tracks the DQ incident lifecycle
type IncidentStatus string

const (
	IncidentOpen         IncidentStatus = "open"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
	IncidentAutoResolved IncidentStatus = "auto_resolved"
)

// DQIncident is a merchant-visible data-quality incident. MerchantMessage is
// sanitized; SupportDetails may reference internal ids and counts.
type DQIncident struct {
	ID              uuid.UUID        `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID        uuid.UUID        `json:"tenantId" gorm:"type:uuid;not null;index"`
	ConnectorID     uuid.UUID        `json:"connectorId" gorm:"type:uuid;index"`
	Severity        IncidentSeverity `json:"severity" gorm:"type:varchar(20);not null"`
	Status          IncidentStatus   `json:"status" gorm:"type:varchar(20);not null;default:'open';index"`
	Title           string           `json:"title" gorm:"type:varchar(255);not null"`
	MerchantMessage string           `json:"merchantMessage" gorm:"type:text"`
	SupportDetails  string           `json:"supportDetails" gorm:"type:text"`
	IsBlocking      bool             `json:"isBlocking" gorm:"not null;default:false"`
	OpenedAt        time.Time        `json:"openedAt" gorm:"not null"`
	AcknowledgedAt  *time.Time       `json:"acknowledgedAt"`
	ResolvedAt      *time.Time       `json:"resolvedAt"`
}

// TableName specifies the table name
func (DQIncident) TableName() string {
	return "dq_incidents"
}

// IsOpen checks whether the incident still needs attention
func (i *DQIncident) IsOpen() bool {
	return i.Status == IncidentOpen || i.Status == IncidentAcknowledged
}

// AnomalyResult is the common result shape returned by every registered
// anomaly check
type AnomalyResult struct {
	CheckName       string           `json:"checkName"`
	IsAnomaly       bool             `json:"isAnomaly"`
	Severity        IncidentSeverity `json:"severity,omitempty"`
	Observed        float64          `json:"observed"`
	Expected        float64          `json:"expected"`
	MerchantMessage string           `json:"merchantMessage,omitempty"`
	SupportDetails  string           `json:"supportDetails,omitempty"`
}
