package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ConnectionStatus represents the lifecycle status of an ingestion connection
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionActive   ConnectionStatus = "active"
	ConnectionInactive ConnectionStatus = "inactive"
	ConnectionFailed   ConnectionStatus = "failed"
	ConnectionDeleted  ConnectionStatus = "deleted"
)

// Source types the control plane knows how to ingest
const (
	SourceShopify  = "shopify"
	SourceFacebook = "facebook"
	SourceGoogle   = "google_ads"
	SourceKlaviyo  = "klaviyo"
)

// ConnectorConnection is one logical ingestion feed registered with a tenant.
// For Shopify sources ShopDomain holds the normalized shop domain and is
// globally unique across active enabled connections (enforced by a partial
// unique index; the service-layer check is defense in depth).
type ConnectorConnection struct {
	ID                   uuid.UUID        `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID             uuid.UUID        `json:"tenantId" gorm:"type:uuid;not null;uniqueIndex:idx_tenant_external_conn,priority:1;index"`
	ExternalConnectionID string           `json:"externalConnectionId" gorm:"type:varchar(255);not null;uniqueIndex:idx_tenant_external_conn,priority:2"`
	SourceType           string           `json:"sourceType" gorm:"type:varchar(50);not null;index"`
	ConnectionName       string           `json:"connectionName" gorm:"type:varchar(255);not null"`
	Configuration        datatypes.JSON   `json:"configuration" gorm:"type:jsonb"`
	ShopDomain           string           `json:"shopDomain" gorm:"type:varchar(255);index"`
	Status               ConnectionStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	IsEnabled            bool             `json:"isEnabled" gorm:"not null;default:true"`
	LastSyncAt           *time.Time       `json:"lastSyncAt"`
	LastSyncStatus       string           `json:"lastSyncStatus" gorm:"type:varchar(20)"`
	SyncFrequencyMinutes int              `json:"syncFrequencyMinutes" gorm:"not null;default:60"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// TableName specifies the table name
func (ConnectorConnection) TableName() string {
	return "connector_connections"
}

// NormalizeShopDomain applies the exact normalization the database constraint
// uses: lowercase, strip http:// or https://, strip a trailing slash.
func NormalizeShopDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimSuffix(d, "/")
	return d
}

// CredentialStatus represents the usability of stored token material
type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialExpired CredentialStatus = "expired"
	CredentialRevoked CredentialStatus = "revoked"
)

// RevocationReason explains why a credential was revoked
type RevocationReason string

const (
	RevocationUserDisconnect       RevocationReason = "user_disconnect"
	RevocationProviderRevoked      RevocationReason = "provider_revoked"
	RevocationAdminAction          RevocationReason = "admin_action"
	RevocationSecurityEvent        RevocationReason = "security_event"
	RevocationAuthFailureExhausted RevocationReason = "auth_failure_exhausted"
)

// ConnectorCredential holds encrypted token material for a source. The
// payload is opaque ciphertext; only the vault may read or write it.
type ConnectorCredential struct {
	ID                uuid.UUID        `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID          uuid.UUID        `json:"tenantId" gorm:"type:uuid;not null;index"`
	ConnectionID      *uuid.UUID       `json:"connectionId" gorm:"type:uuid;index"`
	SourceType        string           `json:"sourceType" gorm:"type:varchar(50);not null;index"`
	EncryptedPayload  string           `json:"-" gorm:"type:text;not null"`
	Status            CredentialStatus `json:"status" gorm:"type:varchar(20);not null;default:'active';index"`
	TokenExpiresAt    *time.Time       `json:"tokenExpiresAt" gorm:"index"`
	LastRefreshAt     *time.Time       `json:"lastRefreshAt"`
	RefreshErrorCount int              `json:"refreshErrorCount" gorm:"not null;default:0"`
	LastRefreshError  string           `json:"lastRefreshError" gorm:"type:text"`
	RevokedAt         *time.Time       `json:"revokedAt"`
	RevocationReason  RevocationReason `json:"revocationReason" gorm:"type:varchar(50)"`
	SoftDeletedAt     *time.Time       `json:"softDeletedAt" gorm:"index"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// TableName specifies the table name
func (ConnectorCredential) TableName() string {
	return "connector_credentials"
}

// IsUsable checks whether a sync may use this credential. Revoked or expired
// credentials must fail fast before any external call.
func (c *ConnectorCredential) IsUsable() bool {
	return c.Status == CredentialActive && c.SoftDeletedAt == nil
}

// SyncRunStatus represents the outcome of one ingestion run
type SyncRunStatus string

const (
	SyncRunning   SyncRunStatus = "running"
	SyncSucceeded SyncRunStatus = "succeeded"
	SyncFailed    SyncRunStatus = "failed"
	SyncCancelled SyncRunStatus = "cancelled"
)

// SyncRun is the append-mostly record of a single ingestion run. Connections
// keep only the denormalized last_sync_at/last_sync_status; history lives
// here, indexed by (tenant_id, connector_id).
type SyncRun struct {
	RunID        uuid.UUID     `json:"runId" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID     uuid.UUID     `json:"tenantId" gorm:"type:uuid;not null;index:idx_sync_tenant_connector,priority:1"`
	ConnectorID  uuid.UUID     `json:"connectorId" gorm:"type:uuid;not null;index:idx_sync_tenant_connector,priority:2"`
	Status       SyncRunStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	StartedAt    time.Time     `json:"startedAt" gorm:"not null"`
	CompletedAt  *time.Time    `json:"completedAt"`
	RowsSynced   int64         `json:"rowsSynced" gorm:"not null;default:0"`
	ErrorMessage string        `json:"errorMessage" gorm:"type:text"`
}

// TableName specifies the table name
func (SyncRun) TableName() string {
	return "sync_runs"
}
