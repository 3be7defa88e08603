package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents the provider-visible subscription status
type SubscriptionStatus string

const (
	SubscriptionPending  SubscriptionStatus = "pending"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionFrozen   SubscriptionStatus = "frozen"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// IsTerminal checks whether the status can never transition again
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionExpired
}

// BillingState is the derived summary of a tenant's billing situation used by
// the entitlement engine
type BillingState string

const (
	BillingStateActive      BillingState = "active"
	BillingStateTrialing    BillingState = "trialing"
	BillingStateGracePeriod BillingState = "grace_period"
	BillingStatePastDue     BillingState = "past_due"
	BillingStateCanceled    BillingState = "canceled"
	BillingStateFrozen      BillingState = "frozen"
	BillingStateExpired     BillingState = "expired"
	BillingStatePending     BillingState = "pending"
	BillingStateNone        BillingState = "none"
)

// AccessLevel is the coarse access grant derived from the billing state
type AccessLevel string

const (
	AccessFull               AccessLevel = "full"
	AccessFullUntilPeriodEnd AccessLevel = "full_until_period_end"
	AccessReadOnly           AccessLevel = "read_only"
	AccessLimited            AccessLevel = "limited"
	AccessReadOnlyAnalytics  AccessLevel = "read_only_analytics"
	AccessNone               AccessLevel = "none"
)

// PlanFeature describes a single feature flag within a plan
type PlanFeature struct {
	Enabled bool `json:"enabled"`
	Limit   *int `json:"limit,omitempty"`
}

// PlanLimits holds the hard counters a plan enforces
type PlanLimits struct {
	MaxDashboards  int `json:"max_dashboards"`
	MaxUsers       int `json:"max_users"`
	MaxConnections int `json:"max_connections"`
}

// Plan is a global (not tenant-scoped) commercial plan definition
type Plan struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name       string         `json:"name" gorm:"type:varchar(100);uniqueIndex;not null"`
	TierRank   int            `json:"tierRank" gorm:"not null;index"`
	PriceCents int            `json:"priceCents" gorm:"not null;default:0"`
	Features   datatypes.JSON `json:"features" gorm:"type:jsonb"`
	Limits     datatypes.JSON `json:"limits" gorm:"type:jsonb"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// TableName specifies the table name
func (Plan) TableName() string {
	return "plans"
}

// DecodeFeatures decodes the plan feature map from JSONB
func (p *Plan) DecodeFeatures() (map[string]PlanFeature, error) {
	features := make(map[string]PlanFeature)
	if len(p.Features) == 0 {
		return features, nil
	}
	if err := json.Unmarshal(p.Features, &features); err != nil {
		return nil, err
	}
	return features, nil
}

// DecodeLimits decodes the plan limits from JSONB
func (p *Plan) DecodeLimits() (PlanLimits, error) {
	var limits PlanLimits
	if len(p.Limits) == 0 {
		return limits, nil
	}
	if err := json.Unmarshal(p.Limits, &limits); err != nil {
		return limits, err
	}
	return limits, nil
}

// Subscription ties a tenant to a plan. At most one non-terminal subscription
// should exist per tenant; when several qualify the highest tier rank and then
// the latest creation time wins deterministically.
type Subscription struct {
	ID                     uuid.UUID          `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID               uuid.UUID          `json:"tenantId" gorm:"type:uuid;not null;index"`
	PlanID                 uuid.UUID          `json:"planId" gorm:"type:uuid;not null"`
	Plan                   *Plan              `json:"plan,omitempty" gorm:"foreignKey:PlanID"`
	Status                 SubscriptionStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	GracePeriodEndsOn      *time.Time         `json:"gracePeriodEndsOn"`
	CurrentPeriodEnd       *time.Time         `json:"currentPeriodEnd"`
	ExternalSubscriptionID string             `json:"externalSubscriptionId" gorm:"type:varchar(255);uniqueIndex;not null"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// TableName specifies the table name
func (Subscription) TableName() string {
	return "subscriptions"
}

// TenantEntitlementOverride is a time-bounded per-tenant feature flag that
// wins over the plan during entitlement resolution. Only non-expired rows
// apply.
type TenantEntitlementOverride struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID   uuid.UUID `json:"tenantId" gorm:"type:uuid;not null;uniqueIndex:idx_tenant_feature,priority:1"`
	FeatureKey string    `json:"featureKey" gorm:"type:varchar(100);not null;uniqueIndex:idx_tenant_feature,priority:2"`
	Enabled    bool      `json:"enabled" gorm:"not null"`
	ExpiresAt  time.Time `json:"expiresAt" gorm:"not null;index"`
	Reason     string    `json:"reason" gorm:"type:text"`
	CreatedBy  string    `json:"createdBy" gorm:"type:varchar(255)"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (TenantEntitlementOverride) TableName() string {
	return "tenant_entitlement_overrides"
}

// IsExpired checks whether the override has lapsed at the given instant
func (o *TenantEntitlementOverride) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// BillingEventSource records which ingress produced a billing event
type BillingEventSource string

const (
	BillingEventSourceWebhook        BillingEventSource = "webhook"
	BillingEventSourceReconciliation BillingEventSource = "reconciliation"
)

// BillingEvent is the append-mostly record of a subscription state
// transition. The external event id doubles as the webhook idempotency key.
type BillingEvent struct {
	ID              uuid.UUID          `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID        uuid.UUID          `json:"tenantId" gorm:"type:uuid;not null;index"`
	SubscriptionID  uuid.UUID          `json:"subscriptionId" gorm:"type:uuid;not null;index"`
	ExternalEventID string             `json:"externalEventId" gorm:"type:varchar(255);uniqueIndex;not null"`
	EventType       string             `json:"eventType" gorm:"type:varchar(50);not null"`
	FromStatus      SubscriptionStatus `json:"fromStatus" gorm:"type:varchar(20)"`
	ToStatus        SubscriptionStatus `json:"toStatus" gorm:"type:varchar(20)"`
	Payload         datatypes.JSON     `json:"payload" gorm:"type:jsonb"`
	Source          BillingEventSource `json:"source" gorm:"type:varchar(20);not null"`
	CreatedAt       time.Time          `json:"createdAt"`
}

// TableName specifies the table name
func (BillingEvent) TableName() string {
	return "billing_events"
}
