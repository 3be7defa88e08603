package models

import "time"

// GrantSource records where a feature grant came from
type GrantSource string

const (
	GrantSourcePlan     GrantSource = "plan"
	GrantSourceOverride GrantSource = "override"
	GrantSourceDeny     GrantSource = "deny"
)

// FeatureGrant is the resolved access decision for one feature key
type FeatureGrant struct {
	Granted bool        `json:"granted"`
	Source  GrantSource `json:"source"`
}

// ResolvedEntitlement is the materialized view of a tenant's feature access
// given plan, billing state and overrides. It is the unit stored in the
// entitlement cache.
type ResolvedEntitlement struct {
	PlanID       string                  `json:"planId"`
	PlanName     string                  `json:"planName"`
	TierRank     int                     `json:"tierRank"`
	BillingState BillingState            `json:"billingState"`
	AccessLevel  AccessLevel             `json:"accessLevel"`
	Features     map[string]FeatureGrant `json:"features"`
	Limits       PlanLimits              `json:"limits"`
	Warnings     []string                `json:"warnings,omitempty"`
	ResolvedAt   time.Time               `json:"resolvedAt"`
}

// Feature returns the grant for a key; unknown keys resolve to a deny grant.
func (e *ResolvedEntitlement) Feature(key string) FeatureGrant {
	if grant, ok := e.Features[key]; ok {
		return grant
	}
	return FeatureGrant{Granted: false, Source: GrantSourceDeny}
}

// HasWriteAccess checks whether the access level permits mutations
func (e *ResolvedEntitlement) HasWriteAccess() bool {
	return e.AccessLevel == AccessFull || e.AccessLevel == AccessFullUntilPeriodEnd
}
