package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

func growthPlan() *models.Plan {
	return &models.Plan{
		ID:       uuid.New(),
		Name:     "growth",
		TierRank: 2,
		Features: datatypes.JSON([]byte(`{"ai_insights":{"enabled":true},"export_csv":{"enabled":false}}`)),
		Limits:   datatypes.JSON([]byte(`{"max_dashboards":10,"max_users":5,"max_connections":3}`)),
	}
}

func freePlan() *models.Plan {
	return &models.Plan{
		ID:       uuid.New(),
		Name:     "free",
		TierRank: 0,
		Features: datatypes.JSON([]byte(`{"basic_reports":{"enabled":true}}`)),
	}
}

func newTestEntitlements(subs *stubSubscriptionRepo, plans *stubPlanRepo, overrides *stubOverrideRepo, cache *memEntitlementCache) (*EntitlementService, *stubAuditRepo) {
	audit, auditRepo := newTestAudit()
	svc := NewEntitlementService(subs, plans, overrides, cache, nil, audit, silentLogger(), config.EntitlementConfig{
		CacheTTLSeconds:    300,
		LockTimeoutSeconds: 5,
		FreePlanName:       "free",
	})
	return svc, auditRepo
}

func TestGetEntitlementsResolvesPlanWithOverridePrecedence(t *testing.T) {
	tenantID := uuid.New()
	plan := growthPlan()

	plans := newStubPlanRepo()
	plans.add(plan)

	subs := newStubSubscriptionRepo()
	subs.add(&models.Subscription{
		TenantID:               tenantID,
		PlanID:                 plan.ID,
		Plan:                   plan,
		Status:                 models.SubscriptionActive,
		ExternalSubscriptionID: "ext_sub_1",
	})

	future := time.Now().UTC().Add(24 * time.Hour)
	overrides := &stubOverrideRepo{active: []models.TenantEntitlementOverride{
		{TenantID: tenantID, FeatureKey: "ai_insights", Enabled: false, ExpiresAt: future},
		{TenantID: tenantID, FeatureKey: "beta_forecasting", Enabled: true, ExpiresAt: future},
	}}

	cache := newMemEntitlementCache()
	svc, _ := newTestEntitlements(subs, plans, overrides, cache)

	resolved, err := svc.GetEntitlements(context.Background(), tenantID)
	assert.NoError(t, err)
	assert.Equal(t, "growth", resolved.PlanName)
	assert.Equal(t, models.BillingStateActive, resolved.BillingState)
	assert.Equal(t, models.AccessFull, resolved.AccessLevel)
	assert.Equal(t, 10, resolved.Limits.MaxDashboards)

	// A disabling override beats the plan grant and keeps its source.
	assert.Equal(t, models.FeatureGrant{Granted: false, Source: models.GrantSourceOverride}, resolved.Feature("ai_insights"))
	// An override can grant a feature the plan never mentions.
	assert.Equal(t, models.FeatureGrant{Granted: true, Source: models.GrantSourceOverride}, resolved.Feature("beta_forecasting"))
	// Plan features without overrides keep the plan source.
	assert.Equal(t, models.FeatureGrant{Granted: false, Source: models.GrantSourcePlan}, resolved.Feature("export_csv"))
	// Unknown features deny rather than error.
	assert.Equal(t, models.FeatureGrant{Granted: false, Source: models.GrantSourceDeny}, resolved.Feature("no_such_feature"))

	assert.Equal(t, 1, cache.sets)
}

func TestGetEntitlementsFreePlanFallback(t *testing.T) {
	tenantID := uuid.New()
	plans := newStubPlanRepo()
	plans.add(freePlan())

	svc, _ := newTestEntitlements(newStubSubscriptionRepo(), plans, &stubOverrideRepo{}, newMemEntitlementCache())

	resolved, err := svc.GetEntitlements(context.Background(), tenantID)
	assert.NoError(t, err)
	assert.Equal(t, "free", resolved.PlanName)
	assert.Equal(t, models.BillingStateActive, resolved.BillingState)
	assert.True(t, resolved.Feature("basic_reports").Granted)
}

func TestGetEntitlementsServesFromCache(t *testing.T) {
	tenantID := uuid.New()
	cache := newMemEntitlementCache()
	cached := &models.ResolvedEntitlement{PlanName: "growth", BillingState: models.BillingStateActive}
	assert.NoError(t, cache.Set(context.Background(), tenantID.String(), cached))

	subs := newStubSubscriptionRepo()
	svc, _ := newTestEntitlements(subs, newStubPlanRepo(), &stubOverrideRepo{}, cache)

	resolved, err := svc.GetEntitlements(context.Background(), tenantID)
	assert.NoError(t, err)
	assert.Equal(t, cached, resolved)
	assert.Equal(t, 0, subs.listCalls)
}

func TestGetEntitlementsFailsClosedOnRepositoryError(t *testing.T) {
	tenantID := uuid.New()
	subs := newStubSubscriptionRepo()
	subs.listCandidates = func(ctx context.Context, id uuid.UUID) ([]models.Subscription, error) {
		return nil, errors.New("connection reset by peer")
	}

	svc, _ := newTestEntitlements(subs, newStubPlanRepo(), &stubOverrideRepo{}, newMemEntitlementCache())

	resolved, err := svc.GetEntitlements(context.Background(), tenantID)
	assert.Nil(t, resolved)
	assert.True(t, IsCode(err, CodeEntitlementEvalFailed))

	// CheckFeature on the same failure must deny, never allow.
	grant, err := svc.CheckFeature(context.Background(), tenantID, "ai_insights")
	assert.True(t, IsCode(err, CodeEntitlementEvalFailed))
	assert.False(t, grant.Granted)
	assert.Equal(t, models.GrantSourceDeny, grant.Source)
}

func TestGetEntitlementsFailsClosedWhenFreePlanMissing(t *testing.T) {
	// No subscription and no free plan row leaves nothing to synthesize from.
	svc, _ := newTestEntitlements(newStubSubscriptionRepo(), newStubPlanRepo(), &stubOverrideRepo{}, newMemEntitlementCache())

	_, err := svc.GetEntitlements(context.Background(), uuid.New())
	assert.True(t, IsCode(err, CodeEntitlementEvalFailed))
}

func TestGetEntitlementsLockTimeoutFailsClosed(t *testing.T) {
	tenantID := uuid.New()
	release := make(chan struct{})
	defer close(release)

	subs := newStubSubscriptionRepo()
	subs.listCandidates = func(ctx context.Context, id uuid.UUID) ([]models.Subscription, error) {
		<-release
		return nil, errors.New("released after timeout")
	}

	audit, _ := newTestAudit()
	svc := NewEntitlementService(subs, newStubPlanRepo(), &stubOverrideRepo{}, newMemEntitlementCache(), nil, audit, silentLogger(), config.EntitlementConfig{
		LockTimeoutSeconds: 0,
		FreePlanName:       "free",
	})

	_, err := svc.GetEntitlements(context.Background(), tenantID)
	assert.True(t, IsCode(err, CodeEntitlementEvalFailed))
}

func TestGetEntitlementsSingleFlight(t *testing.T) {
	tenantID := uuid.New()
	plan := growthPlan()
	plans := newStubPlanRepo()
	plans.add(plan)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	subs := newStubSubscriptionRepo()
	subs.listCandidates = func(ctx context.Context, id uuid.UUID) ([]models.Subscription, error) {
		once.Do(func() { close(started) })
		<-release
		return []models.Subscription{{
			TenantID:               tenantID,
			PlanID:                 plan.ID,
			Plan:                   plan,
			Status:                 models.SubscriptionActive,
			ExternalSubscriptionID: "ext_sub_sf",
		}}, nil
	}

	svc, _ := newTestEntitlements(subs, plans, &stubOverrideRepo{}, newMemEntitlementCache())

	results := make(chan *models.ResolvedEntitlement, 6)
	errs := make(chan error, 6)
	var wg sync.WaitGroup
	call := func() {
		defer wg.Done()
		resolved, err := svc.GetEntitlements(context.Background(), tenantID)
		results <- resolved
		errs <- err
	}

	wg.Add(1)
	go call()
	<-started

	// The first resolution is parked inside the repository; everyone who
	// joins now must share its outcome.
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go call()
	}
	close(release)
	wg.Wait()
	close(results)
	close(errs)

	var first *models.ResolvedEntitlement
	for resolved := range results {
		assert.NotNil(t, resolved)
		if first == nil {
			first = resolved
		} else {
			assert.Equal(t, first.ResolvedAt, resolved.ResolvedAt)
		}
	}
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, subs.listCalls)
}

func TestCreateOverrideRejectsPastExpiry(t *testing.T) {
	cache := newMemEntitlementCache()
	svc, _ := newTestEntitlements(newStubSubscriptionRepo(), newStubPlanRepo(), &stubOverrideRepo{}, cache)

	err := svc.CreateOverride(context.Background(), &models.TenantEntitlementOverride{
		TenantID:   uuid.New(),
		FeatureKey: "ai_insights",
		Enabled:    true,
		ExpiresAt:  time.Now().UTC().Add(-time.Minute),
	}, "ops@example.com")
	assert.True(t, IsCode(err, CodeInvalidInput))
	assert.Equal(t, 0, cache.invalidations)
}

func TestCreateOverrideInvalidatesAndAudits(t *testing.T) {
	cache := newMemEntitlementCache()
	svc, auditRepo := newTestEntitlements(newStubSubscriptionRepo(), newStubPlanRepo(), &stubOverrideRepo{}, cache)

	err := svc.CreateOverride(context.Background(), &models.TenantEntitlementOverride{
		TenantID:   uuid.New(),
		FeatureKey: "ai_insights",
		Enabled:    true,
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}, "ops@example.com")
	assert.NoError(t, err)
	assert.Equal(t, 1, cache.invalidations)
	assert.Contains(t, auditRepo.actions(), models.ActionOverrideCreated)
}
