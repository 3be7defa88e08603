package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/metrics"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
)

// EntitlementCacheStore is the cache surface resolution needs. The redis
// entitlement cache is the production implementation.
type EntitlementCacheStore interface {
	Get(ctx context.Context, tenantID string) (*models.ResolvedEntitlement, bool)
	Set(ctx context.Context, tenantID string, resolved *models.ResolvedEntitlement) error
	Invalidate(ctx context.Context, tenantID string) error
}

// TenantLocker takes best-effort distributed locks for tenant-scoped work.
// The redis client is the production implementation.
type TenantLocker interface {
	AcquireTenantLock(ctx context.Context, tenantID, purpose string, ttl time.Duration) (bool, error)
	ReleaseTenantLock(ctx context.Context, tenantID, purpose string) error
}

const resolveLockPurpose = "entitlement_resolve"

// EntitlementService resolves tenant entitlements from plan, billing state and
// overrides. Resolution is fail-closed: any internal error surfaces as
// entitlement_eval_failed, never as an implicit allow.
type EntitlementService struct {
	subscriptions repository.SubscriptionRepository
	plans         repository.PlanRepository
	overrides     repository.OverrideRepository
	cache         EntitlementCacheStore
	locks         TenantLocker
	audit         *AuditService
	logger        *logrus.Logger
	cfg           config.EntitlementConfig

	group singleflight.Group
}

// NewEntitlementService creates a new entitlement service. locks may be nil;
// the in-process single flight then stands alone.
func NewEntitlementService(
	subscriptions repository.SubscriptionRepository,
	plans repository.PlanRepository,
	overrides repository.OverrideRepository,
	cache EntitlementCacheStore,
	locks TenantLocker,
	audit *AuditService,
	logger *logrus.Logger,
	cfg config.EntitlementConfig,
) *EntitlementService {
	return &EntitlementService{
		subscriptions: subscriptions,
		plans:         plans,
		overrides:     overrides,
		cache:         cache,
		locks:         locks,
		audit:         audit,
		logger:        logger,
		cfg:           cfg,
	}
}

// GetEntitlements returns the resolved entitlement for a tenant, serving from
// cache when possible. Concurrent resolutions for the same tenant collapse
// into one computation; a computation exceeding the lock timeout fails closed.
func (s *EntitlementService) GetEntitlements(ctx context.Context, tenantID uuid.UUID) (*models.ResolvedEntitlement, error) {
	key := tenantID.String()

	if cached, ok := s.cache.Get(ctx, key); ok {
		metrics.EntitlementCacheHits.Inc()
		return cached, nil
	}
	metrics.EntitlementCacheMisses.Inc()

	timeout := time.Duration(s.cfg.LockTimeoutSeconds) * time.Second
	resCh := s.group.DoChan(key, func() (interface{}, error) {
		// Re-check after winning the flight: a concurrent resolver may have
		// filled the cache while we queued.
		if cached, ok := s.cache.Get(ctx, key); ok {
			return cached, nil
		}

		// The single flight only collapses callers in this process. The tenant
		// lock backstops it across replicas: a loser waits briefly for the
		// holder's cache write before resolving anyway.
		if s.locks != nil {
			acquired, err := s.locks.AcquireTenantLock(ctx, key, resolveLockPurpose, timeout)
			if err != nil {
				s.logger.WithField("tenant_id", key).WithError(err).Warn("Tenant resolve lock unavailable")
			} else if acquired {
				defer func() {
					if err := s.locks.ReleaseTenantLock(ctx, key, resolveLockPurpose); err != nil {
						s.logger.WithField("tenant_id", key).WithError(err).Warn("Tenant resolve lock release failed")
					}
				}()
			} else {
				if cached, ok := s.awaitPeerResolution(ctx, key); ok {
					return cached, nil
				}
			}
		}

		resolved, err := s.resolve(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, key, resolved); err != nil {
			s.logger.WithField("tenant_id", key).WithError(err).Warn("Entitlement cache write failed")
		}
		return resolved, nil
	})

	select {
	case res := <-resCh:
		if res.Err != nil {
			metrics.EntitlementEvalFailures.Inc()
			s.logger.WithField("tenant_id", key).WithError(res.Err).Error("Entitlement resolution failed")
			return nil, NewEvalFailed(res.Err)
		}
		return res.Val.(*models.ResolvedEntitlement), nil
	case <-time.After(timeout):
		metrics.EntitlementEvalFailures.Inc()
		return nil, NewEvalFailed(fmt.Errorf("resolution exceeded %s lock timeout", timeout))
	case <-ctx.Done():
		metrics.EntitlementEvalFailures.Inc()
		return nil, NewEvalFailed(ctx.Err())
	}
}

// awaitPeerResolution polls the cache while another replica holds the resolve
// lock. Gives up quickly; the caller then resolves itself.
func (s *EntitlementService) awaitPeerResolution(ctx context.Context, key string) (*models.ResolvedEntitlement, bool) {
	for i := 0; i < 5; i++ {
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(50 * time.Millisecond):
		}
		if cached, ok := s.cache.Get(ctx, key); ok {
			return cached, true
		}
	}
	return nil, false
}

// CheckFeature returns the grant for one feature key. Unknown features resolve
// to a deny grant rather than an error.
func (s *EntitlementService) CheckFeature(ctx context.Context, tenantID uuid.UUID, featureKey string) (models.FeatureGrant, error) {
	resolved, err := s.GetEntitlements(ctx, tenantID)
	if err != nil {
		return models.FeatureGrant{Granted: false, Source: models.GrantSourceDeny}, err
	}
	return resolved.Feature(featureKey), nil
}

// Invalidate purges the cached entitlement for a tenant synchronously. Billing
// transitions and override writes call this before returning.
func (s *EntitlementService) Invalidate(ctx context.Context, tenantID uuid.UUID) error {
	if err := s.cache.Invalidate(ctx, tenantID.String()); err != nil {
		return WrapAppError(CodeCacheUnavailable, "entitlement cache invalidation failed", err)
	}
	return nil
}

// resolve computes the entitlement from scratch. Callers hold the
// single-flight slot.
func (s *EntitlementService) resolve(ctx context.Context, tenantID uuid.UUID) (*models.ResolvedEntitlement, error) {
	now := time.Now().UTC()

	plan, billingState, err := s.pickWinner(ctx, tenantID, now)
	if err != nil {
		return nil, err
	}

	features, err := plan.DecodeFeatures()
	if err != nil {
		return nil, fmt.Errorf("failed to decode plan features: %w", err)
	}
	limits, err := plan.DecodeLimits()
	if err != nil {
		return nil, fmt.Errorf("failed to decode plan limits: %w", err)
	}

	activeOverrides, err := s.overrides.ListActive(ctx, tenantID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load overrides: %w", err)
	}

	grants := make(map[string]models.FeatureGrant, len(features)+len(activeOverrides))
	for key, feature := range features {
		grants[key] = models.FeatureGrant{Granted: feature.Enabled, Source: models.GrantSourcePlan}
	}
	for _, override := range activeOverrides {
		grants[override.FeatureKey] = models.FeatureGrant{
			Granted: override.Enabled,
			Source:  models.GrantSourceOverride,
		}
	}

	resolved := &models.ResolvedEntitlement{
		PlanID:       plan.ID.String(),
		PlanName:     plan.Name,
		TierRank:     plan.TierRank,
		BillingState: billingState,
		AccessLevel:  AccessLevelFor(billingState),
		Features:     grants,
		Limits:       limits,
		Warnings:     warningsFor(billingState),
		ResolvedAt:   now,
	}
	return resolved, nil
}

// pickWinner selects the winning subscription's plan and derives the billing
// state. With no subscription at all the tenant falls back to the free plan.
func (s *EntitlementService) pickWinner(ctx context.Context, tenantID uuid.UUID, now time.Time) (*models.Plan, models.BillingState, error) {
	candidates, err := s.subscriptions.ListCandidates(ctx, tenantID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list subscriptions: %w", err)
	}

	if len(candidates) == 0 {
		plan, err := s.freePlan(ctx)
		if err != nil {
			return nil, "", err
		}
		return plan, models.BillingStateActive, nil
	}

	winner := candidates[0]
	state := DeriveBillingState(winner.Status, winner.GracePeriodEndsOn, winner.CurrentPeriodEnd, now)

	plan := winner.Plan
	if plan == nil {
		plan, err = s.plans.GetByID(ctx, winner.PlanID)
		if err != nil {
			if err == repository.ErrNotFound {
				plan, err = s.freePlan(ctx)
				if err != nil {
					return nil, "", err
				}
				return plan, state, nil
			}
			return nil, "", fmt.Errorf("failed to load plan: %w", err)
		}
	}

	// Deep-copy so cached grants never alias the loaded row.
	planCopy := *plan
	return &planCopy, state, nil
}

func (s *EntitlementService) freePlan(ctx context.Context) (*models.Plan, error) {
	plan, err := s.plans.GetByName(ctx, s.cfg.FreePlanName)
	if err != nil {
		return nil, fmt.Errorf("free plan %q unavailable: %w", s.cfg.FreePlanName, err)
	}
	planCopy := *plan
	return &planCopy, nil
}

// DeriveBillingState maps subscription status and period dates onto the
// derived billing state. It is a pure function of its inputs.
func DeriveBillingState(status models.SubscriptionStatus, graceEndsOn, currentPeriodEnd *time.Time, now time.Time) models.BillingState {
	switch status {
	case models.SubscriptionActive:
		return models.BillingStateActive
	case models.SubscriptionTrialing:
		return models.BillingStateTrialing
	case models.SubscriptionFrozen:
		if graceEndsOn != nil {
			if graceEndsOn.After(now) {
				return models.BillingStateGracePeriod
			}
			return models.BillingStatePastDue
		}
		return models.BillingStateFrozen
	case models.SubscriptionCanceled:
		if currentPeriodEnd != nil && currentPeriodEnd.After(now) {
			return models.BillingStateCanceled
		}
		return models.BillingStateExpired
	case models.SubscriptionExpired:
		return models.BillingStateExpired
	case models.SubscriptionPending:
		return models.BillingStatePending
	default:
		return models.BillingStateNone
	}
}

// AccessLevelFor maps a billing state onto the coarse access level
func AccessLevelFor(state models.BillingState) models.AccessLevel {
	switch state {
	case models.BillingStateActive, models.BillingStateTrialing, models.BillingStateGracePeriod:
		return models.AccessFull
	case models.BillingStateCanceled:
		return models.AccessFullUntilPeriodEnd
	case models.BillingStatePastDue:
		return models.AccessReadOnly
	case models.BillingStateFrozen:
		return models.AccessLimited
	case models.BillingStateExpired:
		return models.AccessReadOnlyAnalytics
	default:
		return models.AccessNone
	}
}

func warningsFor(state models.BillingState) []string {
	switch state {
	case models.BillingStateGracePeriod:
		return []string{"payment issue detected; full access ends when the grace period expires"}
	case models.BillingStatePastDue:
		return []string{"subscription past due; access is read-only until payment is resolved"}
	case models.BillingStateCanceled:
		return []string{"subscription canceled; access continues until the end of the paid period"}
	default:
		return nil
	}
}

// CreateOverride creates or updates a time-bounded feature override. The
// expiry must be in the future at write time; the entitlement cache is
// invalidated before return.
func (s *EntitlementService) CreateOverride(ctx context.Context, override *models.TenantEntitlementOverride, actor string) error {
	now := time.Now().UTC()
	if !override.ExpiresAt.After(now) {
		return NewAppError(CodeInvalidInput, "override expiry must be in the future").
			WithContext("expires_at", override.ExpiresAt)
	}

	existing, err := s.overrides.Get(ctx, override.TenantID, override.FeatureKey)
	isUpdate := err == nil && existing != nil

	override.CreatedBy = actor
	if err := s.overrides.Upsert(ctx, override); err != nil {
		return WrapAppError(CodeInvalidInput, "failed to write override", err)
	}

	if err := s.Invalidate(ctx, override.TenantID); err != nil {
		s.logger.WithField("tenant_id", override.TenantID).WithError(err).Warn("Cache invalidation after override write failed")
	}

	action := models.ActionOverrideCreated
	if isUpdate {
		action = models.ActionOverrideUpdated
	}
	s.audit.Record(ctx, AuditEntry{
		TenantID:     override.TenantID,
		Action:       action,
		ResourceType: "entitlement_override",
		ResourceID:   override.FeatureKey,
		Metadata: map[string]interface{}{
			"feature_key": override.FeatureKey,
			"enabled":     override.Enabled,
			"expires_at":  override.ExpiresAt,
			"reason":      override.Reason,
			"created_by":  actor,
		},
		Source:  models.AuditSourceAPI,
		Outcome: models.OutcomeSuccess,
	})
	return nil
}

// DeleteOverride removes an override and invalidates the cache. Deleting a
// missing override is a no-op.
func (s *EntitlementService) DeleteOverride(ctx context.Context, tenantID uuid.UUID, featureKey, actor string) error {
	deleted, err := s.overrides.Delete(ctx, tenantID, featureKey)
	if err != nil {
		return WrapAppError(CodeInvalidInput, "failed to delete override", err)
	}
	if !deleted {
		return nil
	}

	if err := s.Invalidate(ctx, tenantID); err != nil {
		s.logger.WithField("tenant_id", tenantID).WithError(err).Warn("Cache invalidation after override delete failed")
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		Action:       models.ActionOverrideDeleted,
		ResourceType: "entitlement_override",
		ResourceID:   featureKey,
		Metadata: map[string]interface{}{
			"feature_key": featureKey,
			"deleted_by":  actor,
		},
		Source:  models.AuditSourceAPI,
		Outcome: models.OutcomeSuccess,
	})
	return nil
}

// CleanupExpired deletes lapsed overrides and invalidates the affected
// tenants. The scheduler runs it periodically.
func (s *EntitlementService) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	expired, err := s.overrides.ListExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired overrides: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, 0, len(expired))
	tenants := make(map[uuid.UUID]bool)
	for _, o := range expired {
		ids = append(ids, o.ID)
		tenants[o.TenantID] = true
	}
	if err := s.overrides.DeleteByIDs(ctx, ids); err != nil {
		return 0, fmt.Errorf("failed to delete expired overrides: %w", err)
	}

	for tenantID := range tenants {
		if err := s.Invalidate(ctx, tenantID); err != nil {
			s.logger.WithField("tenant_id", tenantID).WithError(err).Warn("Cache invalidation after override expiry failed")
		}
	}
	for _, o := range expired {
		s.audit.Record(ctx, AuditEntry{
			TenantID:     o.TenantID,
			Action:       models.ActionOverrideExpired,
			ResourceType: "entitlement_override",
			ResourceID:   o.FeatureKey,
			Metadata: map[string]interface{}{
				"feature_key": o.FeatureKey,
				"expired_at":  o.ExpiresAt,
			},
			Source:  models.AuditSourceWorker,
			Outcome: models.OutcomeSuccess,
		})
	}

	s.logger.WithField("count", len(expired)).Info("Expired entitlement overrides cleaned up")
	return len(expired), nil
}
