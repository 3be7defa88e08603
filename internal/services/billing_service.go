package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/metrics"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
)

// BillingWebhookEvent is the decoded platform subscription event
type BillingWebhookEvent struct {
	EventID                string                    `json:"event_id"`
	EventType              string                    `json:"event_type"`
	ExternalSubscriptionID string                    `json:"external_subscription_id"`
	Status                 models.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd       *time.Time                `json:"current_period_end,omitempty"`
	RawBody                []byte                    `json:"-"`
}

// ProviderClient fetches authoritative subscription state from the billing
// platform. Reconciliation uses it to correct drift.
type ProviderClient interface {
	GetSubscription(ctx context.Context, externalSubscriptionID string) (*ProviderSubscription, error)
}

// ProviderSubscription is the provider-side view of one subscription
type ProviderSubscription struct {
	ExternalSubscriptionID string
	Status                 models.SubscriptionStatus
	CurrentPeriodEnd       *time.Time
}

// BillingService applies subscription state transitions from webhooks and
// reconciliation. Every transition writes a billing event and invalidates the
// tenant's entitlement cache.
type BillingService struct {
	subscriptions repository.SubscriptionRepository
	events        repository.BillingEventRepository
	tenants       repository.TenantRepository
	entitlements  *EntitlementService
	provider      ProviderClient
	audit         *AuditService
	logger        *logrus.Logger
	cfg           config.BillingConfig
}

// NewBillingService creates a new billing service
func NewBillingService(
	subscriptions repository.SubscriptionRepository,
	events repository.BillingEventRepository,
	tenants repository.TenantRepository,
	entitlements *EntitlementService,
	provider ProviderClient,
	audit *AuditService,
	logger *logrus.Logger,
	cfg config.BillingConfig,
) *BillingService {
	return &BillingService{
		subscriptions: subscriptions,
		events:        events,
		tenants:       tenants,
		entitlements:  entitlements,
		provider:      provider,
		audit:         audit,
		logger:        logger,
		cfg:           cfg,
	}
}

// VerifyWebhookSignature checks the platform HMAC-SHA256 signature over the
// raw body. The comparison is constant-time.
func (s *BillingService) VerifyWebhookSignature(body []byte, signature string) bool {
	if s.cfg.WebhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ProcessWebhook applies one verified webhook event. Replays with the same
// external event id are no-ops on state.
func (s *BillingService) ProcessWebhook(ctx context.Context, event BillingWebhookEvent) error {
	if event.EventID == "" || event.ExternalSubscriptionID == "" {
		metrics.WebhooksProcessed.WithLabelValues("invalid").Inc()
		return NewAppError(CodeInvalidInput, "event_id and external_subscription_id are required")
	}

	seen, err := s.events.ExistsByExternalEventID(ctx, event.EventID)
	if err != nil {
		metrics.WebhooksProcessed.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to check event idempotency: %w", err)
	}
	if seen {
		metrics.WebhooksProcessed.WithLabelValues("duplicate").Inc()
		s.logger.WithField("event_id", event.EventID).Debug("Duplicate billing webhook ignored")
		return nil
	}

	sub, err := s.subscriptions.GetByExternalID(ctx, event.ExternalSubscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.WebhooksProcessed.WithLabelValues("unknown_subscription").Inc()
			return NewAppError(CodeAccountNotFound, "subscription not found").
				WithContext("external_subscription_id", event.ExternalSubscriptionID)
		}
		metrics.WebhooksProcessed.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	if err := s.applyTransition(ctx, sub.ID, sub.TenantID, event.EventID, event.EventType, event.Status, event.CurrentPeriodEnd, models.BillingEventSourceWebhook, event.RawBody); err != nil {
		metrics.WebhooksProcessed.WithLabelValues("error").Inc()
		return err
	}
	metrics.WebhooksProcessed.WithLabelValues("applied").Inc()
	return nil
}

// applyTransition mutates the subscription under a row lock, records the
// billing event and invalidates the entitlement cache.
func (s *BillingService) applyTransition(ctx context.Context, subID, tenantID uuid.UUID, eventID, eventType string, toStatus models.SubscriptionStatus, periodEnd *time.Time, source models.BillingEventSource, rawPayload []byte) error {
	var fromStatus models.SubscriptionStatus

	err := s.subscriptions.UpdateWithLock(ctx, subID, func(sub *models.Subscription) error {
		fromStatus = sub.Status
		if fromStatus == toStatus {
			return nil
		}
		if fromStatus.IsTerminal() {
			return NewAppError(CodeInvalidInput, "subscription is in a terminal state").
				WithContext("status", fromStatus)
		}

		now := time.Now().UTC()
		switch {
		case toStatus == models.SubscriptionFrozen:
			grace := now.Add(time.Duration(s.cfg.GracePeriodDays) * 24 * time.Hour)
			sub.GracePeriodEndsOn = &grace
		case fromStatus == models.SubscriptionFrozen && toStatus == models.SubscriptionActive:
			sub.GracePeriodEndsOn = nil
		}
		if periodEnd != nil {
			sub.CurrentPeriodEnd = periodEnd
		}
		sub.Status = toStatus
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply transition: %w", err)
	}

	if fromStatus == toStatus {
		// State unchanged; still record the event so replays stay idempotent.
		s.logger.WithFields(logrus.Fields{
			"event_id": eventID,
			"status":   toStatus,
		}).Debug("Billing event carried no state change")
	}

	var payload datatypes.JSON
	if len(rawPayload) > 0 && json.Valid(rawPayload) {
		payload = datatypes.JSON(rawPayload)
	}
	record := &models.BillingEvent{
		TenantID:        tenantID,
		SubscriptionID:  subID,
		ExternalEventID: eventID,
		EventType:       eventType,
		FromStatus:      fromStatus,
		ToStatus:        toStatus,
		Payload:         payload,
		Source:          source,
	}
	if err := s.events.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to record billing event: %w", err)
	}

	if err := s.entitlements.Invalidate(ctx, tenantID); err != nil {
		s.logger.WithField("tenant_id", tenantID).WithError(err).Warn("Entitlement invalidation after billing transition failed")
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		Action:       models.ActionSubscriptionUpdated,
		ResourceType: "subscription",
		ResourceID:   subID.String(),
		Metadata: map[string]interface{}{
			"event_id":    eventID,
			"event_type":  eventType,
			"from_status": fromStatus,
			"to_status":   toStatus,
			"source":      source,
		},
		Source:  models.AuditSourceWebhook,
		Outcome: models.OutcomeSuccess,
	})
	return nil
}

// Reconcile compares local non-terminal subscriptions against the provider
// and applies corrections. Corrections are recorded as reconciliation-sourced
// billing events and audited separately.
func (s *BillingService) Reconcile(ctx context.Context) (int, error) {
	if s.provider == nil {
		return 0, nil
	}

	locals, err := s.subscriptions.ListByStatuses(ctx, []models.SubscriptionStatus{
		models.SubscriptionPending,
		models.SubscriptionActive,
		models.SubscriptionTrialing,
		models.SubscriptionFrozen,
		models.SubscriptionCanceled,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	corrected := 0
	for _, local := range locals {
		remote, err := s.provider.GetSubscription(ctx, local.ExternalSubscriptionID)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"subscription_id":          local.ID,
				"external_subscription_id": local.ExternalSubscriptionID,
			}).WithError(err).Warn("Reconciliation lookup failed")
			continue
		}
		if remote.Status == local.Status {
			continue
		}

		eventID := fmt.Sprintf("reconcile:%s:%s:%d", local.ExternalSubscriptionID, remote.Status, time.Now().UTC().Unix())
		if err := s.applyTransition(ctx, local.ID, local.TenantID, eventID, "reconciliation.correction", remote.Status, remote.CurrentPeriodEnd, models.BillingEventSourceReconciliation, nil); err != nil {
			s.logger.WithField("subscription_id", local.ID).WithError(err).Error("Reconciliation correction failed")
			continue
		}

		s.audit.Record(ctx, AuditEntry{
			TenantID:     local.TenantID,
			Action:       models.ActionReconciliationCorrection,
			ResourceType: "subscription",
			ResourceID:   local.ID.String(),
			Metadata: map[string]interface{}{
				"source":      "reconciliation",
				"from_status": local.Status,
				"to_status":   remote.Status,
			},
			Source:  models.AuditSourceWorker,
			Outcome: models.OutcomeSuccess,
		})
		corrected++
	}

	s.logger.WithFields(logrus.Fields{
		"checked":   len(locals),
		"corrected": corrected,
	}).Info("Billing reconciliation completed")
	return corrected, nil
}
