package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/middleware"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// WebhookDeduper short-circuits replayed deliveries before they reach the
// database idempotency check. The redis client is the production
// implementation.
type WebhookDeduper interface {
	MarkWebhookSeen(ctx context.Context, webhookID string, ttl time.Duration) (bool, error)
	ClearWebhookSeen(ctx context.Context, webhookID string) error
}

// webhookSeenTTL bounds the replay window the fast path remembers. The
// billing event table remains the durable idempotency record.
const webhookSeenTTL = 24 * time.Hour

// WebhookHandler terminates inbound provider webhooks. Signatures are
// verified against the raw body before any parsing; an unverified request
// produces no side effects of any kind.
type WebhookHandler struct {
	billing        *services.BillingService
	identity       *services.IdentityService
	identitySecret []byte
	dedup          WebhookDeduper
	logger         *logrus.Logger
}

// NewWebhookHandler creates a new webhook handler. dedup may be nil; the
// database idempotency check then stands alone.
func NewWebhookHandler(billing *services.BillingService, identity *services.IdentityService, identitySecret string, dedup WebhookDeduper, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:        billing,
		identity:       identity,
		identitySecret: []byte(identitySecret),
		dedup:          dedup,
		logger:         logger,
	}
}

// BillingWebhook handles subscription lifecycle events from the billing
// provider. Events referencing stores we don't know are acknowledged so the
// provider stops retrying.
func (h *WebhookHandler) BillingWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "unreadable body"})
		return
	}

	signature := c.GetHeader("X-Webhook-Signature")
	if signature == "" || !h.billing.VerifyWebhookSignature(body, signature) {
		h.logger.WithFields(logrus.Fields{
			"request_id": c.GetString(middleware.ContextKeyRequestID),
			"client_ip":  c.ClientIP(),
		}).Warn("Billing webhook signature rejected")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error_code": services.CodeAuthRequired,
			"message":    "webhook signature verification failed",
		})
		return
	}

	var event services.BillingWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "malformed event payload"})
		return
	}
	event.RawBody = body

	marked := false
	if h.dedup != nil && event.EventID != "" {
		fresh, err := h.dedup.MarkWebhookSeen(c.Request.Context(), event.EventID, webhookSeenTTL)
		if err != nil {
			// Fall through; the billing event table still catches replays.
			h.logger.WithError(err).WithField("event_id", event.EventID).Warn("Webhook dedup check unavailable")
		} else if !fresh {
			c.JSON(http.StatusOK, gin.H{"received": true, "note": "duplicate delivery"})
			return
		} else {
			marked = true
		}
	}

	if err := h.billing.ProcessWebhook(c.Request.Context(), event); err != nil {
		if services.IsCode(err, services.CodeAccountNotFound) {
			c.JSON(http.StatusOK, gin.H{"received": true, "note": "unknown store"})
			return
		}
		// Release the dedup key so the provider's retry is processed rather
		// than short-circuited as a duplicate.
		if marked {
			if clearErr := h.dedup.ClearWebhookSeen(c.Request.Context(), event.EventID); clearErr != nil {
				h.logger.WithError(clearErr).WithField("event_id", event.EventID).Warn("Webhook dedup key release failed")
			}
		}
		h.logger.WithError(err).WithField("event_id", event.EventID).Error("Billing webhook processing failed")
		// 5xx so the provider retries transient failures
		c.JSON(http.StatusInternalServerError, gin.H{
			"error_code": "internal_error",
			"message":    "event could not be processed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// IdentityWebhook handles user, organization and membership events from the
// identity provider.
func (h *WebhookHandler) IdentityWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "unreadable body"})
		return
	}

	signature := c.GetHeader("X-Webhook-Signature")
	if signature == "" || !h.verifyIdentitySignature(body, signature) {
		h.logger.WithFields(logrus.Fields{
			"request_id": c.GetString(middleware.ContextKeyRequestID),
			"client_ip":  c.ClientIP(),
		}).Warn("Identity webhook signature rejected")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error_code": services.CodeAuthRequired,
			"message":    "webhook signature verification failed",
		})
		return
	}

	var payload struct {
		EventType string `json:"event_type"`
		Data      struct {
			ExternalUserID string `json:"external_user_id"`
			Email          string `json:"email"`
			ExternalOrgID  string `json:"external_org_id"`
			OrgName        string `json:"org_name"`
			Role           string `json:"role"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "malformed event payload"})
		return
	}

	event := services.IdentityEvent{
		EventType:      payload.EventType,
		ExternalUserID: payload.Data.ExternalUserID,
		Email:          payload.Data.Email,
		ExternalOrgID:  payload.Data.ExternalOrgID,
		OrgName:        payload.Data.OrgName,
		ProviderRole:   payload.Data.Role,
		CorrelationID:  c.GetString(middleware.ContextKeyRequestID),
	}
	if err := h.identity.ProcessEvent(c.Request.Context(), event); err != nil {
		h.logger.WithError(err).WithField("event_type", payload.EventType).Error("Identity webhook processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error_code": "internal_error",
			"message":    "event could not be processed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *WebhookHandler) verifyIdentitySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, h.identitySecret)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
