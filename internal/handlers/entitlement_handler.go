package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/middleware"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// EntitlementHandler exposes entitlement resolution and override management
type EntitlementHandler struct {
	entitlements *services.EntitlementService
	auditRepo    repository.AuditRepository
	logger       *logrus.Logger
}

// NewEntitlementHandler creates a new entitlement handler
func NewEntitlementHandler(entitlements *services.EntitlementService, auditRepo repository.AuditRepository, logger *logrus.Logger) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements, auditRepo: auditRepo, logger: logger}
}

// Get returns the resolved entitlement snapshot for the current tenant
func (h *EntitlementHandler) Get(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	resolved, err := h.entitlements.GetEntitlements(c.Request.Context(), tenant.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolved)
}

type createOverrideRequest struct {
	FeatureKey string    `json:"feature_key" binding:"required"`
	Enabled    bool      `json:"enabled"`
	ExpiresAt  time.Time `json:"expires_at" binding:"required"`
	Reason     string    `json:"reason" binding:"required"`
}

// CreateOverride grants or denies a single feature for the current tenant
// until the override expires.
func (h *EntitlementHandler) CreateOverride(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	user, _ := middleware.CurrentUser(c)

	var req createOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid request body"})
		return
	}

	override := &models.TenantEntitlementOverride{
		TenantID:   tenant.ID,
		FeatureKey: req.FeatureKey,
		Enabled:    req.Enabled,
		ExpiresAt:  req.ExpiresAt,
		Reason:     req.Reason,
		CreatedBy:  user.ExternalUserID,
	}
	if err := h.entitlements.CreateOverride(c.Request.Context(), override, user.ExternalUserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, override)
}

// DeleteOverride removes an override; deleting a missing one is a no-op
func (h *EntitlementHandler) DeleteOverride(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	user, _ := middleware.CurrentUser(c)
	featureKey := c.Param("feature")
	if err := h.entitlements.DeleteOverride(c.Request.Context(), tenant.ID, featureKey, user.ExternalUserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ListAuditRecords returns the tenant's recent audit trail
func (h *EntitlementHandler) ListAuditRecords(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := h.auditRepo.ListByTenant(c.Request.Context(), tenant.ID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}
