package middleware

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/metrics"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// Claims is the verified bearer-token payload the authentication layer puts
// on the request. Token claims are treated as hints only; the guard
// re-validates everything against the database.
type Claims struct {
	ExternalUserID string   `json:"external_user_id"`
	TenantIDs      []string `json:"tenant_ids"`
	Roles          []string `json:"roles"`
}

// tierRoleAllowlist names the roles permitted at each billing tier. A role
// missing from the tenant's tier is filtered out even if the grant row is
// active.
var tierRoleAllowlist = map[models.BillingTier]map[models.Role]bool{
	models.TierFree: {
		models.RoleMerchantAdmin:  true,
		models.RoleMerchantViewer: true,
	},
	models.TierGrowth: {
		models.RoleMerchantAdmin:  true,
		models.RoleMerchantViewer: true,
		models.RoleAgencyAnalyst:  true,
	},
	models.TierPro: {
		models.RoleMerchantAdmin:  true,
		models.RoleMerchantViewer: true,
		models.RoleAgencyAdmin:    true,
		models.RoleAgencyAnalyst:  true,
	},
	models.TierEnterprise: {
		models.RoleMerchantAdmin:  true,
		models.RoleMerchantViewer: true,
		models.RoleAgencyAdmin:    true,
		models.RoleAgencyAnalyst:  true,
	},
}

// TenantGuard binds every request to exactly one active tenant, enforcing
// DB-as-truth authorization. Unknown internal errors deny (fail-closed).
type TenantGuard struct {
	tenants  repository.TenantRepository
	users    repository.UserRepository
	roles    repository.RoleRepository
	identity *services.IdentityService
	audit    *services.AuditService
	logger   *logrus.Logger
}

// NewTenantGuard creates a new tenant guard
func NewTenantGuard(
	tenants repository.TenantRepository,
	users repository.UserRepository,
	roles repository.RoleRepository,
	identity *services.IdentityService,
	audit *services.AuditService,
	logger *logrus.Logger,
) *TenantGuard {
	return &TenantGuard{
		tenants:  tenants,
		users:    users,
		roles:    roles,
		identity: identity,
		audit:    audit,
		logger:   logger,
	}
}

// Handler returns the gin middleware enforcing the guard
func (g *TenantGuard) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if claims == nil || claims.ExternalUserID == "" {
			g.deny(c, http.StatusUnauthorized, services.CodeAuthRequired, "authentication required", nil, uuid.Nil)
			return
		}

		tenantIDStr := c.GetHeader("X-Tenant-ID")
		if tenantIDStr == "" {
			tenantIDStr = c.Query("tenant_id")
		}
		if tenantIDStr == "" {
			g.deny(c, http.StatusForbidden, services.CodeTenantRequired, "an active tenant must be selected", claims, uuid.Nil)
			return
		}
		tenantID, err := uuid.Parse(tenantIDStr)
		if err != nil {
			g.deny(c, http.StatusForbidden, services.CodeTenantRequired, "invalid tenant id", claims, uuid.Nil)
			return
		}

		ctx := c.Request.Context()

		tenant, err := g.tenants.GetByID(ctx, tenantID)
		if errors.Is(err, repository.ErrNotFound) {
			g.deny(c, http.StatusForbidden, services.CodeTenantNotFound, "tenant not found", claims, tenantID)
			return
		}
		if err != nil {
			g.deny(c, http.StatusForbidden, services.CodeCrossTenantDenied, "authorization could not be verified", claims, tenantID)
			return
		}
		if !tenant.IsActive() {
			g.deny(c, http.StatusForbidden, services.CodeTenantSuspended, "tenant is not active", claims, tenantID)
			return
		}

		// Resolve the local user; bootstrap a viewer if the identity webhook
		// has not caught up yet.
		user, err := g.users.GetByExternalUserID(ctx, claims.ExternalUserID)
		if errors.Is(err, repository.ErrNotFound) {
			user, err = g.identity.Bootstrap(ctx, claims.ExternalUserID, tenantID)
		}
		if err != nil {
			g.deny(c, http.StatusForbidden, services.CodeCrossTenantDenied, "authorization could not be verified", claims, tenantID)
			return
		}
		if !user.IsActive {
			g.deny(c, http.StatusForbidden, services.CodeUserInactive, "user account is deactivated", claims, tenantID)
			return
		}

		liveRoles, err := g.roles.ListActive(ctx, user.ID, tenantID)
		if err != nil {
			g.deny(c, http.StatusForbidden, services.CodeCrossTenantDenied, "authorization could not be verified", claims, tenantID)
			return
		}
		if len(liveRoles) == 0 {
			g.audit.RecordDenial(ctx, services.AuditEntry{
				TenantID:      tenantID,
				UserID:        &user.ID,
				Action:        models.ActionAccessRevokedEnforced,
				ResourceType:  "request",
				ResourceID:    c.Request.URL.Path,
				CorrelationID: c.GetString(ContextKeyRequestID),
				Source:        models.AuditSourceAPI,
				ErrorCode:     services.CodeAccessRevoked,
			})
			g.deny(c, http.StatusForbidden, services.CodeAccessRevoked, "your access to this tenant has been revoked", claims, tenantID)
			return
		}

		allowed := tierRoleAllowlist[tenant.BillingTier]
		surviving := make([]models.Role, 0, len(liveRoles))
		for _, r := range liveRoles {
			if allowed[r.Role] {
				surviving = append(surviving, r.Role)
			}
		}
		if len(surviving) == 0 {
			g.audit.RecordDenial(ctx, services.AuditEntry{
				TenantID:      tenantID,
				UserID:        &user.ID,
				Action:        models.ActionRoleRevokedDueToDowngrade,
				ResourceType:  "request",
				ResourceID:    c.Request.URL.Path,
				CorrelationID: c.GetString(ContextKeyRequestID),
				Metadata: map[string]interface{}{
					"billing_tier": tenant.BillingTier,
					"held_roles":   roleStrings(liveRoles),
				},
				Source:    models.AuditSourceAPI,
				ErrorCode: services.CodeBillingRoleNotAllowed,
			})
			g.deny(c, http.StatusForbidden, services.CodeBillingRoleNotAllowed, "your role is not available on the current plan", claims, tenantID)
			return
		}

		if drifted(surviving, claims.Roles) {
			g.audit.Record(ctx, services.AuditEntry{
				TenantID:      tenantID,
				UserID:        &user.ID,
				Action:        models.ActionRoleChangeEnforced,
				ResourceType:  "request",
				ResourceID:    c.Request.URL.Path,
				CorrelationID: c.GetString(ContextKeyRequestID),
				Metadata: map[string]interface{}{
					"token_roles": claims.Roles,
					"live_roles":  rolesToStrings(surviving),
				},
				Source:  models.AuditSourceAPI,
				Outcome: models.OutcomeSuccess,
			})
		}

		c.Set(ContextKeyUser, user)
		c.Set(ContextKeyTenant, tenant)
		c.Set(ContextKeyRoles, surviving)
		c.Next()
	}
}

// deny aborts the request and writes a cross-tenant-denied-class audit event
// carrying the full request context.
func (g *TenantGuard) deny(c *gin.Context, status int, code, message string, claims *Claims, tenantID uuid.UUID) {
	metrics.GuardDenials.WithLabelValues(code).Inc()

	allowedTenants := []string{}
	if claims != nil {
		allowedTenants = claims.TenantIDs
	}
	g.audit.RecordDenial(c.Request.Context(), services.AuditEntry{
		TenantID:      tenantID,
		Action:        models.ActionCrossTenantDenied,
		ResourceType:  "request",
		ResourceID:    c.Request.URL.Path,
		CorrelationID: c.GetString(ContextKeyRequestID),
		Metadata: map[string]interface{}{
			"violation":        code,
			"requested_tenant": tenantID.String(),
			"allowed_tenants":  allowedTenants,
			"path":             c.Request.URL.Path,
			"method":           c.Request.Method,
		},
		Source:    models.AuditSourceAPI,
		ErrorCode: code,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	c.AbortWithStatusJSON(status, gin.H{
		"error_code": code,
		"message":    message,
		"context": gin.H{
			"tenant_id": tenantID.String(),
		},
	})
}

// CurrentTenant returns the tenant the guard bound to the request
func CurrentTenant(c *gin.Context) (*models.Tenant, bool) {
	value, ok := c.Get(ContextKeyTenant)
	if !ok {
		return nil, false
	}
	tenant, ok := value.(*models.Tenant)
	return tenant, ok
}

// CurrentUser returns the user the guard bound to the request
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get(ContextKeyUser)
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}

func claimsFrom(c *gin.Context) *Claims {
	value, ok := c.Get(ContextKeyClaims)
	if !ok {
		return nil
	}
	claims, ok := value.(*Claims)
	if !ok {
		return nil
	}
	return claims
}

func roleStrings(roles []models.UserTenantRole) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r.Role))
	}
	return out
}

func rolesToStrings(roles []models.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

// drifted checks whether the live role set differs from the token's claim
func drifted(live []models.Role, token []string) bool {
	a := rolesToStrings(live)
	b := append([]string(nil), token...)
	sort.Strings(a)
	sort.Strings(b)
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}
