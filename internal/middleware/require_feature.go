package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// RequireFeature gates a route group on an entitlement feature key. An
// entitlement resolution failure renders as a retryable server-side denial,
// never as an allow.
func RequireFeature(entitlements *services.EntitlementService, featureKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := CurrentTenant(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error_code": services.CodeTenantRequired,
				"message":    "an active tenant must be selected",
			})
			return
		}

		grant, err := entitlements.CheckFeature(c.Request.Context(), tenant.ID, featureKey)
		if err != nil {
			if services.IsCode(err, services.CodeEntitlementEvalFailed) {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error_code": services.CodeEntitlementEvalFailed,
					"message":    "entitlements are temporarily unavailable; retry shortly",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error_code": services.CodeEntitlementDenied,
				"message":    "feature access could not be verified",
				"context":    gin.H{"feature": featureKey},
			})
			return
		}
		if !grant.Granted {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error_code": services.CodeEntitlementDenied,
				"message":    "this feature is not included in your plan",
				"context": gin.H{
					"feature": featureKey,
					"source":  grant.Source,
				},
			})
			return
		}
		c.Next()
	}
}
