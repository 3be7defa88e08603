package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// statusFor maps application error codes onto HTTP statuses. Unknown codes
// render as internal errors.
func statusFor(code string) int {
	switch code {
	case services.CodeAuthRequired:
		return http.StatusUnauthorized
	case services.CodeTenantRequired, services.CodeTenantNotFound, services.CodeTenantSuspended,
		services.CodeCrossTenantDenied, services.CodeAccessRevoked, services.CodeUserInactive,
		services.CodeBillingRoleNotAllowed, services.CodeEntitlementDenied:
		return http.StatusForbidden
	case services.CodePaymentRequired:
		return http.StatusPaymentRequired
	case services.CodeDuplicateConnection, services.CodeDuplicateShopDomain,
		services.CodeDashboardNameConflict, services.CodeOptimisticLockConflict,
		services.CodeSchemaIncompatible:
		return http.StatusConflict
	case services.CodeDashboardLimitExceeded:
		return http.StatusUnprocessableEntity
	case services.CodeNotFound, services.CodeAccountNotFound:
		return http.StatusNotFound
	case services.CodeInvalidInput:
		return http.StatusBadRequest
	case services.CodeGuardrailViolation, services.CodeMetricSunset:
		return http.StatusForbidden
	case services.CodeCredentialRevoked, services.CodeRefreshExhausted:
		return http.StatusConflict
	case services.CodeEntitlementEvalFailed:
		// Fail-closed resolution must render retryable, never as success.
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError renders an error as the structured denial payload
func respondError(c *gin.Context, err error) {
	if appErr, ok := services.AsAppError(err); ok {
		c.JSON(statusFor(appErr.Code), gin.H{
			"error_code": appErr.Code,
			"message":    appErr.Message,
			"context":    appErr.Context,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error_code": "internal_error",
		"message":    "an unexpected error occurred",
	})
}
