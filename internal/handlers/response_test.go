package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{services.CodeAuthRequired, http.StatusUnauthorized},
		{services.CodeCrossTenantDenied, http.StatusForbidden},
		{services.CodeTenantSuspended, http.StatusForbidden},
		{services.CodeEntitlementDenied, http.StatusForbidden},
		{services.CodePaymentRequired, http.StatusPaymentRequired},
		{services.CodeOptimisticLockConflict, http.StatusConflict},
		{services.CodeDuplicateShopDomain, http.StatusConflict},
		{services.CodeDashboardLimitExceeded, http.StatusUnprocessableEntity},
		{services.CodeNotFound, http.StatusNotFound},
		{services.CodeInvalidInput, http.StatusBadRequest},
		{services.CodeEntitlementEvalFailed, http.StatusServiceUnavailable},
		{"something_unmapped", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.code), "code %s", tt.code)
	}
}
