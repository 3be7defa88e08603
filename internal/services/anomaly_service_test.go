package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

func TestCheckRowCountDrop(t *testing.T) {
	svc := NewAnomalyService()

	result := svc.CheckRowCountDrop("orders", 1000, 900)
	assert.False(t, result.IsAnomaly)

	result = svc.CheckRowCountDrop("orders", 1000, 500)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, models.SeverityWarning, result.Severity)

	result = svc.CheckRowCountDrop("orders", 1000, 200)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, models.SeverityHigh, result.Severity)

	// No history means no verdict.
	result = svc.CheckRowCountDrop("orders", 0, 0)
	assert.False(t, result.IsAnomaly)
}

func TestCheckZeroSpendAndOrders(t *testing.T) {
	svc := NewAnomalyService()

	result := svc.CheckZeroSpend("facebook", 500.0, 0)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, models.SeverityWarning, result.Severity)

	result = svc.CheckZeroSpend("facebook", 0, 0)
	assert.False(t, result.IsAnomaly)

	result = svc.CheckZeroOrders(40, 0)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, models.SeverityCritical, result.Severity)

	result = svc.CheckZeroOrders(40, 3)
	assert.False(t, result.IsAnomaly)
}

func TestCheckMissingDays(t *testing.T) {
	svc := NewAnomalyService()

	assert.False(t, svc.CheckMissingDays("daily_revenue", 30, 30).IsAnomaly)

	result := svc.CheckMissingDays("daily_revenue", 30, 28)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, models.SeverityWarning, result.Severity)

	result = svc.CheckMissingDays("daily_revenue", 30, 25)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, models.SeverityHigh, result.Severity)
}

func TestCheckNegativeAndDuplicates(t *testing.T) {
	svc := NewAnomalyService()

	assert.False(t, svc.CheckNegativeValues("order_total", 0).IsAnomaly)
	result := svc.CheckNegativeValues("order_total", 12)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, models.SeverityHigh, result.Severity)

	assert.False(t, svc.CheckDuplicateKeys("orders", 0).IsAnomaly)
	result = svc.CheckDuplicateKeys("orders", 5)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, models.SeverityHigh, result.Severity)
}

func TestCheckDivergence(t *testing.T) {
	svc := NewAnomalyService()

	// Same direction never flags regardless of magnitude.
	assert.False(t, svc.CheckDivergence("USD", 50, 40, 20).IsAnomaly)

	// Opposite directions under the threshold pass.
	assert.False(t, svc.CheckDivergence("USD", 5, -5, 20).IsAnomaly)

	result := svc.CheckDivergence("USD", 15, -10, 20)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, models.SeverityWarning, result.Severity)

	result = svc.CheckDivergence("USD", 30, -25, 20)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, models.SeverityHigh, result.Severity)
}

func TestAnomalyMessagesStaySanitized(t *testing.T) {
	svc := NewAnomalyService()
	result := svc.CheckRowCountDrop("fct_orders_internal", 1000, 100)
	assert.NotContains(t, result.MerchantMessage, "fct_orders_internal")
	assert.Contains(t, result.SupportDetails, "fct_orders_internal")
}
