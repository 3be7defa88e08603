package services

import (
	"fmt"
	"math"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

// Registered anomaly check names
const (
	CheckRowCountDrop     = "row_count_drop"
	CheckZeroSpend        = "zero_spend_after_nonzero"
	CheckZeroOrders       = "zero_orders_after_nonzero"
	CheckMissingDays      = "missing_days"
	CheckNegativeValues   = "negative_values"
	CheckDuplicateKeys    = "duplicate_primary_keys"
	CheckMetricDivergence = "revenue_spend_divergence"
)

// AnomalyService runs tenant-scoped data-quality checks over metric inputs
// supplied by operators or periodic jobs. Merchant messages never expose
// internals; support details may reference ids and counts.
type AnomalyService struct{}

// NewAnomalyService creates a new anomaly service
func NewAnomalyService() *AnomalyService {
	return &AnomalyService{}
}

// CheckRowCountDrop flags a day-over-day row count drop of 50% or more.
// Drops of 75% or more grade high.
func (s *AnomalyService) CheckRowCountDrop(table string, yesterday, today int64) models.AnomalyResult {
	result := models.AnomalyResult{
		CheckName: CheckRowCountDrop,
		Observed:  float64(today),
		Expected:  float64(yesterday),
	}
	if yesterday <= 0 {
		return result
	}
	drop := 1 - float64(today)/float64(yesterday)
	if drop < 0.5 {
		return result
	}

	result.IsAnomaly = true
	result.Severity = models.SeverityWarning
	if drop >= 0.75 {
		result.Severity = models.SeverityHigh
	}
	result.MerchantMessage = "We detected a significant drop in your recent data volume and are investigating."
	result.SupportDetails = fmt.Sprintf("table=%s yesterday=%d today=%d drop=%.0f%%", table, yesterday, today, drop*100)
	return result
}

// CheckZeroSpend flags ad spend going to zero after a non-zero history
func (s *AnomalyService) CheckZeroSpend(source string, previousSpend, currentSpend float64) models.AnomalyResult {
	result := models.AnomalyResult{
		CheckName: CheckZeroSpend,
		Observed:  currentSpend,
		Expected:  previousSpend,
	}
	if previousSpend <= 0 || currentSpend > 0 {
		return result
	}
	result.IsAnomaly = true
	result.Severity = models.SeverityWarning
	result.MerchantMessage = "Your ad spend data shows no activity where there usually is some. This may be a sync issue."
	result.SupportDetails = fmt.Sprintf("source=%s previous_spend=%.2f current_spend=0", source, previousSpend)
	return result
}

// CheckZeroOrders flags order volume going to zero after a non-zero history.
// Missing orders are always critical.
func (s *AnomalyService) CheckZeroOrders(previousOrders, currentOrders int64) models.AnomalyResult {
	result := models.AnomalyResult{
		CheckName: CheckZeroOrders,
		Observed:  float64(currentOrders),
		Expected:  float64(previousOrders),
	}
	if previousOrders <= 0 || currentOrders > 0 {
		return result
	}
	result.IsAnomaly = true
	result.Severity = models.SeverityCritical
	result.MerchantMessage = "We are not seeing recent orders where your store usually has them. Your dashboards may be incomplete."
	result.SupportDetails = fmt.Sprintf("previous_orders=%d current_orders=0", previousOrders)
	return result
}

// CheckMissingDays flags gaps in a daily time series. More than three missing
// days grades high.
func (s *AnomalyService) CheckMissingDays(series string, expectedDays, presentDays int) models.AnomalyResult {
	missing := expectedDays - presentDays
	result := models.AnomalyResult{
		CheckName: CheckMissingDays,
		Observed:  float64(presentDays),
		Expected:  float64(expectedDays),
	}
	if missing <= 0 {
		return result
	}
	result.IsAnomaly = true
	result.Severity = models.SeverityWarning
	if missing > 3 {
		result.Severity = models.SeverityHigh
	}
	result.MerchantMessage = "Some days are missing from your recent data. We are working to fill the gap."
	result.SupportDetails = fmt.Sprintf("series=%s expected_days=%d present_days=%d missing=%d", series, expectedDays, presentDays, missing)
	return result
}

// CheckNegativeValues flags negative values in fields that must be positive
func (s *AnomalyService) CheckNegativeValues(field string, negativeCount int64) models.AnomalyResult {
	result := models.AnomalyResult{
		CheckName: CheckNegativeValues,
		Observed:  float64(negativeCount),
		Expected:  0,
	}
	if negativeCount <= 0 {
		return result
	}
	result.IsAnomaly = true
	result.Severity = models.SeverityHigh
	result.MerchantMessage = "Some of your data contains unexpected values and has been flagged for review."
	result.SupportDetails = fmt.Sprintf("field=%s negative_rows=%d", field, negativeCount)
	return result
}

// CheckDuplicateKeys flags duplicate primary keys in an ingested table
func (s *AnomalyService) CheckDuplicateKeys(table string, duplicateCount int64) models.AnomalyResult {
	result := models.AnomalyResult{
		CheckName: CheckDuplicateKeys,
		Observed:  float64(duplicateCount),
		Expected:  0,
	}
	if duplicateCount <= 0 {
		return result
	}
	result.IsAnomaly = true
	result.Severity = models.SeverityHigh
	result.MerchantMessage = "We found duplicated records in your recent data and are deduplicating them."
	result.SupportDetails = fmt.Sprintf("table=%s duplicate_keys=%d", table, duplicateCount)
	return result
}

// CheckDivergence compares revenue direction to spend direction for one
// currency and flags opposite moves at or beyond the threshold.
func (s *AnomalyService) CheckDivergence(currency string, revenueChangePct, spendChangePct, thresholdPct float64) models.AnomalyResult {
	result := models.AnomalyResult{
		CheckName: CheckMetricDivergence,
		Observed:  revenueChangePct,
		Expected:  spendChangePct,
	}

	oppositeDirections := (revenueChangePct > 0 && spendChangePct < 0) || (revenueChangePct < 0 && spendChangePct > 0)
	if !oppositeDirections {
		return result
	}
	divergence := math.Abs(revenueChangePct - spendChangePct)
	if divergence < thresholdPct {
		return result
	}

	result.IsAnomaly = true
	result.Severity = models.SeverityWarning
	if divergence >= thresholdPct*2 {
		result.Severity = models.SeverityHigh
	}
	result.MerchantMessage = "Your revenue and ad spend are moving in opposite directions. This can be legitimate but is worth a look."
	result.SupportDetails = fmt.Sprintf("currency=%s revenue_change=%.1f%% spend_change=%.1f%% divergence=%.1f%%",
		currency, revenueChangePct, spendChangePct, divergence)
	return result
}
