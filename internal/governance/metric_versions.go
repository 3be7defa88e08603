package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/nats"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// Metric version statuses used in the registry
const (
	MetricStatusActive     = "active"
	MetricStatusDeprecated = "deprecated"
	MetricStatusSunset     = "sunset"
)

// WarningLevel grades a metric resolution warning
type WarningLevel string

const (
	WarningInfo  WarningLevel = "info"
	WarningWarn  WarningLevel = "warn"
	WarningBlock WarningLevel = "block"
)

// MetricResolution is the outcome of resolving one metric version
type MetricResolution struct {
	MetricKey       string       `json:"metric_key"`
	Version         string       `json:"version"`
	DbtModel        string       `json:"dbt_model"`
	Definition      string       `json:"definition"`
	Status          string       `json:"status"`
	Warning         string       `json:"warning,omitempty"`
	WarningLevel    WarningLevel `json:"warning_level,omitempty"`
	DaysUntilSunset *int         `json:"days_until_sunset,omitempty"`
	MigrationGuide  string       `json:"migration_guide,omitempty"`
}

// MetricVersionResolver resolves metric versions against the config-resident
// registry and blocks access to sunset versions.
type MetricVersionResolver struct {
	cfg       *config.MetricsVersionsConfig
	audit     *services.AuditService
	publisher *nats.Publisher
	logger    *logrus.Logger
}

// NewMetricVersionResolver creates a new resolver
func NewMetricVersionResolver(cfg *config.MetricsVersionsConfig, audit *services.AuditService, publisher *nats.Publisher, logger *logrus.Logger) *MetricVersionResolver {
	return &MetricVersionResolver{cfg: cfg, audit: audit, publisher: publisher, logger: logger}
}

// Resolve resolves a metric version. An empty version means the current one.
// Sunset versions (by explicit status or by date) are a hard block.
func (r *MetricVersionResolver) Resolve(ctx context.Context, tenantID string, metricKey, version string) (*MetricResolution, error) {
	metric, ok := r.cfg.Metrics[metricKey]
	if !ok {
		return nil, services.NewAppError(services.CodeNotFound, "unknown metric").
			WithContext("metric_key", metricKey)
	}
	if version == "" {
		version = metric.CurrentVersion
	}
	versionCfg, ok := metric.Versions[version]
	if !ok {
		return nil, services.NewAppError(services.CodeNotFound, "unknown metric version").
			WithContext("metric_key", metricKey).
			WithContext("version", version)
	}

	now := time.Now().UTC()
	sunsetDate, hasSunsetDate := parseDate(versionCfg.SunsetDate)

	// Sunset is checked both ways: explicit status and date comparison.
	if versionCfg.Status == MetricStatusSunset || (hasSunsetDate && !now.Before(sunsetDate)) {
		r.auditSunsetHit(ctx, tenantID, metricKey, version)
		return nil, services.NewAppError(services.CodeMetricSunset, "metric version has been sunset").
			WithContext("metric_key", metricKey).
			WithContext("version", version).
			WithContext("migration_guide", versionCfg.MigrationGuide)
	}

	resolution := &MetricResolution{
		MetricKey:      metricKey,
		Version:        version,
		DbtModel:       versionCfg.DbtModel,
		Definition:     versionCfg.Definition,
		Status:         versionCfg.Status,
		MigrationGuide: versionCfg.MigrationGuide,
	}

	if versionCfg.Status == MetricStatusDeprecated {
		resolution.Warning = fmt.Sprintf("metric %s version %s is deprecated", metricKey, version)
		resolution.WarningLevel = WarningWarn
		if hasSunsetDate {
			days := int(sunsetDate.Sub(now).Hours() / 24)
			resolution.DaysUntilSunset = &days
			if days <= r.cfg.WarnBeforeSunsetDays {
				resolution.WarningLevel = WarningBlock
				resolution.Warning = fmt.Sprintf("metric %s version %s sunsets in %d days; migrate now", metricKey, version, days)
				r.emitAlert(ctx, tenantID, resolution)
			}
		}
	}
	return resolution, nil
}

func (r *MetricVersionResolver) auditSunsetHit(ctx context.Context, tenantID, metricKey, version string) {
	r.audit.Record(ctx, services.AuditEntry{
		Action:       models.ActionMetricSunsetHit,
		ResourceType: "metric_version",
		ResourceID:   metricKey,
		Metadata: map[string]interface{}{
			"metric_key": metricKey,
			"version":    version,
			"tenant_id":  tenantID,
		},
		Source:  models.AuditSourceAPI,
		Outcome: models.OutcomeDenied,
	})
}

// emitAlert pushes merchant alerts onto the configured channels via the
// event bus.
func (r *MetricVersionResolver) emitAlert(ctx context.Context, tenantID string, resolution *MetricResolution) {
	for _, channel := range r.cfg.AlertChannels {
		payload := map[string]interface{}{
			"channel":           channel,
			"metric_key":        resolution.MetricKey,
			"version":           resolution.Version,
			"days_until_sunset": resolution.DaysUntilSunset,
			"migration_guide":   resolution.MigrationGuide,
		}
		if err := r.publisher.Publish(ctx, "governance.metric_alert", tenantID, payload); err != nil {
			r.logger.WithField("channel", channel).WithError(err).Warn("Failed to emit metric sunset alert")
		}
	}
}

func parseDate(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
