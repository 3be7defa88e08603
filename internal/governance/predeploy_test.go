package governance

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
)

func preDeployConfig() *config.PreDeployConfig {
	return &config.PreDeployConfig{
		Categories: []config.PreDeployCategory{
			{
				Name:            "data_quality",
				FailureBehavior: "block",
				Checks: []config.PreDeployCheck{
					{Name: "row_count_drift_pct", Threshold: 10.0},
				},
			},
			{
				Name:            "performance",
				FailureBehavior: "warn",
				Checks: []config.PreDeployCheck{
					{Name: "p95_query_latency_ms", Threshold: 1500.0},
				},
			},
		},
	}
}

func constCheck(value float64) CheckFunc {
	return func(ctx context.Context) (float64, string, error) {
		return value, "measured", nil
	}
}

func TestPreDeployAllPass(t *testing.T) {
	v := NewPreDeployValidator(preDeployConfig(), logrus.New())
	v.RegisterCheck("row_count_drift_pct", constCheck(2.0))
	v.RegisterCheck("p95_query_latency_ms", constCheck(800.0))

	report := v.Validate(context.Background())
	assert.Equal(t, CheckPass, report.Overall)
	assert.True(t, report.CanDeploy)
	assert.False(t, report.RequiresApproval)
	assert.Len(t, report.Checks, 2)
}

func TestPreDeployBlockingFailure(t *testing.T) {
	v := NewPreDeployValidator(preDeployConfig(), logrus.New())
	v.RegisterCheck("row_count_drift_pct", constCheck(25.0))
	v.RegisterCheck("p95_query_latency_ms", constCheck(800.0))

	report := v.Validate(context.Background())
	assert.Equal(t, CheckBlock, report.Overall)
	assert.False(t, report.CanDeploy)
}

func TestPreDeployWarningFailure(t *testing.T) {
	v := NewPreDeployValidator(preDeployConfig(), logrus.New())
	v.RegisterCheck("row_count_drift_pct", constCheck(2.0))
	v.RegisterCheck("p95_query_latency_ms", constCheck(4000.0))

	report := v.Validate(context.Background())
	assert.Equal(t, CheckWarn, report.Overall)
	assert.True(t, report.CanDeploy)
	assert.True(t, report.RequiresApproval)
}

func TestPreDeployUnregisteredCheckSkips(t *testing.T) {
	v := NewPreDeployValidator(preDeployConfig(), logrus.New())
	v.RegisterCheck("p95_query_latency_ms", constCheck(800.0))

	report := v.Validate(context.Background())
	var statuses []CheckStatus
	for _, c := range report.Checks {
		statuses = append(statuses, c.Status)
	}
	assert.Contains(t, statuses, CheckSkip)
	assert.True(t, report.CanDeploy)
}

func TestPreDeployCheckErrorRequiresApproval(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	v := NewPreDeployValidator(preDeployConfig(), logger)
	v.RegisterCheck("row_count_drift_pct", constCheck(2.0))
	v.RegisterCheck("p95_query_latency_ms", func(ctx context.Context) (float64, string, error) {
		return 0, "", errors.New("warehouse unreachable")
	})

	report := v.Validate(context.Background())
	assert.True(t, report.RequiresApproval)
	assert.True(t, report.CanDeploy)
}

func TestValidationReportJSON(t *testing.T) {
	v := NewPreDeployValidator(preDeployConfig(), logrus.New())
	v.RegisterCheck("row_count_drift_pct", constCheck(2.0))
	report := v.Validate(context.Background())

	data, err := report.JSON()
	assert.NoError(t, err)
	assert.Contains(t, string(data), "row_count_drift_pct")
}
