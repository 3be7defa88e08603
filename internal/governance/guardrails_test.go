package governance

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

func guardrailFixture(t *testing.T) (*GuardrailService, *memAuditRepo) {
	audit, repo := testAudit()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	cfg := &config.AIRestrictionsConfig{
		ProhibitedActions: []config.ProhibitedAction{
			{
				Action:     "delete_production_data",
				Category:   "prohibited",
				Reason:     "destructive operations require a human-run change process",
				RedirectTo: "open a change request",
			},
		},
		RequiredBehaviors: []string{"refuse and record every prohibited action attempt"},
	}
	return NewGuardrailService(cfg, audit, logger), repo
}

func TestGuardrailRefusesProhibitedAction(t *testing.T) {
	svc, repo := guardrailFixture(t)

	refusal, err := svc.CheckAction(context.Background(), uuid.New(), "req-1", "delete_production_data")
	require.Error(t, err)
	require.NotNil(t, refusal)
	assert.Equal(t, "prohibited", refusal.Category)
	assert.Equal(t, "open a change request", refusal.RedirectTo)
	assert.True(t, services.IsCode(err, services.CodeGuardrailViolation))
	assert.Contains(t, repo.actions(), models.ActionGuardrailRefusal)
}

func TestGuardrailMatchingIsCaseInsensitive(t *testing.T) {
	svc, _ := guardrailFixture(t)
	refusal, err := svc.CheckAction(context.Background(), uuid.New(), "req-2", "Delete_Production_Data")
	assert.Error(t, err)
	assert.NotNil(t, refusal)
}

func TestGuardrailAllowsUnlistedAction(t *testing.T) {
	svc, repo := guardrailFixture(t)

	refusal, err := svc.CheckAction(context.Background(), uuid.New(), "req-3", "summarize_dashboard")
	assert.NoError(t, err)
	assert.Nil(t, refusal)
	// Allowed checks are audited too.
	assert.Contains(t, repo.actions(), models.ActionGuardrailCheck)
}

func TestGuardrailRequiredBehaviors(t *testing.T) {
	svc, _ := guardrailFixture(t)
	assert.NotEmpty(t, svc.RequiredBehaviors())
}
