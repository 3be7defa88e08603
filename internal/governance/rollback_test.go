package governance

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
)

func rollbackConfig() *config.RollbackConfig {
	return &config.RollbackConfig{
		AuthorizedRoles:    []string{"platform_engineer"},
		VerificationChecks: []string{"version_matches"},
		MaxCanaryBatches:   2,
	}
}

func testOrchestrator(t *testing.T) (*RollbackOrchestrator, *memAuditRepo) {
	audit, repo := testAudit()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	o := NewRollbackOrchestrator(rollbackConfig(), audit, logger)
	o.RegisterCheck("version_matches", func(ctx context.Context, req *RollbackRequest) error {
		return nil
	})
	return o, repo
}

func rollbackRequest(id string) *RollbackRequest {
	return &RollbackRequest{
		ID:            id,
		TenantID:      uuid.New(),
		RequestorRole: "platform_engineer",
		Scope:         ScopeGlobal,
		Actions:       []RollbackAction{{Name: "restore_dataset"}},
		Reversible:    true,
	}
}

func TestRollbackCompletes(t *testing.T) {
	o, _ := testOrchestrator(t)
	o.RegisterHandler("restore_dataset", func(ctx context.Context, req *RollbackRequest, action RollbackAction) error {
		return nil
	})

	outcome, err := o.Execute(context.Background(), rollbackRequest("rb-1"))
	require.NoError(t, err)
	assert.Equal(t, RollbackCompleted, outcome.State)
	assert.True(t, outcome.CheckResults["version_matches"])
}

func TestRollbackUnauthorizedRoleFails(t *testing.T) {
	o, _ := testOrchestrator(t)
	req := rollbackRequest("rb-2")
	req.RequestorRole = "intern"

	outcome, err := o.Execute(context.Background(), req)
	assert.Error(t, err)
	assert.Equal(t, RollbackFailed, outcome.State)
}

func TestRollbackActionFailureContinuesButFails(t *testing.T) {
	o, _ := testOrchestrator(t)
	var secondRan bool
	o.RegisterHandler("restore_dataset", func(ctx context.Context, req *RollbackRequest, action RollbackAction) error {
		return errors.New("restore failed")
	})
	o.RegisterHandler("invalidate_cache", func(ctx context.Context, req *RollbackRequest, action RollbackAction) error {
		secondRan = true
		return nil
	})

	req := rollbackRequest("rb-3")
	req.Actions = append(req.Actions, RollbackAction{Name: "invalidate_cache"})

	outcome, err := o.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, RollbackFailed, outcome.State)
	assert.True(t, secondRan, "later actions must still run after a failure")
}

func TestRollbackCanaryBatchLimit(t *testing.T) {
	o, _ := testOrchestrator(t)
	req := rollbackRequest("rb-4")
	req.Scope = ScopeGradual
	req.Canary = []CanaryBatch{
		{Percentage: 10}, {Percentage: 30}, {Percentage: 60},
	}

	outcome, err := o.Execute(context.Background(), req)
	assert.Error(t, err)
	assert.Equal(t, RollbackFailed, outcome.State)
}

func TestRollbackCanaryPausesBelowMinSuccessRate(t *testing.T) {
	o, _ := testOrchestrator(t)
	var calls int
	o.RegisterHandler("restore_dataset", func(ctx context.Context, req *RollbackRequest, action RollbackAction) error {
		calls++
		if action.Params["canary_batch"] == 2 {
			return errors.New("canary slice unhealthy")
		}
		return nil
	})

	req := rollbackRequest("rb-10")
	req.Scope = ScopeGradual
	req.Canary = []CanaryBatch{
		{Percentage: 10, MinSuccessRate: 1.0},
		{Percentage: 50, MinSuccessRate: 1.0},
	}

	outcome, err := o.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, RollbackPaused, outcome.State)
	assert.Contains(t, outcome.Reason, "canary batch 2")
	// Batch 1 passed, batch 2 breached; no batch ran after the breach.
	assert.Equal(t, 2, calls)

	recorded, ok := o.Outcome("rb-10")
	require.True(t, ok)
	assert.Equal(t, RollbackPaused, recorded.State)
}

func TestRollbackCanaryCompletesWhenBatchesHealthy(t *testing.T) {
	o, _ := testOrchestrator(t)
	var percentages []interface{}
	o.RegisterHandler("restore_dataset", func(ctx context.Context, req *RollbackRequest, action RollbackAction) error {
		percentages = append(percentages, action.Params["canary_percentage"])
		return nil
	})

	req := rollbackRequest("rb-11")
	req.Scope = ScopeGradual
	req.Canary = []CanaryBatch{
		{Percentage: 10, MinSuccessRate: 0.9},
		{Percentage: 100, MinSuccessRate: 0.9},
	}

	outcome, err := o.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, RollbackCompleted, outcome.State)
	assert.Equal(t, []interface{}{10, 100}, percentages)
}

func TestRollbackReverse(t *testing.T) {
	o, _ := testOrchestrator(t)
	o.RegisterHandler("restore_dataset", func(ctx context.Context, req *RollbackRequest, action RollbackAction) error {
		return nil
	})
	ctx := context.Background()

	original := rollbackRequest("rb-5")
	outcome, err := o.Execute(ctx, original)
	require.NoError(t, err)
	require.Equal(t, RollbackCompleted, outcome.State)

	t.Run("reversal needs a new id", func(t *testing.T) {
		reversal := rollbackRequest("rb-5")
		_, err := o.Reverse(ctx, original, reversal)
		assert.Error(t, err)
	})

	t.Run("reversal of a completed reversible rollback succeeds", func(t *testing.T) {
		reversal := rollbackRequest("rb-6")
		outcome, err := o.Reverse(ctx, original, reversal)
		require.NoError(t, err)
		assert.Equal(t, RollbackCompleted, outcome.State)

		// The original is now rolled forward and cannot be reversed again.
		recorded, ok := o.Outcome("rb-5")
		require.True(t, ok)
		assert.Equal(t, RollbackRolledForward, recorded.State)
		_, err = o.Reverse(ctx, original, rollbackRequest("rb-6b"))
		assert.Error(t, err)
	})

	t.Run("irreversible rollback cannot be reversed", func(t *testing.T) {
		irreversible := rollbackRequest("rb-7")
		irreversible.Reversible = false
		_, err := o.Execute(ctx, irreversible)
		require.NoError(t, err)

		_, err = o.Reverse(ctx, irreversible, rollbackRequest("rb-8"))
		assert.Error(t, err)
	})

	t.Run("unknown rollback cannot be reversed", func(t *testing.T) {
		_, err := o.Reverse(ctx, rollbackRequest("never-ran"), rollbackRequest("rb-9"))
		assert.Error(t, err)
	})
}
