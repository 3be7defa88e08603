package governance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// memAuditRepo collects audit records in memory for assertions
type memAuditRepo struct {
	mu      sync.Mutex
	records []models.AuditRecord
}

func (r *memAuditRepo) Create(ctx context.Context, record *models.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *record)
	return nil
}

func (r *memAuditRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AuditRecord{}, r.records...), nil
}

func (r *memAuditRepo) actions() []models.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditAction, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Action)
	}
	return out
}

func testAudit() (*services.AuditService, *memAuditRepo) {
	repo := &memAuditRepo{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return services.NewAuditService(repo, nil, logger), repo
}

func approvalsConfig() *config.ChangeApprovalsConfig {
	return &config.ChangeApprovalsConfig{
		ChangeTypes: map[string]config.ApprovalPolicy{
			"metric_definition": {
				RequiredApprovals: 2,
				ApproverRoles:     []string{"analytics_lead", "data_engineer"},
				Checklist:         []string{"dbt tests pass", "changelog written"},
				SLAHours:          72,
				Emergency: &config.EmergencyPolicy{
					MinApprovers:          1,
					AllowedApproverRoles:  []string{"analytics_lead"},
					RequireIncidentTicket: true,
					RequirePostMortem:     true,
				},
			},
		},
	}
}

func validRequest() *ChangeRequest {
	return &ChangeRequest{
		ID:                 "chg-1",
		TenantID:           uuid.New(),
		ChangeType:         "metric_definition",
		CreatedAt:          time.Now().UTC().Add(-time.Hour),
		ChecklistCompleted: []string{"dbt tests pass", "changelog written"},
		Approvals: []Approval{
			{ApproverID: "u1", ApproverRole: "analytics_lead"},
			{ApproverID: "u2", ApproverRole: "data_engineer"},
		},
	}
}

func TestApprovalGatePasses(t *testing.T) {
	audit, repo := testAudit()
	gate := NewApprovalGate(approvalsConfig(), audit, logrus.New())

	result := gate.Evaluate(context.Background(), validRequest())
	assert.Equal(t, GatePass, result.Decision)
	assert.Contains(t, repo.actions(), models.ActionApprovalDecision)
}

func TestApprovalGateBlocks(t *testing.T) {
	audit, _ := testAudit()
	gate := NewApprovalGate(approvalsConfig(), audit, logrus.New())
	ctx := context.Background()

	t.Run("unknown change type", func(t *testing.T) {
		req := validRequest()
		req.ChangeType = "color_scheme"
		result := gate.Evaluate(ctx, req)
		assert.Equal(t, GateBlock, result.Decision)
	})

	t.Run("expired SLA", func(t *testing.T) {
		req := validRequest()
		req.CreatedAt = time.Now().UTC().Add(-100 * time.Hour)
		result := gate.Evaluate(ctx, req)
		assert.Equal(t, GateBlock, result.Decision)
		assert.Contains(t, result.Reason, "SLA")
	})

	t.Run("incomplete checklist", func(t *testing.T) {
		req := validRequest()
		req.ChecklistCompleted = []string{"dbt tests pass"}
		result := gate.Evaluate(ctx, req)
		assert.Equal(t, GateBlock, result.Decision)
		assert.Contains(t, result.Reason, "checklist")
	})

	t.Run("not enough approvals", func(t *testing.T) {
		req := validRequest()
		req.Approvals = req.Approvals[:1]
		result := gate.Evaluate(ctx, req)
		assert.Equal(t, GateBlock, result.Decision)
	})

	t.Run("approvals from unqualified roles", func(t *testing.T) {
		req := validRequest()
		req.Approvals = []Approval{
			{ApproverID: "u1", ApproverRole: "intern"},
			{ApproverID: "u2", ApproverRole: "intern"},
		}
		result := gate.Evaluate(ctx, req)
		assert.Equal(t, GateBlock, result.Decision)
	})
}

func TestApprovalGateEmergencyPath(t *testing.T) {
	audit, _ := testAudit()
	gate := NewApprovalGate(approvalsConfig(), audit, logrus.New())
	ctx := context.Background()

	emergency := func() *ChangeRequest {
		req := validRequest()
		req.IsEmergency = true
		req.Approvals = []Approval{{ApproverID: "u1", ApproverRole: "analytics_lead"}}
		req.IncidentTicket = "INC-42"
		req.PostMortemPlanned = true
		return req
	}

	result := gate.Evaluate(ctx, emergency())
	assert.Equal(t, GatePass, result.Decision)

	req := emergency()
	req.IncidentTicket = ""
	result = gate.Evaluate(ctx, req)
	assert.Equal(t, GateBlock, result.Decision)
	assert.Contains(t, result.Reason, "incident ticket")

	req = emergency()
	req.PostMortemPlanned = false
	result = gate.Evaluate(ctx, req)
	assert.Equal(t, GateBlock, result.Decision)

	req = emergency()
	req.Approvals = []Approval{{ApproverID: "u1", ApproverRole: "data_engineer"}}
	result = gate.Evaluate(ctx, req)
	assert.Equal(t, GateBlock, result.Decision)
}
