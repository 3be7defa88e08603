package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// GateDecision is the approval gate verdict
type GateDecision string

const (
	GatePass  GateDecision = "pass"
	GateBlock GateDecision = "block"
)

// Approval is one recorded approval on a change request
type Approval struct {
	ApproverID   string    `json:"approver_id"`
	ApproverRole string    `json:"approver_role"`
	ApprovedAt   time.Time `json:"approved_at"`
}

// ChangeRequest is the record evaluated by the approval gate
type ChangeRequest struct {
	ID                 string     `json:"id"`
	TenantID           uuid.UUID  `json:"tenant_id"`
	ChangeType         string     `json:"change_type"`
	CreatedAt          time.Time  `json:"created_at"`
	ChecklistCompleted []string   `json:"checklist_completed"`
	Approvals          []Approval `json:"approvals"`
	IsEmergency        bool       `json:"is_emergency"`
	IncidentTicket     string     `json:"incident_ticket"`
	PostMortemPlanned  bool       `json:"post_mortem_planned"`
}

// GateResult is the gate's decision with a human-readable reason
type GateResult struct {
	Decision GateDecision `json:"decision"`
	Reason   string       `json:"reason"`
}

// ApprovalGate deterministically evaluates change requests against the
// per-change-type approval policy. Every decision is audited.
type ApprovalGate struct {
	cfg    *config.ChangeApprovalsConfig
	audit  *services.AuditService
	logger *logrus.Logger
}

// NewApprovalGate creates a new approval gate
func NewApprovalGate(cfg *config.ChangeApprovalsConfig, audit *services.AuditService, logger *logrus.Logger) *ApprovalGate {
	return &ApprovalGate{cfg: cfg, audit: audit, logger: logger}
}

// Evaluate returns Pass or Block for a change request
func (g *ApprovalGate) Evaluate(ctx context.Context, req *ChangeRequest) GateResult {
	result := g.evaluate(req)

	tenantID := uuid.Nil
	requestID := ""
	changeType := ""
	if req != nil {
		tenantID = req.TenantID
		requestID = req.ID
		changeType = req.ChangeType
	}
	outcome := models.OutcomeSuccess
	if result.Decision == GateBlock {
		outcome = models.OutcomeDenied
	}
	g.audit.Record(ctx, services.AuditEntry{
		TenantID:     tenantID,
		Action:       models.ActionApprovalDecision,
		ResourceType: "change_request",
		ResourceID:   requestID,
		Metadata: map[string]interface{}{
			"change_type": changeType,
			"decision":    result.Decision,
			"reason":      result.Reason,
		},
		Source:  models.AuditSourceSystem,
		Outcome: outcome,
	})
	return result
}

func (g *ApprovalGate) evaluate(req *ChangeRequest) GateResult {
	if req == nil {
		return GateResult{Decision: GateBlock, Reason: "change request is missing"}
	}
	if g.cfg == nil {
		return GateResult{Decision: GateBlock, Reason: "approval configuration is missing"}
	}
	policy, ok := g.cfg.ChangeTypes[req.ChangeType]
	if !ok {
		return GateResult{Decision: GateBlock, Reason: fmt.Sprintf("no approval policy for change type %q", req.ChangeType)}
	}

	if policy.SLAHours > 0 {
		deadline := req.CreatedAt.Add(time.Duration(policy.SLAHours) * time.Hour)
		if time.Now().UTC().After(deadline) {
			return GateResult{Decision: GateBlock, Reason: fmt.Sprintf("approval SLA of %dh expired", policy.SLAHours)}
		}
	}

	if missing := missingChecklistItems(policy.Checklist, req.ChecklistCompleted); len(missing) > 0 {
		return GateResult{Decision: GateBlock, Reason: fmt.Sprintf("pre-approval checklist incomplete: %v", missing)}
	}

	if req.IsEmergency {
		return g.evaluateEmergency(req, policy)
	}

	if len(req.Approvals) < policy.RequiredApprovals {
		return GateResult{
			Decision: GateBlock,
			Reason:   fmt.Sprintf("requires %d approvals, has %d", policy.RequiredApprovals, len(req.Approvals)),
		}
	}
	if len(policy.ApproverRoles) > 0 {
		qualified := countQualifiedApprovers(req.Approvals, policy.ApproverRoles)
		if qualified < policy.RequiredApprovals {
			return GateResult{
				Decision: GateBlock,
				Reason:   fmt.Sprintf("requires %d approvals from roles %v, has %d", policy.RequiredApprovals, policy.ApproverRoles, qualified),
			}
		}
	}
	return GateResult{Decision: GatePass, Reason: "all approval requirements satisfied"}
}

func (g *ApprovalGate) evaluateEmergency(req *ChangeRequest, policy config.ApprovalPolicy) GateResult {
	emergency := policy.Emergency
	if emergency == nil {
		return GateResult{Decision: GateBlock, Reason: "emergency approvals are not permitted for this change type"}
	}
	qualified := countQualifiedApprovers(req.Approvals, emergency.AllowedApproverRoles)
	if qualified < emergency.MinApprovers {
		return GateResult{
			Decision: GateBlock,
			Reason:   fmt.Sprintf("emergency path requires %d approvers from %v, has %d", emergency.MinApprovers, emergency.AllowedApproverRoles, qualified),
		}
	}
	if emergency.RequireIncidentTicket && req.IncidentTicket == "" {
		return GateResult{Decision: GateBlock, Reason: "emergency approval requires an incident ticket"}
	}
	if emergency.RequirePostMortem && !req.PostMortemPlanned {
		return GateResult{Decision: GateBlock, Reason: "emergency approval requires a post-mortem commitment"}
	}
	return GateResult{Decision: GatePass, Reason: "emergency approval requirements satisfied"}
}

func missingChecklistItems(required, completed []string) []string {
	done := make(map[string]bool, len(completed))
	for _, item := range completed {
		done[item] = true
	}
	var missing []string
	for _, item := range required {
		if !done[item] {
			missing = append(missing, item)
		}
	}
	return missing
}

func countQualifiedApprovers(approvals []Approval, allowedRoles []string) int {
	if len(allowedRoles) == 0 {
		return len(approvals)
	}
	allowed := make(map[string]bool, len(allowedRoles))
	for _, role := range allowedRoles {
		allowed[role] = true
	}
	count := 0
	for _, approval := range approvals {
		if allowed[approval.ApproverRole] {
			count++
		}
	}
	return count
}
