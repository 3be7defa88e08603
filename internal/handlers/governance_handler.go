package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/governance"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/middleware"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// GovernanceHandler exposes the operator-facing governance surface: approval
// gating, metric version resolution, pre-deploy validation, rollbacks and the
// AI action registry.
type GovernanceHandler struct {
	approvals  *governance.ApprovalGate
	metrics    *governance.MetricVersionResolver
	predeploy  *governance.PreDeployValidator
	rollbacks  *governance.RollbackOrchestrator
	guardrails *governance.GuardrailService
	logger     *logrus.Logger
}

// NewGovernanceHandler creates a new governance handler
func NewGovernanceHandler(
	approvals *governance.ApprovalGate,
	metrics *governance.MetricVersionResolver,
	predeploy *governance.PreDeployValidator,
	rollbacks *governance.RollbackOrchestrator,
	guardrails *governance.GuardrailService,
	logger *logrus.Logger,
) *GovernanceHandler {
	return &GovernanceHandler{
		approvals:  approvals,
		metrics:    metrics,
		predeploy:  predeploy,
		rollbacks:  rollbacks,
		guardrails: guardrails,
		logger:     logger,
	}
}

// EvaluateChange runs a change request through the approval gate
func (h *GovernanceHandler) EvaluateChange(c *gin.Context) {
	var req governance.ChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid request body"})
		return
	}
	result := h.approvals.Evaluate(c.Request.Context(), &req)
	c.JSON(http.StatusOK, result)
}

// ResolveMetric resolves a metric version request, surfacing deprecation
// warnings and blocking sunset versions.
func (h *GovernanceHandler) ResolveMetric(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	tenantID := ""
	if tenant != nil {
		tenantID = tenant.ID.String()
	}
	resolution, err := h.metrics.Resolve(c.Request.Context(), tenantID, c.Param("metric"), c.Query("version"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolution)
}

// PreDeployValidate runs the registered checks and returns the CI report
func (h *GovernanceHandler) PreDeployValidate(c *gin.Context) {
	report := h.predeploy.Validate(c.Request.Context())
	status := http.StatusOK
	if !report.CanDeploy {
		status = http.StatusConflict
	}
	c.JSON(status, report)
}

// ExecuteRollback runs a rollback request through the orchestrator
func (h *GovernanceHandler) ExecuteRollback(c *gin.Context) {
	var req governance.RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid request body"})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	outcome, err := h.rollbacks.Execute(c.Request.Context(), &req)
	if err != nil && outcome == nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// ReverseRollback undoes a completed reversible rollback
func (h *GovernanceHandler) ReverseRollback(c *gin.Context) {
	var body struct {
		Original governance.RollbackRequest `json:"original"`
		Reversal governance.RollbackRequest `json:"reversal"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid request body"})
		return
	}
	if body.Reversal.ID == "" {
		body.Reversal.ID = uuid.New().String()
	}
	outcome, err := h.rollbacks.Reverse(c.Request.Context(), &body.Original, &body.Reversal)
	if err != nil && outcome == nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// CheckAIAction checks an automation action against the restriction registry
func (h *GovernanceHandler) CheckAIAction(c *gin.Context) {
	var req struct {
		Action    string `json:"action" binding:"required"`
		RequestID string `json:"request_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid request body"})
		return
	}
	tenantID := uuid.Nil
	if tenant, ok := middleware.CurrentTenant(c); ok {
		tenantID = tenant.ID
	}
	if req.RequestID == "" {
		req.RequestID = c.GetString(middleware.ContextKeyRequestID)
	}
	refusal, err := h.guardrails.CheckAction(c.Request.Context(), tenantID, req.RequestID, req.Action)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"error_code": services.CodeGuardrailViolation,
			"refusal":    refusal,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": true})
}
