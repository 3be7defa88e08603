package governance

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// Refusal is the structured response for a prohibited AI action
type Refusal struct {
	RequestID  string `json:"request_id"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
	Category   string `json:"category"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// GuardrailService enforces the closed registry of prohibited AI actions.
// Every check, allowed or refused, is logged to the guardrail audit.
type GuardrailService struct {
	cfg    *config.AIRestrictionsConfig
	audit  *services.AuditService
	logger *logrus.Logger

	prohibited map[string]config.ProhibitedAction
}

// NewGuardrailService creates a new guardrail service
func NewGuardrailService(cfg *config.AIRestrictionsConfig, audit *services.AuditService, logger *logrus.Logger) *GuardrailService {
	prohibited := make(map[string]config.ProhibitedAction, len(cfg.ProhibitedActions))
	for _, action := range cfg.ProhibitedActions {
		prohibited[strings.ToLower(action.Action)] = action
	}
	return &GuardrailService{
		cfg:        cfg,
		audit:      audit,
		logger:     logger,
		prohibited: prohibited,
	}
}

// CheckAction evaluates one requested AI action. A nil refusal means the
// action is allowed.
func (s *GuardrailService) CheckAction(ctx context.Context, tenantID uuid.UUID, requestID, action string) (*Refusal, error) {
	entry, refused := s.prohibited[strings.ToLower(action)]

	var refusal *Refusal
	if refused {
		refusal = &Refusal{
			RequestID:  requestID,
			Action:     action,
			Reason:     entry.Reason,
			Category:   entry.Category,
			RedirectTo: entry.RedirectTo,
		}
	}

	auditAction := models.ActionGuardrailCheck
	outcome := models.OutcomeSuccess
	if refused {
		auditAction = models.ActionGuardrailRefusal
		outcome = models.OutcomeDenied
	}
	s.audit.Record(ctx, services.AuditEntry{
		TenantID:      tenantID,
		Action:        auditAction,
		ResourceType:  "ai_action",
		ResourceID:    action,
		CorrelationID: requestID,
		Metadata: map[string]interface{}{
			"action":   action,
			"refused":  refused,
			"category": categoryOf(entry, refused),
		},
		Source:  models.AuditSourceSystem,
		Outcome: outcome,
	})

	if refused {
		s.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"action":     action,
			"category":   entry.Category,
		}).Warn("AI action refused by guardrail")
		return refusal, services.NewAppError(services.CodeGuardrailViolation, "action is prohibited by AI guardrails").
			WithContext("action", action).
			WithContext("category", entry.Category).
			WithContext("redirect_to", entry.RedirectTo)
	}
	return nil, nil
}

// RecordRuntimeRefusal records a refusal that originated in the AI runtime
// rather than this pre-check.
func (s *GuardrailService) RecordRuntimeRefusal(ctx context.Context, tenantID uuid.UUID, refusal Refusal) {
	s.audit.Record(ctx, services.AuditEntry{
		TenantID:      tenantID,
		Action:        models.ActionGuardrailRefusal,
		ResourceType:  "ai_action",
		ResourceID:    refusal.Action,
		CorrelationID: refusal.RequestID,
		Metadata: map[string]interface{}{
			"action":   refusal.Action,
			"reason":   refusal.Reason,
			"category": refusal.Category,
			"runtime":  true,
		},
		Source:  models.AuditSourceSystem,
		Outcome: models.OutcomeDenied,
	})
}

// RequiredBehaviors returns the configured always-on behaviors
func (s *GuardrailService) RequiredBehaviors() []string {
	return s.cfg.RequiredBehaviors
}

func categoryOf(entry config.ProhibitedAction, refused bool) string {
	if refused {
		return entry.Category
	}
	return ""
}
