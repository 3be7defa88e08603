package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// RollbackState is the orchestrator state machine position
type RollbackState string

const (
	RollbackPending             RollbackState = "pending"
	RollbackValidatingAuthority RollbackState = "validating_authority"
	RollbackExecuting           RollbackState = "executing"
	RollbackVerifying           RollbackState = "verifying"
	RollbackCompleted           RollbackState = "completed"
	RollbackFailed              RollbackState = "failed"
	// RollbackPaused means a canary batch fell below its minimum success rate
	// and the remaining batches were not run.
	RollbackPaused RollbackState = "paused"
	// RollbackRolledForward marks a completed rollback whose reversal has
	// since been applied.
	RollbackRolledForward RollbackState = "rolled_forward"
)

// RollbackScope constrains which tenants a rollback touches
type RollbackScope string

const (
	ScopeGlobal       RollbackScope = "global"
	ScopeTenantSubset RollbackScope = "tenant_subset"
	ScopeGradual      RollbackScope = "gradual"
)

// RollbackAction names one registered step of a rollback
type RollbackAction struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// CanaryBatch is one gradual-rollout slice with its success criterion.
// MinSuccessRate is a fraction; a batch whose action success rate falls below
// it pauses the rollback.
type CanaryBatch struct {
	Percentage     int     `json:"percentage"`
	MinSuccessRate float64 `json:"min_success_rate"`
}

// RollbackRequest describes one requested rollback. Reversible rollbacks may
// later be reversed by re-entering with a new id.
type RollbackRequest struct {
	ID            string           `json:"id"`
	TenantID      uuid.UUID        `json:"tenant_id"`
	RequestorRole string           `json:"requestor_role"`
	Scope         RollbackScope    `json:"scope"`
	TenantIDs     []uuid.UUID      `json:"tenant_ids,omitempty"`
	Canary        []CanaryBatch    `json:"canary,omitempty"`
	Actions       []RollbackAction `json:"actions"`
	Reversible    bool             `json:"reversible"`
	ReversesID    string           `json:"reverses_id,omitempty"`
}

// ActionResult records one action handler outcome
type ActionResult struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RollbackOutcome is the final orchestrator report
type RollbackOutcome struct {
	RequestID     string          `json:"request_id"`
	State         RollbackState   `json:"state"`
	ActionResults []ActionResult  `json:"action_results"`
	CheckResults  map[string]bool `json:"check_results,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// ActionHandler executes one registered rollback action
type ActionHandler func(ctx context.Context, req *RollbackRequest, action RollbackAction) error

// VerificationCheck validates system health after rollback execution
type VerificationCheck func(ctx context.Context, req *RollbackRequest) error

// RollbackOrchestrator walks the rollback state machine: authority
// validation, action execution, verification. Action failures do not stop the
// remaining actions but mark the overall outcome failed.
type RollbackOrchestrator struct {
	cfg    *config.RollbackConfig
	audit  *services.AuditService
	logger *logrus.Logger

	mu       sync.RWMutex
	handlers map[string]ActionHandler
	checks   map[string]VerificationCheck
	history  map[string]*RollbackOutcome
}

// NewRollbackOrchestrator creates a new orchestrator
func NewRollbackOrchestrator(cfg *config.RollbackConfig, audit *services.AuditService, logger *logrus.Logger) *RollbackOrchestrator {
	return &RollbackOrchestrator{
		cfg:      cfg,
		audit:    audit,
		logger:   logger,
		handlers: make(map[string]ActionHandler),
		checks:   make(map[string]VerificationCheck),
		history:  make(map[string]*RollbackOutcome),
	}
}

// RegisterHandler registers the handler for one action name
func (o *RollbackOrchestrator) RegisterHandler(name string, handler ActionHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[name] = handler
}

// RegisterCheck registers a named verification check
func (o *RollbackOrchestrator) RegisterCheck(name string, check VerificationCheck) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checks[name] = check
}

// Execute runs a rollback request through the state machine
func (o *RollbackOrchestrator) Execute(ctx context.Context, req *RollbackRequest) (*RollbackOutcome, error) {
	outcome := &RollbackOutcome{RequestID: req.ID, State: RollbackPending}

	outcome.State = RollbackValidatingAuthority
	if err := o.validateAuthority(req); err != nil {
		outcome.State = RollbackFailed
		outcome.Reason = err.Error()
		outcome.CompletedAt = time.Now().UTC()
		o.record(ctx, req, outcome)
		return outcome, err
	}

	if req.Scope == ScopeGradual && len(req.Canary) > o.cfg.MaxCanaryBatches && o.cfg.MaxCanaryBatches > 0 {
		outcome.State = RollbackFailed
		outcome.Reason = fmt.Sprintf("canary batch count %d exceeds maximum %d", len(req.Canary), o.cfg.MaxCanaryBatches)
		outcome.CompletedAt = time.Now().UTC()
		o.record(ctx, req, outcome)
		return outcome, services.NewAppError(services.CodeInvalidInput, outcome.Reason)
	}

	outcome.State = RollbackExecuting
	var failed, paused bool
	if req.Scope == ScopeGradual && len(req.Canary) > 0 {
		failed, paused = o.executeCanary(ctx, req, outcome)
	} else {
		failed = o.executeActions(ctx, req, outcome)
	}

	if paused {
		outcome.State = RollbackPaused
		outcome.CompletedAt = time.Now().UTC()
		o.mu.Lock()
		o.history[req.ID] = outcome
		o.mu.Unlock()
		o.record(ctx, req, outcome)
		return outcome, nil
	}

	outcome.State = RollbackVerifying
	outcome.CheckResults = make(map[string]bool)
	if err := o.verify(ctx, req, outcome); err != nil {
		outcome.State = RollbackFailed
		outcome.Reason = err.Error()
	} else if failed {
		outcome.State = RollbackFailed
		outcome.Reason = "one or more rollback actions failed"
	} else {
		outcome.State = RollbackCompleted
	}
	outcome.CompletedAt = time.Now().UTC()

	o.mu.Lock()
	o.history[req.ID] = outcome
	o.mu.Unlock()

	o.record(ctx, req, outcome)
	return outcome, nil
}

// Reverse re-enters the state machine to undo a completed reversible
// rollback. The reversal carries its own new request id.
func (o *RollbackOrchestrator) Reverse(ctx context.Context, original *RollbackRequest, reversal *RollbackRequest) (*RollbackOutcome, error) {
	o.mu.RLock()
	prior, ok := o.history[original.ID]
	o.mu.RUnlock()

	if !ok || prior.State != RollbackCompleted {
		return nil, services.NewAppError(services.CodeInvalidInput, "only a completed rollback can be reversed").
			WithContext("request_id", original.ID)
	}
	if !original.Reversible {
		return nil, services.NewAppError(services.CodeInvalidInput, "rollback was not marked reversible").
			WithContext("request_id", original.ID)
	}
	if reversal.ID == original.ID {
		return nil, services.NewAppError(services.CodeInvalidInput, "reversal requires a new request id")
	}

	reversal.ReversesID = original.ID
	outcome, err := o.Execute(ctx, reversal)
	if err == nil && outcome.State == RollbackCompleted {
		o.mu.Lock()
		prior.State = RollbackRolledForward
		o.mu.Unlock()
		o.audit.Record(ctx, services.AuditEntry{
			TenantID:     reversal.TenantID,
			Action:       models.ActionRollbackReversed,
			ResourceType: "rollback",
			ResourceID:   reversal.ID,
			Metadata: map[string]interface{}{
				"reverses_id": original.ID,
			},
			Source:  models.AuditSourceSystem,
			Outcome: models.OutcomeSuccess,
		})
	}
	return outcome, err
}

// Outcome returns the recorded outcome for an executed request id
func (o *RollbackOrchestrator) Outcome(requestID string) (*RollbackOutcome, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	outcome, ok := o.history[requestID]
	return outcome, ok
}

func (o *RollbackOrchestrator) validateAuthority(req *RollbackRequest) error {
	for _, role := range o.cfg.AuthorizedRoles {
		if role == req.RequestorRole {
			return nil
		}
	}
	return services.NewAppError(services.CodeInvalidInput, "requestor role is not authorized for rollback").
		WithContext("role", req.RequestorRole)
}

func (o *RollbackOrchestrator) executeActions(ctx context.Context, req *RollbackRequest, outcome *RollbackOutcome) bool {
	failed := false
	for _, action := range req.Actions {
		result := o.runAction(ctx, req, action)
		if !result.Success {
			failed = true
		}
		outcome.ActionResults = append(outcome.ActionResults, result)
	}
	return failed
}

// executeCanary runs the action list once per canary batch, stopping when a
// batch misses its minimum success rate. Returns (any action failed, paused).
func (o *RollbackOrchestrator) executeCanary(ctx context.Context, req *RollbackRequest, outcome *RollbackOutcome) (bool, bool) {
	failed := false
	for i, batch := range req.Canary {
		start := len(outcome.ActionResults)
		for _, action := range req.Actions {
			staged := action
			params := make(map[string]interface{}, len(action.Params)+2)
			for k, v := range action.Params {
				params[k] = v
			}
			params["canary_batch"] = i + 1
			params["canary_percentage"] = batch.Percentage
			staged.Params = params

			result := o.runAction(ctx, req, staged)
			if !result.Success {
				failed = true
			}
			outcome.ActionResults = append(outcome.ActionResults, result)
		}

		batchResults := outcome.ActionResults[start:]
		successes := 0
		for _, r := range batchResults {
			if r.Success {
				successes++
			}
		}
		rate := 1.0
		if len(batchResults) > 0 {
			rate = float64(successes) / float64(len(batchResults))
		}
		if rate < batch.MinSuccessRate {
			outcome.Reason = fmt.Sprintf("canary batch %d success rate %.2f below minimum %.2f", i+1, rate, batch.MinSuccessRate)
			o.logger.WithFields(logrus.Fields{
				"request_id":   req.ID,
				"canary_batch": i + 1,
				"success_rate": rate,
			}).Warn("Rollback paused, canary batch below minimum success rate")
			return failed, true
		}
	}
	return failed, false
}

func (o *RollbackOrchestrator) runAction(ctx context.Context, req *RollbackRequest, action RollbackAction) ActionResult {
	o.mu.RLock()
	handler, ok := o.handlers[action.Name]
	o.mu.RUnlock()

	result := ActionResult{Action: action.Name}
	if !ok {
		result.Error = "no handler registered"
	} else if err := handler(ctx, req, action); err != nil {
		result.Error = err.Error()
		o.logger.WithFields(logrus.Fields{
			"request_id": req.ID,
			"action":     action.Name,
		}).WithError(err).Error("Rollback action failed, continuing remaining actions")
	} else {
		result.Success = true
	}
	return result
}

func (o *RollbackOrchestrator) verify(ctx context.Context, req *RollbackRequest, outcome *RollbackOutcome) error {
	for _, name := range o.cfg.VerificationChecks {
		o.mu.RLock()
		check, ok := o.checks[name]
		o.mu.RUnlock()
		if !ok {
			outcome.CheckResults[name] = false
			return fmt.Errorf("verification check %q is not registered", name)
		}
		if err := check(ctx, req); err != nil {
			outcome.CheckResults[name] = false
			return fmt.Errorf("verification check %q failed: %w", name, err)
		}
		outcome.CheckResults[name] = true
	}
	return nil
}

func (o *RollbackOrchestrator) record(ctx context.Context, req *RollbackRequest, outcome *RollbackOutcome) {
	result := models.OutcomeSuccess
	if outcome.State != RollbackCompleted {
		result = models.OutcomeFailure
	}
	o.audit.Record(ctx, services.AuditEntry{
		TenantID:     req.TenantID,
		Action:       models.ActionRollbackExecuted,
		ResourceType: "rollback",
		ResourceID:   req.ID,
		Metadata: map[string]interface{}{
			"scope":      req.Scope,
			"state":      outcome.State,
			"reversible": req.Reversible,
			"reason":     outcome.Reason,
		},
		Source:  models.AuditSourceSystem,
		Outcome: result,
	})
}
