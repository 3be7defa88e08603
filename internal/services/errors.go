package services

import (
	"errors"
	"fmt"
)

// Error codes surfaced to callers. The transport maps these onto protocol
// statuses; merchant-facing messages stay sanitized and support details ride
// in Context.
const (
	// Client / authorization
	CodeAuthRequired          = "auth_required"
	CodeTenantRequired        = "tenant_required"
	CodeTenantNotFound        = "tenant_not_found"
	CodeTenantSuspended       = "tenant_suspended"
	CodeCrossTenantDenied     = "cross_tenant_denied"
	CodeAccessRevoked         = "access_revoked"
	CodeUserInactive          = "user_inactive"
	CodeBillingRoleNotAllowed = "billing_role_not_allowed"
	CodeEntitlementDenied     = "entitlement_denied"
	CodePaymentRequired       = "payment_required"

	// State conflicts
	CodeDuplicateConnection    = "duplicate_connection"
	CodeDuplicateShopDomain    = "duplicate_shop_domain"
	CodeDashboardNameConflict  = "dashboard_name_conflict"
	CodeOptimisticLockConflict = "optimistic_lock_conflict"
	CodeDashboardLimitExceeded = "dashboard_limit_exceeded"

	// Integrity / fail-closed
	CodeEntitlementEvalFailed = "entitlement_eval_failed"
	CodeSchemaIncompatible    = "schema_incompatible"
	CodeGuardrailViolation    = "guardrail_violation"
	CodeMetricSunset          = "metric_sunset"

	// Operational
	CodeSyncFailed        = "sync_failed"
	CodeAccountNotFound   = "account_not_found"
	CodeCredentialRevoked = "credential_revoked"
	CodeRefreshExhausted  = "refresh_exhausted"
	CodeNotFound          = "not_found"
	CodeInvalidInput      = "invalid_input"

	// Recoverable infrastructure (never user-visible)
	CodeCacheUnavailable = "cache_unavailable"
	CodeAuditWriteFailed = "audit_write_failed"
)

// AppError is the structured error shape every service returns. Message is
// safe to show a merchant; Context carries machine-readable detail for the
// client and for support triage.
type AppError struct {
	Code    string                 `json:"error_code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithContext attaches a context key without mutating shared errors
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	out := &AppError{Code: e.Code, Message: e.Message, cause: e.cause}
	out.Context = make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		out.Context[k] = v
	}
	out.Context[key] = value
	return out
}

// NewAppError creates a new application error
func NewAppError(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// WrapAppError creates an application error wrapping an underlying cause
func WrapAppError(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, cause: cause}
}

// AsAppError extracts an AppError from an error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode checks whether an error carries the given code
func IsCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// NewEvalFailed wraps any internal resolution failure into the fail-closed
// entitlement error. It must always render as a retryable server-side
// failure, never as an allow.
func NewEvalFailed(cause error) *AppError {
	return WrapAppError(CodeEntitlementEvalFailed, "entitlement resolution failed", cause)
}
