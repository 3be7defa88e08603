package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/metrics"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
)

// RefreshOutcome classifies the result of one refresh attempt
type RefreshOutcome string

const (
	RefreshOutcomeRefreshed      RefreshOutcome = "refreshed"
	RefreshOutcomeSkippedNoToken RefreshOutcome = "no_refresh_token"
	RefreshOutcomeSkippedNoOp    RefreshOutcome = "no_op"
	RefreshOutcomeBackoff        RefreshOutcome = "backoff"
	RefreshOutcomeRetryable      RefreshOutcome = "retryable_failure"
	RefreshOutcomePermanent      RefreshOutcome = "permanent_failure"
)

// maxRefreshErrors is the attempt budget before a credential is marked
// expired permanently.
const maxRefreshErrors = 3

// refreshBackoff is the minimum wait between attempts 1->2, 2->3 and after
// the third failure.
var refreshBackoff = []time.Duration{
	5 * time.Minute,
	30 * time.Minute,
	120 * time.Minute,
}

// TokenExchanger performs the platform-specific token exchange. Shopify
// offline tokens never rotate so the exchanger reports a no-op.
type TokenExchanger interface {
	// Exchange trades the current payload for a fresh one. A nil expiry means
	// the token does not expire. noop=true means the platform has nothing to
	// refresh.
	Exchange(ctx context.Context, sourceType string, payload TokenPayload) (fresh *TokenPayload, expiresAt *time.Time, noop bool, err error)
}

// permanentRefreshError marks an exchange failure that retrying cannot fix
// (invalid_grant, revoked app, deauthorized merchant).
type permanentRefreshError struct {
	cause error
}

func (e *permanentRefreshError) Error() string { return e.cause.Error() }
func (e *permanentRefreshError) Unwrap() error { return e.cause }

// NewPermanentRefreshError wraps an exchange failure as non-retryable
func NewPermanentRefreshError(cause error) error {
	return &permanentRefreshError{cause: cause}
}

// IsPermanentRefreshError checks whether a refresh failure is terminal
func IsPermanentRefreshError(err error) bool {
	var p *permanentRefreshError
	return errors.As(err, &p)
}

// TokenManager drives proactive and reactive credential refresh. All
// credential mutations run under a row-level lock; external exchanges go
// through a per-source circuit breaker.
type TokenManager struct {
	credentials repository.CredentialRepository
	vault       *VaultService
	exchanger   TokenExchanger
	audit       *AuditService
	logger      *logrus.Logger
	cfg         config.RefreshConfig

	breakers map[string]*gobreaker.CircuitBreaker
}

// NewTokenManager creates a new token manager
func NewTokenManager(
	credentials repository.CredentialRepository,
	vault *VaultService,
	exchanger TokenExchanger,
	audit *AuditService,
	logger *logrus.Logger,
	cfg config.RefreshConfig,
) *TokenManager {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, source := range []string{models.SourceShopify, models.SourceFacebook, models.SourceGoogle, models.SourceKlaviyo} {
		breakers[source] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "token-exchange-" + source,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     120 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return &TokenManager{
		credentials: credentials,
		vault:       vault,
		exchanger:   exchanger,
		audit:       audit,
		logger:      logger,
		cfg:         cfg,
		breakers:    breakers,
	}
}

// SweepExpiring finds active credentials expiring within the proactive window
// and attempts a refresh on each. The scheduler runs it periodically.
func (m *TokenManager) SweepExpiring(ctx context.Context) (int, error) {
	horizon := time.Now().UTC().Add(time.Duration(m.cfg.ProactiveWindowHours) * time.Hour)
	expiring, err := m.credentials.ListExpiring(ctx, horizon)
	if err != nil {
		return 0, fmt.Errorf("failed to list expiring credentials: %w", err)
	}

	refreshed := 0
	for _, cred := range expiring {
		outcome, err := m.Refresh(ctx, cred.TenantID, cred.ID)
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"tenant_id":     cred.TenantID,
				"credential_id": cred.ID,
				"outcome":       outcome,
			}).WithError(err).Warn("Proactive refresh attempt failed")
			continue
		}
		if outcome == RefreshOutcomeRefreshed {
			refreshed++
		}
	}
	m.logger.WithFields(logrus.Fields{
		"candidates": len(expiring),
		"refreshed":  refreshed,
	}).Info("Proactive token refresh sweep completed")
	return refreshed, nil
}

// Refresh attempts one refresh for a credential, enforcing the attempt budget
// and the backoff schedule. Reactive callers (sync auth failures) use the
// same path.
func (m *TokenManager) Refresh(ctx context.Context, tenantID, credentialID uuid.UUID) (RefreshOutcome, error) {
	outcome := RefreshOutcomeRetryable

	err := m.credentials.UpdateWithLock(ctx, credentialID, func(cred *models.ConnectorCredential) error {
		if cred.TenantID != tenantID {
			return NewAppError(CodeCrossTenantDenied, "credential belongs to another tenant")
		}
		if !cred.IsUsable() {
			outcome = RefreshOutcomePermanent
			return NewAppError(CodeCredentialRevoked, "credential is not usable").
				WithContext("status", cred.Status)
		}

		now := time.Now().UTC()

		if cred.RefreshErrorCount >= maxRefreshErrors {
			outcome = RefreshOutcomePermanent
			m.markExpired(ctx, cred, now)
			return NewAppError(CodeRefreshExhausted, "refresh attempt budget exhausted").
				WithContext("error_count", cred.RefreshErrorCount)
		}

		if wait, ok := m.backoffRemaining(cred, now); ok {
			outcome = RefreshOutcomeBackoff
			return NewAppError(CodeSyncFailed, "refresh attempt too soon").
				WithContext("retry_after", wait.String())
		}

		payload, err := m.vault.decrypt(cred.EncryptedPayload)
		if err != nil {
			outcome = RefreshOutcomePermanent
			return err
		}

		fresh, expiresAt, noop, err := m.exchange(ctx, cred.SourceType, *payload)
		if noop {
			outcome = RefreshOutcomeSkippedNoOp
			return nil
		}
		if err != nil {
			cred.RefreshErrorCount++
			cred.LastRefreshError = err.Error()
			cred.LastRefreshAt = &now

			if IsPermanentRefreshError(err) || cred.RefreshErrorCount >= maxRefreshErrors {
				outcome = RefreshOutcomePermanent
				m.markExpired(ctx, cred, now)
			} else {
				outcome = RefreshOutcomeRetryable
			}
			m.auditRefresh(ctx, cred, models.ActionCredentialRefreshFailed, outcome, err.Error())
			// The counter update must persist, so the failure is not returned
			// as a transaction error.
			return nil
		}

		if fresh.RefreshToken == "" {
			outcome = RefreshOutcomeSkippedNoToken
			return nil
		}

		encrypted, err := m.vault.encrypt(*fresh)
		if err != nil {
			outcome = RefreshOutcomeRetryable
			return fmt.Errorf("failed to encrypt refreshed payload: %w", err)
		}
		cred.EncryptedPayload = encrypted
		cred.TokenExpiresAt = expiresAt
		cred.LastRefreshAt = &now
		cred.RefreshErrorCount = 0
		cred.LastRefreshError = ""

		outcome = RefreshOutcomeRefreshed
		m.auditRefresh(ctx, cred, models.ActionCredentialRefreshed, outcome, "")
		return nil
	})

	metrics.TokenRefreshAttempts.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

// backoffRemaining reports how long the credential must still wait before the
// next attempt is allowed.
func (m *TokenManager) backoffRemaining(cred *models.ConnectorCredential, now time.Time) (time.Duration, bool) {
	if cred.RefreshErrorCount == 0 || cred.LastRefreshAt == nil {
		return 0, false
	}
	idx := cred.RefreshErrorCount - 1
	if idx >= len(refreshBackoff) {
		idx = len(refreshBackoff) - 1
	}
	nextAllowed := cred.LastRefreshAt.Add(refreshBackoff[idx])
	if now.Before(nextAllowed) {
		return nextAllowed.Sub(now), true
	}
	return 0, false
}

func (m *TokenManager) exchange(ctx context.Context, sourceType string, payload TokenPayload) (*TokenPayload, *time.Time, bool, error) {
	// No refresh token means the platform has nothing to exchange. Skipped,
	// not failed.
	if payload.RefreshToken == "" && sourceType != models.SourceShopify {
		return &payload, nil, false, nil
	}

	attemptCtx := ctx
	if m.cfg.AttemptTimeoutSec > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.AttemptTimeoutSec)*time.Second)
		defer cancel()
	}

	breaker, ok := m.breakers[sourceType]
	if !ok {
		fresh, expiresAt, noop, err := m.exchanger.Exchange(attemptCtx, sourceType, payload)
		return fresh, expiresAt, noop, err
	}

	type exchangeResult struct {
		payload   *TokenPayload
		expiresAt *time.Time
		noop      bool
	}
	res, err := breaker.Execute(func() (interface{}, error) {
		fresh, expiresAt, noop, err := m.exchanger.Exchange(attemptCtx, sourceType, payload)
		if err != nil {
			return nil, err
		}
		return &exchangeResult{payload: fresh, expiresAt: expiresAt, noop: noop}, nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	out := res.(*exchangeResult)
	return out.payload, out.expiresAt, out.noop, nil
}

func (m *TokenManager) markExpired(ctx context.Context, cred *models.ConnectorCredential, now time.Time) {
	if cred.Status == models.CredentialExpired {
		return
	}
	cred.Status = models.CredentialExpired
	m.audit.Record(ctx, AuditEntry{
		TenantID:     cred.TenantID,
		Action:       models.ActionCredentialExpired,
		ResourceType: "connector_credential",
		ResourceID:   cred.ID.String(),
		Metadata: map[string]interface{}{
			"source_type": cred.SourceType,
			"error_count": cred.RefreshErrorCount,
			"expired_at":  now,
		},
		Source:  models.AuditSourceWorker,
		Outcome: models.OutcomeFailure,
	})
}

func (m *TokenManager) auditRefresh(ctx context.Context, cred *models.ConnectorCredential, action models.AuditAction, outcome RefreshOutcome, errMsg string) {
	result := models.OutcomeSuccess
	if action == models.ActionCredentialRefreshFailed {
		result = models.OutcomeFailure
	}
	m.audit.Record(ctx, AuditEntry{
		TenantID:     cred.TenantID,
		Action:       action,
		ResourceType: "connector_credential",
		ResourceID:   cred.ID.String(),
		Metadata: map[string]interface{}{
			"source_type": cred.SourceType,
			"outcome":     outcome,
			"error":       errMsg,
			"error_count": cred.RefreshErrorCount,
		},
		Source:  models.AuditSourceWorker,
		Outcome: result,
	})
}
