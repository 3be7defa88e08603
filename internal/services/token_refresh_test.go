package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/crypto"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

// scriptedExchanger fails or succeeds on demand and counts external calls.
type scriptedExchanger struct {
	calls int
	err   error
	fresh *TokenPayload
}

func (e *scriptedExchanger) Exchange(ctx context.Context, sourceType string, payload TokenPayload) (*TokenPayload, *time.Time, bool, error) {
	e.calls++
	if e.err != nil {
		return nil, nil, false, e.err
	}
	expires := time.Now().UTC().Add(55 * time.Minute)
	return e.fresh, &expires, false, nil
}

type refreshFixture struct {
	manager   *TokenManager
	vault     *VaultService
	creds     *stubCredentialRepo
	exchanger *scriptedExchanger
	audit     *stubAuditRepo
}

func newRefreshFixture(t *testing.T, exchanger *scriptedExchanger) *refreshFixture {
	t.Helper()
	keys, err := crypto.NewAESKeyService("test-master-key", "test-salt")
	assert.NoError(t, err)

	creds := newStubCredentialRepo()
	audit, auditRepo := newTestAudit()
	vault := NewVaultService(creds, keys, audit, silentLogger())
	manager := NewTokenManager(creds, vault, exchanger, audit, silentLogger(), config.RefreshConfig{
		ProactiveWindowHours: 24,
		AttemptTimeoutSec:    30,
	})
	return &refreshFixture{manager: manager, vault: vault, creds: creds, exchanger: exchanger, audit: auditRepo}
}

func (f *refreshFixture) storeCredential(t *testing.T, tenantID uuid.UUID, sourceType string) *models.ConnectorCredential {
	t.Helper()
	expires := time.Now().UTC().Add(12 * time.Hour)
	cred, err := f.vault.Store(context.Background(), tenantID, nil, sourceType, TokenPayload{
		AccessToken:  "at_live",
		RefreshToken: "rt_live",
	}, &expires)
	assert.NoError(t, err)
	return cred
}

// rewindLastRefresh moves the last attempt far enough back that the backoff
// schedule permits the next one.
func (f *refreshFixture) rewindLastRefresh(credID uuid.UUID, ago time.Duration) {
	cred := f.creds.get(credID)
	past := time.Now().UTC().Add(-ago)
	cred.LastRefreshAt = &past
}

func countActions(actions []models.AuditAction, want models.AuditAction) int {
	n := 0
	for _, action := range actions {
		if action == want {
			n++
		}
	}
	return n
}

func TestRefreshExhaustionMarksExpired(t *testing.T) {
	exchanger := &scriptedExchanger{err: errors.New("temporarily_unavailable")}
	f := newRefreshFixture(t, exchanger)
	tenantID := uuid.New()
	cred := f.storeCredential(t, tenantID, models.SourceGoogle)
	ctx := context.Background()

	// First retryable failure increments the counter but keeps the
	// credential alive.
	outcome, err := f.manager.Refresh(ctx, tenantID, cred.ID)
	assert.NoError(t, err)
	assert.Equal(t, RefreshOutcomeRetryable, outcome)
	assert.Equal(t, 1, f.creds.get(cred.ID).RefreshErrorCount)
	assert.Equal(t, models.CredentialActive, f.creds.get(cred.ID).Status)

	// An immediate retry is refused by the backoff schedule and does not
	// reach the platform.
	outcome, err = f.manager.Refresh(ctx, tenantID, cred.ID)
	assert.Error(t, err)
	assert.Equal(t, RefreshOutcomeBackoff, outcome)
	assert.Equal(t, 1, f.creds.get(cred.ID).RefreshErrorCount)
	assert.Equal(t, 1, exchanger.calls)

	// Second failure after the backoff window.
	f.rewindLastRefresh(cred.ID, 6*time.Minute)
	outcome, err = f.manager.Refresh(ctx, tenantID, cred.ID)
	assert.NoError(t, err)
	assert.Equal(t, RefreshOutcomeRetryable, outcome)
	assert.Equal(t, 2, f.creds.get(cred.ID).RefreshErrorCount)

	// Third failure exhausts the budget; the credential expires even though
	// the error class is retryable.
	f.rewindLastRefresh(cred.ID, 31*time.Minute)
	outcome, err = f.manager.Refresh(ctx, tenantID, cred.ID)
	assert.NoError(t, err)
	assert.Equal(t, RefreshOutcomePermanent, outcome)
	assert.Equal(t, 3, f.creds.get(cred.ID).RefreshErrorCount)
	assert.Equal(t, models.CredentialExpired, f.creds.get(cred.ID).Status)
	assert.Equal(t, 3, exchanger.calls)

	// A later attempt fails fast without an external call.
	outcome, err = f.manager.Refresh(ctx, tenantID, cred.ID)
	assert.True(t, IsCode(err, CodeCredentialRevoked))
	assert.Equal(t, RefreshOutcomePermanent, outcome)
	assert.Equal(t, 3, exchanger.calls)

	// Sync consumers reading through the vault fail before any platform use.
	_, err = f.vault.Retrieve(ctx, tenantID, cred.ID)
	assert.True(t, IsCode(err, CodeCredentialRevoked))

	actions := f.audit.actions()
	assert.Equal(t, 3, countActions(actions, models.ActionCredentialRefreshFailed))
	assert.Equal(t, 1, countActions(actions, models.ActionCredentialExpired))
}

func TestRefreshPermanentErrorExpiresImmediately(t *testing.T) {
	exchanger := &scriptedExchanger{err: NewPermanentRefreshError(errors.New("invalid_grant"))}
	f := newRefreshFixture(t, exchanger)
	tenantID := uuid.New()
	cred := f.storeCredential(t, tenantID, models.SourceGoogle)

	outcome, err := f.manager.Refresh(context.Background(), tenantID, cred.ID)
	assert.NoError(t, err)
	assert.Equal(t, RefreshOutcomePermanent, outcome)
	assert.Equal(t, models.CredentialExpired, f.creds.get(cred.ID).Status)
	assert.Equal(t, 1, exchanger.calls)
}

func TestRefreshSuccessResetsErrorState(t *testing.T) {
	exchanger := &scriptedExchanger{fresh: &TokenPayload{
		AccessToken:  "at_rotated",
		RefreshToken: "rt_rotated",
	}}
	f := newRefreshFixture(t, exchanger)
	tenantID := uuid.New()
	cred := f.storeCredential(t, tenantID, models.SourceGoogle)

	// Seed prior failures so the reset is observable.
	stored := f.creds.get(cred.ID)
	stored.RefreshErrorCount = 2
	stored.LastRefreshError = "temporarily_unavailable"
	f.rewindLastRefresh(cred.ID, 31*time.Minute)

	outcome, err := f.manager.Refresh(context.Background(), tenantID, cred.ID)
	assert.NoError(t, err)
	assert.Equal(t, RefreshOutcomeRefreshed, outcome)

	after := f.creds.get(cred.ID)
	assert.Equal(t, 0, after.RefreshErrorCount)
	assert.Empty(t, after.LastRefreshError)
	assert.NotNil(t, after.TokenExpiresAt)

	payload, err := f.vault.Retrieve(context.Background(), tenantID, cred.ID)
	assert.NoError(t, err)
	assert.Equal(t, "at_rotated", payload.AccessToken)
	assert.Contains(t, f.audit.actions(), models.ActionCredentialRefreshed)
}

func TestRefreshCrossTenantDenied(t *testing.T) {
	f := newRefreshFixture(t, &scriptedExchanger{})
	cred := f.storeCredential(t, uuid.New(), models.SourceGoogle)

	_, err := f.manager.Refresh(context.Background(), uuid.New(), cred.ID)
	assert.True(t, IsCode(err, CodeCrossTenantDenied))
	assert.Equal(t, 0, f.exchanger.calls)
}
