package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/crypto"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
)

// TokenPayload is the decrypted shape of stored credential material
type TokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// VaultService owns encrypted credential material. Plaintext only exists in
// memory between decrypt and use; it never reaches logs or audit metadata.
type VaultService struct {
	credentials repository.CredentialRepository
	keys        crypto.KeyService
	audit       *AuditService
	logger      *logrus.Logger
}

// NewVaultService creates a new vault service
func NewVaultService(
	credentials repository.CredentialRepository,
	keys crypto.KeyService,
	audit *AuditService,
	logger *logrus.Logger,
) *VaultService {
	return &VaultService{
		credentials: credentials,
		keys:        keys,
		audit:       audit,
		logger:      logger,
	}
}

// Store encrypts and persists a token payload for a tenant's source
func (s *VaultService) Store(ctx context.Context, tenantID uuid.UUID, connectionID *uuid.UUID, sourceType string, payload TokenPayload, expiresAt *time.Time) (*models.ConnectorCredential, error) {
	encrypted, err := s.encrypt(payload)
	if err != nil {
		return nil, WrapAppError(CodeInvalidInput, "failed to encrypt credential", err)
	}

	cred := &models.ConnectorCredential{
		TenantID:         tenantID,
		ConnectionID:     connectionID,
		SourceType:       sourceType,
		EncryptedPayload: encrypted,
		Status:           models.CredentialActive,
		TokenExpiresAt:   expiresAt,
	}
	if err := s.credentials.Create(ctx, cred); err != nil {
		return nil, WrapAppError(CodeInvalidInput, "failed to store credential", err)
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		Action:       models.ActionCredentialStored,
		ResourceType: "connector_credential",
		ResourceID:   cred.ID.String(),
		Metadata: map[string]interface{}{
			"source_type":      sourceType,
			"token_expires_at": expiresAt,
		},
		Source:  models.AuditSourceAPI,
		Outcome: models.OutcomeSuccess,
	})
	return cred, nil
}

// Retrieve decrypts a credential under the given tenant context. Revoked,
// expired or soft-deleted credentials fail fast.
func (s *VaultService) Retrieve(ctx context.Context, tenantID, credentialID uuid.UUID) (*TokenPayload, error) {
	cred, err := s.credentials.GetByID(ctx, tenantID, credentialID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, NewAppError(CodeNotFound, "credential not found")
		}
		return nil, WrapAppError(CodeNotFound, "failed to load credential", err)
	}
	if !cred.IsUsable() {
		return nil, NewAppError(CodeCredentialRevoked, "credential is not usable").
			WithContext("status", cred.Status)
	}
	return s.decrypt(cred.EncryptedPayload)
}

// Revoke marks a credential revoked immediately. Consumers must check status
// before use, so revocation takes effect on the next read.
func (s *VaultService) Revoke(ctx context.Context, tenantID, credentialID uuid.UUID, reason models.RevocationReason) error {
	err := s.credentials.UpdateWithLock(ctx, credentialID, func(cred *models.ConnectorCredential) error {
		if cred.TenantID != tenantID {
			return NewAppError(CodeCrossTenantDenied, "credential belongs to another tenant")
		}
		if cred.Status == models.CredentialRevoked {
			return nil
		}
		now := time.Now().UTC()
		cred.Status = models.CredentialRevoked
		cred.RevokedAt = &now
		cred.RevocationReason = reason
		return nil
	})
	if err != nil {
		if appErr, ok := AsAppError(err); ok {
			return appErr
		}
		return WrapAppError(CodeNotFound, "failed to revoke credential", err)
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		Action:       models.ActionCredentialRevoked,
		ResourceType: "connector_credential",
		ResourceID:   credentialID.String(),
		Metadata: map[string]interface{}{
			"revocation_reason": reason,
		},
		Source:  models.AuditSourceAPI,
		Outcome: models.OutcomeSuccess,
	})
	return nil
}

// RevokeForConnection revokes the usable credentials bound to one connection.
// Credentials for the tenant's other connections are untouched.
func (s *VaultService) RevokeForConnection(ctx context.Context, tenantID, connectionID uuid.UUID, reason models.RevocationReason) (int, error) {
	creds, err := s.credentials.ListByTenant(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list credentials: %w", err)
	}

	revoked := 0
	for _, cred := range creds {
		if cred.ConnectionID == nil || *cred.ConnectionID != connectionID {
			continue
		}
		if !cred.IsUsable() {
			continue
		}
		if err := s.Revoke(ctx, tenantID, cred.ID, reason); err != nil {
			s.logger.WithFields(logrus.Fields{
				"tenant_id":     tenantID,
				"connection_id": connectionID,
				"credential_id": cred.ID,
			}).WithError(err).Error("Failed to revoke credential during connection disconnect")
			continue
		}
		revoked++
	}
	return revoked, nil
}

// RevokeAllForTenant revokes every usable credential in the tenant scope.
// Used for security events and tenant offboarding.
func (s *VaultService) RevokeAllForTenant(ctx context.Context, tenantID uuid.UUID, reason models.RevocationReason) (int, error) {
	creds, err := s.credentials.ListByTenant(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list credentials: %w", err)
	}

	revoked := 0
	for _, cred := range creds {
		if !cred.IsUsable() {
			continue
		}
		if err := s.Revoke(ctx, tenantID, cred.ID, reason); err != nil {
			s.logger.WithFields(logrus.Fields{
				"tenant_id":     tenantID,
				"credential_id": cred.ID,
			}).WithError(err).Error("Failed to revoke credential during tenant-wide revocation")
			continue
		}
		revoked++
	}
	return revoked, nil
}

func (s *VaultService) encrypt(payload TokenPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return s.keys.Encrypt(data)
}

func (s *VaultService) decrypt(ciphertext string) (*TokenPayload, error) {
	data, err := s.keys.Decrypt(ciphertext)
	if err != nil {
		return nil, WrapAppError(CodeCredentialRevoked, "failed to decrypt credential", err)
	}
	var payload TokenPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, WrapAppError(CodeCredentialRevoked, "failed to decode credential payload", err)
	}
	return &payload, nil
}
