package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
)

// RegisterConnectionInput is the request shape for registering a connection
type RegisterConnectionInput struct {
	ExternalConnectionID string                 `json:"external_connection_id"`
	SourceType           string                 `json:"source_type"`
	ConnectionName       string                 `json:"connection_name"`
	Configuration        map[string]interface{} `json:"configuration"`
	SyncFrequencyMinutes int                    `json:"sync_frequency_minutes"`
}

// ConnectionService manages connector connection lifecycle, including the
// cross-tenant duplicate-shop guard for Shopify sources.
type ConnectionService struct {
	connections repository.ConnectionRepository
	syncRuns    repository.SyncRunRepository
	vault       *VaultService
	freshness   *FreshnessService
	audit       *AuditService
	logger      *logrus.Logger
}

// NewConnectionService creates a new connection service
func NewConnectionService(
	connections repository.ConnectionRepository,
	syncRuns repository.SyncRunRepository,
	vault *VaultService,
	freshness *FreshnessService,
	audit *AuditService,
	logger *logrus.Logger,
) *ConnectionService {
	return &ConnectionService{
		connections: connections,
		syncRuns:    syncRuns,
		vault:       vault,
		freshness:   freshness,
		audit:       audit,
		logger:      logger,
	}
}

// Register creates a connection for a tenant. Shopify shop domains are
// normalized and checked for global uniqueness before insert; the database
// partial unique index backs the check.
func (s *ConnectionService) Register(ctx context.Context, tenantID uuid.UUID, userID *uuid.UUID, input RegisterConnectionInput) (*models.ConnectorConnection, error) {
	if input.ExternalConnectionID == "" || input.SourceType == "" {
		return nil, NewAppError(CodeInvalidInput, "external_connection_id and source_type are required")
	}

	if _, err := s.connections.GetByExternalID(ctx, tenantID, input.ExternalConnectionID); err == nil {
		return nil, NewAppError(CodeDuplicateConnection, "a connection with this external id already exists").
			WithContext("external_connection_id", input.ExternalConnectionID)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, WrapAppError(CodeInvalidInput, "failed to check existing connections", err)
	}

	shopDomain := ""
	if input.SourceType == models.SourceShopify {
		raw, _ := input.Configuration["shop_domain"].(string)
		if raw == "" {
			return nil, NewAppError(CodeInvalidInput, "shop_domain is required for Shopify connections")
		}
		shopDomain = models.NormalizeShopDomain(raw)
		input.Configuration["shop_domain"] = shopDomain

		if err := s.checkShopDomain(ctx, tenantID, userID, shopDomain); err != nil {
			return nil, err
		}
	}

	configJSON, err := json.Marshal(input.Configuration)
	if err != nil {
		return nil, WrapAppError(CodeInvalidInput, "invalid configuration", err)
	}

	frequency := input.SyncFrequencyMinutes
	if frequency <= 0 {
		frequency = 60
	}

	conn := &models.ConnectorConnection{
		TenantID:             tenantID,
		ExternalConnectionID: input.ExternalConnectionID,
		SourceType:           input.SourceType,
		ConnectionName:       input.ConnectionName,
		Configuration:        datatypes.JSON(configJSON),
		ShopDomain:           shopDomain,
		Status:               models.ConnectionActive,
		IsEnabled:            true,
		SyncFrequencyMinutes: frequency,
	}
	if err := s.connections.Create(ctx, conn); err != nil {
		// A concurrent registration can race past the precheck and hit the
		// partial unique index instead.
		return nil, WrapAppError(CodeDuplicateShopDomain, "connection could not be registered", err)
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		UserID:       userID,
		Action:       models.ActionConnectionRegistered,
		ResourceType: "connector_connection",
		ResourceID:   conn.ID.String(),
		Metadata: map[string]interface{}{
			"source_type":            conn.SourceType,
			"external_connection_id": conn.ExternalConnectionID,
			"shop_domain":            shopDomain,
		},
		Source:  models.AuditSourceAPI,
		Outcome: models.OutcomeSuccess,
	})
	return conn, nil
}

// checkShopDomain enforces global shop-domain uniqueness. Cross-tenant hits
// are treated as security events; the caller-facing error never names the
// owning tenant.
func (s *ConnectionService) checkShopDomain(ctx context.Context, tenantID uuid.UUID, userID *uuid.UUID, normalizedDomain string) error {
	existing, err := s.connections.FindActiveByShopDomain(ctx, normalizedDomain)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return WrapAppError(CodeInvalidInput, "failed to check shop domain", err)
	}

	if existing.TenantID == tenantID {
		return NewAppError(CodeDuplicateShopDomain,
			"this store is already connected to your workspace; disconnect it first to reconnect").
			WithContext("shop_domain", normalizedDomain)
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		UserID:       userID,
		Action:       models.ActionDuplicateShopBlocked,
		ResourceType: "connector_connection",
		ResourceID:   normalizedDomain,
		Metadata: map[string]interface{}{
			"severity":          "critical",
			"shop_domain":       normalizedDomain,
			"requesting_tenant": tenantID.String(),
			"owning_tenant":     existing.TenantID.String(),
		},
		Source:  models.AuditSourceAPI,
		Outcome: models.OutcomeDenied,
	})
	s.logger.WithFields(logrus.Fields{
		"shop_domain":       normalizedDomain,
		"requesting_tenant": tenantID,
	}).Warn("Cross-tenant shop domain registration blocked")

	// No owner disclosure in the user-facing message.
	return NewAppError(CodeDuplicateShopDomain, "this store is already connected to another account").
		WithContext("shop_domain", normalizedDomain)
}

// Disconnect disables a connection and revokes its credentials
func (s *ConnectionService) Disconnect(ctx context.Context, tenantID, connectionID uuid.UUID, userID *uuid.UUID) error {
	conn, err := s.connections.GetByID(ctx, tenantID, connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NewAppError(CodeNotFound, "connection not found")
		}
		return WrapAppError(CodeNotFound, "failed to load connection", err)
	}
	if conn.Status == models.ConnectionDeleted {
		return nil
	}

	conn.Status = models.ConnectionDeleted
	conn.IsEnabled = false
	// Clearing the domain releases the partial unique index slot so the store
	// can reconnect elsewhere.
	conn.ShopDomain = ""
	if err := s.connections.Update(ctx, conn); err != nil {
		return WrapAppError(CodeInvalidInput, "failed to disconnect connection", err)
	}

	revoked, err := s.vault.RevokeForConnection(ctx, tenantID, connectionID, models.RevocationUserDisconnect)
	if err != nil {
		s.logger.WithField("tenant_id", tenantID).WithError(err).Error("Credential revocation during disconnect failed")
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		UserID:       userID,
		Action:       models.ActionConnectionDisconnected,
		ResourceType: "connector_connection",
		ResourceID:   connectionID.String(),
		Metadata: map[string]interface{}{
			"source_type":         conn.SourceType,
			"credentials_revoked": revoked,
		},
		Source:  models.AuditSourceAPI,
		Outcome: models.OutcomeSuccess,
	})
	return nil
}

// SetEnabled pauses or resumes syncing for a connection without touching its
// credentials. Deleted connections cannot be re-enabled.
func (s *ConnectionService) SetEnabled(ctx context.Context, tenantID, connectionID uuid.UUID, userID *uuid.UUID, enabled bool) error {
	conn, err := s.connections.GetByID(ctx, tenantID, connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NewAppError(CodeNotFound, "connection not found")
		}
		return WrapAppError(CodeNotFound, "failed to load connection", err)
	}
	if conn.Status == models.ConnectionDeleted {
		return NewAppError(CodeInvalidInput, "connection has been deleted")
	}
	if conn.IsEnabled == enabled {
		return nil
	}

	conn.IsEnabled = enabled
	if err := s.connections.Update(ctx, conn); err != nil {
		return WrapAppError(CodeInvalidInput, "failed to update connection", err)
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		UserID:       userID,
		Action:       models.ActionConnectionToggled,
		ResourceType: "connector_connection",
		ResourceID:   connectionID.String(),
		Metadata: map[string]interface{}{
			"source_type": conn.SourceType,
			"enabled":     enabled,
		},
		Source:  models.AuditSourceAPI,
		Outcome: models.OutcomeSuccess,
	})
	return nil
}

// List returns the tenant's connections, deleted ones excluded
func (s *ConnectionService) List(ctx context.Context, tenantID uuid.UUID) ([]models.ConnectorConnection, error) {
	conns, err := s.connections.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, WrapAppError(CodeNotFound, "failed to list connections", err)
	}
	return conns, nil
}

// Get returns one connection scoped to the tenant
func (s *ConnectionService) Get(ctx context.Context, tenantID, connectionID uuid.UUID) (*models.ConnectorConnection, error) {
	conn, err := s.connections.GetByID(ctx, tenantID, connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewAppError(CodeNotFound, "connection not found")
		}
		return nil, WrapAppError(CodeNotFound, "failed to load connection", err)
	}
	return conn, nil
}

// RecordSyncResult appends a sync run to the history and updates the
// denormalized sync state on the connection. A completed run triggers an
// immediate freshness re-evaluation so recoveries are not delayed until the
// next sweep.
func (s *ConnectionService) RecordSyncResult(ctx context.Context, tenantID, connectionID uuid.UUID, status models.SyncRunStatus, rowsSynced int64, errMsg string) error {
	now := time.Now().UTC()

	run := &models.SyncRun{
		TenantID:     tenantID,
		ConnectorID:  connectionID,
		Status:       status,
		StartedAt:    now,
		RowsSynced:   rowsSynced,
		ErrorMessage: errMsg,
	}
	if status != models.SyncRunning {
		run.CompletedAt = &now
	}
	if err := s.syncRuns.Create(ctx, run); err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}

	if err := s.connections.UpdateSyncState(ctx, tenantID, connectionID, now, status); err != nil {
		return fmt.Errorf("failed to record sync state: %w", err)
	}

	if s.freshness != nil && status != models.SyncRunning {
		conn, err := s.connections.GetByID(ctx, tenantID, connectionID)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"tenant_id":     tenantID,
				"connection_id": connectionID,
			}).WithError(err).Warn("Freshness re-evaluation skipped, connection reload failed")
			return nil
		}
		if _, err := s.freshness.EvaluateConnection(ctx, conn, false); err != nil {
			s.logger.WithFields(logrus.Fields{
				"tenant_id":     tenantID,
				"connection_id": connectionID,
			}).WithError(err).Warn("Freshness re-evaluation after sync failed")
		}
	}
	return nil
}
