package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
)

// IncidentService manages the data-quality incident lifecycle:
// open -> acknowledged -> resolved | auto_resolved.
type IncidentService struct {
	incidents repository.IncidentRepository
	audit     *AuditService
	logger    *logrus.Logger
}

// NewIncidentService creates a new incident service
func NewIncidentService(incidents repository.IncidentRepository, audit *AuditService, logger *logrus.Logger) *IncidentService {
	return &IncidentService{incidents: incidents, audit: audit, logger: logger}
}

// Open creates an incident for a connector unless one is already open, in
// which case the open incident is returned unchanged.
func (s *IncidentService) Open(ctx context.Context, tenantID, connectorID uuid.UUID, severity models.IncidentSeverity, title, merchantMessage, supportDetails string) (*models.DQIncident, error) {
	existing, err := s.incidents.GetOpenByConnector(ctx, tenantID, connectorID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check open incidents: %w", err)
	}

	incident := &models.DQIncident{
		TenantID:        tenantID,
		ConnectorID:     connectorID,
		Severity:        severity,
		Status:          models.IncidentOpen,
		Title:           title,
		MerchantMessage: merchantMessage,
		SupportDetails:  supportDetails,
		IsBlocking:      severity == models.SeverityCritical,
		OpenedAt:        time.Now().UTC(),
	}
	if err := s.incidents.Create(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		Action:       models.ActionIncidentOpened,
		ResourceType: "dq_incident",
		ResourceID:   incident.ID.String(),
		Metadata: map[string]interface{}{
			"connector_id": connectorID.String(),
			"severity":     severity,
			"is_blocking":  incident.IsBlocking,
			"title":        title,
		},
		Source:  models.AuditSourceWorker,
		Outcome: models.OutcomeSuccess,
	})
	return incident, nil
}

// Acknowledge moves an open incident to acknowledged
func (s *IncidentService) Acknowledge(ctx context.Context, tenantID, incidentID uuid.UUID, userID *uuid.UUID) error {
	incident, err := s.get(ctx, tenantID, incidentID)
	if err != nil {
		return err
	}
	if incident.Status != models.IncidentOpen {
		return nil
	}
	now := time.Now().UTC()
	incident.Status = models.IncidentAcknowledged
	incident.AcknowledgedAt = &now
	if err := s.incidents.Update(ctx, incident); err != nil {
		return WrapAppError(CodeInvalidInput, "failed to acknowledge incident", err)
	}
	return nil
}

// Resolve closes an incident. Resolving an already-resolved incident is a
// no-op; auto=true records auto_resolved for scheduler-driven closure.
func (s *IncidentService) Resolve(ctx context.Context, tenantID, incidentID uuid.UUID, userID *uuid.UUID, auto bool) error {
	incident, err := s.get(ctx, tenantID, incidentID)
	if err != nil {
		return err
	}
	if !incident.IsOpen() {
		return nil
	}

	now := time.Now().UTC()
	incident.Status = models.IncidentResolved
	if auto {
		incident.Status = models.IncidentAutoResolved
	}
	incident.ResolvedAt = &now
	if err := s.incidents.Update(ctx, incident); err != nil {
		return WrapAppError(CodeInvalidInput, "failed to resolve incident", err)
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		UserID:       userID,
		Action:       models.ActionIncidentResolved,
		ResourceType: "dq_incident",
		ResourceID:   incidentID.String(),
		Metadata: map[string]interface{}{
			"auto":     auto,
			"severity": incident.Severity,
		},
		Source:  models.AuditSourceWorker,
		Outcome: models.OutcomeSuccess,
	})
	return nil
}

// ListOpen returns all open or acknowledged incidents for a tenant
func (s *IncidentService) ListOpen(ctx context.Context, tenantID uuid.UUID) ([]models.DQIncident, error) {
	incidents, err := s.incidents.ListOpen(ctx, tenantID)
	if err != nil {
		return nil, WrapAppError(CodeNotFound, "failed to list incidents", err)
	}
	return incidents, nil
}

// BlockBanner derives the deterministic dashboard banner for a blocking
// incident: scope and ETA strings are pure functions of severity and source.
func BlockBanner(severity models.IncidentSeverity, sourceName string) (scope, eta string) {
	switch severity {
	case models.SeverityCritical:
		return fmt.Sprintf("All %s metrics are affected", sourceName), "Resolution expected within 4 hours"
	case models.SeverityHigh:
		return fmt.Sprintf("Recent %s data may be incomplete", sourceName), "Resolution expected within 12 hours"
	default:
		return fmt.Sprintf("Some %s data is delayed", sourceName), "Resolution expected within 24 hours"
	}
}

func (s *IncidentService) get(ctx context.Context, tenantID, incidentID uuid.UUID) (*models.DQIncident, error) {
	incident, err := s.incidents.GetByID(ctx, tenantID, incidentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewAppError(CodeNotFound, "incident not found")
		}
		return nil, WrapAppError(CodeNotFound, "failed to load incident", err)
	}
	return incident, nil
}
