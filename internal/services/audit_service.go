package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/metrics"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/nats"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
)

// AuditEntry is what callers hand the audit service. The service redacts
// metadata, stamps the timestamp and picks the write path.
type AuditEntry struct {
	TenantID      uuid.UUID
	UserID        *uuid.UUID
	Action        models.AuditAction
	ResourceType  string
	ResourceID    string
	Metadata      map[string]interface{}
	CorrelationID string
	Source        models.AuditSource
	Outcome       models.AuditOutcome
	ErrorCode     string
	IPAddress     string
	UserAgent     string
}

// AuditService writes append-only audit records. A failed primary write falls
// back to the event bus and the structured log; recording never fails the
// caller's operation.
type AuditService struct {
	repo      repository.AuditRepository
	publisher *nats.Publisher
	logger    *logrus.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(repo repository.AuditRepository, publisher *nats.Publisher, logger *logrus.Logger) *AuditService {
	return &AuditService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
	}
}

// Record writes one audit record. Metadata is redacted before persistence so
// tokens and raw PII never reach the log. Errors are swallowed after the
// fallback path runs.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) {
	record := s.buildRecord(entry)

	if err := s.repo.Create(ctx, record); err != nil {
		metrics.AuditFallbackWrites.Inc()
		s.logger.WithFields(logrus.Fields{
			"tenant_id":      entry.TenantID,
			"action":         entry.Action,
			"outcome":        entry.Outcome,
			"correlation_id": entry.CorrelationID,
		}).WithError(err).Error("Audit write failed, using fallback channel")

		s.fallback(ctx, record)
	}

	if record.IsDenial() {
		s.logger.WithFields(logrus.Fields{
			"tenant_id": entry.TenantID,
			"action":    entry.Action,
			"resource":  entry.ResourceType,
		}).Warn("Denied action audited")
	}
}

// RecordDenial is a shorthand for denied-request audits
func (s *AuditService) RecordDenial(ctx context.Context, entry AuditEntry) {
	entry.Outcome = models.OutcomeDenied
	s.Record(ctx, entry)
}

// ListByTenant returns recent audit records for a tenant
func (s *AuditService) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AuditRecord, error) {
	records, err := s.repo.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return nil, WrapAppError(CodeNotFound, "failed to list audit records", err)
	}
	return records, nil
}

func (s *AuditService) buildRecord(entry AuditEntry) *models.AuditRecord {
	redacted := RedactMetadata(entry.Metadata)

	var metadataJSON datatypes.JSON
	if redacted != nil {
		if data, err := json.Marshal(redacted); err == nil {
			metadataJSON = datatypes.JSON(data)
		}
	}

	return &models.AuditRecord{
		TenantID:      entry.TenantID,
		UserID:        entry.UserID,
		Action:        entry.Action,
		ResourceType:  entry.ResourceType,
		ResourceID:    entry.ResourceID,
		Metadata:      metadataJSON,
		CorrelationID: entry.CorrelationID,
		Source:        entry.Source,
		Outcome:       entry.Outcome,
		ErrorCode:     entry.ErrorCode,
		IPAddress:     entry.IPAddress,
		UserAgent:     entry.UserAgent,
	}
}

// fallback publishes the record to the event bus and mirrors it into the
// structured log so the trail survives a database outage.
func (s *AuditService) fallback(ctx context.Context, record *models.AuditRecord) {
	if err := s.publisher.Publish(ctx, "audit.fallback", record.TenantID.String(), record); err != nil {
		s.logger.WithError(err).Error("Audit fallback publish failed")
	}

	s.logger.WithFields(logrus.Fields{
		"audit_fallback": true,
		"tenant_id":      record.TenantID,
		"user_id":        record.UserID,
		"action":         record.Action,
		"resource_type":  record.ResourceType,
		"resource_id":    record.ResourceID,
		"outcome":        record.Outcome,
		"correlation_id": record.CorrelationID,
		"metadata":       string(record.Metadata),
	}).Warn("Audit record preserved in log fallback")
}
