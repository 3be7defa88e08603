package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/metrics"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
)

// FreshnessInput is everything ComputeState needs about one (tenant, source)
type FreshnessInput struct {
	LastSyncAt         *time.Time
	LastSyncSucceeded  bool
	WarnThresholdMin   int
	ErrorThresholdMin  int
	BackfillInProgress bool
	Now                time.Time
}

// FreshnessResult is the computed availability state with its reason
type FreshnessResult struct {
	State  models.AvailabilityState
	Reason models.AvailabilityReason
}

// ComputeState derives the availability state from sync metadata and
// thresholds. It is a pure function: boundary semantics are >= (a source
// exactly at the warn threshold is stale, exactly at the error threshold is
// unavailable).
func ComputeState(in FreshnessInput) FreshnessResult {
	if in.LastSyncAt == nil {
		return FreshnessResult{State: models.AvailabilityUnavailable, Reason: models.ReasonNeverSynced}
	}

	minutes := int(in.Now.Sub(*in.LastSyncAt) / time.Minute)

	if !in.LastSyncSucceeded && minutes >= in.WarnThresholdMin {
		return FreshnessResult{State: models.AvailabilityUnavailable, Reason: models.ReasonSyncFailed}
	}
	if minutes >= in.ErrorThresholdMin {
		return FreshnessResult{State: models.AvailabilityUnavailable, Reason: models.ReasonGraceWindowExceeded}
	}
	if minutes >= in.WarnThresholdMin {
		return FreshnessResult{State: models.AvailabilityStale, Reason: models.ReasonSLAExceeded}
	}

	// A backfill only downgrades a fresh source; worse states stand.
	if in.BackfillInProgress {
		return FreshnessResult{State: models.AvailabilityStale, Reason: models.ReasonBackfillInProgress}
	}
	return FreshnessResult{State: models.AvailabilityFresh, Reason: models.ReasonSyncOK}
}

// StaleSeverity grades how far past its threshold a source has drifted.
// Critical sources always grade critical.
func StaleSeverity(minutesOver, threshold int, critical bool) models.IncidentSeverity {
	if critical {
		return models.SeverityCritical
	}
	if threshold <= 0 {
		return models.SeverityCritical
	}
	ratio := float64(minutesOver) / float64(threshold)
	switch {
	case ratio <= 2:
		return models.SeverityWarning
	case ratio <= 4:
		return models.SeverityHigh
	default:
		return models.SeverityCritical
	}
}

// FreshnessService evaluates and persists per-source availability state. The
// scheduler sweeps all enabled connections; handlers read the persisted rows.
type FreshnessService struct {
	availability repository.AvailabilityRepository
	connections  repository.ConnectionRepository
	syncRuns     repository.SyncRunRepository
	tenants      repository.TenantRepository
	audit        *AuditService
	logger       *logrus.Logger
	sla          *config.FreshnessSLAConfig
}

// NewFreshnessService creates a new freshness service
func NewFreshnessService(
	availability repository.AvailabilityRepository,
	connections repository.ConnectionRepository,
	syncRuns repository.SyncRunRepository,
	tenants repository.TenantRepository,
	audit *AuditService,
	logger *logrus.Logger,
	sla *config.FreshnessSLAConfig,
) *FreshnessService {
	return &FreshnessService{
		availability: availability,
		connections:  connections,
		syncRuns:     syncRuns,
		tenants:      tenants,
		audit:        audit,
		logger:       logger,
		sla:          sla,
	}
}

// EvaluateConnection recomputes and persists the availability state for one
// connection's source. Genuine transitions emit an audit event carrying the
// previous state and detection timestamp.
func (s *FreshnessService) EvaluateConnection(ctx context.Context, conn *models.ConnectorConnection, backfillInProgress bool) (*models.DataAvailability, error) {
	tenant, err := s.tenants.GetByID(ctx, conn.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	thresholds := s.sla.Thresholds(conn.SourceType, string(tenant.BillingTier))
	now := time.Now().UTC()

	lastSyncAt, lastSucceeded := s.lastSync(ctx, conn)
	result := ComputeState(FreshnessInput{
		LastSyncAt:         lastSyncAt,
		LastSyncSucceeded:  lastSucceeded,
		WarnThresholdMin:   thresholds.WarnAfterMinutes,
		ErrorThresholdMin:  thresholds.ErrorAfterMinutes,
		BackfillInProgress: backfillInProgress,
		Now:                now,
	})

	current, err := s.availability.Get(ctx, conn.TenantID, conn.SourceType)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load availability: %w", err)
	}

	row := &models.DataAvailability{
		TenantID:              conn.TenantID,
		SourceType:            conn.SourceType,
		State:                 result.State,
		Reason:                result.Reason,
		WarnThresholdMinutes:  thresholds.WarnAfterMinutes,
		ErrorThresholdMinutes: thresholds.ErrorAfterMinutes,
		BillingTier:           tenant.BillingTier,
		UpdatedAt:             now,
	}

	transitioned := current == nil || current.State != result.State
	if transitioned {
		row.StateChangedAt = now
		if current != nil {
			row.PreviousState = current.State
		}
	} else {
		row.StateChangedAt = current.StateChangedAt
		row.PreviousState = current.PreviousState
	}

	if err := s.availability.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to persist availability: %w", err)
	}

	if transitioned {
		metrics.FreshnessTransitions.WithLabelValues(string(result.State)).Inc()
		s.auditTransition(ctx, conn, row, current, now)
	}
	return row, nil
}

// lastSync resolves the sync metadata to evaluate against. The run history is
// authoritative when the denormalized columns lag behind it; an in-flight run
// falls back to the connection's own columns so a long-running sync does not
// mask the previous result.
func (s *FreshnessService) lastSync(ctx context.Context, conn *models.ConnectorConnection) (*time.Time, bool) {
	latest, err := s.syncRuns.GetLatest(ctx, conn.TenantID, conn.ID)
	if err == nil && latest.CompletedAt != nil {
		if conn.LastSyncAt == nil || latest.CompletedAt.After(*conn.LastSyncAt) {
			return latest.CompletedAt, latest.Status == models.SyncSucceeded
		}
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.WithFields(logrus.Fields{
			"tenant_id":     conn.TenantID,
			"connection_id": conn.ID,
		}).WithError(err).Warn("Sync run lookup failed, evaluating denormalized state")
	}
	return conn.LastSyncAt, conn.LastSyncStatus == string(models.SyncSucceeded)
}

// SweepAll evaluates every enabled connection. Run by the scheduler.
func (s *FreshnessService) SweepAll(ctx context.Context) (int, error) {
	conns, err := s.connections.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list connections: %w", err)
	}

	evaluated := 0
	for i := range conns {
		if _, err := s.EvaluateConnection(ctx, &conns[i], false); err != nil {
			s.logger.WithFields(logrus.Fields{
				"tenant_id":     conns[i].TenantID,
				"connection_id": conns[i].ID,
			}).WithError(err).Error("Freshness evaluation failed")
			continue
		}
		evaluated++
	}
	return evaluated, nil
}

// GetAvailability returns the persisted state for a tenant source
func (s *FreshnessService) GetAvailability(ctx context.Context, tenantID uuid.UUID, sourceType string) (*models.DataAvailability, error) {
	row, err := s.availability.Get(ctx, tenantID, sourceType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewAppError(CodeNotFound, "no availability state for source").
				WithContext("source_type", sourceType)
		}
		return nil, WrapAppError(CodeNotFound, "failed to load availability", err)
	}
	return row, nil
}

// SeverityFor grades a stale connection for incident generation
func (s *FreshnessService) SeverityFor(conn *models.ConnectorConnection, row *models.DataAvailability, now time.Time) models.IncidentSeverity {
	minutesOver := 0
	if conn.LastSyncAt != nil {
		elapsed := int(now.Sub(*conn.LastSyncAt) / time.Minute)
		minutesOver = elapsed - row.WarnThresholdMinutes
		if minutesOver < 0 {
			minutesOver = 0
		}
	}
	return StaleSeverity(minutesOver, row.WarnThresholdMinutes, s.sla.IsCriticalSource(conn.SourceType))
}

func (s *FreshnessService) auditTransition(ctx context.Context, conn *models.ConnectorConnection, row *models.DataAvailability, previous *models.DataAvailability, now time.Time) {
	var action models.AuditAction
	switch row.State {
	case models.AvailabilityStale:
		action = models.ActionFreshnessStale
	case models.AvailabilityUnavailable:
		action = models.ActionFreshnessUnavailable
	case models.AvailabilityFresh:
		// The first evaluation landing on fresh is not a recovery.
		if previous == nil {
			return
		}
		action = models.ActionFreshnessRecovered
	default:
		return
	}

	prevState := ""
	if previous != nil {
		prevState = string(previous.State)
	}
	s.audit.Record(ctx, AuditEntry{
		TenantID:     conn.TenantID,
		Action:       action,
		ResourceType: "data_availability",
		ResourceID:   conn.SourceType,
		Metadata: map[string]interface{}{
			"source_type":    conn.SourceType,
			"previous_state": prevState,
			"new_state":      row.State,
			"reason":         row.Reason,
			"detected_at":    now,
		},
		Source:  models.AuditSourceWorker,
		Outcome: models.OutcomeSuccess,
	})
}
