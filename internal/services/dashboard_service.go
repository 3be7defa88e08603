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

// CreateDashboardInput is the request shape for creating a dashboard
type CreateDashboardInput struct {
	Name    string         `json:"name"`
	Layout  datatypes.JSON `json:"layout"`
	Filters datatypes.JSON `json:"filters"`
}

// UpdateDashboardInput carries a dashboard mutation with its optimistic lock
// token
type UpdateDashboardInput struct {
	Name              string                   `json:"name"`
	Status            models.DashboardStatus   `json:"status"`
	Layout            datatypes.JSON           `json:"layout"`
	Filters           datatypes.JSON           `json:"filters"`
	Reports           []models.DashboardReport `json:"reports"`
	ExpectedUpdatedAt time.Time                `json:"expected_updated_at"`
	ChangeSummary     string                   `json:"change_summary"`
}

// DashboardService owns dashboard lifecycle, versioning and access checks
type DashboardService struct {
	dashboards   repository.DashboardRepository
	entitlements *EntitlementService
	audit        *AuditService
	logger       *logrus.Logger
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(
	dashboards repository.DashboardRepository,
	entitlements *EntitlementService,
	audit *AuditService,
	logger *logrus.Logger,
) *DashboardService {
	return &DashboardService{
		dashboards:   dashboards,
		entitlements: entitlements,
		audit:        audit,
		logger:       logger,
	}
}

// Create creates a dashboard under the tenant's max_dashboards limit. The
// count runs under a row-level lock so concurrent creates cannot overshoot.
func (s *DashboardService) Create(ctx context.Context, tenantID, userID uuid.UUID, input CreateDashboardInput) (*models.CustomDashboard, error) {
	if input.Name == "" {
		return nil, NewAppError(CodeInvalidInput, "dashboard name is required")
	}

	resolved, err := s.entitlements.GetEntitlements(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !resolved.HasWriteAccess() {
		return nil, NewAppError(CodePaymentRequired, "your current billing state does not allow creating dashboards").
			WithContext("billing_state", resolved.BillingState)
	}

	dash := &models.CustomDashboard{
		TenantID:      tenantID,
		Name:          input.Name,
		Status:        models.DashboardDraft,
		LayoutJSON:    input.Layout,
		FiltersJSON:   input.Filters,
		VersionNumber: 1,
		CreatedBy:     userID,
	}
	err = s.dashboards.CreateWithLimit(ctx, dash, resolved.Limits.MaxDashboards)
	switch {
	case errors.Is(err, repository.ErrLimitExceeded):
		return nil, NewAppError(CodeDashboardLimitExceeded, "dashboard limit reached for your plan").
			WithContext("max_dashboards", resolved.Limits.MaxDashboards)
	case errors.Is(err, repository.ErrNameConflict):
		return nil, NewAppError(CodeDashboardNameConflict, "a dashboard with this name already exists").
			WithContext("name", input.Name)
	case err != nil:
		return nil, WrapAppError(CodeInvalidInput, "failed to create dashboard", err)
	}

	if err := s.snapshot(ctx, dash, nil, userID, "created"); err != nil {
		s.logger.WithField("dashboard_id", dash.ID).WithError(err).Warn("Initial version snapshot failed")
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		UserID:       &userID,
		Action:       models.ActionDashboardCreated,
		ResourceType: "custom_dashboard",
		ResourceID:   dash.ID.String(),
		Metadata: map[string]interface{}{
			"name": dash.Name,
		},
		Source:  models.AuditSourceAPI,
		Outcome: models.OutcomeSuccess,
	})
	return dash, nil
}

// Update applies a dashboard mutation with optimistic locking. A stale
// expected_updated_at forces the caller to reload. Each successful write bumps
// version_number and snapshots a new version.
func (s *DashboardService) Update(ctx context.Context, tenantID, dashboardID, userID uuid.UUID, input UpdateDashboardInput) (*models.CustomDashboard, error) {
	dash, err := s.getForWrite(ctx, tenantID, dashboardID, userID)
	if err != nil {
		return nil, err
	}

	if input.Name != "" {
		dash.Name = input.Name
	}
	if input.Status != "" {
		dash.Status = input.Status
	}
	if input.Layout != nil {
		dash.LayoutJSON = input.Layout
	}
	if input.Filters != nil {
		dash.FiltersJSON = input.Filters
	}
	dash.VersionNumber++

	if err := s.dashboards.UpdateOptimistic(ctx, dash, input.ExpectedUpdatedAt); err != nil {
		if errors.Is(err, repository.ErrStaleUpdate) {
			return nil, NewAppError(CodeOptimisticLockConflict, "dashboard changed since you loaded it; reload and retry").
				WithContext("expected_updated_at", input.ExpectedUpdatedAt)
		}
		return nil, WrapAppError(CodeInvalidInput, "failed to update dashboard", err)
	}

	if input.Reports != nil {
		for i := range input.Reports {
			input.Reports[i].DashboardID = dashboardID
			input.Reports[i].TenantID = tenantID
		}
		if err := s.dashboards.ReplaceReports(ctx, tenantID, dashboardID, input.Reports); err != nil {
			return nil, WrapAppError(CodeInvalidInput, "failed to update dashboard reports", err)
		}
	}

	if err := s.snapshot(ctx, dash, input.Reports, userID, input.ChangeSummary); err != nil {
		s.logger.WithField("dashboard_id", dashboardID).WithError(err).Warn("Version snapshot failed")
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		UserID:       &userID,
		Action:       models.ActionDashboardUpdated,
		ResourceType: "custom_dashboard",
		ResourceID:   dashboardID.String(),
		Metadata: map[string]interface{}{
			"version_number": dash.VersionNumber,
			"change_summary": input.ChangeSummary,
		},
		Source:  models.AuditSourceAPI,
		Outcome: models.OutcomeSuccess,
	})
	return dash, nil
}

// Restore replaces the dashboard's reports with a stored version's snapshot.
// Restored reports get new ids; the restore itself bumps the version.
func (s *DashboardService) Restore(ctx context.Context, tenantID, dashboardID, userID uuid.UUID, versionNumber int) (*models.CustomDashboard, error) {
	dash, err := s.getForWrite(ctx, tenantID, dashboardID, userID)
	if err != nil {
		return nil, err
	}

	version, err := s.dashboards.GetVersion(ctx, tenantID, dashboardID, versionNumber)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewAppError(CodeNotFound, "dashboard version not found").
				WithContext("version_number", versionNumber)
		}
		return nil, WrapAppError(CodeNotFound, "failed to load dashboard version", err)
	}

	var snapshot models.DashboardSnapshot
	if err := json.Unmarshal(version.SnapshotJSON, &snapshot); err != nil {
		return nil, WrapAppError(CodeInvalidInput, "failed to decode version snapshot", err)
	}

	reports := make([]models.DashboardReport, 0, len(snapshot.Reports))
	for _, r := range snapshot.Reports {
		reports = append(reports, models.DashboardReport{
			DashboardID: dashboardID,
			TenantID:    tenantID,
			Position:    r.Position,
			Title:       r.Title,
			QueryJSON:   r.Query,
		})
	}
	if err := s.dashboards.ReplaceReports(ctx, tenantID, dashboardID, reports); err != nil {
		return nil, WrapAppError(CodeInvalidInput, "failed to restore reports", err)
	}

	dash.LayoutJSON = snapshot.Layout
	dash.FiltersJSON = snapshot.Filters
	dash.VersionNumber++
	if err := s.dashboards.Update(ctx, dash); err != nil {
		return nil, WrapAppError(CodeInvalidInput, "failed to update dashboard after restore", err)
	}

	if err := s.snapshot(ctx, dash, reports, userID, fmt.Sprintf("restored from version %d", versionNumber)); err != nil {
		s.logger.WithField("dashboard_id", dashboardID).WithError(err).Warn("Version snapshot after restore failed")
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		UserID:       &userID,
		Action:       models.ActionDashboardRestored,
		ResourceType: "custom_dashboard",
		ResourceID:   dashboardID.String(),
		Metadata: map[string]interface{}{
			"restored_from_version": versionNumber,
			"new_version":           dash.VersionNumber,
		},
		Source:  models.AuditSourceAPI,
		Outcome: models.OutcomeSuccess,
	})
	return dash, nil
}

// Archive moves a dashboard out of the active set, freeing its name and its
// slot under the plan limit.
func (s *DashboardService) Archive(ctx context.Context, tenantID, dashboardID, userID uuid.UUID) error {
	dash, err := s.getForWrite(ctx, tenantID, dashboardID, userID)
	if err != nil {
		return err
	}
	if dash.Status == models.DashboardArchived {
		return nil
	}
	dash.Status = models.DashboardArchived
	if err := s.dashboards.Update(ctx, dash); err != nil {
		return WrapAppError(CodeInvalidInput, "failed to archive dashboard", err)
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		UserID:       &userID,
		Action:       models.ActionDashboardArchived,
		ResourceType: "custom_dashboard",
		ResourceID:   dashboardID.String(),
		Source:       models.AuditSourceAPI,
		Outcome:      models.OutcomeSuccess,
	})
	return nil
}

// Get returns one dashboard if the user has at least read access
func (s *DashboardService) Get(ctx context.Context, tenantID, dashboardID, userID uuid.UUID) (*models.CustomDashboard, error) {
	dash, err := s.load(ctx, tenantID, dashboardID)
	if err != nil {
		return nil, err
	}
	if _, err := s.accessLevel(ctx, dash, userID); err != nil {
		return nil, err
	}
	return dash, nil
}

// AccessLevelFor resolves the caller's access level on a dashboard
func (s *DashboardService) AccessLevelFor(ctx context.Context, tenantID, dashboardID, userID uuid.UUID) (models.DashboardAccessLevel, error) {
	dash, err := s.load(ctx, tenantID, dashboardID)
	if err != nil {
		return "", err
	}
	return s.accessLevel(ctx, dash, userID)
}

func (s *DashboardService) load(ctx context.Context, tenantID, dashboardID uuid.UUID) (*models.CustomDashboard, error) {
	dash, err := s.dashboards.GetByID(ctx, tenantID, dashboardID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewAppError(CodeNotFound, "dashboard not found")
		}
		return nil, WrapAppError(CodeNotFound, "failed to load dashboard", err)
	}
	return dash, nil
}

func (s *DashboardService) getForWrite(ctx context.Context, tenantID, dashboardID, userID uuid.UUID) (*models.CustomDashboard, error) {
	dash, err := s.load(ctx, tenantID, dashboardID)
	if err != nil {
		return nil, err
	}
	level, err := s.accessLevel(ctx, dash, userID)
	if err != nil {
		return nil, err
	}
	if !level.CanWrite() {
		return nil, NewAppError(CodeEntitlementDenied, "you do not have write access to this dashboard").
			WithContext("access_level", level)
	}
	return dash, nil
}

// accessLevel: the creator is owner; everyone else needs a non-expired share.
func (s *DashboardService) accessLevel(ctx context.Context, dash *models.CustomDashboard, userID uuid.UUID) (models.DashboardAccessLevel, error) {
	if dash.CreatedBy == userID {
		return models.DashboardAccessOwner, nil
	}
	shares, err := s.dashboards.ListShares(ctx, dash.TenantID, dash.ID)
	if err != nil {
		return "", WrapAppError(CodeNotFound, "failed to load dashboard shares", err)
	}
	now := time.Now().UTC()
	for _, share := range shares {
		if share.UserID == userID && !share.IsExpired(now) {
			return share.AccessLevel, nil
		}
	}
	return "", NewAppError(CodeEntitlementDenied, "you do not have access to this dashboard")
}

// snapshot writes a version row for the dashboard's current state and prunes
// the oldest versions past the retention cap.
func (s *DashboardService) snapshot(ctx context.Context, dash *models.CustomDashboard, reports []models.DashboardReport, userID uuid.UUID, changeSummary string) error {
	if reports == nil {
		loaded, err := s.dashboards.ListReports(ctx, dash.TenantID, dash.ID)
		if err != nil {
			return fmt.Errorf("failed to load reports for snapshot: %w", err)
		}
		reports = loaded
	}

	snapReports := make([]models.SnapshotReport, 0, len(reports))
	for _, r := range reports {
		snapReports = append(snapReports, models.SnapshotReport{
			Position: r.Position,
			Title:    r.Title,
			Query:    r.QueryJSON,
		})
	}
	snapshot := models.DashboardSnapshot{
		Name:    dash.Name,
		Status:  dash.Status,
		Layout:  dash.LayoutJSON,
		Filters: dash.FiltersJSON,
		Reports: snapReports,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	version := &models.DashboardVersion{
		DashboardID:   dash.ID,
		TenantID:      dash.TenantID,
		VersionNumber: dash.VersionNumber,
		SnapshotJSON:  datatypes.JSON(data),
		ChangeSummary: changeSummary,
		CreatedBy:     userID,
	}
	if err := s.dashboards.CreateVersion(ctx, version); err != nil {
		return fmt.Errorf("failed to create version: %w", err)
	}

	pruned, err := s.dashboards.PruneVersions(ctx, dash.ID, models.DashboardVersionCap)
	if err != nil {
		return fmt.Errorf("failed to prune versions: %w", err)
	}
	if pruned > 0 {
		s.logger.WithFields(logrus.Fields{
			"dashboard_id": dash.ID,
			"pruned":       pruned,
		}).Debug("Old dashboard versions pruned")
	}
	return nil
}
