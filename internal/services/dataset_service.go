package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
)

// CompatibilityResult explains a schema compatibility verdict
type CompatibilityResult struct {
	Compatible bool     `json:"compatible"`
	Breaks     []string `json:"breaks,omitempty"`
}

// CheckCompatibility applies the exposed-column rule: a candidate is
// compatible iff no exposed column of the active version is missing or
// retyped. Unexposed columns may be removed or retyped freely.
func CheckCompatibility(active, candidate []models.DatasetColumn) CompatibilityResult {
	candidateByName := make(map[string]models.DatasetColumn, len(candidate))
	for _, col := range candidate {
		candidateByName[col.Name] = col
	}

	result := CompatibilityResult{Compatible: true}
	for _, col := range active {
		if !col.Exposed {
			continue
		}
		next, ok := candidateByName[col.Name]
		if !ok {
			result.Compatible = false
			result.Breaks = append(result.Breaks, fmt.Sprintf("exposed column %q removed", col.Name))
			continue
		}
		if next.Type != col.Type {
			result.Compatible = false
			result.Breaks = append(result.Breaks, fmt.Sprintf("exposed column %q retyped %s -> %s", col.Name, col.Type, next.Type))
		}
	}
	return result
}

// DatasetService gates BI-dataset upgrades so exposed-column removals or type
// changes never silently break dashboards.
type DatasetService struct {
	datasets repository.DatasetRepository
	audit    *AuditService
	logger   *logrus.Logger
}

// NewDatasetService creates a new dataset service
func NewDatasetService(datasets repository.DatasetRepository, audit *AuditService, logger *logrus.Logger) *DatasetService {
	return &DatasetService{datasets: datasets, audit: audit, logger: logger}
}

// CreatePending registers a candidate version with its column snapshot and
// computes compatibility against the current active version. Re-creating the
// same (name, version) is idempotent.
func (s *DatasetService) CreatePending(ctx context.Context, datasetName, version string, columns []models.DatasetColumn) (*models.DatasetVersion, error) {
	if datasetName == "" || version == "" {
		return nil, NewAppError(CodeInvalidInput, "dataset name and version are required")
	}

	if existing, err := s.datasets.GetByNameVersion(ctx, datasetName, version); err == nil {
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, WrapAppError(CodeInvalidInput, "failed to check existing versions", err)
	}

	snapshot, err := models.EncodeColumns(columns)
	if err != nil {
		return nil, WrapAppError(CodeInvalidInput, "failed to encode columns", err)
	}

	candidate := &models.DatasetVersion{
		DatasetName:    datasetName,
		Version:        version,
		Status:         models.DatasetPending,
		ColumnSnapshot: snapshot,
	}

	active, err := s.datasets.GetActive(ctx, datasetName)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// First version of a dataset is trivially compatible.
		candidate.IsCompatible = true
	case err != nil:
		return nil, WrapAppError(CodeInvalidInput, "failed to load active version", err)
	default:
		activeCols, err := active.Columns()
		if err != nil {
			return nil, WrapAppError(CodeInvalidInput, "failed to decode active columns", err)
		}
		compat := CheckCompatibility(activeCols, columns)
		candidate.IsCompatible = compat.Compatible
		if !compat.Compatible {
			candidate.IncompatibilityReason = fmt.Sprintf("%v", compat.Breaks)
		}
	}

	if err := s.datasets.Create(ctx, candidate); err != nil {
		return nil, WrapAppError(CodeInvalidInput, "failed to create dataset version", err)
	}
	return candidate, nil
}

// Activate promotes a pending compatible version to active, superseding the
// prior active version atomically.
func (s *DatasetService) Activate(ctx context.Context, datasetName, version string) (*models.DatasetVersion, error) {
	candidate, err := s.datasets.GetByNameVersion(ctx, datasetName, version)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewAppError(CodeNotFound, "dataset version not found").
				WithContext("dataset", datasetName).
				WithContext("version", version)
		}
		return nil, WrapAppError(CodeNotFound, "failed to load dataset version", err)
	}

	if candidate.Status == models.DatasetActive {
		return candidate, nil
	}
	if candidate.Status != models.DatasetPending {
		return nil, NewAppError(CodeInvalidInput, "only pending versions can be activated").
			WithContext("status", candidate.Status)
	}
	if !candidate.IsCompatible {
		candidate.Status = models.DatasetFailed
		if err := s.datasets.Update(ctx, candidate); err != nil {
			s.logger.WithField("dataset", datasetName).WithError(err).Warn("Failed to mark incompatible version failed")
		}
		return nil, NewAppError(CodeSchemaIncompatible, "candidate schema would break exposed columns").
			WithContext("dataset", datasetName).
			WithContext("version", version).
			WithContext("reason", candidate.IncompatibilityReason)
	}

	if err := s.datasets.ActivateVersion(ctx, datasetName, candidate.ID); err != nil {
		return nil, WrapAppError(CodeInvalidInput, "failed to activate dataset version", err)
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     uuid.Nil,
		Action:       models.ActionDatasetActivated,
		ResourceType: "dataset_version",
		ResourceID:   fmt.Sprintf("%s@%s", datasetName, version),
		Metadata: map[string]interface{}{
			"dataset": datasetName,
			"version": version,
		},
		Source:  models.AuditSourceSystem,
		Outcome: models.OutcomeSuccess,
	})

	activated, err := s.datasets.GetByNameVersion(ctx, datasetName, version)
	if err != nil {
		return candidate, nil
	}
	return activated, nil
}

// Rollback demotes the active version to rolled_back and promotes the latest
// superseded version.
func (s *DatasetService) Rollback(ctx context.Context, datasetName string) (*models.DatasetVersion, error) {
	promoted, err := s.datasets.RollbackActive(ctx, datasetName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewAppError(CodeNotFound, "no active and superseded version pair to roll back").
				WithContext("dataset", datasetName)
		}
		return nil, WrapAppError(CodeInvalidInput, "failed to roll back dataset", err)
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     uuid.Nil,
		Action:       models.ActionDatasetRolledBack,
		ResourceType: "dataset_version",
		ResourceID:   fmt.Sprintf("%s@%s", datasetName, promoted.Version),
		Metadata: map[string]interface{}{
			"dataset":          datasetName,
			"promoted_version": promoted.Version,
		},
		Source:  models.AuditSourceSystem,
		Outcome: models.OutcomeSuccess,
	})
	return promoted, nil
}

// GetActive returns the currently active version of a dataset
func (s *DatasetService) GetActive(ctx context.Context, datasetName string) (*models.DatasetVersion, error) {
	active, err := s.datasets.GetActive(ctx, datasetName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewAppError(CodeNotFound, "dataset has no active version").
				WithContext("dataset", datasetName)
		}
		return nil, WrapAppError(CodeNotFound, "failed to load active version", err)
	}
	return active, nil
}
