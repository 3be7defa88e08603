package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

// connectionRepository is the gorm-backed ConnectionRepository
type connectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) Create(ctx context.Context, conn *models.ConnectorConnection) error {
	return r.db.WithContext(ctx).Create(conn).Error
}

func (r *connectionRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ConnectorConnection, error) {
	var conn models.ConnectorConnection
	err := r.db.WithContext(ctx).
		First(&conn, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*models.ConnectorConnection, error) {
	var conn models.ConnectorConnection
	err := r.db.WithContext(ctx).
		First(&conn, "tenant_id = ? AND external_connection_id = ?", tenantID, externalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) FindActiveByShopDomain(ctx context.Context, normalizedDomain string) (*models.ConnectorConnection, error) {
	var conn models.ConnectorConnection
	err := r.db.WithContext(ctx).
		Where("shop_domain = ? AND status = ? AND is_enabled = true",
			normalizedDomain, models.ConnectionActive).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.ConnectorConnection, error) {
	var conns []models.ConnectorConnection
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status <> ?", tenantID, models.ConnectionDeleted).
		Order("created_at DESC").
		Find(&conns).Error
	return conns, err
}

func (r *connectionRepository) ListEnabled(ctx context.Context) ([]models.ConnectorConnection, error) {
	var conns []models.ConnectorConnection
	err := r.db.WithContext(ctx).
		Where("is_enabled = true AND status IN ?", []models.ConnectionStatus{
			models.ConnectionActive, models.ConnectionFailed,
		}).
		Find(&conns).Error
	return conns, err
}

func (r *connectionRepository) Update(ctx context.Context, conn *models.ConnectorConnection) error {
	return r.db.WithContext(ctx).Save(conn).Error
}

func (r *connectionRepository) UpdateSyncState(ctx context.Context, tenantID, id uuid.UUID, at time.Time, status models.SyncRunStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.ConnectorConnection{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]interface{}{
			"last_sync_at":     at,
			"last_sync_status": string(status),
		}).Error
}

// credentialRepository is the gorm-backed CredentialRepository
type credentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) Create(ctx context.Context, cred *models.ConnectorCredential) error {
	return r.db.WithContext(ctx).Create(cred).Error
}

func (r *credentialRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ConnectorCredential, error) {
	var cred models.ConnectorCredential
	err := r.db.WithContext(ctx).
		First(&cred, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.ConnectorCredential, error) {
	var creds []models.ConnectorCredential
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND soft_deleted_at IS NULL", tenantID).
		Find(&creds).Error
	return creds, err
}

func (r *credentialRepository) ListExpiring(ctx context.Context, before time.Time) ([]models.ConnectorCredential, error) {
	var creds []models.ConnectorCredential
	err := r.db.WithContext(ctx).
		Where("status = ? AND soft_deleted_at IS NULL AND token_expires_at IS NOT NULL AND token_expires_at <= ?",
			models.CredentialActive, before).
		Find(&creds).Error
	return creds, err
}

func (r *credentialRepository) UpdateWithLock(ctx context.Context, id uuid.UUID, fn func(*models.ConnectorCredential) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cred models.ConnectorCredential
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cred, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := fn(&cred); err != nil {
			return err
		}
		return tx.Save(&cred).Error
	})
}

// syncRunRepository is the gorm-backed SyncRunRepository
type syncRunRepository struct {
	db *gorm.DB
}

// NewSyncRunRepository creates a new sync run repository
func NewSyncRunRepository(db *gorm.DB) SyncRunRepository {
	return &syncRunRepository{db: db}
}

func (r *syncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *syncRunRepository) Complete(ctx context.Context, runID uuid.UUID, status models.SyncRunStatus, rows int64, errMsg string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"status":        status,
			"completed_at":  now,
			"rows_synced":   rows,
			"error_message": errMsg,
		}).Error
}

func (r *syncRunRepository) GetLatest(ctx context.Context, tenantID, connectorID uuid.UUID) (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND connector_id = ?", tenantID, connectorID).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}
