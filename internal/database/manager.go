package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

// Connect opens the control-plane database connection
func Connect(cfg config.DatabaseConfig, logger *logrus.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access underlying connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.WithFields(logrus.Fields{
		"host": cfg.Host,
		"name": cfg.Name,
	}).Info("Connected to database")

	return db, nil
}

// Migrate runs schema migrations: gorm auto-migration for tables plus raw DDL
// for the constraints gorm cannot express (partial unique indexes and the
// append-only audit trigger).
func Migrate(db *gorm.DB, logger *logrus.Logger) error {
	if err := db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.UserTenantRole{},
		&models.Plan{},
		&models.Subscription{},
		&models.TenantEntitlementOverride{},
		&models.BillingEvent{},
		&models.ConnectorConnection{},
		&models.ConnectorCredential{},
		&models.SyncRun{},
		&models.DataAvailability{},
		&models.DQIncident{},
		&models.AuditRecord{},
		&models.CustomDashboard{},
		&models.DashboardReport{},
		&models.DashboardVersion{},
		&models.DashboardShare{},
		&models.DatasetVersion{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	for _, ddl := range constraintDDL {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("constraint migration failed: %w", err)
		}
	}

	logger.Info("Database migration complete")
	return nil
}

// constraintDDL carries the schema pieces gorm tags cannot express.
var constraintDDL = []string{
	// A shop domain may be claimed by only one active enabled connection,
	// across all tenants. Mirrors the service-layer duplicate-shop guard.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_active_shop_domain
	 ON connector_connections (shop_domain)
	 WHERE shop_domain <> '' AND status = 'active' AND is_enabled = true`,

	// At most one active version per dataset.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_active_dataset
	 ON dataset_versions (dataset_name)
	 WHERE status = 'active'`,

	// Dashboard names are unique within a tenant while not archived.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_dashboard_name
	 ON custom_dashboards (tenant_id, name)
	 WHERE status <> 'archived'`,

	// Audit records are append-only: any UPDATE or DELETE is rejected at the
	// database level.
	`CREATE OR REPLACE FUNCTION reject_audit_mutation() RETURNS trigger AS $$
	 BEGIN
	   RAISE EXCEPTION 'audit_records is append-only';
	 END;
	 $$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS audit_records_append_only ON audit_records`,

	`CREATE TRIGGER audit_records_append_only
	 BEFORE UPDATE OR DELETE ON audit_records
	 FOR EACH ROW EXECUTE FUNCTION reject_audit_mutation()`,
}
