package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the control plane
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	NATS        NATSConfig
	App         AppConfig
	Billing     BillingConfig
	Identity    IdentityConfig
	Entitlement EntitlementConfig
	Vault       VaultConfig
	Refresh     RefreshConfig
	Scheduler   SchedulerConfig
	Governance  GovernancePaths
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL     string
	Enabled bool
}

// AppConfig holds application configuration
type AppConfig struct {
	Environment string
	LogLevel    string
	ServiceName string
}

// BillingConfig holds billing webhook and grace-period policy
type BillingConfig struct {
	WebhookSecret        string
	GracePeriodDays      int
	ReconcileIntervalMin int
	ProviderBaseURL      string
	ProviderAPIKey       string
}

// IdentityConfig holds identity provider webhook configuration
type IdentityConfig struct {
	WebhookSecret string
}

// EntitlementConfig holds entitlement cache and resolution policy
type EntitlementConfig struct {
	CacheTTLSeconds    int
	LockTimeoutSeconds int
	FreePlanName       string
}

// VaultConfig holds credential encryption configuration
type VaultConfig struct {
	MasterKey string
	KeySalt   string
}

// RefreshConfig holds token refresh policy
type RefreshConfig struct {
	ProactiveWindowHours int
	SweepIntervalMin     int
	AttemptTimeoutSec    int
}

// SchedulerConfig holds background job cadence
type SchedulerConfig struct {
	FreshnessIntervalMin       int
	OverrideCleanupIntervalMin int
}

// GovernancePaths holds file paths for the collaborator-parsed YAML configs
type GovernancePaths struct {
	FreshnessSLA    string
	MetricsVersions string
	ChangeApprovals string
	PreDeploy       string
	Rollback        string
	AIRestrictions  string
}

// New creates a new configuration instance from the environment
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnvWithDefault("SERVER_HOST", "0.0.0.0"),
			Port: getEnvWithDefault("SERVER_PORT", "8090"),
		},
		Database: DatabaseConfig{
			Host:     getEnvWithDefault("DB_HOST", "localhost"),
			Port:     getEnvWithDefault("DB_PORT", "5432"),
			User:     getEnvWithDefault("DB_USER", "postgres"),
			Password: getEnvWithDefault("DB_PASSWORD", ""),
			Name:     getEnvWithDefault("DB_NAME", "control_plane_db"),
			SSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnvWithDefault("REDIS_HOST", "localhost"),
			Port:     getEnvWithDefault("REDIS_PORT", "6379"),
			Password: getEnvWithDefault("REDIS_PASSWORD", ""),
			DB:       getEnvAsIntWithDefault("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:     getEnvWithDefault("NATS_URL", "nats://localhost:4222"),
			Enabled: getEnvAsBoolWithDefault("NATS_ENABLED", true),
		},
		App: AppConfig{
			Environment: getEnvWithDefault("APP_ENV", "development"),
			LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
			ServiceName: getEnvWithDefault("SERVICE_NAME", "control-plane"),
		},
		Billing: BillingConfig{
			WebhookSecret:        getEnvWithDefault("BILLING_WEBHOOK_SECRET", ""),
			GracePeriodDays:      getEnvAsIntWithDefault("BILLING_GRACE_PERIOD_DAYS", 7),
			ReconcileIntervalMin: getEnvAsIntWithDefault("BILLING_RECONCILE_INTERVAL_MIN", 60),
			ProviderBaseURL:      getEnvWithDefault("BILLING_PROVIDER_URL", "https://api.billing.example.com"),
			ProviderAPIKey:       getEnvWithDefault("BILLING_PROVIDER_API_KEY", ""),
		},
		Identity: IdentityConfig{
			WebhookSecret: getEnvWithDefault("IDENTITY_WEBHOOK_SECRET", ""),
		},
		Entitlement: EntitlementConfig{
			CacheTTLSeconds:    getEnvAsIntWithDefault("ENTITLEMENT_CACHE_TTL_SEC", 300),
			LockTimeoutSeconds: getEnvAsIntWithDefault("ENTITLEMENT_LOCK_TIMEOUT_SEC", 5),
			FreePlanName:       getEnvWithDefault("ENTITLEMENT_FREE_PLAN", "free"),
		},
		Vault: VaultConfig{
			MasterKey: getEnvWithDefault("VAULT_MASTER_KEY", ""),
			KeySalt:   getEnvWithDefault("VAULT_KEY_SALT", "control-plane-vault"),
		},
		Refresh: RefreshConfig{
			ProactiveWindowHours: getEnvAsIntWithDefault("TOKEN_REFRESH_WINDOW_HOURS", 24),
			SweepIntervalMin:     getEnvAsIntWithDefault("TOKEN_REFRESH_SWEEP_MIN", 15),
			AttemptTimeoutSec:    getEnvAsIntWithDefault("TOKEN_REFRESH_TIMEOUT_SEC", 30),
		},
		Scheduler: SchedulerConfig{
			FreshnessIntervalMin:       getEnvAsIntWithDefault("FRESHNESS_INTERVAL_MIN", 5),
			OverrideCleanupIntervalMin: getEnvAsIntWithDefault("OVERRIDE_CLEANUP_INTERVAL_MIN", 15),
		},
		Governance: GovernancePaths{
			FreshnessSLA:    getEnvWithDefault("CONFIG_FRESHNESS_SLA", "configs/data_freshness_sla.yaml"),
			MetricsVersions: getEnvWithDefault("CONFIG_METRICS_VERSIONS", "configs/metrics_versions.yaml"),
			ChangeApprovals: getEnvWithDefault("CONFIG_CHANGE_APPROVALS", "configs/change_approvals.yaml"),
			PreDeploy:       getEnvWithDefault("CONFIG_PRE_DEPLOY", "configs/pre_deploy_validation.yaml"),
			Rollback:        getEnvWithDefault("CONFIG_ROLLBACK", "configs/rollback_config.yaml"),
			AIRestrictions:  getEnvWithDefault("CONFIG_AI_RESTRICTIONS", "configs/ai_restrictions.yaml"),
		},
	}
}

// getEnvWithDefault gets environment variable with a default fallback
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntWithDefault gets environment variable as integer with default fallback
func getEnvAsIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBoolWithDefault gets environment variable as boolean with default fallback
func getEnvAsBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
