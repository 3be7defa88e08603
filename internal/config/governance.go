package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FreshnessSLAConfig maps source types to freshness thresholds per billing
// tier. Connector source types are first mapped to SLA keys via SourceAliases.
type FreshnessSLAConfig struct {
	// Defaults apply when a source has no per-tier entry
	Defaults SLAThresholds `yaml:"defaults"`
	// Sources keys are SLA keys (e.g. "shopify_orders", "facebook_ads")
	Sources map[string]SourceSLA `yaml:"sources"`
	// SourceAliases maps connector source types to SLA keys
	// (e.g. facebook -> facebook_ads)
	SourceAliases map[string]string `yaml:"source_aliases"`
	// CriticalSources always escalate stale-connector incidents to critical
	CriticalSources []string `yaml:"critical_sources"`
}

// SourceSLA holds per-tier thresholds for one source
type SourceSLA struct {
	Tiers map[string]SLAThresholds `yaml:"tiers"`
}

// SLAThresholds holds the warn/error minute thresholds
type SLAThresholds struct {
	WarnAfterMinutes  int `yaml:"warn_after_minutes"`
	ErrorAfterMinutes int `yaml:"error_after_minutes"`
}

// ResolveSLAKey maps a connector source type onto its SLA key
func (c *FreshnessSLAConfig) ResolveSLAKey(sourceType string) string {
	if alias, ok := c.SourceAliases[sourceType]; ok {
		return alias
	}
	return sourceType
}

// Thresholds returns the thresholds for a source type and billing tier,
// falling back to the config defaults.
func (c *FreshnessSLAConfig) Thresholds(sourceType, tier string) SLAThresholds {
	key := c.ResolveSLAKey(sourceType)
	if src, ok := c.Sources[key]; ok {
		if t, ok := src.Tiers[tier]; ok {
			return t
		}
		if t, ok := src.Tiers["default"]; ok {
			return t
		}
	}
	return c.Defaults
}

// IsCriticalSource checks whether a source always escalates to critical
func (c *FreshnessSLAConfig) IsCriticalSource(sourceType string) bool {
	key := c.ResolveSLAKey(sourceType)
	for _, s := range c.CriticalSources {
		if s == key {
			return true
		}
	}
	return false
}

// MetricsVersionsConfig is the config-resident metric version registry
type MetricsVersionsConfig struct {
	WarnBeforeSunsetDays int                     `yaml:"warn_before_sunset_days"`
	AlertChannels        []string                `yaml:"alert_channels"`
	Metrics              map[string]MetricConfig `yaml:"metrics"`
}

// MetricConfig holds one metric's current version and version history
type MetricConfig struct {
	CurrentVersion string                         `yaml:"current_version"`
	Versions       map[string]MetricVersionConfig `yaml:"versions"`
}

// MetricVersionConfig describes one version of a metric
type MetricVersionConfig struct {
	DbtModel       string `yaml:"dbt_model"`
	Definition     string `yaml:"definition"`
	Status         string `yaml:"status"` // active, deprecated, sunset
	DeprecatedDate string `yaml:"deprecated_date"`
	SunsetDate     string `yaml:"sunset_date"`
	MigrationGuide string `yaml:"migration_guide"`
}

// ChangeApprovalsConfig holds per-change-type approval policy
type ChangeApprovalsConfig struct {
	ChangeTypes map[string]ApprovalPolicy `yaml:"change_types"`
}

// ApprovalPolicy is the approval requirement for one change type
type ApprovalPolicy struct {
	RequiredApprovals int              `yaml:"required_approvals"`
	ApproverRoles     []string         `yaml:"approver_roles"`
	Checklist         []string         `yaml:"checklist"`
	SLAHours          int              `yaml:"sla_hours"`
	Emergency         *EmergencyPolicy `yaml:"emergency,omitempty"`
}

// EmergencyPolicy constrains emergency approvals
type EmergencyPolicy struct {
	MinApprovers          int      `yaml:"min_approvers"`
	AllowedApproverRoles  []string `yaml:"allowed_approver_roles"`
	RequireIncidentTicket bool     `yaml:"require_incident_ticket"`
	RequirePostMortem     bool     `yaml:"require_post_mortem"`
}

// PreDeployConfig drives the deterministic pre-deploy validator
type PreDeployConfig struct {
	Categories []PreDeployCategory `yaml:"categories"`
}

// PreDeployCategory groups checks and fixes their failure behavior
type PreDeployCategory struct {
	Name            string           `yaml:"name"`
	FailureBehavior string           `yaml:"failure_behavior"` // block, warn, skip
	Checks          []PreDeployCheck `yaml:"checks"`
}

// PreDeployCheck names one check and its threshold
type PreDeployCheck struct {
	Name      string  `yaml:"name"`
	Threshold float64 `yaml:"threshold"`
}

// RollbackConfig constrains the rollback orchestrator
type RollbackConfig struct {
	AuthorizedRoles    []string `yaml:"authorized_roles"`
	VerificationChecks []string `yaml:"verification_checks"`
	MaxCanaryBatches   int      `yaml:"max_canary_batches"`
}

// AIRestrictionsConfig is the closed registry of prohibited AI actions and
// required behaviors
type AIRestrictionsConfig struct {
	ProhibitedActions []ProhibitedAction `yaml:"prohibited_actions"`
	RequiredBehaviors []string           `yaml:"required_behaviors"`
}

// ProhibitedAction names one action AI must refuse
type ProhibitedAction struct {
	Action     string `yaml:"action"`
	Category   string `yaml:"category"` // prohibited, requires_human_judgment, business_decision, security_critical, accountability_required
	Reason     string `yaml:"reason"`
	RedirectTo string `yaml:"redirect_to"`
}

// LoadYAML decodes a YAML config file into out
func LoadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// LoadFreshnessSLA loads the freshness SLA config from disk
func LoadFreshnessSLA(path string) (*FreshnessSLAConfig, error) {
	cfg := &FreshnessSLAConfig{}
	if err := LoadYAML(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Defaults.WarnAfterMinutes == 0 {
		cfg.Defaults = SLAThresholds{WarnAfterMinutes: 120, ErrorAfterMinutes: 480}
	}
	return cfg, nil
}

// LoadMetricsVersions loads the metric version registry from disk
func LoadMetricsVersions(path string) (*MetricsVersionsConfig, error) {
	cfg := &MetricsVersionsConfig{}
	if err := LoadYAML(path, cfg); err != nil {
		return nil, err
	}
	if cfg.WarnBeforeSunsetDays == 0 {
		cfg.WarnBeforeSunsetDays = 14
	}
	return cfg, nil
}

// LoadChangeApprovals loads the approval policy config from disk
func LoadChangeApprovals(path string) (*ChangeApprovalsConfig, error) {
	cfg := &ChangeApprovalsConfig{}
	if err := LoadYAML(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPreDeploy loads the pre-deploy validation config from disk
func LoadPreDeploy(path string) (*PreDeployConfig, error) {
	cfg := &PreDeployConfig{}
	if err := LoadYAML(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRollback loads the rollback orchestrator config from disk
func LoadRollback(path string) (*RollbackConfig, error) {
	cfg := &RollbackConfig{}
	if err := LoadYAML(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAIRestrictions loads the AI guardrail registry from disk
func LoadAIRestrictions(path string) (*AIRestrictionsConfig, error) {
	cfg := &AIRestrictionsConfig{}
	if err := LoadYAML(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
