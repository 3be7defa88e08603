package governance

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
)

// CheckStatus is the outcome of one pre-deploy check
type CheckStatus string

const (
	CheckPass  CheckStatus = "pass"
	CheckWarn  CheckStatus = "warn"
	CheckBlock CheckStatus = "block"
	CheckSkip  CheckStatus = "skip"
	CheckError CheckStatus = "error"
)

// CheckResult is one executed check's report entry
type CheckResult struct {
	CheckName     string      `json:"check_name"`
	Category      string      `json:"category"`
	Status        CheckStatus `json:"status"`
	MeasuredValue float64     `json:"measured_value"`
	Threshold     float64     `json:"threshold"`
	Blocking      bool        `json:"blocking"`
	Detail        string      `json:"detail,omitempty"`
}

// ValidationReport is the machine-readable overall result for CI
type ValidationReport struct {
	Overall          CheckStatus   `json:"overall"`
	CanDeploy        bool          `json:"can_deploy"`
	RequiresApproval bool          `json:"requires_approval"`
	Checks           []CheckResult `json:"checks"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

// JSON serializes the report for CI consumption
func (r *ValidationReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// CheckFunc measures one named check and returns the observed value. A nil
// registration causes the check to be reported as skipped.
type CheckFunc func(ctx context.Context) (measured float64, detail string, err error)

// PreDeployValidator executes the configured check list deterministically.
// Category failure behavior decides whether a failing check blocks the deploy
// or only requires approval.
type PreDeployValidator struct {
	cfg    *config.PreDeployConfig
	logger *logrus.Logger
	checks map[string]CheckFunc
}

// NewPreDeployValidator creates a new validator
func NewPreDeployValidator(cfg *config.PreDeployConfig, logger *logrus.Logger) *PreDeployValidator {
	return &PreDeployValidator{
		cfg:    cfg,
		logger: logger,
		checks: make(map[string]CheckFunc),
	}
}

// RegisterCheck registers the measurement function for one check name
func (v *PreDeployValidator) RegisterCheck(name string, fn CheckFunc) {
	v.checks[name] = fn
}

// Validate runs every configured check in order and aggregates the report.
// Any blocking failure makes the overall result block with can_deploy=false;
// non-blocking failures downgrade to warn with requires_approval=true.
func (v *PreDeployValidator) Validate(ctx context.Context) *ValidationReport {
	report := &ValidationReport{
		Overall:     CheckPass,
		CanDeploy:   true,
		GeneratedAt: time.Now().UTC(),
	}

	for _, category := range v.cfg.Categories {
		blocking := category.FailureBehavior == "block"
		for _, check := range category.Checks {
			result := v.runCheck(ctx, category.Name, check, blocking)
			report.Checks = append(report.Checks, result)

			switch result.Status {
			case CheckBlock:
				report.Overall = CheckBlock
				report.CanDeploy = false
			case CheckWarn, CheckError:
				report.RequiresApproval = true
				if report.Overall == CheckPass {
					report.Overall = CheckWarn
				}
			}
		}
	}
	return report
}

func (v *PreDeployValidator) runCheck(ctx context.Context, category string, check config.PreDeployCheck, blocking bool) CheckResult {
	result := CheckResult{
		CheckName: check.Name,
		Category:  category,
		Threshold: check.Threshold,
		Blocking:  blocking,
	}

	fn, ok := v.checks[check.Name]
	if !ok {
		result.Status = CheckSkip
		result.Detail = "no measurement registered"
		return result
	}

	measured, detail, err := fn(ctx)
	result.MeasuredValue = measured
	result.Detail = detail
	if err != nil {
		result.Status = CheckError
		result.Detail = err.Error()
		v.logger.WithFields(logrus.Fields{
			"check":    check.Name,
			"category": category,
		}).WithError(err).Warn("Pre-deploy check errored")
		return result
	}

	if measured > check.Threshold {
		if blocking {
			result.Status = CheckBlock
		} else {
			result.Status = CheckWarn
		}
		return result
	}
	result.Status = CheckPass
	return result
}
