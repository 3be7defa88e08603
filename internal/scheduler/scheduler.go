package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// Scheduler runs the background maintenance jobs: proactive token refresh,
// expired override cleanup, freshness sweeps and billing reconciliation.
type Scheduler struct {
	cron         *cron.Cron
	tokens       *services.TokenManager
	entitlements *services.EntitlementService
	freshness    *services.FreshnessService
	billing      *services.BillingService
	logger       *logrus.Logger
	cfg          *config.Config

	mu      sync.Mutex
	running bool
}

// New creates a new scheduler
func New(
	tokens *services.TokenManager,
	entitlements *services.EntitlementService,
	freshness *services.FreshnessService,
	billing *services.BillingService,
	logger *logrus.Logger,
	cfg *config.Config,
) *Scheduler {
	return &Scheduler{
		cron:         cron.New(),
		tokens:       tokens,
		entitlements: entitlements,
		freshness:    freshness,
		billing:      billing,
		logger:       logger,
		cfg:          cfg,
	}
}

// Start registers and starts all jobs
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	jobs := []struct {
		name     string
		interval int
		run      func(context.Context)
	}{
		{"token_refresh_sweep", s.cfg.Refresh.SweepIntervalMin, s.runTokenSweep},
		{"override_cleanup", s.cfg.Scheduler.OverrideCleanupIntervalMin, s.runOverrideCleanup},
		{"freshness_sweep", s.cfg.Scheduler.FreshnessIntervalMin, s.runFreshnessSweep},
		{"billing_reconcile", s.cfg.Billing.ReconcileIntervalMin, s.runBillingReconcile},
	}

	for _, job := range jobs {
		job := job
		spec := fmt.Sprintf("@every %dm", job.interval)
		if _, err := s.cron.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			job.run(ctx)
		}); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
		s.logger.WithFields(logrus.Fields{
			"job":      job.name,
			"schedule": spec,
		}).Info("Scheduled background job")
	}

	s.cron.Start()
	s.running = true
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info("Scheduler stopped")
}

// RunNow executes every job once, for operator-triggered maintenance
func (s *Scheduler) RunNow(ctx context.Context) {
	s.runTokenSweep(ctx)
	s.runOverrideCleanup(ctx)
	s.runFreshnessSweep(ctx)
	s.runBillingReconcile(ctx)
}

func (s *Scheduler) runTokenSweep(ctx context.Context) {
	refreshed, err := s.tokens.SweepExpiring(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Token refresh sweep failed")
		return
	}
	s.logger.WithField("refreshed", refreshed).Info("Token refresh sweep completed")
}

func (s *Scheduler) runOverrideCleanup(ctx context.Context) {
	removed, err := s.entitlements.CleanupExpired(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Override cleanup failed")
		return
	}
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("Expired entitlement overrides cleaned up")
	}
}

func (s *Scheduler) runFreshnessSweep(ctx context.Context) {
	evaluated, err := s.freshness.SweepAll(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Freshness sweep failed")
		return
	}
	s.logger.WithField("evaluated", evaluated).Debug("Freshness sweep completed")
}

func (s *Scheduler) runBillingReconcile(ctx context.Context) {
	corrected, err := s.billing.Reconcile(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Billing reconciliation failed")
		return
	}
	if corrected > 0 {
		s.logger.WithField("corrected", corrected).Warn("Billing reconciliation corrected drifted subscriptions")
	}
}
