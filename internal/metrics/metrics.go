package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Control-plane metrics. Registered with the default registry and exposed by
// the /metrics handler in cmd.
var (
	EntitlementCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_cache_hits_total",
		Help: "Number of entitlement resolutions served from cache",
	})

	EntitlementCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_cache_misses_total",
		Help: "Number of entitlement resolutions that required a recompute",
	})

	EntitlementEvalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_eval_failures_total",
		Help: "Number of fail-closed entitlement resolution failures",
	})

	AuditFallbackWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_fallback_writes_total",
		Help: "Number of audit records written to the fallback channel after a primary write failure",
	})

	WebhooksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhooks_processed_total",
		Help: "Number of billing webhooks processed by outcome",
	}, []string{"outcome"})

	GuardDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenant_guard_denials_total",
		Help: "Number of requests denied by the tenant guard by violation type",
	}, []string{"violation"})

	TokenRefreshAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "token_refresh_attempts_total",
		Help: "Number of credential refresh attempts by outcome",
	}, []string{"outcome"})

	FreshnessTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "data_freshness_transitions_total",
		Help: "Number of freshness state transitions by target state",
	}, []string{"state"})
)
