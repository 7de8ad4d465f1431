// Package metrics defines the Prometheus collectors the service exposes,
// following wisbric-nightowl's internal/telemetry/metrics.go pattern:
// package-level constructors, a fixed Namespace, and an All() accessor the
// composition root registers once.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "agent_iam"

// Metrics bundles every collector the service's components write to.
type Metrics struct {
	AuditEventsWritten   prometheus.Counter
	AuditBatchDuration    prometheus.Histogram
	AuditQueueFullDropped prometheus.Counter
	RateLimitDecisions    *prometheus.CounterVec
	AuthzDecisions        *prometheus.CounterVec
	TokensIssued          *prometheus.CounterVec
	TokensRevoked         *prometheus.CounterVec
	PolicyReloads         prometheus.Counter
}

// New constructs all collectors, unregistered.
func New() *Metrics {
	return &Metrics{
		AuditEventsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_written_total",
			Help:      "Total number of audit events successfully persisted.",
		}),
		AuditBatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audit_batch_write_duration_seconds",
			Help:      "Duration of audit batch flush writes.",
			Buckets:   prometheus.DefBuckets,
		}),
		AuditQueueFullDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_queue_full_total",
			Help:      "Total number of audit log calls rejected because the queue was full.",
		}),
		RateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter admission decisions by class and outcome.",
		}, []string{"class", "allowed"}),
		AuthzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_decisions_total",
			Help:      "Authorization decisions by outcome.",
		}, []string{"decision"}),
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens minted by type.",
		}, []string{"type"}),
		TokensRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_revoked_total",
			Help:      "Tokens revoked by type.",
		}, []string{"type"}),
		PolicyReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_reloads_total",
			Help:      "Total number of policy working-set reloads.",
		}),
	}
}

// All returns every collector for registration with a prometheus.Registerer.
func (m *Metrics) All() []prometheus.Collector {
	return []prometheus.Collector{
		m.AuditEventsWritten,
		m.AuditBatchDuration,
		m.AuditQueueFullDropped,
		m.RateLimitDecisions,
		m.AuthzDecisions,
		m.TokensIssued,
		m.TokensRevoked,
		m.PolicyReloads,
	}
}
