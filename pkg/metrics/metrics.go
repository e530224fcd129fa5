package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Authorization metrics
	AuthzDecisions         *prometheus.CounterVec
	AuthzLatency           prometheus.Histogram
	PermissionCacheLookups *prometheus.CounterVec

	// Audit metrics
	AuditRecords         *prometheus.CounterVec
	AuditWriteFailures   prometheus.Counter
	AuditPublishFailures prometheus.Counter

	// Admin operation metrics
	AdminOperations *prometheus.CounterVec
}

// New creates the application metrics and registers them with reg.
// A nil reg leaves the collectors unregistered, which tests rely on.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AuthzDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "decisions_total",
			Help:      "Total number of authorization decisions",
		}, []string{"decision", "reason"}),
		AuthzLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "decision_duration_seconds",
			Help:      "Time spent resolving authorization decisions",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		PermissionCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "permission_cache_lookups_total",
			Help:      "Permission cache lookups by result",
		}, []string{"result"}),

		AuditRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "records_total",
			Help:      "Total number of audit records written",
		}, []string{"outcome"}),
		AuditWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Total number of audit records that could not be persisted",
		}),
		AuditPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "publish_failures_total",
			Help:      "Total number of audit records that could not be published",
		}),

		AdminOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "operations_total",
			Help:      "Total number of admin operations by action and outcome",
		}, []string{"action", "outcome"}),
	}
}

// Nop returns unregistered metrics.
func Nop() *Metrics {
	return New("test", nil)
}
