// Package telemetry provides the Prometheus metrics and OpenTelemetry
// tracing wiring for the pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline.
// Pass to components that need to record metrics.
type Metrics struct {
	// ProposalsTotal counts proposed tool calls by decision outcome
	// (auto_approved, pending_approval, denied, invalid).
	ProposalsTotal *prometheus.CounterVec
	// ExecutionsTotal counts execute attempts by outcome
	// (executed, failed, refused).
	ExecutionsTotal *prometheus.CounterVec
	// PendingApprovals tracks calls currently blocked on a human.
	PendingApprovals prometheus.Gauge
	// ExecuteDuration observes gateway execution latency.
	ExecuteDuration prometheus.Histogram
	// AuditAppendsTotal counts audit writes by status (ok, error).
	AuditAppendsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ProposalsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolward",
				Name:      "proposals_total",
				Help:      "Total proposed tool calls by decision outcome",
			},
			[]string{"outcome"},
		),
		ExecutionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolward",
				Name:      "executions_total",
				Help:      "Total execute attempts by outcome",
			},
			[]string{"outcome"},
		),
		PendingApprovals: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "toolward",
				Name:      "pending_approvals",
				Help:      "Tool calls currently awaiting human approval",
			},
		),
		ExecuteDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "toolward",
				Name:      "execute_duration_seconds",
				Help:      "Execution gateway latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		AuditAppendsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolward",
				Name:      "audit_appends_total",
				Help:      "Total audit log appends by status",
			},
			[]string{"status"},
		),
	}
}

// NopMetrics returns metrics registered against a throwaway registry,
// for tests and callers that do not scrape.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
