// Package metrics exposes Prometheus instrumentation for the lockout engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChecksTotal            *prometheus.CounterVec
	FailuresRecordedTotal  *prometheus.CounterVec
	LockoutsTotal          *prometheus.CounterVec
	ClearsTotal            prometheus.Counter
	TierFallbacksTotal     *prometheus.CounterVec
	TierErrorsTotal        *prometheus.CounterVec
	CounterDenialsTotal    prometheus.Counter
	CleanupRunsTotal       *prometheus.CounterVec
	CleanupRemovedTotal    *prometheus.CounterVec
	CleanupDurationSeconds prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		ChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_lockout_checks_total",
			Help: "Total number of lockout checks by namespace and outcome",
		}, []string{"namespace", "outcome"}),
		FailuresRecordedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_lockout_failures_recorded_total",
			Help: "Total number of failed attempts recorded",
		}, []string{"namespace"}),
		LockoutsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_lockout_lockouts_total",
			Help: "Total number of hard locks raised",
		}, []string{"namespace"}),
		ClearsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bastion_lockout_clears_total",
			Help: "Total number of windows cleared after successful authentication",
		}),
		TierFallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_lockout_tier_fallbacks_total",
			Help: "Times the cache tier was unavailable and an operation fell through",
		}, []string{"operation"}),
		TierErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_lockout_tier_errors_total",
			Help: "Tier call failures by tier and operation",
		}, []string{"tier", "operation"}),
		CounterDenialsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bastion_counter_denials_total",
			Help: "Requests denied by the generic fixed-window counter",
		}),
		CleanupRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_lockout_cleanup_runs_total",
			Help: "Total number of cleanup runs by status",
		}, []string{"status"}),
		CleanupRemovedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_lockout_cleanup_removed_total",
			Help: "Entries removed by the cleanup worker, by tier",
		}, []string{"tier"}),
		CleanupDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "bastion_lockout_cleanup_duration_seconds",
			Help: "Duration of cleanup runs in seconds",
		}),
	}
}

func (m *Metrics) ObserveCheck(namespace, outcome string) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(namespace, outcome).Inc()
}

func (m *Metrics) ObserveFailureRecorded(namespace string) {
	if m == nil {
		return
	}
	m.FailuresRecordedTotal.WithLabelValues(namespace).Inc()
}

func (m *Metrics) ObserveLockout(namespace string) {
	if m == nil {
		return
	}
	m.LockoutsTotal.WithLabelValues(namespace).Inc()
}

func (m *Metrics) ObserveClear() {
	if m == nil {
		return
	}
	m.ClearsTotal.Inc()
}

func (m *Metrics) ObserveTierFallback(operation string) {
	if m == nil {
		return
	}
	m.TierFallbacksTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveTierError(tier, operation string) {
	if m == nil {
		return
	}
	m.TierErrorsTotal.WithLabelValues(tier, operation).Inc()
}

func (m *Metrics) ObserveCounterDenial() {
	if m == nil {
		return
	}
	m.CounterDenialsTotal.Inc()
}

func (m *Metrics) ObserveCleanupRun(status string, seconds float64) {
	if m == nil {
		return
	}
	m.CleanupRunsTotal.WithLabelValues(status).Inc()
	m.CleanupDurationSeconds.Observe(seconds)
}

func (m *Metrics) ObserveCleanupRemoved(tier string, count int) {
	if m == nil {
		return
	}
	m.CleanupRemovedTotal.WithLabelValues(tier).Add(float64(count))
}
