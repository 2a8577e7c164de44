package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for update-sentinel.
type Metrics struct {
	registry                 *prometheus.Registry
	evaluationsTotal         *prometheus.CounterVec
	updatesTotal             *prometheus.CounterVec
	rollbacksTotal           *prometheus.CounterVec
	healthChecksTotal        *prometheus.CounterVec
	monitorDurationSeconds   prometheus.Histogram
	cycleDurationSeconds     prometheus.Histogram
	assetsTotal              *prometheus.GaugeVec
	lastSuccessfulCycleGauge prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "update_sentinel_evaluations_total",
			Help: "Total version evaluations by gate decision.",
		}, []string{"decision"}),
		updatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "update_sentinel_updates_total",
			Help: "Total applied updates by final result.",
		}, []string{"result"}),
		rollbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "update_sentinel_rollbacks_total",
			Help: "Total rollback requests by outcome.",
		}, []string{"outcome"}),
		healthChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "update_sentinel_health_checks_total",
			Help: "Total health probes by reported status.",
		}, []string{"status"}),
		monitorDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "update_sentinel_monitor_duration_seconds",
			Help:    "Time spent monitoring an update before confirmation or rollback.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		cycleDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "update_sentinel_cycle_duration_seconds",
			Help:    "Duration of manifest reconcile cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		assetsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "update_sentinel_assets_total",
			Help: "Tracked assets by lifecycle status.",
		}, []string{"status"}),
		lastSuccessfulCycleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "update_sentinel_last_successful_cycle_timestamp",
			Help: "Unix timestamp of the last successful reconcile cycle.",
		}),
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.updatesTotal,
		m.rollbacksTotal,
		m.healthChecksTotal,
		m.monitorDurationSeconds,
		m.cycleDurationSeconds,
		m.assetsTotal,
		m.lastSuccessfulCycleGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncEvaluations counts one gate evaluation by decision.
func (m *Metrics) IncEvaluations(decision string) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(decision).Inc()
}

// IncUpdates counts one applied update by final result.
func (m *Metrics) IncUpdates(result string) {
	if m == nil {
		return
	}
	m.updatesTotal.WithLabelValues(result).Inc()
}

// IncRollbacks counts one rollback request by outcome.
func (m *Metrics) IncRollbacks(outcome string) {
	if m == nil {
		return
	}
	m.rollbacksTotal.WithLabelValues(outcome).Inc()
}

// IncHealthChecks counts one health probe by status.
func (m *Metrics) IncHealthChecks(status string) {
	if m == nil {
		return
	}
	m.healthChecksTotal.WithLabelValues(status).Inc()
}

// ObserveMonitorDuration records how long an update was monitored.
func (m *Metrics) ObserveMonitorDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.monitorDurationSeconds.Observe(duration.Seconds())
}

// ObserveCycleDuration records the duration of a completed reconcile cycle.
func (m *Metrics) ObserveCycleDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDurationSeconds.Observe(duration.Seconds())
}

// SetAssetsTotal sets the asset gauge for the given status.
func (m *Metrics) SetAssetsTotal(status string, value int) {
	if m == nil {
		return
	}
	m.assetsTotal.WithLabelValues(status).Set(float64(value))
}

// SetLastSuccessfulCycleTimestamp sets the last successful cycle time.
func (m *Metrics) SetLastSuccessfulCycleTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulCycleGauge.Set(float64(t.Unix()))
}
