// Package metrics exposes curator and worker pool counters to Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"curator/internal/asset"
)

const namespace = "curator"

const (
	statusLabel = "status"
	modeLabel   = "mode"
	stateLabel  = "state"
	slotLabel   = "slot"
)

// StatsSource reports asset counts per state.
type StatsSource func() asset.Stats

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry    *prometheus.Registry
	completions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	crashes     *prometheus.CounterVec
	busy        prometheus.Gauge
	scans       prometheus.Counter
}

// New builds the collectors. stats may be nil.
func New(stats StatsSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transforms_total",
			Help:      "Completed worker assignments by outcome.",
		}, []string{statusLabel, modeLabel}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transform_duration_seconds",
			Help:      "Time from dispatch to completion of a worker assignment.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
		}, []string{modeLabel}),
		crashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_crashes_total",
			Help:      "Worker processes that died with an assignment in flight.",
		}, []string{slotLabel}),
		busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_slots_busy",
			Help:      "Worker slots with an assignment in flight.",
		}),
		scans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filesystem_scans_total",
			Help:      "Full file-system sweeps.",
		}),
	}
	m.registry.MustRegister(m.completions, m.duration, m.crashes, m.busy, m.scans)
	m.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if stats != nil {
		m.registry.MustRegister(newStateCollector(stats))
	}
	return m
}

// ObserveCompletion records one finished assignment.
func (m *Metrics) ObserveCompletion(slot int, mode asset.Mode, status asset.OutcomeStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(string(status), string(mode)).Inc()
	m.duration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	if status == asset.OutcomeCrashed {
		m.crashes.WithLabelValues(fmt.Sprint(slot)).Inc()
	}
}

// SetBusySlots records how many slots have work in flight.
func (m *Metrics) SetBusySlots(n int) {
	if m == nil {
		return
	}
	m.busy.Set(float64(n))
}

// ObserveScan counts a full sweep.
func (m *Metrics) ObserveScan() {
	if m == nil {
		return
	}
	m.scans.Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type stateCollector struct {
	stats    StatsSource
	byState  *prometheus.Desc
	total    *prometheus.Desc
	updating *prometheus.Desc
}

func newStateCollector(stats StatsSource) prometheus.Collector {
	return &stateCollector{
		stats: stats,
		byState: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "assets"),
			"Known assets by transform state.",
			[]string{stateLabel},
			nil,
		),
		total: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "assets_total"),
			"Known assets.",
			nil,
			nil,
		),
		updating: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "assets_updating"),
			"Assets currently dispatched to a worker.",
			nil,
			nil,
		),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.byState
	ch <- c.total
	ch <- c.updating
}

// Collect implements prometheus.Collector.
func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.stats()
	for _, state := range asset.AllStates() {
		ch <- prometheus.MustNewConstMetric(c.byState, prometheus.GaugeValue, float64(stats.ByState[state]), string(state))
	}
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(stats.Total))
	ch <- prometheus.MustNewConstMetric(c.updating, prometheus.GaugeValue, float64(stats.Updating))
}
