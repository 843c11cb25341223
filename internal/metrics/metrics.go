// SPDX-License-Identifier: MPL-2.0

// Package metrics defines the Prometheus collectors for module loading and
// link planning. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors registered for one process.
type Metrics struct {
	modulesLoaded    *prometheus.CounterVec
	loadFailures     *prometheus.CounterVec
	compiles         *prometheus.CounterVec
	invalidations    prometheus.Counter
	unresolved       prometheus.Counter
	notifications    prometheus.Counter
	linkPlanDuration prometheus.Histogram
	batchDuration    prometheus.Histogram
	activeRegistries prometheus.Gauge
	cachesBuilt      prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		modulesLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modlink_modules_loaded_total",
			Help: "Modules loaded, by scope.",
		}, []string{"scope"}),
		loadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modlink_module_load_failures_total",
			Help: "Units that could not be loaded as modules, by diagnostic code.",
		}, []string{"code"}),
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modlink_compiles_total",
			Help: "Source compilations, by outcome.",
		}, []string{"outcome"}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modlink_invalidations_total",
			Help: "Modules invalidated by an upstream change.",
		}),
		unresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modlink_unresolved_dependencies_total",
			Help: "Dependency keys that matched no module, cache, framework or library.",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modlink_observer_notifications_total",
			Help: "Module change notifications delivered to observers.",
		}),
		linkPlanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modlink_link_plan_duration_seconds",
			Help:    "Time taken to resolve link inputs.",
			Buckets: prometheus.DefBuckets,
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modlink_load_batch_duration_seconds",
			Help:    "Time taken to apply one batch of module changes.",
			Buckets: prometheus.DefBuckets,
		}),
		activeRegistries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modlink_active_registries",
			Help: "Registries currently attached to the shared service.",
		}),
		cachesBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modlink_caches_built_total",
			Help: "Cache artifacts written.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.modulesLoaded, m.loadFailures, m.compiles, m.invalidations,
			m.unresolved, m.notifications, m.linkPlanDuration, m.batchDuration,
			m.activeRegistries, m.cachesBuilt,
		)
	}
	return m
}

// ModuleLoaded counts a module installed into scope.
func (m *Metrics) ModuleLoaded(scope string) {
	if m != nil {
		m.modulesLoaded.WithLabelValues(scope).Inc()
	}
}

// LoadFailed counts a unit rejected with the given diagnostic code.
func (m *Metrics) LoadFailed(code string) {
	if m != nil {
		m.loadFailures.WithLabelValues(code).Inc()
	}
}

// Compiled counts a source compilation.
func (m *Metrics) Compiled(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.compiles.WithLabelValues(outcome).Inc()
}

// Invalidated counts n invalidated modules.
func (m *Metrics) Invalidated(n int) {
	if m != nil {
		m.invalidations.Add(float64(n))
	}
}

// Unresolved counts n unresolved dependency keys.
func (m *Metrics) Unresolved(n int) {
	if m != nil {
		m.unresolved.Add(float64(n))
	}
}

// Notified counts an observer notification.
func (m *Metrics) Notified() {
	if m != nil {
		m.notifications.Inc()
	}
}

// ObserveLinkPlan records how long link planning took.
func (m *Metrics) ObserveLinkPlan(d time.Duration) {
	if m != nil {
		m.linkPlanDuration.Observe(d.Seconds())
	}
}

// ObserveBatch records how long a load batch took.
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m != nil {
		m.batchDuration.Observe(d.Seconds())
	}
}

// RegistryAttached adjusts the active registry gauge by delta.
func (m *Metrics) RegistryAttached(delta int) {
	if m != nil {
		m.activeRegistries.Add(float64(delta))
	}
}

// CacheBuilt counts a written cache artifact.
func (m *Metrics) CacheBuilt() {
	if m != nil {
		m.cachesBuilt.Inc()
	}
}
