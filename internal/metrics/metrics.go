// Package metrics collects and exposes pipeline runtime observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (per-module counters) for the
//     lightweight JSON /metrics.json endpoint used by operator tooling.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems (Grafana, Alertmanager, etc.).
//
// Keeping both allows ad-hoc inspection without a Prometheus sidecar
// while still supporting enterprise monitoring stacks.
//
// # Concurrency — hot path
//
// RecordPublish and RecordIteration are called on every bus delivery and
// module iteration and must be as fast as possible. They use atomic
// increments for global counters; the sync.Map that stores the per-module
// entries is read-heavy and write-once-per-new-module, which is the ideal
// use case for sync.Map.
//
// # Invariants
//
//   - TotalPublishes == SuccessPublishes + FailedPublishes (maintained by
//     RecordPublish).
//   - Iterations == Successes + Failures per module (maintained by
//     RecordIteration).
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects and exposes pipeline runtime metrics.
type Metrics struct {
	// Bus metrics
	TotalPublishes   atomic.Int64
	SuccessPublishes atomic.Int64
	FailedPublishes  atomic.Int64
	Deliveries       atomic.Int64

	// Translation metrics
	Translations       atomic.Int64
	TranslationsFailed atomic.Int64

	// Module iteration latency (in milliseconds)
	TotalIterationMs atomic.Int64
	MinIterationMs   atomic.Int64
	MaxIterationMs   atomic.Int64

	// Lifecycle metrics
	ModulesStarted  atomic.Int64
	ModulesFinished atomic.Int64

	// Per-module metrics
	moduleMetrics sync.Map // module name -> *ModuleMetrics

	startTime time.Time
}

// ModuleMetrics tracks metrics for a single module instance.
type ModuleMetrics struct {
	Iterations atomic.Int64
	Successes  atomic.Int64
	Failures   atomic.Int64
	Publishes  atomic.Int64
	TotalMs    atomic.Int64
	MinMs      atomic.Int64
	MaxMs      atomic.Int64
}

// Global metrics instance
var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinIterationMs.Store(int64(^uint64(0) >> 1)) // Max int64
}

// Global returns the global metrics instance
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized
func StartTime() time.Time {
	return global.startTime
}

// RecordPublish records one bus publish attempt and how many subscribers
// it reached.
func (m *Metrics) RecordPublish(topic, sourceModule string, subscribers int, success bool) {
	m.TotalPublishes.Add(1)
	if success {
		m.SuccessPublishes.Add(1)
		m.Deliveries.Add(int64(subscribers))
	} else {
		m.FailedPublishes.Add(1)
	}

	if sourceModule != "" {
		m.getModuleMetrics(sourceModule).Publishes.Add(1)
	}

	RecordPrometheusPublish(topic, subscribers, success)
}

// RecordTranslation records one type-translation attempt on the bus.
func (m *Metrics) RecordTranslation(fromType, toType string, success bool) {
	m.Translations.Add(1)
	if !success {
		m.TranslationsFailed.Add(1)
	}
	RecordPrometheusTranslation(fromType, toType, success)
}

// RecordIteration records a single module iteration result.
func (m *Metrics) RecordIteration(moduleName, runMode string, durationMs int64, success bool) {
	m.TotalIterationMs.Add(durationMs)
	updateMin(&m.MinIterationMs, durationMs)
	updateMax(&m.MaxIterationMs, durationMs)

	mm := m.getModuleMetrics(moduleName)
	mm.Iterations.Add(1)
	if success {
		mm.Successes.Add(1)
	} else {
		mm.Failures.Add(1)
	}
	mm.TotalMs.Add(durationMs)
	updateMin(&mm.MinMs, durationMs)
	updateMax(&mm.MaxMs, durationMs)

	RecordPrometheusIteration(moduleName, runMode, durationMs, success)
}

// RecordModuleStarted records a module run-task entering its lifecycle.
func (m *Metrics) RecordModuleStarted() {
	m.ModulesStarted.Add(1)
	RecordPrometheusModuleStarted()
}

// RecordModuleFinished records a module run-task returning.
func (m *Metrics) RecordModuleFinished() {
	m.ModulesFinished.Add(1)
	RecordPrometheusModuleFinished()
}

func (m *Metrics) getModuleMetrics(name string) *ModuleMetrics {
	if v, ok := m.moduleMetrics.Load(name); ok {
		return v.(*ModuleMetrics)
	}

	mm := &ModuleMetrics{}
	mm.MinMs.Store(int64(^uint64(0) >> 1))
	actual, _ := m.moduleMetrics.LoadOrStore(name, mm)
	return actual.(*ModuleMetrics)
}

// GetModuleMetrics returns the metrics for a specific module (or nil if none recorded yet)
func (m *Metrics) GetModuleMetrics(name string) *ModuleMetrics {
	if v, ok := m.moduleMetrics.Load(name); ok {
		return v.(*ModuleMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all metrics
func (m *Metrics) Snapshot() map[string]interface{} {
	minMs := m.MinIterationMs.Load()
	if minMs == int64(^uint64(0)>>1) {
		minMs = 0
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"bus": map[string]interface{}{
			"publishes_total":  m.TotalPublishes.Load(),
			"publishes_ok":     m.SuccessPublishes.Load(),
			"publishes_failed": m.FailedPublishes.Load(),
			"deliveries_total": m.Deliveries.Load(),
		},
		"translation": map[string]interface{}{
			"total":  m.Translations.Load(),
			"failed": m.TranslationsFailed.Load(),
		},
		"iteration_ms": map[string]interface{}{
			"total": m.TotalIterationMs.Load(),
			"min":   minMs,
			"max":   m.MaxIterationMs.Load(),
		},
		"modules": map[string]interface{}{
			"started":  m.ModulesStarted.Load(),
			"finished": m.ModulesFinished.Load(),
		},
	}
}

// ModuleStats returns per-module metrics
func (m *Metrics) ModuleStats() map[string]interface{} {
	result := make(map[string]interface{})

	m.moduleMetrics.Range(func(key, value interface{}) bool {
		name := key.(string)
		mm := value.(*ModuleMetrics)

		total := mm.Iterations.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(mm.TotalMs.Load()) / float64(total)
		}

		minMs := mm.MinMs.Load()
		if minMs == int64(^uint64(0)>>1) {
			minMs = 0
		}

		result[name] = map[string]interface{}{
			"iterations": total,
			"successes":  mm.Successes.Load(),
			"failures":   mm.Failures.Load(),
			"publishes":  mm.Publishes.Load(),
			"avg_ms":     avgMs,
			"min_ms":     minMs,
			"max_ms":     mm.MaxMs.Load(),
		}
		return true
	})

	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["module_stats"] = m.ModuleStats()
		json.NewEncoder(w).Encode(result)
	})
}

// Helper functions

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
