package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for the pipeline runtime
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	publishesTotal    *prometheus.CounterVec
	deliveriesTotal   prometheus.Counter
	translationsTotal *prometheus.CounterVec
	iterationsTotal   *prometheus.CounterVec
	verificationTotal *prometheus.CounterVec

	// Histograms
	iterationDuration *prometheus.HistogramVec

	// Gauges
	uptime        prometheus.GaugeFunc
	activeModules prometheus.Gauge
}

// Default histogram buckets for iteration duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	// Register default Go and process collectors
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		publishesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_publishes_total",
				Help:      "Total number of bus publish calls",
			},
			[]string{"topic", "status"},
		),

		deliveriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_deliveries_total",
				Help:      "Total number of envelopes delivered to subscribers",
			},
		),

		translationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "translations_total",
				Help:      "Total number of type translation attempts",
			},
			[]string{"from", "to", "status"},
		),

		iterationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_iterations_total",
				Help:      "Total number of module iterations",
			},
			[]string{"module", "run_mode", "status"},
		),

		verificationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_verifications_total",
				Help:      "Total number of module verification outcomes",
			},
			[]string{"status"},
		),

		iterationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_iteration_duration_ms",
				Help:      "Module iteration duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"module"},
		),

		activeModules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_modules",
				Help:      "Number of module run-tasks currently running",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Runtime uptime in seconds",
		},
		func() float64 { return time.Since(global.startTime).Seconds() },
	)

	registry.MustRegister(
		pm.publishesTotal,
		pm.deliveriesTotal,
		pm.translationsTotal,
		pm.iterationsTotal,
		pm.verificationTotal,
		pm.iterationDuration,
		pm.uptime,
		pm.activeModules,
	)

	promMetrics = pm
}

// PrometheusHandler returns the scrape handler, or nil if InitPrometheus
// was never called (metrics disabled).
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return nil
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// ServeMetrics starts an HTTP listener exposing both the Prometheus
// scrape endpoint (/metrics) and the JSON snapshot (/metrics.json).
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	if h := PrometheusHandler(); h != nil {
		mux.Handle("/metrics", h)
	}
	mux.Handle("/metrics.json", global.JSONHandler())
	return http.ListenAndServe(addr, mux)
}

// RecordPrometheusPublish records a publish outcome in Prometheus
func RecordPrometheusPublish(topic string, subscribers int, success bool) {
	if promMetrics == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	promMetrics.publishesTotal.WithLabelValues(topic, status).Inc()
	if success {
		promMetrics.deliveriesTotal.Add(float64(subscribers))
	}
}

// RecordPrometheusTranslation records a translation attempt in Prometheus
func RecordPrometheusTranslation(fromType, toType string, success bool) {
	if promMetrics == nil {
		return
	}
	status := "ok"
	if !success {
		status = "failed"
	}
	promMetrics.translationsTotal.WithLabelValues(fromType, toType, status).Inc()
}

// RecordPrometheusIteration records a module iteration in Prometheus
func RecordPrometheusIteration(module, runMode string, durationMs int64, success bool) {
	if promMetrics == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	promMetrics.iterationsTotal.WithLabelValues(module, runMode, status).Inc()
	promMetrics.iterationDuration.WithLabelValues(module).Observe(float64(durationMs))
}

// RecordPrometheusVerification records a module verification outcome
func RecordPrometheusVerification(status string) {
	if promMetrics == nil {
		return
	}
	promMetrics.verificationTotal.WithLabelValues(status).Inc()
}

// RecordPrometheusModuleStarted increments the active-module gauge
func RecordPrometheusModuleStarted() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeModules.Inc()
}

// RecordPrometheusModuleFinished decrements the active-module gauge
func RecordPrometheusModuleFinished() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeModules.Dec()
}
