package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for OpenScout.
type Metrics struct {
	config MetricsConfig

	// Discovery metrics
	discoveriesStarted   prometheus.Counter
	discoveriesCompleted *prometheus.CounterVec
	discoveryDuration    *prometheus.HistogramVec

	// Layer metrics
	layersExecuted *prometheus.CounterVec
	layerDuration  *prometheus.HistogramVec

	// Tool invocation metrics
	toolInvocations *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	pagesFetched    *prometheus.CounterVec
	retries         *prometheus.CounterVec
	rowsCollected   *prometheus.CounterVec

	// Boundary metrics
	policyDenials   *prometheus.CounterVec
	throttlePauses  prometheus.Counter
	throttleSeconds prometheus.Histogram

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Graph metrics
	graphNodes prometheus.Gauge
	graphEdges prometheus.Gauge

	// System metrics
	activeDiscoveries prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		discoveriesStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discoveries_started_total",
				Help:      "Total number of discoveries started",
			},
		),
		discoveriesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discoveries_completed_total",
				Help:      "Total number of discoveries reaching a terminal stage",
			},
			[]string{"status"},
		),
		discoveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "discovery_duration_seconds",
				Help:      "End-to-end discovery duration in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		layersExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "layers_executed_total",
				Help:      "Total number of layer executions",
			},
			[]string{"layer", "status"},
		),
		layerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "layer_duration_seconds",
				Help:      "Duration of layer execution in seconds",
				Buckets:   buckets,
			},
			[]string{"layer"},
		),

		toolInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_invocations_total",
				Help:      "Total number of tool invocations",
			},
			[]string{"tool", "status"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_invocation_duration_seconds",
				Help:      "Duration of tool invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"tool"},
		),
		pagesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_fetched_total",
				Help:      "Total number of result pages fetched",
			},
			[]string{"tool"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of page request retries",
			},
			[]string{"tool"},
		),
		rowsCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_collected_total",
				Help:      "Total number of result rows collected",
			},
			[]string{"tool"},
		),

		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Total number of invocations denied by policy",
			},
			[]string{"rule"},
		),
		throttlePauses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "throttle_pauses_total",
				Help:      "Total number of proactive throttle pauses",
			},
		),
		throttleSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "throttle_pause_seconds",
				Help:      "Duration of throttle pauses in seconds",
				Buckets:   buckets,
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		graphNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "graph_nodes",
				Help:      "Node count of the most recently built graph",
			},
		),
		graphEdges: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "graph_edges",
				Help:      "Edge count of the most recently built graph",
			},
		),

		activeDiscoveries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_discoveries",
				Help:      "Current number of in-flight discoveries",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.discoveriesStarted,
		m.discoveriesCompleted,
		m.discoveryDuration,
		m.layersExecuted,
		m.layerDuration,
		m.toolInvocations,
		m.toolDuration,
		m.pagesFetched,
		m.retries,
		m.rowsCollected,
		m.policyDenials,
		m.throttlePauses,
		m.throttleSeconds,
		m.errorsByClass,
		m.errorsByCode,
		m.graphNodes,
		m.graphEdges,
		m.activeDiscoveries,
	)

	return m, nil
}

// Discovery metrics

// RecordDiscoveryStarted increments the started counter and the in-flight gauge.
func (m *Metrics) RecordDiscoveryStarted() {
	if m.discoveriesStarted == nil {
		return
	}
	m.discoveriesStarted.Inc()
	m.activeDiscoveries.Inc()
}

// RecordDiscoveryCompleted records a discovery reaching a terminal stage.
func (m *Metrics) RecordDiscoveryCompleted(status string, duration time.Duration) {
	if m.discoveriesCompleted == nil {
		return
	}
	m.discoveriesCompleted.WithLabelValues(status).Inc()
	m.discoveryDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeDiscoveries.Dec()
}

// Layer metrics

// RecordLayerExecution records a finished layer with its status and duration.
func (m *Metrics) RecordLayerExecution(layer, status string, duration time.Duration) {
	if m.layersExecuted == nil {
		return
	}
	m.layersExecuted.WithLabelValues(layer, status).Inc()
	m.layerDuration.WithLabelValues(layer).Observe(duration.Seconds())
}

// Tool invocation metrics

// RecordToolInvocation records a tool invocation with its status and duration.
func (m *Metrics) RecordToolInvocation(tool, status string, duration time.Duration) {
	if m.toolInvocations == nil {
		return
	}
	m.toolInvocations.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordPage records one fetched result page.
func (m *Metrics) RecordPage(tool string) {
	if m.pagesFetched == nil {
		return
	}
	m.pagesFetched.WithLabelValues(tool).Inc()
}

// RecordRetry records one retried page request.
func (m *Metrics) RecordRetry(tool string) {
	if m.retries == nil {
		return
	}
	m.retries.WithLabelValues(tool).Inc()
}

// RecordRowsCollected adds to the collected row count for a tool.
func (m *Metrics) RecordRowsCollected(tool string, rows int) {
	if m.rowsCollected == nil {
		return
	}
	m.rowsCollected.WithLabelValues(tool).Add(float64(rows))
}

// Boundary metrics

// RecordPolicyDenial records an invocation denied by the named rule.
func (m *Metrics) RecordPolicyDenial(rule string) {
	if m.policyDenials == nil {
		return
	}
	m.policyDenials.WithLabelValues(rule).Inc()
}

// RecordThrottlePause records a proactive quota pause.
func (m *Metrics) RecordThrottlePause(duration time.Duration) {
	if m.throttlePauses == nil {
		return
	}
	m.throttlePauses.Inc()
	m.throttleSeconds.Observe(duration.Seconds())
}

// Error metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Graph metrics

// SetGraphSize records the node and edge counts of the latest built graph.
func (m *Metrics) SetGraphSize(nodes, edges int) {
	if m.graphNodes == nil {
		return
	}
	m.graphNodes.Set(float64(nodes))
	m.graphEdges.Set(float64(edges))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
