package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Analysis metrics
	Analyses        *prometheus.CounterVec
	AnalysisLatency prometheus.Histogram
	AnalysisErrors  *prometheus.CounterVec

	// Dashboard event stream metrics
	DashboardConnections prometheus.Gauge
	DashboardEvents      *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	metrics := &Metrics{
		// Analyses by delegation path (counter - only goes up)
		Analyses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medassist_analyses_total",
			Help: "Total number of analyses by delegation path and mode",
		}, []string{"path", "mode"}), // path: "sidecar", "local_model", "mock"

		// Analysis latency histogram
		AnalysisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "medassist_analysis_duration_seconds",
			Help:    "End-to-end analysis latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}, // up to 2 minutes for model responses
		}),

		// Delegation errors by stage (each one triggers a fallback, not a failure)
		AnalysisErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medassist_analysis_errors_total",
			Help: "Total number of delegation errors by stage",
		}, []string{"stage"}),

		// Dashboard WebSocket connections (gauge - can go up and down)
		DashboardConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "medassist_dashboard_connections_active",
			Help: "Number of active dashboard WebSocket connections",
		}),

		// Dashboard events by type
		DashboardEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medassist_dashboard_events_total",
			Help: "Total number of dashboard events broadcast by type",
		}, []string{"type"}),
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordAnalysis records a completed analysis and the path that served it
func (m *Metrics) RecordAnalysis(path, mode string) {
	m.Analyses.WithLabelValues(path, mode).Inc()
}

// RecordAnalysisLatency records end-to-end analysis latency
func (m *Metrics) RecordAnalysisLatency(seconds float64) {
	m.AnalysisLatency.Observe(seconds)
}

// RecordAnalysisError records a delegation error at a given stage
func (m *Metrics) RecordAnalysisError(stage string) {
	m.AnalysisErrors.WithLabelValues(stage).Inc()
}

// RecordDashboardConnect records a new dashboard connection
func (m *Metrics) RecordDashboardConnect() {
	m.DashboardConnections.Inc()
}

// RecordDashboardDisconnect records a dashboard disconnection
func (m *Metrics) RecordDashboardDisconnect() {
	m.DashboardConnections.Dec()
}

// RecordDashboardEvent records a broadcast dashboard event
func (m *Metrics) RecordDashboardEvent(eventType string) {
	m.DashboardEvents.WithLabelValues(eventType).Inc()
}
