package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects gateway-wide Prometheus metrics.
type Metrics struct {
	// MessageCounter tracks relayed messages by role.
	MessageCounter *prometheus.CounterVec

	// ActiveSessions tracks currently registered sessions.
	ActiveSessions prometheus.Gauge

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests. Labels: provider, model,
	// status (success|error).
	LLMRequestCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP handler latency. Labels: method,
	// path, status.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry creates metrics on the given registry. A nil
// registry uses the default one. Tests pass their own registry so repeated
// construction never double-registers.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}
	return &Metrics{
		MessageCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finagent_messages_total",
			Help: "Messages relayed through sessions, by role.",
		}, []string{"role"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "finagent_active_sessions",
			Help: "Currently registered sessions.",
		}),
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finagent_llm_request_duration_seconds",
			Help:    "LLM API call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finagent_llm_requests_total",
			Help: "LLM API requests by provider, model, and status.",
		}, []string{"provider", "model", "status"}),
		ErrorCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finagent_errors_total",
			Help: "Errors by component and type.",
		}, []string{"component", "error_type"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finagent_http_request_duration_seconds",
			Help:    "HTTP API request latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method", "path", "status"}),
	}
}
