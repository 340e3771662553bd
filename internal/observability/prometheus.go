package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsRecorder implements OperationMetricsRecorder against real
// Prometheus client_golang collectors, replacing the teacher's hand-rolled
// text-exposition format (see DESIGN.md) with a standard /metrics endpoint.
type PrometheusMetricsRecorder struct {
	requests *prometheus.CounterVec
	success  *prometheus.CounterVec
	errors   *prometheus.CounterVec
	noOutcome *prometheus.CounterVec
	timeouts *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers collectors on reg and returns a
// recorder backed by them. Pass prometheus.NewRegistry() for an isolated
// registry in tests, or prometheus.DefaultRegisterer in production.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sniper",
			Name:      "marketclient_requests_total",
			Help:      "Total MarketClient calls by operation.",
		}, []string{"operation"}),
		success: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sniper",
			Name:      "marketclient_success_total",
			Help:      "Total successful MarketClient calls by operation.",
		}, []string{"operation"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sniper",
			Name:      "marketclient_errors_total",
			Help:      "Total failed MarketClient calls by operation and reason.",
		}, []string{"operation", "reason"}),
		noOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sniper",
			Name:      "marketclient_no_outcome_total",
			Help:      "Reconciliation passes that found an auction still Pending.",
		}, []string{"operation"}),
		timeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sniper",
			Name:      "marketclient_timeouts_total",
			Help:      "Total MarketClient calls that exceeded their deadline.",
		}, []string{"operation"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sniper",
			Name:      "marketclient_latency_ms",
			Help:      "MarketClient call latency in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 200, 400, 600, 800, 1000, 2000, 5000},
		}, []string{"operation"}),
	}
}

func (p *PrometheusMetricsRecorder) IncRequest(op string)   { p.requests.WithLabelValues(op).Inc() }
func (p *PrometheusMetricsRecorder) IncSuccess(op string)   { p.success.WithLabelValues(op).Inc() }
func (p *PrometheusMetricsRecorder) IncError(op, reason string) {
	p.errors.WithLabelValues(op, reason).Inc()
}
func (p *PrometheusMetricsRecorder) IncNoOutcome(op string) { p.noOutcome.WithLabelValues(op).Inc() }
func (p *PrometheusMetricsRecorder) IncTimeout(op string)   { p.timeouts.WithLabelValues(op).Inc() }
func (p *PrometheusMetricsRecorder) ObserveLatencyMS(op string, ms float64) {
	p.latency.WithLabelValues(op).Observe(ms)
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
