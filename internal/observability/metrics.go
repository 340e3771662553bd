package observability

// OperationMetricsRecorder records per-operation metrics: get_details,
// place_bid, get_bid_outcome. Adapted from the teacher's per-adapter
// MetricsRecorder — FillRate/NoFill (an ad auction's "nobody bid" signal)
// has no analog here, so IncNoOutcome marks a reconciliation pass that
// found the auction still Pending rather than a fill miss.
type OperationMetricsRecorder interface {
	IncRequest(op string)
	IncSuccess(op string)
	IncError(op, reason string)
	IncNoOutcome(op string)
	IncTimeout(op string)
	ObserveLatencyMS(op string, ms float64)
}

type noopMetrics struct{}

func (noopMetrics) IncRequest(string)              {}
func (noopMetrics) IncSuccess(string)               {}
func (noopMetrics) IncError(string, string)         {}
func (noopMetrics) IncNoOutcome(string)             {}
func (noopMetrics) IncTimeout(string)               {}
func (noopMetrics) ObserveLatencyMS(string, float64) {}

var metricsRecorder OperationMetricsRecorder = noopMetrics{}

// SetMetricsRecorder wires a custom recorder, typically the Prometheus-backed
// one built in prometheus.go or, in tests, a RollingMetricsRecorder.
func SetMetricsRecorder(r OperationMetricsRecorder) {
	if r != nil {
		metricsRecorder = r
	}
}

func recordRequest(op string) {
	metricsRecorder.IncRequest(op)
	if globalTS != nil {
		globalTS.IncRequest(op)
	}
}
func recordSuccess(op string) {
	metricsRecorder.IncSuccess(op)
	if globalTS != nil {
		globalTS.IncSuccess(op)
	}
}
func recordError(op, reason string) {
	metricsRecorder.IncError(op, reason)
	if globalTS != nil {
		globalTS.IncError(op, reason)
	}
}
func recordNoOutcome(op string) {
	metricsRecorder.IncNoOutcome(op)
	if globalTS != nil {
		globalTS.IncNoOutcome(op)
	}
}
func recordTimeout(op string) {
	metricsRecorder.IncTimeout(op)
	if globalTS != nil {
		globalTS.IncTimeout(op)
	}
}
func observeLatency(op string, ms float64) {
	metricsRecorder.ObserveLatencyMS(op, ms)
	if globalTS != nil {
		globalTS.ObserveLatencyMS(op, ms)
	}
}

// RecordRequest/RecordSuccess/... are the exported entry points MarketClient
// wiring (internal/marketclient's MetricsSink adapter) calls into.
func RecordRequest(op string)                { recordRequest(op) }
func RecordSuccess(op string)                { recordSuccess(op) }
func RecordError(op, reason string)          { recordError(op, reason) }
func RecordNoOutcome(op string)              { recordNoOutcome(op) }
func RecordTimeout(op string)                { recordTimeout(op) }
func ObserveLatencyMS(op string, ms float64) { observeLatency(op, ms) }
