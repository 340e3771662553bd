package observability

import (
	"context"

	"github.com/ebaysniper/sniper/internal/marketclient"
)

// TracerAdapter bridges the package-global Tracer to marketclient.Tracer so
// Client.SetTracer can be wired without marketclient importing observability.
type TracerAdapter struct{}

func (TracerAdapter) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, marketclient.Span) {
	ctx, sp := StartSpan(ctx, name, attrs)
	return ctx, spanAdapter{sp}
}

type spanAdapter struct{ Span }

// MetricsAdapter bridges the package-global metrics recorder to
// marketclient.MetricsSink.
type MetricsAdapter struct{}

func (MetricsAdapter) RecordLatency(op string, ms float64) { ObserveLatencyMS(op, ms) }
func (MetricsAdapter) RecordOutcome(op, outcome string) {
	switch outcome {
	case "success":
		RecordSuccess(op)
	default:
		RecordError(op, outcome)
	}
}

// DebugAdapter bridges the package-global debugger to marketclient.DebugSink.
type DebugAdapter struct{}

func (DebugAdapter) Capture(listingID, op, outcome, reason string) {
	CaptureDebugEvent(DebugEvent{ListingID: listingID, Operation: op, Outcome: outcome, Reason: reason})
}

// WireClient installs the package-global tracer, metrics, and debugger into
// a MarketClient, called once from cmd/sniperd after InstallOTelTracer and
// SetMetricsRecorder/SetDebugger have configured the globals.
func WireClient(c *marketclient.Client) {
	c.SetTracer(TracerAdapter{})
	c.SetMetrics(MetricsAdapter{})
	c.SetDebug(DebugAdapter{})
}
