// Package observability hosts the sniper's ambient concerns: tracing,
// metrics, SLO evaluation, and the in-memory debug ring buffer. Adapted
// from the teacher's internal/bidders tracing/metrics/slo/debugger files,
// generalized from a per-ad-adapter axis to a per-operation axis
// (get_details, place_bid, get_bid_outcome) since this domain has one
// external collaborator instead of a panel of adapters.
package observability

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Span represents an in-flight tracing span.
type Span interface {
	End()
	SetAttr(key, val string)
}

// Tracer starts spans.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, Span)
}

type noopSpan struct{}

func (noopSpan) End()                    {}
func (noopSpan) SetAttr(key, val string) {}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, Span) {
	return ctx, noopSpan{}
}

var globalTracer Tracer = noopTracer{}

// SetTracer installs a custom tracer implementation. Passing nil is a no-op.
func SetTracer(t Tracer) {
	if t != nil {
		globalTracer = t
	}
}

// StartSpan starts a span using the installed global tracer.
func StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, Span) {
	return globalTracer.StartSpan(ctx, name, attrs)
}

// otelSpan wraps an OpenTelemetry span.
type otelSpan struct{ s oteltrace.Span }

func (o *otelSpan) End()                    { o.s.End() }
func (o *otelSpan) SetAttr(key, val string) { o.s.SetAttributes(attribute.String(key, val)) }

// TraceAndSpanIDs returns hex trace/span IDs when sp came from the OTel
// bridge, used to stamp log lines and debug events for correlation.
func TraceAndSpanIDs(sp Span) (traceID, spanID string) {
	if sp == nil {
		return "", ""
	}
	if os, ok := sp.(*otelSpan); ok && os.s != nil {
		ctx := os.s.SpanContext()
		if ctx.HasTraceID() {
			traceID = ctx.TraceID().String()
		}
		if ctx.HasSpanID() {
			spanID = ctx.SpanID().String()
		}
	}
	return
}

type otelTracer struct {
	tp *trace.TracerProvider
	tr oteltrace.Tracer
}

func (t *otelTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, Span) {
	opts := []oteltrace.SpanStartOption{}
	if len(attrs) > 0 {
		kv := make([]attribute.KeyValue, 0, len(attrs))
		for k, v := range attrs {
			kv = append(kv, attribute.String(k, v))
		}
		opts = append(opts, oteltrace.WithAttributes(kv...))
	}
	ctx, sp := t.tr.Start(ctx, name, opts...)
	return ctx, &otelSpan{s: sp}
}

// InstallOTelTracer installs an OTLP HTTP tracer if OTEL_EXPORTER_OTLP_ENDPOINT
// is set. Returns true if installed.
//
// Env:
//
//	OTEL_EXPORTER_OTLP_ENDPOINT — e.g. http://localhost:4318
//	OTEL_SERVICE_NAME           — default "sniperd"
//	OTEL_RESOURCE_ATTRIBUTES    — comma-separated k=v pairs
func InstallOTelTracer() bool {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return false
	}

	exp, err := otlptracehttp.New(context.Background(), otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return false
	}

	serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME"))
	if serviceName == "" {
		serviceName = "sniperd"
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", serviceName)}
	if ra := strings.TrimSpace(os.Getenv("OTEL_RESOURCE_ATTRIBUTES")); ra != "" {
		for _, part := range strings.Split(ra, ",") {
			kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
			if len(kv) == 2 && kv[0] != "" {
				attrs = append(attrs, attribute.String(kv[0], kv[1]))
			}
		}
	}
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
	tp := trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
	otel.SetTracerProvider(tp)

	SetTracer(&otelTracer{tp: tp, tr: otel.Tracer(serviceName)})
	return true
}
