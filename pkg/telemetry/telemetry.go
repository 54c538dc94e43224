// Package telemetry wires the gateway's OpenTelemetry tracing and metrics
// (spec.md's dispatch-pipeline sequencing: "build context -> evaluate ->
// dispatch to handler -> telemetry"). Grounded on the teacher's
// telemetry/otel.go OTEL bootstrap (resource + TracerProvider/MeterProvider
// setup, env-driven sampling) and resilience/telemetry_integration.go
// (span-per-operation around a pipeline stage), narrowed to what this
// in-process gateway actually needs: no HTTP middleware, no OTLP/gRPC
// exporter (there's no external collector in this module's scope — the
// example binary wires stdouttrace only), no GoMind capability metadata.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the tracer and meter the dispatch pipeline, chain
// executor, and approval handler draw spans and counters from. A nil
// *Telemetry is valid everywhere it's threaded through: every helper on
// it tolerates a nil receiver by operating on the otel no-op globals.
type Telemetry struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	meter    metric.Meter

	dispatched  metric.Int64Counter
	executed    metric.Int64Counter
	deduplicated metric.Int64Counter
	suppressed  metric.Int64Counter
	rerouted    metric.Int64Counter
}

// NewStdout builds a Telemetry that exports spans to stdout — the example
// cmd/ binary's default, matching spec.md's "default in-process tracer
// provider wiring". serviceName tags the OTEL resource.
func NewStdout(serviceName string) (*Telemetry, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if os.Getenv("OTEL_TRACES_SAMPLER") == "traceidratio" {
		if ratio, perr := parseRatio(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); perr == nil {
			sampler = sdktrace.TraceIDRatioBased(ratio)
		}
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	// No metric exporter is wired up (spec.md's domain stack only calls for
	// an OTLP/stdout trace pipeline); otel.GetMeterProvider() without a
	// prior otel.SetMeterProvider returns the core package's own no-op
	// implementation, so the counters below are valid but inert.
	t := newTelemetry(provider.Tracer("acteon"), otel.GetMeterProvider().Meter("acteon"))
	t.provider = provider
	return t, nil
}

func newTelemetry(tracer trace.Tracer, meter metric.Meter) *Telemetry {
	t := &Telemetry{tracer: tracer, meter: meter}
	t.dispatched, _ = meter.Int64Counter("acteon_actions_dispatched_total", metric.WithDescription("Actions that completed the dispatch pipeline, by outcome tag"))
	t.executed, _ = meter.Int64Counter("acteon_actions_executed_total", metric.WithDescription("Actions that reached provider execution"))
	t.deduplicated, _ = meter.Int64Counter("acteon_actions_deduplicated_total", metric.WithDescription("Actions suppressed by the dedup verdict"))
	t.suppressed, _ = meter.Int64Counter("acteon_actions_suppressed_total", metric.WithDescription("Actions suppressed by a rule verdict"))
	t.rerouted, _ = meter.Int64Counter("acteon_actions_rerouted_total", metric.WithDescription("Actions rerouted to a fallback provider"))
	return t
}

func parseRatio(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}

// Shutdown flushes and stops the underlying TracerProvider. A no-op
// Telemetry (built without an exporter) has nothing to flush.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func (t *Telemetry) tracerOrGlobal() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("acteon")
	}
	return t.tracer
}

// StartSpan opens a span named name (conventionally "acteon.<stage>", e.g.
// "acteon.dispatch", "acteon.chain.advance", "acteon.approval.decide").
// Safe to call on a nil *Telemetry.
func (t *Telemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracerOrGlobal().Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordOutcome increments the counter matching tag (one of the
// acteon.Verdict outcome tags: "executed", "deduplicated", "suppressed",
// "rerouted", ...), always incrementing the overall dispatched counter.
// Safe to call on a nil *Telemetry.
func (t *Telemetry) RecordOutcome(ctx context.Context, provider, tag string) {
	if t == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("provider", provider), attribute.String("outcome", tag))
	if t.dispatched != nil {
		t.dispatched.Add(ctx, 1, attrs)
	}
	var counter metric.Int64Counter
	switch tag {
	case "executed":
		counter = t.executed
	case "deduplicated":
		counter = t.deduplicated
	case "suppressed":
		counter = t.suppressed
	case "rerouted":
		counter = t.rerouted
	}
	if counter != nil {
		counter.Add(ctx, 1, attrs)
	}
}

// SpanDuration is a small helper for the common "start span, defer End,
// record wall time" shape chain/dispatch/approval all need.
func SpanDuration(span trace.Span, start time.Time) {
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))
	span.End()
}
