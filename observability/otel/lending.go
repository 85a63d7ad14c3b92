package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "p2plend/lending"

// Operations traces and counts lending state transitions. Spans are named
// lending.<operation>.
type Operations struct {
	tracer   trace.Tracer
	count    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewOperations binds the instruments to the supplied providers. Nil providers
// fall back to the globals installed by Init, which forward to exporters once
// they are configured.
func NewOperations(tp trace.TracerProvider, mp metric.MeterProvider) *Operations {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	count, err := meter.Int64Counter("plend.lending.operations",
		metric.WithDescription("Lending state transitions by operation and result."))
	if err != nil {
		count, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("plend.lending.operations")
	}
	duration, err := meter.Float64Histogram("plend.lending.operation.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent applying a lending state transition."))
	if err != nil {
		duration, _ = noop.NewMeterProvider().Meter(instrumentationName).Float64Histogram("plend.lending.operation.duration")
	}
	return &Operations{tracer: tp.Tracer(instrumentationName), count: count, duration: duration}
}

// Start opens the span for one operation submitted by signer.
func (o *Operations) Start(ctx context.Context, operation, signer string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "lending."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			ModuleKey.String("lending"),
			attribute.String("lending.operation", operation),
			attribute.String("lending.signer", signer),
		))
}

// End records the outcome on span and the operation instruments. An empty
// result means the transition committed.
func (o *Operations) End(ctx context.Context, span trace.Span, operation, result string, err error, elapsed time.Duration) {
	if result == "" {
		result = "ok"
	}
	span.SetAttributes(attribute.String("lending.result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	} else {
		span.SetStatus(codes.Ok, "committed")
	}
	span.End()

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	o.count.Add(ctx, 1, attrs)
	o.duration.Record(ctx, elapsed.Seconds(), attrs)
}
