package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// SpanFromContext returns the current span from context
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// SetSpanError marks the span as errored
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Common attribute keys for runtime spans
var (
	AttrModuleName    = attribute.Key("eidolon.module.name")
	AttrModuleID      = attribute.Key("eidolon.module.id")
	AttrRunMode       = attribute.Key("eidolon.run_mode")
	AttrTopic         = attribute.Key("eidolon.topic")
	AttrDataType      = attribute.Key("eidolon.data_type")
	AttrCorrelationID = attribute.Key("eidolon.correlation_id")
	AttrDurationMs    = attribute.Key("eidolon.duration_ms")
	AttrPipeline      = attribute.Key("eidolon.pipeline")
)
