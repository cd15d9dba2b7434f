package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes recorded by the runtime.
var (
	AttrHandler      = attribute.Key("pulsar.handler")
	AttrMode         = attribute.Key("pulsar.mode")
	AttrErrorType    = attribute.Key("pulsar.error_type")
	AttrDurationMs   = attribute.Key("pulsar.duration_ms")
	AttrOperation    = attribute.Key("pulsar.control_plane.operation")
	AttrColdStart    = attribute.Key("faas.coldstart")
	AttrRequestID    = attribute.Key("faas.invocation_id")
	AttrFunctionName = attribute.Key("faas.name")
)

// StartServerSpan starts the span of one invocation.
func StartServerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(attrs...))
}

// StartClientSpan starts the span of a control-plane request.
func StartClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
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
