package observability

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/aws/aws-xray-sdk-go/header"
	"go.opentelemetry.io/otel/trace"
)

// ContextWithXRayParent makes the invocation's tracing header, when it
// carries a root and parent id, the remote parent of spans started from the
// returned context.
func ContextWithXRayParent(ctx context.Context, h *header.Header) context.Context {
	sc, ok := SpanContextFromXRay(h)
	if !ok {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// SpanContextFromXRay converts "Root=1-<epoch>-<id>;Parent=<span>" into a
// span context.
func SpanContextFromXRay(h *header.Header) (trace.SpanContext, bool) {
	if h == nil || h.TraceID == "" || h.ParentID == "" {
		return trace.SpanContext{}, false
	}
	parts := strings.Split(h.TraceID, "-")
	if len(parts) != 3 || parts[0] != "1" {
		return trace.SpanContext{}, false
	}

	var (
		tid trace.TraceID
		sid trace.SpanID
	)
	raw, err := hex.DecodeString(parts[1] + parts[2])
	if err != nil || len(raw) != len(tid) {
		return trace.SpanContext{}, false
	}
	copy(tid[:], raw)
	raw, err = hex.DecodeString(h.ParentID)
	if err != nil || len(raw) != len(sid) {
		return trace.SpanContext{}, false
	}
	copy(sid[:], raw)

	var flags trace.TraceFlags
	if h.SamplingDecision == header.Sampled {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: flags,
		Remote:     true,
	})
	return sc, sc.IsValid()
}

// GetTraceID returns the hex trace id of the span in ctx, or "".
func GetTraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// GetSpanID returns the hex span id of the span in ctx, or "".
func GetSpanID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}
