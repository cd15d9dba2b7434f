package runtime

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/nova-ric/internal/eventloop"
	"github.com/oriys/nova-ric/internal/invoke"
	"github.com/oriys/nova-ric/internal/logging"
	"github.com/oriys/nova-ric/internal/metrics"
	"github.com/oriys/nova-ric/internal/observability"
	"github.com/oriys/nova-ric/internal/rterror"
	"github.com/oriys/nova-ric/internal/streaming"
)

// tracker follows one invocation from dispatch until the next iteration is
// scheduled. Its fields are touched on the loop goroutine only.
type tracker struct {
	r         *Runtime
	ictx      *invoke.Context
	mode      string
	started   time.Time
	coldStart bool
	inputSize int

	ctx     context.Context
	span    trace.Span
	errType string

	once sync.Once
}

func (r *Runtime) begin(ictx *invoke.Context, mode string, inputSize int) *tracker {
	ctx := observability.ContextWithXRayParent(r.ctx, ictx.TraceHeader())
	ctx, span := observability.StartServerSpan(ctx, "invoke "+r.name,
		observability.AttrHandler.String(r.name),
		observability.AttrMode.String(mode),
		observability.AttrRequestID.String(ictx.AwsRequestID),
		observability.AttrFunctionName.String(ictx.FunctionName),
	)
	cold := r.cold.Swap(false)
	span.SetAttributes(observability.AttrColdStart.Bool(cold))
	metrics.IncActiveInvocations()

	logging.OpFor(ictx.AwsRequestID, observability.GetTraceID(ctx), observability.GetSpanID(ctx)).
		Debug("invocation received", "mode", mode, "cold_start", cold)
	return &tracker{
		r:         r,
		ictx:      ictx,
		mode:      mode,
		started:   r.now(),
		coldStart: cold,
		inputSize: inputSize,
		ctx:       ctx,
		span:      span,
	}
}

// fail records the error type reported for the invocation.
func (t *tracker) fail(err any) {
	t.errType = rterror.ToResponse(err).ErrorType
}

// scheduleNext closes the invocation and queues the next iteration. Only the
// first call has effect.
func (t *tracker) scheduleNext() {
	t.once.Do(func() {
		t.finish()
		t.r.ScheduleIteration()
	})
}

func (t *tracker) finish() {
	r := t.r
	elapsed := r.now().Sub(t.started)
	success := t.errType == ""

	metrics.DecActiveInvocations()
	r.metrics.RecordInvocation(r.name, t.mode, elapsed.Milliseconds(), t.coldStart, success)

	t.span.SetAttributes(observability.AttrDurationMs.Int64(elapsed.Milliseconds()))
	if success {
		observability.SetSpanOK(t.span)
	} else {
		t.span.SetAttributes(observability.AttrErrorType.String(t.errType))
		observability.SetSpanError(t.span, rterror.New(t.errType, "invocation failed"))
	}
	t.span.End()

	if r.recorder.Enabled() {
		r.recorder.Record(&logging.InvocationRecord{
			Timestamp:  t.started,
			RequestID:  t.ictx.AwsRequestID,
			TraceID:    observability.GetTraceID(t.ctx),
			SpanID:     observability.GetSpanID(t.ctx),
			Handler:    r.name,
			Mode:       t.mode,
			DurationMs: elapsed.Milliseconds(),
			ColdStart:  t.coldStart,
			Success:    success,
			ErrorType:  t.errType,
			InputSize:  t.inputSize,
		})
	}
}

// reporter instruments the control-plane calls of one invocation.
type reporter struct {
	client Client
	track  *tracker
}

// call runs one control-plane request under a client span.
func (p *reporter) call(op string, fn func(context.Context) error) error {
	ctx, span := observability.StartClientSpan(p.track.ctx, "runtime "+op,
		observability.AttrOperation.String(op),
		observability.AttrRequestID.String(p.track.ictx.AwsRequestID),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.RecordControlPlaneRequest(op, time.Since(start), err)
	if err != nil {
		observability.SetSpanError(span, err)
	}
	return err
}

func (p *reporter) PostInvocationResponse(_ context.Context, id string, response any) error {
	err := p.call("response", func(ctx context.Context) error {
		return p.client.PostInvocationResponse(ctx, id, response)
	})
	if err != nil {
		p.track.fail(err)
	}
	return err
}

func (p *reporter) PostInvocationError(_ context.Context, id string, err any) error {
	p.track.fail(err)
	return p.call("error", func(ctx context.Context) error {
		return p.client.PostInvocationError(ctx, id, err)
	})
}

func (p *reporter) StreamInvocationResponse(loop *eventloop.Loop, id string, opts streaming.Options) *streaming.ResponseStream {
	return p.client.StreamInvocationResponse(loop, id, opts)
}
