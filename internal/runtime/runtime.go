// Package runtime drives the invocation loop: it pulls invocations from the
// control plane, runs the handler on the event loop and reports the outcome
// before pulling the next one.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/oriys/nova-ric/internal/callback"
	"github.com/oriys/nova-ric/internal/client"
	"github.com/oriys/nova-ric/internal/eventloop"
	"github.com/oriys/nova-ric/internal/handler"
	"github.com/oriys/nova-ric/internal/idledrain"
	"github.com/oriys/nova-ric/internal/invoke"
	"github.com/oriys/nova-ric/internal/logging"
	"github.com/oriys/nova-ric/internal/metrics"
	"github.com/oriys/nova-ric/internal/rterror"
	"github.com/oriys/nova-ric/internal/streaming"
	"github.com/oriys/nova-ric/internal/telemetry"
)

// Process exit codes used after a fatal error was reported.
const (
	ExitUncaught           = 129
	ExitUnhandledRejection = 128
)

// Messages of the streaming contract violations.
const (
	msgNonAsyncStreaming = "Streaming does not support non-async handlers."
	msgStreamNotFinished = "Response stream is not finished."
	msgIgnoredResult     = "Streaming handlers ignore return values."
)

// Client is the control-plane surface the runtime needs.
type Client interface {
	NextInvocation(ctx context.Context) (*client.Invocation, error)
	PostInvocationResponse(ctx context.Context, id string, response any) error
	PostInvocationError(ctx context.Context, id string, err any) error
	PostInitError(ctx context.Context, err any) error
	StreamInvocationResponse(loop *eventloop.Loop, id string, opts streaming.Options) *streaming.ResponseStream
}

// Console is the function-facing log sink.
type Console interface {
	LogError(msg string, err any)
	Error(args ...any)
	Warn(args ...any)
	Info(args ...any)
	SetRequest(requestID string, tenantID *string)
}

var _ Console = (*telemetry.Console)(nil)

// Runtime is the invocation loop. Create it with New and run it with Start.
type Runtime struct {
	client  Client
	handler handler.Handler
	name    string

	loop    *eventloop.Loop
	hook    *idledrain.Hook
	console Console
	env     invoke.Environment
	exit    func(code int)
	now     func() time.Time

	metrics  *metrics.Metrics
	recorder *logging.Recorder

	ctx  context.Context
	cold atomic.Bool

	errMu       sync.Mutex
	onUncaught  func(error)
	onRejection func(error)
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithExit replaces os.Exit.
func WithExit(exit func(code int)) Option {
	return func(r *Runtime) { r.exit = exit }
}

// WithConsole sets the function log sink.
func WithConsole(c Console) Option {
	return func(r *Runtime) { r.console = c }
}

// WithEnvironment sets the process data copied onto every invocation.
func WithEnvironment(env invoke.Environment) Option {
	return func(r *Runtime) { r.env = env }
}

// WithHandlerName labels metrics and records with the handler descriptor.
func WithHandlerName(name string) Option {
	return func(r *Runtime) { r.name = name }
}

// WithMetrics replaces the global metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithRecorder replaces the global invocation recorder.
func WithRecorder(rec *logging.Recorder) Option {
	return func(r *Runtime) { r.recorder = rec }
}

// WithClock overrides the clock used for durations.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// New creates a runtime for h. Until the first invocation arrives, fatal
// errors are reported as init errors.
func New(c Client, h handler.Handler, opts ...Option) *Runtime {
	r := &Runtime{
		client:   c,
		handler:  h,
		name:     "handler",
		hook:     idledrain.New(),
		exit:     os.Exit,
		now:      time.Now,
		metrics:  metrics.Global(),
		recorder: logging.Default(),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.console == nil {
		r.console = telemetry.NewConsole(telemetry.NewLineSink(os.Stdout))
	}
	r.cold.Store(true)
	r.loop = eventloop.New(
		eventloop.WithIdleHook(r.hook),
		eventloop.WithUncaughtHandler(r.uncaught),
		eventloop.WithRejectionHandler(r.rejected),
	)
	r.setInitErrorCallbacks()
	return r
}

// Loop returns the event loop handlers run on.
func (r *Runtime) Loop() *eventloop.Loop {
	return r.loop
}

// Start schedules the first iteration and runs the loop until ctx is done.
func (r *Runtime) Start(ctx context.Context) error {
	r.ctx = ctx
	r.ScheduleIteration()
	return r.loop.Run(ctx)
}

// ScheduleIteration queues one pass of the loop. It never blocks.
func (r *Runtime) ScheduleIteration() {
	if err := r.loop.Submit(r.handleOnce); err != nil {
		logging.Op().Debug("iteration not scheduled", "error", err)
	}
}

func (r *Runtime) handleOnce() {
	r.loop.Go(func() (any, error) {
		start := r.now()
		inv, err := r.client.NextInvocation(r.ctx)
		metrics.RecordControlPlaneRequest("next", r.now().Sub(start), err)
		return inv, err
	}).Then(func(v any) (any, error) {
		return nil, r.dispatch(v.(*client.Invocation))
	}, nil).Catch(func(err error) (any, error) {
		if r.ctx.Err() != nil {
			return nil, nil
		}
		r.console.Info(fmt.Sprintf("Unexpected Top Level Error: %s", err))
		r.uncaught(err)
		return nil, nil
	})
}

func (r *Runtime) dispatch(inv *client.Invocation) error {
	ictx, err := invoke.New(inv.Header, r.env, invoke.WithLoop(r.loop))
	if err != nil {
		return err
	}
	r.console.SetRequest(ictx.AwsRequestID, ictx.TenantID)

	if r.handler.IsStreaming() {
		r.handleStreaming(inv, ictx)
	} else {
		r.handleBuffered(inv, ictx)
	}
	return nil
}

func (r *Runtime) handleBuffered(inv *client.Invocation, ictx *invoke.Context) {
	track := r.begin(ictx, "buffered", len(inv.Body))
	id := ictx.AwsRequestID

	gate := callback.New(callback.Options{
		Reporter:     &reporter{client: r.client, track: track},
		InvokeID:     id,
		ScheduleNext: track.scheduleNext,
		Hook:         r.hook,
		Loop:         r.loop,
		Logger:       r.console,
	})
	r.setErrorCallbacks(id)
	r.hook.Set(func() {
		r.hook.Reset()
		gate.CompleteDefault()
	})

	if err := ictx.Attach(gate); err != nil {
		gate.Callback(err, nil)
		return
	}
	event, err := decodeEvent(inv.Body)
	if err != nil {
		gate.Callback(err, nil)
		return
	}

	fut, thrown, err := callBuffered(r.handler.Buffered, event, ictx, gate.Callback)
	switch {
	case thrown != nil:
		gate.Callback(thrown, nil)
	case err != nil:
		gate.Callback(err, nil)
	case fut != nil:
		fut.Then(func(v any) (any, error) {
			gate.Succeed(v)
			return nil, nil
		}, func(err error) (any, error) {
			gate.Fail(err)
			return nil, nil
		})
	}
}

func (r *Runtime) handleStreaming(inv *client.Invocation, ictx *invoke.Context) {
	track := r.begin(ictx, "streaming", len(inv.Body))
	id := ictx.AwsRequestID

	sctx := streaming.NewContext(streaming.ContextOptions{
		Opener:       &reporter{client: r.client, track: track},
		InvokeID:     id,
		ScheduleNext: track.scheduleNext,
		Hook:         r.hook,
		Loop:         r.loop,
		Logger:       r.console,
		Stream:       streaming.Options{HighWaterMark: r.handler.HighWaterMark},
	})
	created, err := sctx.CreateStream(nil)
	if err != nil {
		r.uncaught(err)
		return
	}
	created.ResponseDone.Catch(func(error) (any, error) { return nil, nil })

	r.setErrorCallbacks(id)
	r.hook.Set(func() {
		r.hook.Reset()
		track.scheduleNext()
	})

	afterFail := func(error) { created.ScheduleNext() }
	fail := func(err any) {
		track.fail(err)
		created.Fail(err, afterFail)
	}

	if err := ictx.Attach(sctx); err != nil {
		fail(err)
		return
	}
	event, err := decodeEvent(inv.Body)
	if err != nil {
		fail(err)
		return
	}

	fut, thrown := callStreaming(r.handler.Streaming, event, created.Stream, ictx)
	switch {
	case thrown != nil:
		fail(thrown)
		return
	case fut == nil:
		fail(streaming.InvalidOperation(msgNonAsyncStreaming))
		return
	}

	fut.Then(func(v any) (any, error) {
		if v != nil {
			r.console.Warn(msgIgnoredResult)
		}
		if !created.Stream.Ended() {
			return nil, streaming.InvalidOperation(msgStreamNotFinished)
		}
		return created.ResponseDone, nil
	}, nil).Then(func(any) (any, error) {
		if !created.Stream.Finished() {
			fail(streaming.InvalidOperation(msgStreamNotFinished))
			return nil, nil
		}
		created.ScheduleNext()
		return nil, nil
	}, func(err error) (any, error) {
		fail(err)
		return nil, nil
	})
}

func decodeEvent(body []byte) (json.RawMessage, error) {
	if len(body) == 0 || !jsoniter.Valid(body) {
		return nil, rterror.New(rterror.TypeMalformedEventPayload, "Event payload is not valid JSON")
	}
	return json.RawMessage(body), nil
}

// callBuffered runs h. A panic is returned as thrown with its raw value.
func callBuffered(h handler.Buffered, event json.RawMessage, ictx *invoke.Context, cb invoke.Callback) (fut *eventloop.Future, thrown any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			fut, thrown, err = nil, rec, nil
		}
	}()
	fut, err = h(event, ictx, cb)
	return fut, nil, err
}

func callStreaming(h handler.Streaming, event json.RawMessage, w streaming.Writer, ictx *invoke.Context) (fut *eventloop.Future, thrown any) {
	defer func() {
		if rec := recover(); rec != nil {
			fut, thrown = nil, rec
		}
	}()
	return h(event, w, ictx), nil
}

func (r *Runtime) setInitErrorCallbacks() {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.onUncaught = func(err error) {
		r.fatal(err, ExitUncaught, func(ctx context.Context) error {
			return r.client.PostInitError(ctx, err)
		})
	}
	r.onRejection = func(err error) {
		r.fatal(err, ExitUnhandledRejection, func(ctx context.Context) error {
			return r.client.PostInitError(ctx, err)
		})
	}
}

func (r *Runtime) setErrorCallbacks(id string) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.onUncaught = func(err error) {
		r.fatal(err, ExitUncaught, func(ctx context.Context) error {
			return r.client.PostInvocationError(ctx, id, err)
		})
	}
	r.onRejection = func(err error) {
		r.fatal(err, ExitUnhandledRejection, func(ctx context.Context) error {
			return r.client.PostInvocationError(ctx, id, err)
		})
	}
}

func (r *Runtime) uncaught(err error) {
	r.console.LogError("Uncaught Exception", uncaughtCause(err))
	r.errMu.Lock()
	fn := r.onUncaught
	r.errMu.Unlock()
	fn(uncaughtCause(err))
}

func (r *Runtime) rejected(reason error) {
	err := rterror.New(rterror.TypeUnhandledPromiseRejection, reason.Error())
	r.console.LogError("Unhandled Promise Rejection", err)
	r.errMu.Lock()
	fn := r.onRejection
	r.errMu.Unlock()
	fn(err)
}

// uncaughtCause unwraps a recovered panic whose value is itself an error.
func uncaughtCause(err error) error {
	var pe *eventloop.PanicError
	if errors.As(err, &pe) {
		if inner, ok := pe.Value.(error); ok {
			return inner
		}
	}
	return err
}

func (r *Runtime) fatal(err error, code int, post func(ctx context.Context) error) {
	if perr := post(context.Background()); perr != nil {
		logging.Op().Error("report fatal error", "error", perr, "cause", err)
	}
	logging.Op().Error("exiting after fatal error", "code", code, "error", err)
	r.exit(code)
}
