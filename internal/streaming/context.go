package streaming

import (
	"sync/atomic"

	"github.com/oriys/nova-ric/internal/eventloop"
	"github.com/oriys/nova-ric/internal/idledrain"
	"github.com/oriys/nova-ric/internal/logging"
)

const msgStreamCreatedTwice = "Cannot create stream for the same StreamingContext more than once."

// Opener opens the response stream of an invocation.
type Opener interface {
	StreamInvocationResponse(loop *eventloop.Loop, id string, opts Options) *ResponseStream
}

// Logger receives the function-visible error record.
type Logger interface {
	LogError(msg string, err any)
}

// ContextOptions wires a Context to its invocation.
type ContextOptions struct {
	Opener       Opener
	InvokeID     string
	ScheduleNext func()
	Hook         *idledrain.Hook
	Loop         *eventloop.Loop
	Logger       Logger
	Stream       Options
}

// Context is the completion surface of a streaming invocation. It creates
// the response stream at most once and schedules the next invocation,
// optionally after the loop drained.
type Context struct {
	opts    ContextOptions
	waits   atomic.Bool
	created atomic.Bool
}

// NewContext returns a context that waits for the loop to drain by default.
func NewContext(opts ContextOptions) *Context {
	c := &Context{opts: opts}
	c.waits.Store(true)
	return c
}

// CallbackWaitsForEmptyEventLoop implements invoke.Completion.
func (c *Context) CallbackWaitsForEmptyEventLoop() bool {
	return c.waits.Load()
}

// SetCallbackWaitsForEmptyEventLoop implements invoke.Completion.
func (c *Context) SetCallbackWaitsForEmptyEventLoop(wait bool) {
	c.waits.Store(wait)
}

// Created is the result of CreateStream.
type Created struct {
	Stream *ResponseStream
	// ResponseDone settles after the control plane answered and the
	// onResponse callback ran.
	ResponseDone *eventloop.Future
	ctx          *Context
}

// Fail logs err and ends the stream with err in its trailers.
func (cr *Created) Fail(err any, cb func(error)) {
	cr.ctx.logger().LogError("Invoke Error", err)
	TryFail(cr.Stream, err, cb)
}

// ScheduleNext clears the idle hook and schedules the next invocation,
// after the loop drained when waiting is on.
func (cr *Created) ScheduleNext() {
	cr.ctx.opts.Hook.Reset()
	cr.ctx.scheduleNextNow()
}

// CreateStream opens the response stream. onResponse runs once the control
// plane answered the streaming request.
func (c *Context) CreateStream(onResponse func(*Response)) (*Created, error) {
	if !c.created.CompareAndSwap(false, true) {
		return nil, InvalidOperation(msgStreamCreatedTwice)
	}
	stream := c.opts.Opener.StreamInvocationResponse(c.opts.Loop, c.opts.InvokeID, c.opts.Stream)
	done := stream.ResponseDone().Then(func(v any) (any, error) {
		resp, _ := v.(*Response)
		if onResponse != nil {
			onResponse(resp)
		}
		return resp, nil
	}, nil)
	return &Created{Stream: stream, ResponseDone: done, ctx: c}, nil
}

func (c *Context) scheduleNextNow() {
	if !c.waits.Load() {
		c.scheduleNext()
		return
	}
	hook := c.opts.Hook
	hook.Set(func() {
		hook.Reset()
		_ = c.opts.Loop.Submit(c.scheduleNext)
	})
}

func (c *Context) scheduleNext() {
	if c.opts.ScheduleNext != nil {
		c.opts.ScheduleNext()
	}
}

func (c *Context) logger() Logger {
	if c.opts.Logger == nil {
		return discard{}
	}
	return c.opts.Logger
}

type discard struct{}

func (discard) LogError(string, any) {}

// TryFail fails s and logs, rather than returns, a refused fail.
func TryFail(s *ResponseStream, err any, cb func(error)) {
	if ferr := s.Fail(err, cb); ferr != nil {
		logging.Op().Error("failed to fail response stream", "error", ferr)
		if cb != nil {
			cb(ferr)
		}
	}
}
