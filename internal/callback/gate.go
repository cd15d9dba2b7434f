// Package callback implements the completion gate of a buffered invocation.
//
// A Gate turns the completion entry points handed to user code (the legacy
// callback plus succeed, fail and done) into exactly one report to the
// control plane. The first call moves the gate from pending to fired; every
// later call is ignored.
package callback

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/oriys/nova-ric/internal/eventloop"
	"github.com/oriys/nova-ric/internal/idledrain"
	"github.com/oriys/nova-ric/internal/logging"
	"github.com/oriys/nova-ric/internal/rterror"
)

// AlreadyReportedMessage is logged when a second report is attempted.
const AlreadyReportedMessage = "Invocation has already been reported as done. Cannot call complete more than once per invocation."

// ErrUnserializableResponse marks a response value that could not be encoded.
var ErrUnserializableResponse = errors.New("Unable to stringify response body")

// Reporter delivers invocation results to the control plane.
type Reporter interface {
	PostInvocationResponse(ctx context.Context, id string, response any) error
	PostInvocationError(ctx context.Context, id string, err any) error
}

// Logger receives the function-visible error record.
type Logger interface {
	LogError(msg string, err any)
	Error(args ...any)
}

// Options wires a Gate to its invocation.
type Options struct {
	Reporter     Reporter
	InvokeID     string
	ScheduleNext func()
	Hook         *idledrain.Hook
	Loop         *eventloop.Loop
	Logger       Logger
}

type entry int

const (
	entryCallback entry = iota
	entryDone
)

// Gate is the completion state machine for one invocation.
type Gate struct {
	opts Options

	fired    atomic.Bool
	reported atomic.Bool
	waits    atomic.Bool

	mu      sync.Mutex
	pending func()
}

// New creates a pending gate. Success waits for the loop to drain by default.
func New(opts Options) *Gate {
	g := &Gate{opts: opts}
	g.waits.Store(true)
	return g
}

// Fired reports whether any entry point has been called.
func (g *Gate) Fired() bool {
	return g.fired.Load()
}

// Reported reports whether a result has been handed to the reporter.
func (g *Gate) Reported() bool {
	return g.reported.Load()
}

// CallbackWaitsForEmptyEventLoop implements invoke.Completion.
func (g *Gate) CallbackWaitsForEmptyEventLoop() bool {
	return g.waits.Load()
}

// SetCallbackWaitsForEmptyEventLoop implements invoke.Completion.
func (g *Gate) SetCallbackWaitsForEmptyEventLoop(wait bool) {
	g.waits.Store(wait)
}

// Callback is the legacy node-style completion function. It clears the idle
// hook on every call; a success waits for the loop to drain unless waiting
// was turned off.
func (g *Gate) Callback(err, result any) {
	g.fire(entryCallback, err, result)
}

// Done reports err when present, result otherwise, without waiting for drain.
func (g *Gate) Done(err, result any) {
	g.fire(entryDone, err, result)
}

// Succeed is Done(nil, result).
func (g *Gate) Succeed(result any) {
	g.fire(entryDone, nil, result)
}

// Fail reports err, or "handled" when err is nil.
func (g *Gate) Fail(err any) {
	if isNil(err) {
		err = "handled"
	}
	g.fire(entryDone, err, nil)
}

// CompleteDefault is the idle fallback for handlers that never complete:
// it reports a null response unless something was already reported.
func (g *Gate) CompleteDefault() {
	g.fired.Store(true)
	g.complete(nil)
}

// MarkCompleted closes the gate without reporting.
func (g *Gate) MarkCompleted() {
	g.fired.Store(true)
	g.reported.Store(true)
}

func (g *Gate) fire(e entry, err, result any) {
	hook := g.opts.Hook
	if e == entryCallback {
		hook.Reset()
		g.rearm()
	}
	if !g.fired.CompareAndSwap(false, true) {
		return
	}
	if e == entryDone {
		hook.Reset()
	}

	if !isNil(err) {
		g.postError(err)
		return
	}
	if e == entryCallback && g.waits.Load() {
		deferred := func() {
			hook.Reset()
			_ = g.opts.Loop.Submit(func() {
				if !g.reported.Load() {
					g.complete(result)
				}
			})
		}
		g.mu.Lock()
		g.pending = deferred
		g.mu.Unlock()
		hook.Set(deferred)
		return
	}
	g.complete(result)
}

// rearm restores a deferred completion that a repeat callback call cleared.
func (g *Gate) rearm() {
	g.mu.Lock()
	pending := g.pending
	g.mu.Unlock()
	if pending != nil && !g.reported.Load() {
		g.opts.Hook.Set(pending)
	}
}

func (g *Gate) postError(err any) {
	if !g.reported.CompareAndSwap(false, true) {
		g.logger().Error(AlreadyReportedMessage)
		return
	}
	g.logger().LogError("Invoke Error", err)
	if perr := g.opts.Reporter.PostInvocationError(context.Background(), g.opts.InvokeID, err); perr != nil {
		logging.Op().Error("post invocation error failed", "request_id", g.opts.InvokeID, "error", perr)
	}
	g.scheduleNext()
}

func (g *Gate) complete(result any) {
	if !g.reported.CompareAndSwap(false, true) {
		g.logger().Error(AlreadyReportedMessage)
		return
	}
	g.mu.Lock()
	g.pending = nil
	g.mu.Unlock()

	err := g.opts.Reporter.PostInvocationResponse(context.Background(), g.opts.InvokeID, result)
	if errors.Is(err, ErrUnserializableResponse) {
		cause := rterror.Wrap(rterror.TypeResponseSerialization, err)
		g.logger().LogError("Invoke Error", cause)
		err = g.opts.Reporter.PostInvocationError(context.Background(), g.opts.InvokeID, cause)
	}
	if err != nil {
		logging.Op().Error("post invocation response failed", "request_id", g.opts.InvokeID, "error", err)
	}
	g.scheduleNext()
}

func (g *Gate) scheduleNext() {
	if g.opts.ScheduleNext != nil {
		g.opts.ScheduleNext()
	}
}

func (g *Gate) logger() Logger {
	if g.opts.Logger == nil {
		return discard{}
	}
	return g.opts.Logger
}

type discard struct{}

func (discard) LogError(string, any) {}
func (discard) Error(...any)         {}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
