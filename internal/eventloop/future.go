package eventloop

import (
	"runtime/debug"
	"sync"
)

// State is the settlement state of a Future.
type State int

const (
	Pending State = iota
	Fulfilled
	Rejected
)

func (s State) String() string {
	switch s {
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Future is a value that settles once, on the loop that created it.
// Continuations always run on a later loop turn, never synchronously.
type Future struct {
	loop *Loop

	mu        sync.Mutex
	state     State
	value     any
	err       error
	callbacks []Task
	handled   bool
}

// NewFuture returns a pending future together with its settle functions.
// Settling an already settled future is a no-op. Resolving with a *Future
// adopts that future's outcome.
func (l *Loop) NewFuture() (*Future, func(any), func(error)) {
	f := &Future{loop: l}
	return f, f.resolve, f.reject
}

// Resolved returns a future fulfilled with v.
func (l *Loop) Resolved(v any) *Future {
	f, resolve, _ := l.NewFuture()
	resolve(v)
	return f
}

// Rejected returns a future rejected with err.
func (l *Loop) Rejected(err error) *Future {
	f, _, reject := l.NewFuture()
	reject(err)
	return f
}

// State reports the current state.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Value returns the fulfilled value, or nil.
func (f *Future) Value() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Err returns the rejection reason, or nil.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Then registers continuations and returns a future for their result.
// A nil continuation passes the outcome through. A continuation returning a
// *Future makes the result adopt it; a panicking continuation rejects it.
func (f *Future) Then(onFulfilled func(any) (any, error), onRejected func(error) (any, error)) *Future {
	next, resolve, reject := f.loop.NewFuture()
	run := func() {
		state, value, err := f.snapshot()
		var (
			v    any
			cerr error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					cerr = &PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
			switch {
			case state == Fulfilled && onFulfilled != nil:
				v, cerr = onFulfilled(value)
			case state == Fulfilled:
				v = value
			case onRejected != nil:
				v, cerr = onRejected(err)
			default:
				cerr = err
			}
		}()
		if cerr != nil {
			reject(cerr)
			return
		}
		resolve(v)
	}

	f.mu.Lock()
	f.handled = true
	if f.state == Pending {
		f.callbacks = append(f.callbacks, run)
		f.mu.Unlock()
		return next
	}
	f.mu.Unlock()
	_ = f.loop.Submit(run)
	return next
}

// Catch is Then(nil, onRejected).
func (f *Future) Catch(onRejected func(error) (any, error)) *Future {
	return f.Then(nil, onRejected)
}

func (f *Future) snapshot() (State, any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.value, f.err
}

func (f *Future) resolve(v any) {
	if other, ok := v.(*Future); ok && other != nil {
		if other == f {
			f.reject(errSelfResolution)
			return
		}
		other.Then(func(v any) (any, error) {
			f.resolve(v)
			return nil, nil
		}, func(err error) (any, error) {
			f.reject(err)
			return nil, nil
		})
		return
	}
	f.settle(Fulfilled, v, nil)
}

func (f *Future) reject(err error) {
	if err == nil {
		err = errNilRejection
	}
	f.settle(Rejected, nil, err)
}

func (f *Future) settle(state State, v any, err error) {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return
	}
	f.state, f.value, f.err = state, v, err
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, cb := range callbacks {
		_ = f.loop.Submit(cb)
	}
	if state == Rejected {
		// Observers attached during the current turn still count as handling.
		_ = f.loop.Submit(func() {
			f.mu.Lock()
			handled := f.handled
			f.mu.Unlock()
			if !handled {
				f.loop.rejected(err)
			}
		})
	}
}
