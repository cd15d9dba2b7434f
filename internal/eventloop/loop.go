// Package eventloop implements the cooperative scheduler the runtime drives
// invocations on.
//
// A Loop runs every task on the goroutine that called Run, one at a time and
// in submission order. Blocking work (network I/O, user goroutines) happens
// elsewhere and re-enters the loop through a Release obtained from Hold, which
// also keeps the loop from declaring itself idle while the work is in flight.
// When the queue is empty and nothing holds a reference the loop invokes its
// idle-drain hook; if the hook schedules nothing, Run returns.
package eventloop

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/nova-ric/internal/idledrain"
	"github.com/oriys/nova-ric/internal/logging"
)

// Task is a unit of work executed on the loop goroutine.
type Task func()

// Release drops a reference taken with Hold. The task, when non-nil, is queued
// in the same critical section, so the loop never sees itself idle between the
// two. Only the first call has effect.
type Release func(task Task)

const (
	stateAwake int32 = iota
	stateRunning
	stateTerminated
)

// Loop is a single-goroutine task scheduler.
type Loop struct {
	mu    sync.Mutex
	queue []Task
	refs  int
	wake  chan struct{}
	state atomic.Int32

	hook *idledrain.Hook

	handlerMu   sync.RWMutex
	onUncaught  func(error)
	onRejection func(error)
}

// New creates a loop. Without WithIdleHook the loop owns a private hook.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		hook: idledrain.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IdleHook returns the hook invoked when the loop drains.
func (l *Loop) IdleHook() *idledrain.Hook {
	return l.hook
}

// SetUncaughtHandler replaces the panic handler. nil restores the default,
// which logs the panic.
func (l *Loop) SetUncaughtHandler(fn func(error)) {
	l.handlerMu.Lock()
	l.onUncaught = fn
	l.handlerMu.Unlock()
}

// SetRejectionHandler replaces the unobserved-rejection handler. nil restores
// the default, which logs the rejection.
func (l *Loop) SetRejectionHandler(fn func(error)) {
	l.handlerMu.Lock()
	l.onRejection = fn
	l.handlerMu.Unlock()
}

// Run executes tasks until the loop drains or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(stateAwake, stateRunning) {
		if l.state.Load() == stateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}
	defer l.state.Store(stateTerminated)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if task, ok := l.next(); ok {
			l.safeExecute(task)
			continue
		}
		if l.quiescent() {
			l.safeExecute(l.hook.Invoke)
			if l.quiescent() {
				return nil
			}
			continue
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Submit queues a task for a later turn. It never blocks and is safe to call
// from any goroutine.
func (l *Loop) Submit(task Task) error {
	if task == nil {
		return nil
	}
	if l.state.Load() == stateTerminated {
		return ErrLoopTerminated
	}
	l.mu.Lock()
	l.queue = append(l.queue, task)
	l.mu.Unlock()
	l.signal()
	return nil
}

// Hold takes a reference that keeps the loop from draining.
func (l *Loop) Hold() Release {
	l.mu.Lock()
	l.refs++
	l.mu.Unlock()

	var once sync.Once
	return func(task Task) {
		once.Do(func() {
			l.mu.Lock()
			l.refs--
			if task != nil {
				l.queue = append(l.queue, task)
			}
			l.mu.Unlock()
			l.signal()
		})
	}
}

// Go runs fn on its own goroutine while holding a reference, and settles the
// returned future on the loop. A panic in fn rejects the future with a
// *PanicError.
func (l *Loop) Go(fn func() (any, error)) *Future {
	f, resolve, reject := l.NewFuture()
	release := l.Hold()
	go func() {
		var (
			v   any
			err error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
			v, err = fn()
		}()
		release(func() {
			if err != nil {
				reject(err)
				return
			}
			resolve(v)
		})
	}()
	return f
}

// Timer is a pending SetTimeout callback.
type Timer struct {
	t       *time.Timer
	release Release
}

// Stop cancels the timer. It reports whether the callback was prevented.
func (t *Timer) Stop() bool {
	if t.t.Stop() {
		t.release(nil)
		return true
	}
	return false
}

// SetTimeout runs fn on the loop after d. A pending timer keeps the loop alive.
func (l *Loop) SetTimeout(d time.Duration, fn func()) *Timer {
	release := l.Hold()
	return &Timer{
		t:       time.AfterFunc(d, func() { release(fn) }),
		release: release,
	}
}

func (l *Loop) next() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *Loop) quiescent() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) == 0 && l.refs == 0
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) safeExecute(t Task) {
	defer func() {
		if r := recover(); r != nil {
			l.uncaught(&PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	t()
}

func (l *Loop) uncaught(err error) {
	l.handlerMu.RLock()
	fn := l.onUncaught
	l.handlerMu.RUnlock()
	if fn == nil {
		logging.Op().Error("eventloop: task panicked", "error", err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("eventloop: uncaught handler panicked", "panic", r, "error", err)
		}
	}()
	fn(err)
}

func (l *Loop) rejected(err error) {
	l.handlerMu.RLock()
	fn := l.onRejection
	l.handlerMu.RUnlock()
	if fn == nil {
		logging.Op().Error("eventloop: unhandled rejection", "error", err)
		return
	}
	fn(err)
}
