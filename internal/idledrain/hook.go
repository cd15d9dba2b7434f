// Package idledrain holds the listener a loop calls when it runs out of work.
//
// The hook is the fallback completion signal: a handler that finished all of
// its asynchronous work without calling a completion primitive is detected by
// the loop going idle.
package idledrain

import "sync/atomic"

// Hook is a single-slot listener. The zero value is ready to use and invokes
// nothing.
type Hook struct {
	listener atomic.Pointer[func()]
}

// New returns an empty hook.
func New() *Hook {
	return &Hook{}
}

// Invoke calls the installed listener, if any.
func (h *Hook) Invoke() {
	if fn := h.listener.Load(); fn != nil && *fn != nil {
		(*fn)()
	}
}

// Reset restores the no-op listener.
func (h *Hook) Reset() {
	h.listener.Store(nil)
}

// Set replaces the listener. Set(nil) is the same as Reset.
func (h *Hook) Set(fn func()) {
	if fn == nil {
		h.Reset()
		return
	}
	h.listener.Store(&fn)
}

// Armed reports whether a listener is installed.
func (h *Hook) Armed() bool {
	fn := h.listener.Load()
	return fn != nil && *fn != nil
}
