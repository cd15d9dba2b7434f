package eventloop

import "github.com/oriys/nova-ric/internal/idledrain"

// Option configures a Loop.
type Option func(*Loop)

// WithIdleHook installs the hook the loop invokes when it has nothing left to do.
func WithIdleHook(h *idledrain.Hook) Option {
	return func(l *Loop) {
		if h != nil {
			l.hook = h
		}
	}
}

// WithUncaughtHandler sets the function receiving panics recovered from tasks.
func WithUncaughtHandler(fn func(error)) Option {
	return func(l *Loop) {
		l.SetUncaughtHandler(fn)
	}
}

// WithRejectionHandler sets the function receiving rejections nobody observed.
func WithRejectionHandler(fn func(error)) Option {
	return func(l *Loop) {
		l.SetRejectionHandler(fn)
	}
}
