// Package handler defines the user handler contract and resolves handler
// descriptors of the form "path/module.function" to registered handlers.
package handler

import (
	"encoding/json"

	"github.com/oriys/nova-ric/internal/eventloop"
	"github.com/oriys/nova-ric/internal/invoke"
	"github.com/oriys/nova-ric/internal/streaming"
)

// Buffered handles an invocation whose result is reported in one piece.
//
// The handler completes through cb or the completion methods of ctx, or by
// returning a future. A returned error is reported as if passed to cb.
type Buffered func(event json.RawMessage, ctx *invoke.Context, cb invoke.Callback) (*eventloop.Future, error)

// Streaming handles an invocation whose result is written to w. It must
// return a future that settles when the handler is done with w.
type Streaming func(event json.RawMessage, w streaming.Writer, ctx *invoke.Context) *eventloop.Future

// Handler is a resolved user handler. Exactly one of Buffered and Streaming
// is set.
type Handler struct {
	Buffered  Buffered
	Streaming Streaming
	// HighWaterMark overrides the stream buffer size of streaming handlers.
	HighWaterMark int
}

// IsStreaming reports whether h streams its response.
func (h Handler) IsStreaming() bool {
	return h.Streaming != nil
}

// Resolver maps a handler descriptor to a handler.
type Resolver interface {
	Resolve(appRoot, descriptor string) (Handler, error)
}
