package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/oriys/nova-ric/internal/handler"
	"github.com/oriys/nova-ric/internal/logging"
	"github.com/oriys/nova-ric/internal/metrics"
	"github.com/oriys/nova-ric/internal/rterror"
)

// ErrMissingAPI is returned when no control-plane address is configured.
var ErrMissingAPI = errors.New("Missing Runtime API Server configuration.")

// Bootstrap resolves the handler named by descriptor and runs the loop. A
// resolution failure is logged, reported as an init error and ends the
// process with ExitUncaught.
func Bootstrap(ctx context.Context, c Client, res handler.Resolver, appRoot, descriptor string, opts ...Option) error {
	start := time.Now()
	opts = append([]Option{WithHandlerName(descriptor)}, opts...)
	r := New(c, handler.Handler{}, opts...)

	h, err := res.Resolve(appRoot, descriptor)
	if err != nil {
		r.initFailure(err)
		return err
	}
	r.handler = h
	logging.Op().Info("handler resolved",
		"handler", descriptor,
		"streaming", h.IsStreaming(),
		"init_ms", time.Since(start).Milliseconds())
	return r.Start(ctx)
}

func (r *Runtime) initFailure(err error) {
	metrics.RecordInitError(rterror.ToResponse(err).ErrorType)
	r.console.LogError("Uncaught Exception", err)
	r.fatal(err, ExitUncaught, func(ctx context.Context) error {
		return r.client.PostInitError(ctx, err)
	})
}
