// Package lambda is the entry point for function binaries built on pulsar.
//
// A function registers its handlers and calls Start:
//
//	func main() {
//		lambda.Register("index.handler", lambda.Func(handle))
//		lambda.Start()
//	}
//
// Start reads the runtime API address and the handler descriptor from the
// environment (AWS_LAMBDA_RUNTIME_API, _HANDLER) and never returns while the
// process serves invocations.
package lambda

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oriys/nova-ric/internal/config"
	"github.com/oriys/nova-ric/internal/handler"
	"github.com/oriys/nova-ric/internal/invoke"
	"github.com/oriys/nova-ric/internal/launcher"
	"github.com/oriys/nova-ric/internal/rterror"
	"github.com/oriys/nova-ric/internal/streaming"
)

// Handler is a registered function: buffered or streaming.
type Handler = handler.Handler

// Context is the per-invocation context.
type Context = invoke.Context

// Error is an error with an explicit error type.
type Error = rterror.Error

// ResponseWriter is the stream a streaming handler writes to.
type ResponseWriter = streaming.Writer

// HTTPResponseMetadata is the prelude of an HTTP integration response.
type HTTPResponseMetadata = streaming.HTTPResponseMetadata

var registry = handler.NewRegistry()

// Func wraps a synchronous function.
func Func[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Handler {
	return Handler{Buffered: handler.Func(fn)}
}

// AsyncFunc wraps a function that runs on its own goroutine.
func AsyncFunc[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Handler {
	return Handler{Buffered: handler.AsyncFunc(fn)}
}

// StreamFunc wraps a function that streams its response. A non-positive
// highWaterMark keeps the default buffer size.
func StreamFunc[In any](fn func(ctx context.Context, in In, w io.Writer) error, highWaterMark int) Handler {
	return Handler{Streaming: handler.StreamFunc(fn), HighWaterMark: highWaterMark}
}

// NewError returns an error reported with errorType.
func NewError(errorType, message string) *Error {
	return rterror.New(errorType, message)
}

// NewHTTPResponseStream sends metadata as an HTTP response prelude ahead of
// the first chunk written to w.
func NewHTTPResponseStream(w ResponseWriter, metadata any) (ResponseWriter, error) {
	return streaming.NewHTTPResponseStream(w, metadata)
}

// FromContext returns the invocation context carried by ctx.
func FromContext(ctx context.Context) (*Context, bool) {
	return invoke.FromContext(ctx)
}

// Register makes h resolvable as descriptor ("module.function").
func Register(descriptor string, h Handler) {
	module, function, ok := strings.Cut(descriptor, ".")
	if !ok || module == "" || function == "" {
		panic(fmt.Sprintf("lambda: invalid handler descriptor %q", descriptor))
	}
	registry.Register(module, function, h)
}

// Start serves invocations until the process is signalled. Configuration
// errors end the process with status 1.
func Start() {
	if err := StartWithContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// StartWithContext serves invocations until ctx is done or the process is
// signalled.
func StartWithContext(ctx context.Context) error {
	cfg := config.DefaultConfig()
	if path := os.Getenv("PULSAR_CONFIG"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}
	if cfg.Runtime.Handler == "" {
		if ds := registry.Descriptors(); len(ds) == 1 {
			cfg.Runtime.Handler = ds[0]
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := launcher.Setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()
	return p.Run(ctx, registry)
}
