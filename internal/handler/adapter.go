package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/oriys/nova-ric/internal/eventloop"
	"github.com/oriys/nova-ric/internal/invoke"
	"github.com/oriys/nova-ric/internal/streaming"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

func decode[In any](event json.RawMessage) (In, error) {
	var in In
	if len(event) == 0 {
		return in, nil
	}
	if err := codec.Unmarshal(event, &in); err != nil {
		return in, fmt.Errorf("decode event: %w", err)
	}
	return in, nil
}

// Func adapts a synchronous Go function. It runs on the loop and completes
// through the callback, so the report waits for the loop to drain unless the
// handler turned waiting off.
func Func[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Buffered {
	return func(event json.RawMessage, ictx *invoke.Context, cb invoke.Callback) (*eventloop.Future, error) {
		in, err := decode[In](event)
		if err != nil {
			return nil, err
		}
		ctx, cancel := invoke.NewGoContext(context.Background(), ictx)
		defer cancel()
		out, err := fn(ctx, in)
		if err != nil {
			cb(err, nil)
			return nil, nil
		}
		cb(nil, out)
		return nil, nil
	}
}

// AsyncFunc adapts a Go function that runs off the loop. The returned future
// settles with its result.
func AsyncFunc[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Buffered {
	return func(event json.RawMessage, ictx *invoke.Context, _ invoke.Callback) (*eventloop.Future, error) {
		in, err := decode[In](event)
		if err != nil {
			return nil, err
		}
		loop := ictx.Loop()
		if loop == nil {
			return nil, fmt.Errorf("handler: invocation has no loop")
		}
		return loop.Go(func() (any, error) {
			ctx, cancel := invoke.NewGoContext(context.Background(), ictx)
			defer cancel()
			return fn(ctx, in)
		}), nil
	}
}

// StreamFunc adapts a Go function that writes its response to an io.Writer.
// Writes block while the stream is above its high-water mark. The stream is
// ended when fn returns nil and did not end it.
func StreamFunc[In any](fn func(ctx context.Context, in In, w io.Writer) error) Streaming {
	return func(event json.RawMessage, w streaming.Writer, ictx *invoke.Context) *eventloop.Future {
		loop := ictx.Loop()
		in, err := decode[In](event)
		if err != nil {
			return loop.Rejected(err)
		}
		bw := newBlockingWriter(w)
		return loop.Go(func() (any, error) {
			ctx, cancel := invoke.NewGoContext(context.Background(), ictx)
			defer cancel()
			bw.ctx = ctx
			return nil, fn(ctx, in, bw)
		}).Then(func(any) (any, error) {
			if w.Ended() {
				return nil, nil
			}
			done, resolve, reject := loop.NewFuture()
			if err := w.End(func(err error) {
				if err != nil {
					reject(err)
					return
				}
				resolve(nil)
			}); err != nil {
				return nil, err
			}
			return done, nil
		}, nil)
	}
}

// blockingWriter turns the loop-driven backpressure of a stream into blocking
// writes for code running on its own goroutine.
type blockingWriter struct {
	w       streaming.Writer
	ctx     context.Context
	drained chan struct{}
	failed  chan struct{}
}

func newBlockingWriter(w streaming.Writer) *blockingWriter {
	bw := &blockingWriter{
		w:       w,
		ctx:     context.Background(),
		drained: make(chan struct{}, 1),
		failed:  make(chan struct{}),
	}
	w.OnDrain(func() {
		select {
		case bw.drained <- struct{}{}:
		default:
		}
	})
	w.OnError(func(error) {
		select {
		case <-bw.failed:
		default:
			close(bw.failed)
		}
	})
	return bw
}

func (bw *blockingWriter) Write(p []byte) (int, error) {
	ok, err := bw.w.Write(p)
	if err != nil {
		return 0, err
	}
	if ok {
		return len(p), nil
	}
	select {
	case <-bw.drained:
		return len(p), nil
	case <-bw.failed:
		return len(p), streaming.ErrDestroyed
	case <-bw.ctx.Done():
		return len(p), bw.ctx.Err()
	}
}
