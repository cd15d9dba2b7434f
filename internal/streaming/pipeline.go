package streaming

import (
	"errors"
	"io"

	"github.com/oriys/nova-ric/internal/eventloop"
)

const pipelineChunkSize = 32 * 1024

type readResult struct {
	data []byte
	err  error
}

// Pipeline copies r into w and ends w once r is exhausted. Reads happen off
// the loop; writes honor backpressure. The returned future settles when w
// finished, or rejects with the first read or write error, in which case w is
// destroyed.
func Pipeline(loop *eventloop.Loop, r io.Reader, w Writer) *eventloop.Future {
	done, resolve, reject := loop.NewFuture()

	var (
		pump        func()
		waitDrain   bool
		interrupted bool
	)
	fail := func(err error) {
		if interrupted {
			return
		}
		interrupted = true
		w.Destroy(err)
		reject(err)
	}

	w.OnDrain(func() {
		if waitDrain {
			waitDrain = false
			pump()
		}
	})
	w.OnError(fail)

	pump = func() {
		if interrupted {
			return
		}
		loop.Go(func() (any, error) {
			buf := make([]byte, pipelineChunkSize)
			n, err := r.Read(buf)
			return readResult{data: buf[:n], err: err}, nil
		}).Then(func(v any) (any, error) {
			if interrupted {
				return nil, nil
			}
			rr := v.(readResult)
			ok := true
			if len(rr.data) > 0 {
				var err error
				if ok, err = w.Write(rr.data); err != nil {
					fail(err)
					return nil, nil
				}
			}
			switch {
			case errors.Is(rr.err, io.EOF):
				if err := w.End(func(err error) {
					if err != nil {
						fail(err)
						return
					}
					resolve(nil)
				}); err != nil {
					fail(err)
				}
			case rr.err != nil:
				fail(rr.err)
			case !ok:
				waitDrain = true
			default:
				pump()
			}
			return nil, nil
		}, nil)
	}
	pump()
	return done
}
