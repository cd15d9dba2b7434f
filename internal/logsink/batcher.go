package logsink

import (
	"context"
	"log/slog"
	"time"

	"github.com/oriys/nova-ric/internal/logging"
)

const (
	defaultBatchSize     = 100
	defaultBufferSize    = 1000
	defaultFlushInterval = 500 * time.Millisecond
	defaultSaveTimeout   = 5 * time.Second
)

// Batcher collects records off the invocation path and writes them to a sink
// in batches, by size or on a timer.
type Batcher struct {
	sink          LogSink
	logger        *slog.Logger
	recs          chan *logging.InvocationRecord
	flushInterval time.Duration
	batchSize     int
	done          chan struct{}
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithFlushInterval sets how often partial batches are written.
func WithFlushInterval(d time.Duration) BatcherOption {
	return func(b *Batcher) { b.flushInterval = d }
}

// WithBatchSize sets the batch size that triggers an immediate write.
func WithBatchSize(n int) BatcherOption {
	return func(b *Batcher) { b.batchSize = n }
}

// NewBatcher starts a batcher writing to sink.
func NewBatcher(sink LogSink, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		sink:          sink,
		logger:        logging.Op(),
		recs:          make(chan *logging.InvocationRecord, defaultBufferSize),
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

// Enqueue queues rec without blocking; records are dropped when the buffer
// is full.
func (b *Batcher) Enqueue(rec *logging.InvocationRecord) {
	select {
	case b.recs <- rec:
	default:
		b.logger.Warn("dropping invocation record due to full buffer", "request_id", rec.RequestID)
	}
}

// Shutdown flushes what is queued, waiting at most timeout. Enqueue must not
// be called afterwards.
func (b *Batcher) Shutdown(timeout time.Duration) {
	close(b.recs)
	select {
	case <-b.done:
	case <-time.After(timeout):
		b.logger.Warn("timeout waiting for invocation record batcher shutdown", "timeout", timeout)
	}
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]*logging.InvocationRecord, 0, b.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultSaveTimeout)
		defer cancel()
		if err := b.sink.SaveBatch(ctx, batch); err != nil {
			b.logger.Warn("failed to persist invocation records", "error", err, "count", len(batch))
		}
		batch = make([]*logging.InvocationRecord, 0, b.batchSize)
	}

	for {
		select {
		case rec, ok := <-b.recs:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
