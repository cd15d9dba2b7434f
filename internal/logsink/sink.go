// Package logsink defines an abstraction for invocation record persistence.
// The recorder forwards every record to a Batcher, which writes batches
// through a LogSink: PostgreSQL for querying, a capped Redis list for recent
// activity, or both through a MultiSink.
package logsink

import (
	"context"

	"github.com/oriys/nova-ric/internal/logging"
)

// LogSink abstracts the destination for invocation records.
// Implementations must be safe for concurrent use.
type LogSink interface {
	// Save persists a single invocation record.
	Save(ctx context.Context, rec *logging.InvocationRecord) error

	// SaveBatch persists a batch of invocation records.
	SaveBatch(ctx context.Context, recs []*logging.InvocationRecord) error

	// Close releases any resources held by the sink.
	Close() error
}

// RecentReader lists stored records, newest first.
type RecentReader interface {
	Recent(ctx context.Context, limit int) ([]*logging.InvocationRecord, error)
}

var (
	_ RecentReader = (*PostgresSink)(nil)
	_ RecentReader = (*RedisSink)(nil)
)

// MultiSink fans out record writes to multiple sinks.
type MultiSink struct {
	sinks []LogSink
}

// NewMultiSink creates a LogSink that writes to all provided sinks.
// The first error encountered from any sink is returned.
func NewMultiSink(primary LogSink, secondary ...LogSink) *MultiSink {
	sinks := make([]LogSink, 0, 1+len(secondary))
	sinks = append(sinks, primary)
	sinks = append(sinks, secondary...)
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Save(ctx context.Context, rec *logging.InvocationRecord) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Save(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiSink) SaveBatch(ctx context.Context, recs []*logging.InvocationRecord) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.SaveBatch(ctx, recs); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NoopSink discards all records.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (n *NoopSink) Save(context.Context, *logging.InvocationRecord) error        { return nil }
func (n *NoopSink) SaveBatch(context.Context, []*logging.InvocationRecord) error { return nil }
func (n *NoopSink) Close() error                                                 { return nil }
