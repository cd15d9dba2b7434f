package logsink

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/nova-ric/internal/logging"
)

func TestNoopSink(t *testing.T) {
	sink := NewNoopSink()

	rec := &logging.InvocationRecord{RequestID: "test-1"}
	assert.NoError(t, sink.Save(context.Background(), rec))
	assert.NoError(t, sink.SaveBatch(context.Background(), []*logging.InvocationRecord{rec}))
	assert.NoError(t, sink.Close())
}

// mockSink records calls for testing
type mockSink struct {
	mu       sync.Mutex
	saved    []*logging.InvocationRecord
	batches  int
	saveErr  error
	batchErr error
	closeErr error
}

func (m *mockSink) Save(_ context.Context, rec *logging.InvocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, rec)
	return m.saveErr
}

func (m *mockSink) SaveBatch(_ context.Context, recs []*logging.InvocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, recs...)
	m.batches++
	return m.batchErr
}

func (m *mockSink) Close() error { return m.closeErr }

func (m *mockSink) count() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved), m.batches
}

func TestMultiSink_FanOut(t *testing.T) {
	primary := &mockSink{}
	secondary := &mockSink{}
	multi := NewMultiSink(primary, secondary)

	require.NoError(t, multi.Save(context.Background(), &logging.InvocationRecord{RequestID: "multi-1"}))
	assert.Len(t, primary.saved, 1)
	assert.Len(t, secondary.saved, 1)
}

func TestMultiSink_BatchFanOut(t *testing.T) {
	primary := &mockSink{}
	secondary := &mockSink{}
	multi := NewMultiSink(primary, secondary)

	recs := []*logging.InvocationRecord{{RequestID: "batch-1"}, {RequestID: "batch-2"}}
	require.NoError(t, multi.SaveBatch(context.Background(), recs))

	assert.Len(t, primary.saved, 2)
	assert.Len(t, secondary.saved, 2)
	assert.Equal(t, 1, primary.batches)
	assert.Equal(t, 1, secondary.batches)
}

func TestMultiSink_PrimaryError(t *testing.T) {
	errPrimary := errors.New("primary failed")
	primary := &mockSink{saveErr: errPrimary}
	secondary := &mockSink{}
	multi := NewMultiSink(primary, secondary)

	err := multi.Save(context.Background(), &logging.InvocationRecord{RequestID: "err-1"})
	assert.ErrorIs(t, err, errPrimary)

	// secondary still receives the record
	assert.Len(t, secondary.saved, 1)
}

func TestMultiSink_Close(t *testing.T) {
	errClose := errors.New("close failed")
	multi := NewMultiSink(&mockSink{closeErr: errClose}, &mockSink{})
	assert.ErrorIs(t, multi.Close(), errClose)
}

func TestBatcherFlushesBySize(t *testing.T) {
	sink := &mockSink{}
	b := NewBatcher(sink, WithBatchSize(2), WithFlushInterval(time.Hour))

	b.Enqueue(&logging.InvocationRecord{RequestID: "a"})
	b.Enqueue(&logging.InvocationRecord{RequestID: "b"})

	require.Eventually(t, func() bool {
		saved, batches := sink.count()
		return saved == 2 && batches == 1
	}, time.Second, 5*time.Millisecond)

	b.Shutdown(time.Second)
}

func TestBatcherFlushesOnTimer(t *testing.T) {
	sink := &mockSink{}
	b := NewBatcher(sink, WithFlushInterval(10*time.Millisecond))
	defer b.Shutdown(time.Second)

	b.Enqueue(&logging.InvocationRecord{RequestID: "tick"})

	require.Eventually(t, func() bool {
		saved, _ := sink.count()
		return saved == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBatcherShutdownFlushesPending(t *testing.T) {
	sink := &mockSink{}
	b := NewBatcher(sink, WithFlushInterval(time.Hour))

	for i := 0; i < 5; i++ {
		b.Enqueue(&logging.InvocationRecord{RequestID: uuid.NewString()})
	}
	b.Shutdown(time.Second)

	saved, _ := sink.count()
	assert.Equal(t, 5, saved)
}

func TestBatcherSurvivesSinkError(t *testing.T) {
	sink := &mockSink{batchErr: errors.New("down")}
	b := NewBatcher(sink, WithBatchSize(1), WithFlushInterval(time.Hour))

	b.Enqueue(&logging.InvocationRecord{RequestID: "x"})
	b.Enqueue(&logging.InvocationRecord{RequestID: "y"})
	b.Shutdown(time.Second)

	saved, batches := sink.count()
	assert.Equal(t, 2, saved)
	assert.Equal(t, 2, batches)
}

func TestPostgresSinkRoundTrip(t *testing.T) {
	dsn := os.Getenv("PULSAR_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("PULSAR_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	sink, err := NewPostgresSink(ctx, dsn)
	require.NoError(t, err)
	defer sink.Close()

	id := uuid.NewString()
	rec := &logging.InvocationRecord{
		Timestamp:  time.Now().Add(time.Hour),
		RequestID:  id,
		Handler:    "index.handler",
		Mode:       "buffered",
		DurationMs: 12,
		Success:    true,
		InputSize:  7,
	}
	require.NoError(t, sink.SaveBatch(ctx, []*logging.InvocationRecord{rec, rec}))

	recent, err := sink.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, id, recent[0].RequestID)
	assert.Equal(t, int64(12), recent[0].DurationMs)
}

func TestPostgresSinkRequiresDSN(t *testing.T) {
	_, err := NewPostgresSink(context.Background(), "")
	assert.Error(t, err)
}

func TestRedisSinkCapsList(t *testing.T) {
	addr := os.Getenv("PULSAR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PULSAR_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	key := "pulsar:test:" + uuid.NewString()
	sink, err := NewRedisSink(ctx, addr, "", 0, key, 3)
	require.NoError(t, err)
	defer func() {
		sink.client.Del(ctx, key)
		sink.Close()
	}()

	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		require.NoError(t, sink.Save(ctx, &logging.InvocationRecord{RequestID: id, Success: true}))
	}

	recent, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "r4", recent[0].RequestID)
	assert.Equal(t, "r2", recent[2].RequestID)
}
