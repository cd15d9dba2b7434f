package callback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/nova-ric/internal/eventloop"
	"github.com/oriys/nova-ric/internal/idledrain"
)

type report struct {
	id       string
	response any
	err      any
	isError  bool
}

type fakeReporter struct {
	mu       sync.Mutex
	reports  []report
	failNext error
}

func (f *fakeReporter) PostInvocationResponse(_ context.Context, id string, response any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return err
	}
	f.reports = append(f.reports, report{id: id, response: response})
	return nil
}

func (f *fakeReporter) PostInvocationError(_ context.Context, id string, err any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report{id: id, err: err, isError: true})
	return nil
}

func (f *fakeReporter) all() []report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]report(nil), f.reports...)
}

type fakeLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *fakeLogger) LogError(msg string, err any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf("%s: %v", msg, err))
}

func (l *fakeLogger) Error(args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprint(args...))
}

type harness struct {
	loop      *eventloop.Loop
	hook      *idledrain.Hook
	reporter  *fakeReporter
	logger    *fakeLogger
	scheduled int
	gate      *Gate
}

func newHarness() *harness {
	h := &harness{hook: idledrain.New(), reporter: &fakeReporter{}, logger: &fakeLogger{}}
	h.loop = eventloop.New(eventloop.WithIdleHook(h.hook))
	h.gate = New(Options{
		Reporter:     h.reporter,
		InvokeID:     "req-1",
		ScheduleNext: func() { h.scheduled++ },
		Hook:         h.hook,
		Loop:         h.loop,
		Logger:       h.logger,
	})
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.loop.Run(ctx))
}

func TestSucceedTwiceReportsFirst(t *testing.T) {
	h := newHarness()
	h.gate.Succeed("x")
	h.gate.Succeed("y")

	reports := h.reporter.all()
	require.Len(t, reports, 1)
	assert.Equal(t, "x", reports[0].response)
	assert.Equal(t, "req-1", reports[0].id)
	assert.Equal(t, 1, h.scheduled)
}

func TestFirstEntryPointWins(t *testing.T) {
	boom := errors.New("boom")
	calls := map[string]func(g *Gate){
		"succeed":  func(g *Gate) { g.Succeed("succeed") },
		"fail":     func(g *Gate) { g.Fail(boom) },
		"done":     func(g *Gate) { g.Done(nil, "done") },
		"doneErr":  func(g *Gate) { g.Done(boom, nil) },
		"callback": func(g *Gate) { g.Callback(nil, "callback") },
	}
	for first, call := range calls {
		t.Run(first, func(t *testing.T) {
			h := newHarness()
			h.gate.SetCallbackWaitsForEmptyEventLoop(false)
			call(h.gate)
			for _, other := range calls {
				other(h.gate)
			}
			reports := h.reporter.all()
			require.Len(t, reports, 1)
			switch first {
			case "fail", "doneErr":
				assert.True(t, reports[0].isError)
				assert.Equal(t, boom, reports[0].err)
			default:
				assert.Equal(t, first, reports[0].response)
			}
			assert.Equal(t, 1, h.scheduled)
		})
	}
}

func TestFailWithoutErrorReportsHandled(t *testing.T) {
	h := newHarness()
	h.gate.Fail(nil)
	reports := h.reporter.all()
	require.Len(t, reports, 1)
	assert.True(t, reports[0].isError)
	assert.Equal(t, "handled", reports[0].err)
	require.NotEmpty(t, h.logger.errors)
	assert.Contains(t, h.logger.errors[0], "Invoke Error")
}

func TestTypedNilErrorIsNoError(t *testing.T) {
	h := newHarness()
	var err *net404
	h.gate.Done(err, "ok")
	reports := h.reporter.all()
	require.Len(t, reports, 1)
	assert.False(t, reports[0].isError)
}

type net404 struct{}

func (*net404) Error() string { return "not found" }

func TestCallbackWaitsForDrain(t *testing.T) {
	h := newHarness()
	h.gate.Callback(nil, "later")
	assert.Empty(t, h.reporter.all())
	assert.True(t, h.hook.Armed())

	h.run(t)
	reports := h.reporter.all()
	require.Len(t, reports, 1)
	assert.Equal(t, "later", reports[0].response)
	assert.Equal(t, 1, h.scheduled)
}

func TestCallbackWaitsForPendingTimers(t *testing.T) {
	h := newHarness()
	var order []string
	_ = h.loop.Submit(func() {
		h.loop.SetTimeout(20*time.Millisecond, func() { order = append(order, "timer") })
		h.gate.Callback(nil, "after timer")
	})
	h.run(t)
	require.Len(t, h.reporter.all(), 1)
	assert.Equal(t, []string{"timer"}, order)
}

func TestCallbackWithoutWaitingCompletesImmediately(t *testing.T) {
	h := newHarness()
	h.gate.SetCallbackWaitsForEmptyEventLoop(false)
	h.gate.Callback(nil, 7)
	reports := h.reporter.all()
	require.Len(t, reports, 1)
	assert.Equal(t, 7, reports[0].response)
}

func TestRepeatCallbackKeepsFirstPendingReport(t *testing.T) {
	h := newHarness()
	h.gate.Callback(nil, "first")
	h.gate.Callback(nil, "second")
	h.gate.Callback(errors.New("third"), nil)
	assert.True(t, h.hook.Armed())

	h.run(t)
	reports := h.reporter.all()
	require.Len(t, reports, 1)
	assert.Equal(t, "first", reports[0].response)
}

func TestRepeatCallbackClearsStaleFallback(t *testing.T) {
	h := newHarness()
	h.gate.SetCallbackWaitsForEmptyEventLoop(false)
	h.gate.Callback(nil, "x")
	h.hook.Set(h.gate.CompleteDefault)
	h.gate.Callback(nil, "y")
	assert.False(t, h.hook.Armed())
	assert.Len(t, h.reporter.all(), 1)
}

func TestCallbackErrorClearsHook(t *testing.T) {
	h := newHarness()
	h.hook.Set(h.gate.CompleteDefault)
	h.gate.Callback(errors.New("bad"), nil)
	assert.False(t, h.hook.Armed())
	h.run(t)
	reports := h.reporter.all()
	require.Len(t, reports, 1)
	assert.True(t, reports[0].isError)
}

func TestCompleteDefault(t *testing.T) {
	h := newHarness()
	h.hook.Set(h.gate.CompleteDefault)
	h.run(t)
	reports := h.reporter.all()
	require.Len(t, reports, 1)
	assert.Nil(t, reports[0].response)
	assert.False(t, reports[0].isError)

	h.gate.Succeed("too late")
	assert.Len(t, h.reporter.all(), 1)
}

func TestCompleteDefaultAfterReportLogs(t *testing.T) {
	h := newHarness()
	h.gate.Succeed("x")
	h.gate.CompleteDefault()
	assert.Len(t, h.reporter.all(), 1)
	assert.Contains(t, h.logger.errors, AlreadyReportedMessage)
	assert.Equal(t, 1, h.scheduled)
}

func TestUnserializableResponseBecomesError(t *testing.T) {
	h := newHarness()
	h.reporter.failNext = fmt.Errorf("encode: %w", ErrUnserializableResponse)
	h.gate.Succeed(make(chan int))
	reports := h.reporter.all()
	require.Len(t, reports, 1)
	assert.True(t, reports[0].isError)
	assert.Equal(t, 1, h.scheduled)
}

func TestConcurrentCompletion(t *testing.T) {
	h := newHarness()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				h.gate.Succeed(i)
			} else {
				h.gate.Fail(i)
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, h.reporter.all(), 1)
}
