package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/nova-ric/internal/eventloop"
	"github.com/oriys/nova-ric/internal/invoke"
	"github.com/oriys/nova-ric/internal/streaming"
)

type (
	contextT = context.Context
	writerT  = io.Writer
)

type greeting struct {
	Name string `json:"name"`
}

func newInvocation(t *testing.T, l *eventloop.Loop) *invoke.Context {
	t.Helper()
	h := http.Header{}
	h.Add(invoke.HeaderRequestID, "req-1")
	h.Add(invoke.HeaderDeadlineMs, "4102444800000")
	c, err := invoke.New(h, invoke.Environment{}, invoke.WithLoop(l))
	require.NoError(t, err)
	return c
}

func run(t *testing.T, l *eventloop.Loop, task func()) {
	t.Helper()
	require.NoError(t, l.Submit(task))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Run(ctx))
}

func hello(ctx context.Context, in greeting) (string, error) {
	if _, ok := invoke.FromContext(ctx); !ok {
		return "", errors.New("no invocation in context")
	}
	if in.Name == "" {
		return "", errors.New("nobody to greet")
	}
	return "hello " + in.Name, nil
}

func TestFunc(t *testing.T) {
	l := eventloop.New()
	var (
		gotErr    any
		gotResult any
	)
	run(t, l, func() {
		fut, err := Func(hello)(json.RawMessage(`{"name":"moon"}`), newInvocation(t, l), func(err, result any) {
			gotErr, gotResult = err, result
		})
		require.NoError(t, err)
		assert.Nil(t, fut)
	})
	assert.Nil(t, gotErr)
	assert.Equal(t, "hello moon", gotResult)
}

func TestFuncError(t *testing.T) {
	l := eventloop.New()
	var gotErr any
	run(t, l, func() {
		_, err := Func(hello)(json.RawMessage(`{}`), newInvocation(t, l), func(err, _ any) { gotErr = err })
		require.NoError(t, err)
	})
	assert.EqualError(t, gotErr.(error), "nobody to greet")
}

func TestFuncMalformedEvent(t *testing.T) {
	l := eventloop.New()
	run(t, l, func() {
		_, err := Func(hello)(json.RawMessage(`[1,2]`), newInvocation(t, l), func(any, any) {
			t.Error("callback must not be called")
		})
		assert.Error(t, err)
	})
}

func TestAsyncFunc(t *testing.T) {
	l := eventloop.New()
	var fut *eventloop.Future
	run(t, l, func() {
		var err error
		fut, err = AsyncFunc(hello)(json.RawMessage(`{"name":"sun"}`), newInvocation(t, l), nil)
		require.NoError(t, err)
	})
	require.Equal(t, eventloop.Fulfilled, fut.State())
	assert.Equal(t, "hello sun", fut.Value())
}

func TestStreamFunc(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	payload := strings.Repeat("x", 64*1024)
	fn := StreamFunc(func(_ context.Context, in greeting, w io.Writer) error {
		if _, err := io.WriteString(w, in.Name+":"); err != nil {
			return err
		}
		_, err := io.Copy(w, strings.NewReader(payload))
		return err
	})

	l := eventloop.New()
	var (
		stream *streaming.ResponseStream
		fut    *eventloop.Future
	)
	run(t, l, func() {
		stream = streaming.Open(l, streaming.Options{URL: srv.URL, HighWaterMark: 512})
		fut = fn(json.RawMessage(`{"name":"comet"}`), stream, newInvocation(t, l))
	})

	require.Equal(t, eventloop.Fulfilled, fut.State())
	assert.True(t, stream.Finished())
	assert.Equal(t, "comet:"+payload, <-got)
}

func TestStreamFuncError(t *testing.T) {
	l := eventloop.New()
	var fut *eventloop.Future
	run(t, l, func() {
		stream := streaming.Open(l, streaming.Options{URL: "http://127.0.0.1:1"})
		fut = StreamFunc(func(context.Context, any, io.Writer) error {
			return errors.New("no signal")
		})(nil, stream, newInvocation(t, l))
		fut.Catch(func(error) (any, error) { return nil, nil })
	})
	assert.EqualError(t, fut.Err(), "no signal")
}
