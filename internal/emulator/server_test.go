package emulator

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/nova-ric/internal/client"
	"github.com/oriys/nova-ric/internal/eventloop"
	"github.com/oriys/nova-ric/internal/invoke"
	"github.com/oriys/nova-ric/internal/rterror"
	"github.com/oriys/nova-ric/internal/streaming"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server, *client.Client) {
	t.Helper()
	s := New(opts)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv, client.New(strings.TrimPrefix(srv.URL, "http://"))
}

type invokeOutcome struct {
	res *Result
	err error
}

func invokeAsync(s *Server, req Request) <-chan invokeOutcome {
	out := make(chan invokeOutcome, 1)
	go func() {
		res, err := s.Invoke(context.Background(), req)
		out <- invokeOutcome{res: res, err: err}
	}()
	return out
}

func await(t *testing.T, ch <-chan invokeOutcome) invokeOutcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("invoke did not return")
		return invokeOutcome{}
	}
}

func TestInvokeRoundTrip(t *testing.T) {
	s, _, c := newTestServer(t, Options{FunctionName: "echo", Timeout: 2 * time.Second})
	tenant := "blue"
	out := invokeAsync(s, Request{Payload: []byte(`{"x":1}`), ClientContext: `{"custom":{"k":"v"}}`, TenantID: &tenant})

	inv, err := c.NextInvocation(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(inv.Body))
	assert.NotEmpty(t, inv.ID())
	assert.Equal(t, s.FunctionArn(), inv.Header.Get(invoke.HeaderFunctionArn))
	assert.Contains(t, inv.Header.Get(invoke.HeaderTraceID), "Root=1-")
	assert.NotEmpty(t, inv.Header.Get(invoke.HeaderDeadlineMs))
	assert.Equal(t, `{"custom":{"k":"v"}}`, inv.Header.Get(invoke.HeaderClientContext))
	assert.Equal(t, "blue", inv.Header.Get(invoke.HeaderTenantID))

	require.NoError(t, c.PostInvocationResponse(context.Background(), inv.ID(), map[string]int{"y": 2}))

	o := await(t, out)
	require.NoError(t, o.err)
	assert.Equal(t, inv.ID(), o.res.RequestID)
	assert.False(t, o.res.Failed())
	assert.JSONEq(t, `{"y":2}`, string(o.res.Payload))
}

func TestInvokeErrorResult(t *testing.T) {
	s, _, c := newTestServer(t, Options{})
	out := invokeAsync(s, Request{Payload: []byte(`{}`)})

	inv, err := c.NextInvocation(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.PostInvocationError(context.Background(), inv.ID(), rterror.New("Custom.Failure", "nope")))

	o := await(t, out)
	require.NoError(t, o.err)
	assert.True(t, o.res.Failed())
	assert.Equal(t, "Custom.Failure", o.res.ErrorType)
	assert.Contains(t, string(o.res.Payload), `"errorMessage":"nope"`)
}

func TestInitErrorFailsInvokers(t *testing.T) {
	s, _, c := newTestServer(t, Options{})
	out := invokeAsync(s, Request{Payload: []byte(`{}`)})

	require.NoError(t, c.PostInitError(context.Background(), rterror.New(rterror.TypeHandlerNotFound, "missing")))

	o := await(t, out)
	assert.ErrorIs(t, o.err, ErrInitError)
	res, ok := s.InitError()
	require.True(t, ok)
	assert.Equal(t, rterror.TypeHandlerNotFound, res.ErrorType)

	_, err := s.Invoke(context.Background(), Request{Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrInitError)
}

func TestUnknownRequestID(t *testing.T) {
	_, _, c := newTestServer(t, Options{})
	err := c.PostInvocationResponse(context.Background(), "does-not-exist", "x")
	var se *client.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestInvokeTimeout(t *testing.T) {
	s, _, _ := newTestServer(t, Options{Timeout: 10 * time.Millisecond})
	start := time.Now()
	_, err := s.Invoke(context.Background(), Request{Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestStreamedResponseWithErrorTrailer(t *testing.T) {
	s, _, c := newTestServer(t, Options{})
	out := invokeAsync(s, Request{Payload: []byte(`{}`)})

	inv, err := c.NextInvocation(context.Background())
	require.NoError(t, err)

	l := eventloop.New()
	require.NoError(t, l.Submit(func() {
		stream := c.StreamInvocationResponse(l, inv.ID(), streaming.Options{})
		_, _ = stream.Write("half a ")
		require.NoError(t, stream.Fail(rterror.New("Stream.Cut", "interrupted"), nil))
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Run(ctx))

	o := await(t, out)
	require.NoError(t, o.err)
	assert.True(t, o.res.Streamed)
	assert.True(t, o.res.Failed())
	assert.Equal(t, "Stream.Cut", o.res.ErrorType)
	assert.Contains(t, string(o.res.Payload), "interrupted")
}

func TestHTTPInvokeEndpoint(t *testing.T) {
	_, srv, c := newTestServer(t, Options{FunctionName: "greeter"})

	go func() {
		inv, err := c.NextInvocation(context.Background())
		if err != nil {
			return
		}
		_ = c.PostInvocationError(context.Background(), inv.ID(), rterror.New("Greeting.Refused", "no"))
	}()

	resp, err := http.Post(srv.URL+"/2015-03-31/functions/greeter/invocations", "application/json", strings.NewReader(`{"name":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Unhandled", resp.Header.Get(HeaderFunctionError))
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))
	assert.Contains(t, string(body), "Greeting.Refused")
}

func TestHTTPInvokeUnknownFunction(t *testing.T) {
	_, srv, _ := newTestServer(t, Options{FunctionName: "greeter"})
	resp, err := http.Post(srv.URL+"/2015-03-31/functions/other/invocations", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAsyncInvokeAndPoll(t *testing.T) {
	s, srv, c := newTestServer(t, Options{})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/2015-03-31/functions/function/invocations", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set(HeaderInvocationType, "Event")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := resp.Header.Get(HeaderRequestID)
	require.NotEmpty(t, id)

	inv, err := c.NextInvocation(context.Background())
	require.NoError(t, err)
	require.Equal(t, id, inv.ID())
	require.NoError(t, c.PostInvocationResponse(context.Background(), id, "done"))

	require.Eventually(t, func() bool {
		_, ok := s.Results().Get(id)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	poll, err := http.Get(srv.URL + "/results/" + id)
	require.NoError(t, err)
	defer poll.Body.Close()
	body, _ := io.ReadAll(poll.Body)
	assert.Equal(t, http.StatusOK, poll.StatusCode)
	assert.Contains(t, string(body), `"payload":"done"`)
	assert.Contains(t, string(body), `"status":"success"`)
}

func TestResultStoreExpiry(t *testing.T) {
	s := NewResultStore(time.Minute)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.Put(&Result{RequestID: "a", Status: StatusSuccess})
	_, ok := s.Get("a")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())

	s.Cleanup()
	assert.Equal(t, 0, s.Len())
}
