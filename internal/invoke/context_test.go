package invoke

import (
	"context"
	"math"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompletion struct {
	waits     bool
	succeeded []any
}

func (s *stubCompletion) CallbackWaitsForEmptyEventLoop() bool     { return s.waits }
func (s *stubCompletion) SetCallbackWaitsForEmptyEventLoop(w bool) { s.waits = w }
func (s *stubCompletion) Succeed(result any)                       { s.succeeded = append(s.succeeded, result) }
func (s *stubCompletion) Fail(err any)                             {}
func (s *stubCompletion) Done(err, result any)                     {}

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

func TestMissingRequestID(t *testing.T) {
	_, err := New(http.Header{}, Environment{})
	assert.ErrorIs(t, err, ErrMissingInvokeID)
	assert.EqualError(t, err, "invocation id is missing or invalid")
}

func TestHeadersAreCaseInsensitive(t *testing.T) {
	h := headers(
		"lambda-runtime-aws-request-id", "req-1",
		"lambda-runtime-invoked-function-arn", "arn:aws:lambda:us-east-1:123:function:f",
		"LAMBDA-RUNTIME-TRACE-ID", "Root=1-5759e988-bd862e3fe1be46a994272793;Parent=53995c3f42cd8ad8;Sampled=1",
	)
	c, err := New(h, Environment{FunctionName: "f", MemoryLimitInMB: "128"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", c.AwsRequestID)
	assert.Equal(t, "arn:aws:lambda:us-east-1:123:function:f", c.InvokedFunctionArn)
	assert.Equal(t, "f", c.FunctionName)
	assert.Equal(t, "128", c.MemoryLimitInMB)
	assert.Equal(t, "1-5759e988-bd862e3fe1be46a994272793", c.TraceHeader().TraceID)
	assert.Equal(t, "53995c3f42cd8ad8", c.TraceHeader().ParentID)
}

func TestTenantID(t *testing.T) {
	c, err := New(headers(HeaderRequestID, "r"), Environment{})
	require.NoError(t, err)
	assert.Nil(t, c.TenantID)

	c, err = New(headers(HeaderRequestID, "r", "lambda-runtime-aws-tenant-id", ""), Environment{})
	require.NoError(t, err)
	require.NotNil(t, c.TenantID)
	assert.Equal(t, "", *c.TenantID)

	c, err = New(headers(HeaderRequestID, "r", HeaderTenantID, "blue"), Environment{})
	require.NoError(t, err)
	assert.Equal(t, "blue", *c.TenantID)
}

func TestRemainingTimeWithoutDeadline(t *testing.T) {
	c, err := New(headers(HeaderRequestID, "r"), Environment{})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(c.RemainingTimeInMillis()))
	_, ok := c.Deadline()
	assert.False(t, ok)
}

func TestRemainingTimeDecreases(t *testing.T) {
	now := time.Now()
	clock := now
	deadline := now.Add(1000 * time.Millisecond).UnixMilli()
	c, err := New(
		headers(HeaderRequestID, "r", HeaderDeadlineMs, strconv.FormatInt(deadline, 10)),
		Environment{},
		WithClock(func() time.Time { return clock }),
	)
	require.NoError(t, err)

	before := c.RemainingTimeInMillis()
	clock = clock.Add(100 * time.Millisecond)
	after := c.RemainingTimeInMillis()
	assert.GreaterOrEqual(t, before-after, float64(100))
	assert.InDelta(t, 900, after, 2)
}

func TestRemainingTimeRealClock(t *testing.T) {
	deadline := time.Now().Add(time.Second).UnixMilli()
	c, err := New(headers(HeaderRequestID, "r", HeaderDeadlineMs, strconv.FormatInt(deadline, 10)), Environment{})
	require.NoError(t, err)
	before := c.RemainingTimeInMillis()
	time.Sleep(100 * time.Millisecond)
	assert.GreaterOrEqual(t, before-c.RemainingTimeInMillis(), float64(99))
}

func TestAttachDecodesJSONHeaders(t *testing.T) {
	h := headers(
		HeaderRequestID, "r",
		HeaderClientContext, `{"client":{"app_title":"moon"},"custom":{"k":"v"}}`,
		HeaderCognitoIdentity, `{"cognitoIdentityId":"id","cognitoIdentityPoolId":"pool"}`,
	)
	c, err := New(h, Environment{})
	require.NoError(t, err)
	require.NoError(t, c.Attach(&stubCompletion{waits: true}))
	assert.Equal(t, "moon", c.ClientContext.Client.AppTitle)
	assert.Equal(t, "v", c.ClientContext.Custom["k"])
	assert.Equal(t, "pool", c.Identity.CognitoIdentityPoolID)
}

func TestAttachRejectsMalformedJSON(t *testing.T) {
	c, err := New(headers(HeaderRequestID, "r", HeaderClientContext, "{not json"), Environment{})
	require.NoError(t, err)
	err = c.Attach(&stubCompletion{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot parse ClientContext as json: ")

	c, err = New(headers(HeaderRequestID, "r", HeaderCognitoIdentity, "[1,"), Environment{})
	require.NoError(t, err)
	err = c.Attach(&stubCompletion{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot parse CognitoIdentity as json: ")
}

func TestAttachForwardsTrace(t *testing.T) {
	t.Setenv(TraceEnvVar, "stale")

	c, err := New(headers(HeaderRequestID, "r", HeaderTraceID, "Root=1-abc"), Environment{})
	require.NoError(t, err)
	require.NoError(t, c.Attach(&stubCompletion{}))
	assert.Equal(t, "Root=1-abc", os.Getenv(TraceEnvVar))

	c, err = New(headers(HeaderRequestID, "r2"), Environment{})
	require.NoError(t, err)
	require.NoError(t, c.Attach(&stubCompletion{}))
	_, set := os.LookupEnv(TraceEnvVar)
	assert.False(t, set)
}

func TestCompletionDelegation(t *testing.T) {
	c, err := New(headers(HeaderRequestID, "r"), Environment{})
	require.NoError(t, err)
	assert.True(t, c.CallbackWaitsForEmptyEventLoop())
	assert.False(t, c.Succeed("x"))

	stub := &stubCompletion{waits: true}
	require.NoError(t, c.Attach(stub))
	c.SetCallbackWaitsForEmptyEventLoop(false)
	assert.False(t, stub.waits)
	assert.True(t, c.Succeed("x"))
	assert.Equal(t, []any{"x"}, stub.succeeded)
}

func TestGoContextCarriesDeadline(t *testing.T) {
	deadline := time.Now().Add(time.Minute)
	c, err := New(headers(HeaderRequestID, "r", HeaderDeadlineMs, strconv.FormatInt(deadline.UnixMilli(), 10)), Environment{})
	require.NoError(t, err)

	ctx, cancel := NewGoContext(context.Background(), c)
	defer cancel()
	got, ok := ctx.Deadline()
	require.True(t, ok)
	assert.Equal(t, deadline.UnixMilli(), got.UnixMilli())
	back, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, c, back)
}

func TestAWSConfigUsesInjectedCredentials(t *testing.T) {
	c, err := New(headers(HeaderRequestID, "r"), Environment{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		SessionToken:    "token",
	})
	require.NoError(t, err)
	cfg, err := c.AWSConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)
	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
	assert.Equal(t, "token", creds.SessionToken)
}
