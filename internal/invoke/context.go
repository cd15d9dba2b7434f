// Package invoke assembles the per-invocation context handed to handlers
// from the control-plane response headers and the process environment.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-xray-sdk-go/header"
	jsoniter "github.com/json-iterator/go"

	"github.com/oriys/nova-ric/internal/eventloop"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Invocation response headers. http.Header lookups are case-insensitive.
const (
	HeaderRequestID       = "Lambda-Runtime-Aws-Request-Id"
	HeaderDeadlineMs      = "Lambda-Runtime-Deadline-Ms"
	HeaderTraceID         = "Lambda-Runtime-Trace-Id"
	HeaderFunctionArn     = "Lambda-Runtime-Invoked-Function-Arn"
	HeaderClientContext   = "Lambda-Runtime-Client-Context"
	HeaderCognitoIdentity = "Lambda-Runtime-Cognito-Identity"
	HeaderTenantID        = "Lambda-Runtime-Aws-Tenant-Id"
)

// TraceEnvVar receives the trace header of the current invocation.
const TraceEnvVar = "_X_AMZN_TRACE_ID"

// ErrMissingInvokeID is returned when the request id header is absent.
var ErrMissingInvokeID = errors.New("invocation id is missing or invalid")

// Callback is the node-style completion primitive: a non-nil err reports a
// failure, otherwise result is reported as the response.
type Callback func(err, result any)

// Completion is the part of a completion primitive every context exposes.
type Completion interface {
	CallbackWaitsForEmptyEventLoop() bool
	SetCallbackWaitsForEmptyEventLoop(bool)
}

// Completer is a Completion that can also report results.
type Completer interface {
	Completion
	Succeed(result any)
	Fail(err any)
	Done(err, result any)
}

// ClientApplication describes the calling mobile application.
type ClientApplication struct {
	InstallationID string `json:"installation_id"`
	AppTitle       string `json:"app_title"`
	AppVersionCode string `json:"app_version_code"`
	AppPackageName string `json:"app_package_name"`
}

// ClientContext is the decoded client-context header.
type ClientContext struct {
	Client ClientApplication `json:"client"`
	Env    map[string]string `json:"env"`
	Custom map[string]string `json:"custom"`
}

// CognitoIdentity is the decoded identity header.
type CognitoIdentity struct {
	CognitoIdentityID     string `json:"cognitoIdentityId"`
	CognitoIdentityPoolID string `json:"cognitoIdentityPoolId"`
}

// Context is the read-only view of one invocation.
type Context struct {
	AwsRequestID       string
	InvokedFunctionArn string
	TraceID            string
	// TenantID is nil when the header is absent; an empty string is a valid id.
	TenantID      *string
	ClientContext *ClientContext
	Identity      *CognitoIdentity

	FunctionName    string
	FunctionVersion string
	MemoryLimitInMB string
	LogGroupName    string
	LogStreamName   string

	env         Environment
	header      http.Header
	deadline    time.Time
	hasDeadline bool
	now         func() time.Time
	completion  Completion
	loop        *eventloop.Loop
}

// Option configures a Context.
type Option func(*Context)

// WithClock overrides the clock used for remaining-time reads.
func WithClock(now func() time.Time) Option {
	return func(c *Context) { c.now = now }
}

// WithLoop binds the loop the invocation runs on.
func WithLoop(l *eventloop.Loop) Option {
	return func(c *Context) { c.loop = l }
}

// New reads the invocation identity from h. Only the request id is
// validated here; the JSON headers are decoded by Attach.
func New(h http.Header, env Environment, opts ...Option) (*Context, error) {
	id := h.Get(HeaderRequestID)
	if id == "" {
		return nil, ErrMissingInvokeID
	}
	c := &Context{
		AwsRequestID:       id,
		InvokedFunctionArn: h.Get(HeaderFunctionArn),
		TraceID:            h.Get(HeaderTraceID),
		FunctionName:       env.FunctionName,
		FunctionVersion:    env.FunctionVersion,
		MemoryLimitInMB:    env.MemoryLimitInMB,
		LogGroupName:       env.LogGroupName,
		LogStreamName:      env.LogStreamName,
		env:                env,
		header:             h.Clone(),
		now:                time.Now,
	}
	if vals := h.Values(HeaderTenantID); len(vals) > 0 {
		tenant := vals[0]
		c.TenantID = &tenant
	}
	if ms, err := strconv.ParseInt(h.Get(HeaderDeadlineMs), 10, 64); err == nil {
		c.deadline = time.UnixMilli(ms)
		c.hasDeadline = true
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Attach binds the completion primitive, decodes the client-context and
// identity headers, and forwards the trace header into the environment.
// Malformed JSON in either header is an error.
func (c *Context) Attach(completion Completion) error {
	c.completion = completion
	c.ApplyTraceEnv()

	if raw := c.header.Get(HeaderClientContext); raw != "" {
		var cc ClientContext
		if err := json.Unmarshal([]byte(raw), &cc); err != nil {
			return fmt.Errorf("Cannot parse ClientContext as json: %w", err)
		}
		c.ClientContext = &cc
	}
	if raw := c.header.Get(HeaderCognitoIdentity); raw != "" {
		var id CognitoIdentity
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			return fmt.Errorf("Cannot parse CognitoIdentity as json: %w", err)
		}
		c.Identity = &id
	}
	return nil
}

// Loop returns the loop the invocation runs on, or nil.
func (c *Context) Loop() *eventloop.Loop {
	return c.loop
}

// ApplyTraceEnv exports the trace header, or clears a stale one.
func (c *Context) ApplyTraceEnv() {
	if c.TraceID != "" {
		os.Setenv(TraceEnvVar, c.TraceID)
		return
	}
	os.Unsetenv(TraceEnvVar)
}

// Header returns a copy of the raw invocation headers.
func (c *Context) Header() http.Header {
	return c.header.Clone()
}

// Deadline returns the invocation deadline, if the control plane sent one.
func (c *Context) Deadline() (time.Time, bool) {
	return c.deadline, c.hasDeadline
}

// RemainingTimeInMillis is the deadline minus now, or NaN without a deadline.
func (c *Context) RemainingTimeInMillis() float64 {
	if !c.hasDeadline {
		return math.NaN()
	}
	return float64(c.deadline.Sub(c.now()).Milliseconds())
}

// TraceHeader parses the trace id header.
func (c *Context) TraceHeader() *header.Header {
	return header.FromString(c.TraceID)
}

// CallbackWaitsForEmptyEventLoop reports whether a success waits for the loop
// to drain before it is sent.
func (c *Context) CallbackWaitsForEmptyEventLoop() bool {
	if c.completion == nil {
		return true
	}
	return c.completion.CallbackWaitsForEmptyEventLoop()
}

// SetCallbackWaitsForEmptyEventLoop changes the drain behavior for this invocation.
func (c *Context) SetCallbackWaitsForEmptyEventLoop(wait bool) {
	if c.completion != nil {
		c.completion.SetCallbackWaitsForEmptyEventLoop(wait)
	}
}

// Succeed reports result. It reports false on contexts without a buffered
// completion primitive, such as streaming invocations.
func (c *Context) Succeed(result any) bool {
	if cp, ok := c.completion.(Completer); ok {
		cp.Succeed(result)
		return true
	}
	return false
}

// Fail reports err; a nil err is reported as "handled".
func (c *Context) Fail(err any) bool {
	if cp, ok := c.completion.(Completer); ok {
		cp.Fail(err)
		return true
	}
	return false
}

// Done reports err when non-nil, result otherwise.
func (c *Context) Done(err, result any) bool {
	if cp, ok := c.completion.(Completer); ok {
		cp.Done(err, result)
		return true
	}
	return false
}

type contextKey struct{}

// NewGoContext derives a context.Context that carries c and expires at the
// invocation deadline.
func NewGoContext(parent context.Context, c *Context) (context.Context, context.CancelFunc) {
	ctx := context.WithValue(parent, contextKey{}, c)
	if c.hasDeadline {
		return context.WithDeadline(ctx, c.deadline)
	}
	return context.WithCancel(ctx)
}

// FromContext returns the invocation context stored by NewGoContext.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(contextKey{}).(*Context)
	return c, ok
}
