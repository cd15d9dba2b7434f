// Package client talks to the runtime control plane: it fetches invocations
// and posts their results over HTTP.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/oriys/nova-ric/internal/callback"
	"github.com/oriys/nova-ric/internal/eventloop"
	"github.com/oriys/nova-ric/internal/rterror"
	"github.com/oriys/nova-ric/internal/streaming"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	apiVersion = "/2018-06-01/runtime"

	HeaderErrorType   = "Lambda-Runtime-Function-Error-Type"
	HeaderXRayCause   = "Lambda-Runtime-Function-XRay-Error-Cause"
	contentTypeJSON   = "application/json"
	defaultAPIAddress = "127.0.0.1:9001"
)

// Version is reported in the User-Agent header.
var Version = "dev"

// Invocation is one event handed out by the control plane.
type Invocation struct {
	Header http.Header
	Body   []byte
}

// ID returns the request id header, or "".
func (inv *Invocation) ID() string {
	return inv.Header.Get("Lambda-Runtime-Aws-Request-Id")
}

// StatusError is a non-2xx answer from the control plane.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, strings.TrimSpace(e.Body))
}

// Client is a control-plane client. It is safe for concurrent use.
type Client struct {
	base      string
	http      *http.Client
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default keep-alive client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a client for the control plane at address (host:port, as found
// in AWS_LAMBDA_RUNTIME_API).
func New(address string, opts ...Option) *Client {
	if address == "" {
		address = defaultAPIAddress
	}
	c := &Client{
		base: "http://" + address + apiVersion,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{KeepAlive: 30 * time.Second}).DialContext,
				MaxConnsPerHost:     1,
				MaxIdleConnsPerHost: 1,
				IdleConnTimeout:     0,
			},
		},
		userAgent: fmt.Sprintf("aws-lambda-go/%s-pulsar/%s", runtime.Version(), Version),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NextInvocation blocks until the control plane hands out an event.
func (c *Client) NextInvocation(ctx context.Context) (*Invocation, error) {
	resp, err := c.do(ctx, http.MethodGet, "/invocation/next", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read next invocation: %w", err)
	}
	return &Invocation{Header: resp.Header, Body: body}, nil
}

// PostInvocationResponse reports a successful result. A nil response is sent
// as JSON null. A value that cannot be encoded yields an error wrapping
// callback.ErrUnserializableResponse and nothing is sent.
func (c *Client) PostInvocationResponse(ctx context.Context, id string, response any) error {
	body, err := serialize(response)
	if err != nil {
		return err
	}
	return c.post(ctx, invocationPath(id, "response"), body, nil)
}

// PostInvocationError reports a failed invocation.
func (c *Client) PostInvocationError(ctx context.Context, id string, errValue any) error {
	return c.postError(ctx, invocationPath(id, "error"), errValue)
}

// PostInitError reports a failure that happened before the first invocation.
func (c *Client) PostInitError(ctx context.Context, errValue any) error {
	return c.postError(ctx, "/init/error", errValue)
}

func (c *Client) postError(ctx context.Context, path string, errValue any) error {
	resp := rterror.ToResponse(errValue)
	body, err := serialize(resp)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set(HeaderErrorType, resp.ErrorType)
	if cause, err := rterror.XRayCause(errValue); err == nil && len(cause) < rterror.MaxXRayCauseBytes {
		header.Set(HeaderXRayCause, cause)
	}
	return c.post(ctx, path, body, header)
}

// StreamInvocationResponse opens the streaming response channel of id.
func (c *Client) StreamInvocationResponse(loop *eventloop.Loop, id string, opts streaming.Options) *streaming.ResponseStream {
	opts.Client = c.http
	opts.URL = c.base + invocationPath(id, "response")
	if opts.Header == nil {
		opts.Header = http.Header{}
	}
	opts.Header.Set("User-Agent", c.userAgent)
	return streaming.Open(loop, opts)
}

func (c *Client) post(ctx context.Context, path string, body []byte, header http.Header) error {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", contentTypeJSON)
	resp, err := c.do(ctx, http.MethodPost, path, body, header)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, header http.Header) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

func invocationPath(id, suffix string) string {
	return "/invocation/" + url.PathEscape(id) + "/" + suffix
}

func serialize(v any) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			body, err = nil, fmt.Errorf("%w: %v", callback.ErrUnserializableResponse, r)
		}
	}()
	body, err = json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", callback.ErrUnserializableResponse, err)
	}
	return body, nil
}
