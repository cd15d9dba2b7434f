// Package emulator is a local stand-in for the runtime control plane. It
// queues invocations, hands them to a runtime polling /invocation/next and
// collects the responses, errors and streamed bodies the runtime posts.
package emulator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/oriys/nova-ric/internal/client"
	"github.com/oriys/nova-ric/internal/invoke"
	"github.com/oriys/nova-ric/internal/logging"
	"github.com/oriys/nova-ric/internal/observability"
	"github.com/oriys/nova-ric/internal/streaming"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	runtimePrefix = "/2018-06-01/runtime"
	invokePrefix  = "/2015-03-31/functions"

	// HeaderInvocationType selects "Event" for asynchronous invokes.
	HeaderInvocationType = "X-Amz-Invocation-Type"
	// HeaderFunctionError is set on invoke answers of failed invocations.
	HeaderFunctionError = "X-Amz-Function-Error"
	// HeaderRequestID carries the request id on invoke answers.
	HeaderRequestID = "X-Amz-Request-Id"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Errors returned by Invoke.
var (
	ErrTimeout   = errors.New("emulator: invocation timed out")
	ErrInitError = errors.New("emulator: runtime reported an init error")
)

// Result is the outcome the runtime posted for one invocation.
type Result struct {
	RequestID string        `json:"requestId"`
	Status    string        `json:"status"`
	Payload   []byte        `json:"-"`
	ErrorType string        `json:"errorType,omitempty"`
	Streamed  bool          `json:"streamed"`
	Duration  time.Duration `json:"durationNs"`
}

// Failed reports whether the runtime posted an error.
func (r *Result) Failed() bool {
	return r.Status == StatusError
}

// Request is one invocation to hand to the runtime.
type Request struct {
	Payload       []byte
	ClientContext string
	TenantID      *string
}

// Options configures a Server.
type Options struct {
	FunctionName string
	Region       string
	AccountID    string
	// Timeout bounds each invocation and sets its deadline header.
	Timeout time.Duration
	// ResultTTL is how long asynchronous results stay pollable.
	ResultTTL time.Duration
}

// Server is the emulated control plane.
type Server struct {
	opts    Options
	echo    *echo.Echo
	pending chan *invocation
	results *ResultStore

	mu       sync.Mutex
	inflight map[string]*invocation
	initErr  *Result
	initDone chan struct{}
}

type invocation struct {
	id       string
	req      Request
	deadline time.Time
	started  time.Time
	done     chan *Result
	once     sync.Once
}

func (inv *invocation) finish(r *Result) {
	inv.once.Do(func() {
		r.Duration = time.Since(inv.started)
		inv.done <- r
	})
}

// New creates a server with its routes registered.
func New(opts Options) *Server {
	if opts.FunctionName == "" {
		opts.FunctionName = "function"
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.AccountID == "" {
		opts.AccountID = "000000000000"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}

	s := &Server{
		opts:     opts,
		echo:     echo.New(),
		pending:  make(chan *invocation, 64),
		results:  NewResultStore(opts.ResultTTL),
		inflight: make(map[string]*invocation),
		initDone: make(chan struct{}),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(echo.WrapMiddleware(observability.HTTPMiddleware))

	rt := s.echo.Group(runtimePrefix)
	rt.GET("/invocation/next", s.next)
	rt.POST("/invocation/:id/response", s.response)
	rt.POST("/invocation/:id/error", s.invocationError)
	rt.POST("/init/error", s.initError)

	s.echo.POST(invokePrefix+"/:name/invocations", s.invokeHTTP)
	s.echo.GET("/results/:id", s.pollResult)
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Results returns the store of asynchronous results.
func (s *Server) Results() *ResultStore {
	return s.results
}

// FunctionArn is the arn sent with every invocation.
func (s *Server) FunctionArn() string {
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", s.opts.Region, s.opts.AccountID, s.opts.FunctionName)
}

// Start listens on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.results.RunCleanup(ctx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()
	logging.Op().Info("emulator listening", "addr", addr, "function", s.opts.FunctionName)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// Invoke queues req and waits for its result.
func (s *Server) Invoke(ctx context.Context, req Request) (*Result, error) {
	inv, err := s.enqueue(req)
	if err != nil {
		return nil, err
	}
	return s.wait(ctx, inv)
}

// InvokeAsync queues req and returns its request id. The result is stored
// once the runtime reports it.
func (s *Server) InvokeAsync(req Request) (string, error) {
	inv, err := s.enqueue(req)
	if err != nil {
		return "", err
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*s.opts.Timeout)
		defer cancel()
		if res, err := s.wait(ctx, inv); err == nil {
			s.results.Put(res)
		} else {
			logging.Op().Warn("async invocation not completed", "request_id", inv.id, "error", err)
		}
	}()
	return inv.id, nil
}

func (s *Server) enqueue(req Request) (*invocation, error) {
	if err := s.initFailure(); err != nil {
		return nil, err
	}
	now := time.Now()
	inv := &invocation{
		id:       uuid.NewString(),
		req:      req,
		started:  now,
		deadline: now.Add(s.opts.Timeout),
		done:     make(chan *Result, 1),
	}
	s.mu.Lock()
	s.inflight[inv.id] = inv
	s.mu.Unlock()

	select {
	case s.pending <- inv:
		return inv, nil
	default:
		s.forget(inv.id)
		return nil, errors.New("emulator: invocation queue is full")
	}
}

func (s *Server) wait(ctx context.Context, inv *invocation) (*Result, error) {
	timer := time.NewTimer(time.Until(inv.deadline) + time.Second)
	defer timer.Stop()

	select {
	case res := <-inv.done:
		return res, nil
	case <-s.initDone:
		s.forget(inv.id)
		return nil, ErrInitError
	case <-timer.C:
		s.forget(inv.id)
		return nil, ErrTimeout
	case <-ctx.Done():
		s.forget(inv.id)
		return nil, ctx.Err()
	}
}

func (s *Server) initFailure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initErr != nil {
		return ErrInitError
	}
	return nil
}

// InitError returns the init error the runtime posted, if any.
func (s *Server) InitError() (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initErr, s.initErr != nil
}

func (s *Server) lookup(id string) (*invocation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.inflight[id]
	return inv, ok
}

func (s *Server) forget(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func (s *Server) next(c echo.Context) error {
	var inv *invocation
	select {
	case inv = <-s.pending:
	case <-c.Request().Context().Done():
		return c.NoContent(http.StatusRequestTimeout)
	}
	if _, ok := s.lookup(inv.id); !ok {
		// The invoker gave up while the invocation was queued.
		return s.next(c)
	}

	h := c.Response().Header()
	h.Set(invoke.HeaderRequestID, inv.id)
	h.Set(invoke.HeaderDeadlineMs, strconv.FormatInt(inv.deadline.UnixMilli(), 10))
	h.Set(invoke.HeaderFunctionArn, s.FunctionArn())
	h.Set(invoke.HeaderTraceID, newTraceHeader(inv.started))
	if inv.req.ClientContext != "" {
		h.Set(invoke.HeaderClientContext, inv.req.ClientContext)
	}
	if inv.req.TenantID != nil {
		h.Set(invoke.HeaderTenantID, *inv.req.TenantID)
	}
	logging.OpFor(inv.id, "", "").Debug("invocation handed out")
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, inv.req.Payload)
}

func (s *Server) response(c echo.Context) error {
	inv, ok := s.lookup(c.Param("id"))
	if !ok {
		return unknownRequest(c)
	}
	req := c.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res := &Result{RequestID: inv.id, Status: StatusSuccess, Payload: body}
	if req.Header.Get(streaming.HeaderResponseMode) == streaming.ResponseModeStreaming {
		res.Streamed = true
		if typ := req.Trailer.Get(streaming.TrailerErrorType); typ != "" {
			res.Status = StatusError
			res.ErrorType = typ
			if raw, err := base64.StdEncoding.DecodeString(req.Trailer.Get(streaming.TrailerErrorBody)); err == nil {
				res.Payload = raw
			}
		}
	}
	s.forget(inv.id)
	inv.finish(res)
	return accepted(c)
}

func (s *Server) invocationError(c echo.Context) error {
	inv, ok := s.lookup(c.Param("id"))
	if !ok {
		return unknownRequest(c)
	}
	res, err := readErrorResult(c)
	if err != nil {
		return err
	}
	res.RequestID = inv.id
	s.forget(inv.id)
	inv.finish(res)
	return accepted(c)
}

func (s *Server) initError(c echo.Context) error {
	res, err := readErrorResult(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	first := s.initErr == nil
	if first {
		s.initErr = res
	}
	s.mu.Unlock()
	if first {
		close(s.initDone)
		logging.Op().Error("runtime init failed", "error_type", res.ErrorType)
	}
	return accepted(c)
}

func readErrorResult(c echo.Context) (*Result, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	typ := c.Request().Header.Get(client.HeaderErrorType)
	if typ == "" {
		var envelope struct {
			ErrorType string `json:"errorType"`
		}
		if json.Unmarshal(body, &envelope) == nil {
			typ = envelope.ErrorType
		}
	}
	return &Result{Status: StatusError, ErrorType: typ, Payload: body}, nil
}

func (s *Server) invokeHTTP(c echo.Context) error {
	if name := c.Param("name"); name != s.opts.FunctionName {
		return c.JSON(http.StatusNotFound, map[string]string{
			"Type":    "User",
			"message": "Function not found: " + name,
		})
	}
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	req := Request{
		Payload:       payload,
		ClientContext: decodeClientContext(c.Request().Header.Get("X-Amz-Client-Context")),
	}

	if strings.EqualFold(c.Request().Header.Get(HeaderInvocationType), "Event") {
		id, err := s.InvokeAsync(req)
		if err != nil {
			return invokeFailure(c, err)
		}
		c.Response().Header().Set(HeaderRequestID, id)
		return c.NoContent(http.StatusAccepted)
	}

	res, err := s.Invoke(c.Request().Context(), req)
	if err != nil {
		return invokeFailure(c, err)
	}
	c.Response().Header().Set(HeaderRequestID, res.RequestID)
	if res.Failed() {
		c.Response().Header().Set(HeaderFunctionError, "Unhandled")
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, res.Payload)
}

// resultView renders a JSON payload inline and anything else as a string.
type resultView struct {
	*Result
	Payload any `json:"payload,omitempty"`
}

func (s *Server) pollResult(c echo.Context) error {
	res, ok := s.results.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "result not found"})
	}
	view := resultView{Result: res}
	switch {
	case len(res.Payload) == 0:
	case jsoniter.Valid(res.Payload):
		view.Payload = jsoniter.RawMessage(res.Payload)
	default:
		view.Payload = string(res.Payload)
	}
	body, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, body)
}

func invokeFailure(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrTimeout):
		return c.JSON(http.StatusGatewayTimeout, map[string]string{"errorType": "Sandbox.Timedout", "errorMessage": err.Error()})
	case errors.Is(err, ErrInitError):
		return c.JSON(http.StatusBadGateway, map[string]string{"errorType": "Runtime.InitError", "errorMessage": err.Error()})
	default:
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"errorMessage": err.Error()})
	}
}

func unknownRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"errorType":    "InvalidRequestID",
		"errorMessage": "Invalid request ID",
	})
}

func accepted(c echo.Context) error {
	return c.JSON(http.StatusAccepted, map[string]string{"status": "OK"})
}

// decodeClientContext accepts the base64 form the invoke API uses.
func decodeClientContext(v string) string {
	if v == "" {
		return ""
	}
	if raw, err := base64.StdEncoding.DecodeString(v); err == nil {
		return string(raw)
	}
	return v
}

func newTraceHeader(t time.Time) string {
	root := strings.ReplaceAll(uuid.NewString(), "-", "")
	parent := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("Root=1-%08x-%s;Parent=%s;Sampled=1", t.Unix(), root[:24], parent[:16])
}
