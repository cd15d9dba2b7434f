// Package streaming implements the response channel of streaming
// invocations: a chunked HTTP POST whose body is written incrementally by the
// handler and whose trailers carry the error of a failed invocation.
package streaming

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/oriys/nova-ric/internal/eventloop"
	"github.com/oriys/nova-ric/internal/logging"
	"github.com/oriys/nova-ric/internal/metrics"
	"github.com/oriys/nova-ric/internal/rterror"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Wire constants of the streaming response protocol.
const (
	HeaderResponseMode    = "Lambda-Runtime-Function-Response-Mode"
	ResponseModeStreaming = "streaming"
	TrailerErrorType      = "Lambda-Runtime-Function-Error-Type"
	TrailerErrorBody      = "Lambda-Runtime-Function-Error-Body"
	DefaultContentType    = "application/octet-stream"

	// DefaultHighWaterMark is the buffered byte count at which Write starts
	// asking callers to wait for a drain.
	DefaultHighWaterMark = 16 * 1024
)

// Status is the lifecycle state of a ResponseStream.
type Status int

const (
	StatusReady Status = iota
	StatusStreaming
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusStreaming:
		return "streaming"
	case StatusFinished:
		return "finished"
	default:
		return "ready"
	}
}

// Errors returned by stream operations.
var (
	ErrWriteAfterEnd = errors.New("streaming: write after end")
	ErrDestroyed     = errors.New("streaming: stream destroyed")
)

// Fixed messages of the invalid-operation errors.
const (
	msgContentTypeTooLate = "Cannot set content-type, too late."
	msgFailAfterEnd       = "Cannot fail a response stream that has already ended."
	msgAlreadyFailed      = "Response stream has already been failed."
	msgAlreadyEnded       = "Response stream has already ended."
)

// InvalidOperation returns a Runtime.InvalidStreamingOperation error.
func InvalidOperation(msg string) *rterror.Error {
	return rterror.New(rterror.TypeInvalidStreamingOperation, msg)
}

// Doer sends HTTP requests; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a ResponseStream.
type Options struct {
	Client        Doer
	URL           string
	Header        http.Header
	ContentType   string
	HighWaterMark int
}

// HeadersInfo is the control plane's answer to the streaming request line.
type HeadersInfo struct {
	StatusCode int
	Status     string
	Header     http.Header
}

// Response is the control plane's full answer, available once the request
// body has been flushed.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Writer is the write-only surface handed to streaming handlers.
type Writer interface {
	// Write queues chunk. Strings and byte slices are written as is, other
	// values are JSON-encoded. The boolean is false once the buffered bytes
	// reach the high-water mark; callers should then wait for OnDrain.
	Write(chunk any) (bool, error)
	// End finishes the body. cb runs once everything was flushed, or with
	// the error that prevented it.
	End(cb func(error)) error
	SetContentType(contentType string) error
	SetBeforeFirstWrite(fn func(write func([]byte) bool))
	Destroy(err error)

	OnDrain(fn func())
	OnFinish(fn func())
	OnError(fn func(error))

	Finished() bool
	Ended() bool
	Destroyed() bool
	NeedDrain() bool
	HighWaterMark() int
	Length() int
}

// ResponseStream is one streaming response. Writer methods are meant to be
// called from the loop goroutine; events are delivered there too.
type ResponseStream struct {
	loop   *eventloop.Loop
	client Doer
	url    string
	header http.Header
	hwm    int

	mu               sync.Mutex
	cond             *sync.Cond
	status           Status
	contentType      string
	chunks           [][]byte
	buffered         int
	started          bool
	ended            bool
	failed           bool
	finished         bool
	destroyed        bool
	destroyErr       error
	needDrain        bool
	errType          string
	errBody          string
	reqTrailer       http.Header // owned by the transport once the request starts
	beforeFirstWrite func(write func([]byte) bool)

	onDrain      []func()
	onFinish     []func()
	onError      []func(error)
	endCallbacks []func(error)

	headersDone     *eventloop.Future
	resolveHeaders  func(any)
	rejectHeaders   func(error)
	responseDone    *eventloop.Future
	resolveResponse func(any)
	rejectResponse  func(error)
}

var _ Writer = (*ResponseStream)(nil)

// Open prepares a streaming response. Nothing is sent until the first Write
// or End.
func Open(loop *eventloop.Loop, opts Options) *ResponseStream {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.ContentType == "" {
		opts.ContentType = DefaultContentType
	}
	if opts.HighWaterMark <= 0 {
		opts.HighWaterMark = DefaultHighWaterMark
	}
	s := &ResponseStream{
		loop:        loop,
		client:      opts.Client,
		url:         opts.URL,
		header:      opts.Header.Clone(),
		hwm:         opts.HighWaterMark,
		contentType: opts.ContentType,
	}
	s.cond = sync.NewCond(&s.mu)
	s.headersDone, s.resolveHeaders, s.rejectHeaders = loop.NewFuture()
	s.responseDone, s.resolveResponse, s.rejectResponse = loop.NewFuture()
	// Nobody is required to observe the headers.
	s.headersDone.Catch(func(error) (any, error) { return nil, nil })
	return s
}

// HeadersDone settles with *HeadersInfo when the control plane answers.
func (s *ResponseStream) HeadersDone() *eventloop.Future {
	return s.headersDone
}

// ResponseDone settles with *Response once the round trip is complete.
func (s *ResponseStream) ResponseDone() *eventloop.Future {
	return s.responseDone
}

// Status reports the lifecycle state.
func (s *ResponseStream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ContentType returns the content type that is, or will be, sent.
func (s *ResponseStream) ContentType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentType
}

// SetContentType changes the content type. It fails once anything was written.
func (s *ResponseStream) SetContentType(contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusReady {
		return InvalidOperation(msgContentTypeTooLate)
	}
	s.contentType = contentType
	return nil
}

// SetBeforeFirstWrite installs a hook that runs once, right before the first
// written chunk, with a function that writes ahead of it.
func (s *ResponseStream) SetBeforeFirstWrite(fn func(write func([]byte) bool)) {
	s.mu.Lock()
	s.beforeFirstWrite = fn
	s.mu.Unlock()
}

func (s *ResponseStream) Write(chunk any) (bool, error) {
	data, err := encodeChunk(chunk)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	var hook func(write func([]byte) bool)
	if s.status == StatusReady {
		hook = s.beforeFirstWrite
		s.beforeFirstWrite = nil
	}
	s.mu.Unlock()

	if hook != nil {
		hook(func(b []byte) bool { return s.push(b) })
	}
	return s.push(data), nil
}

func (s *ResponseStream) writableLocked() error {
	switch {
	case s.destroyed:
		return ErrDestroyed
	case s.ended:
		return ErrWriteAfterEnd
	}
	return nil
}

func (s *ResponseStream) push(b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || s.ended {
		return false
	}
	if len(b) > 0 {
		s.chunks = append(s.chunks, append([]byte(nil), b...))
		s.buffered += len(b)
		metrics.AddStreamedBytes(len(b))
	}
	s.status = StatusStreaming
	if !s.started {
		s.startLocked()
	}
	s.cond.Broadcast()
	ok := s.buffered < s.hwm
	if !ok {
		s.needDrain = true
	}
	return ok
}

// End finishes the body. Calling it twice is an error.
func (s *ResponseStream) End(cb func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	if s.ended {
		return InvalidOperation(msgAlreadyEnded)
	}
	s.endLocked(cb)
	return nil
}

func (s *ResponseStream) endLocked(cb func(error)) {
	s.ended = true
	s.status = StatusFinished
	if cb != nil {
		s.endCallbacks = append(s.endCallbacks, cb)
	}
	if !s.started {
		s.startLocked()
	}
	s.cond.Broadcast()
}

// Fail ends the stream with err carried in the trailers. It may be called
// once, and not after End.
func (s *ResponseStream) Fail(err any, cb func(error)) error {
	resp := rterror.ToResponse(err)
	body, merr := json.Marshal(resp)
	if merr != nil {
		resp = rterror.Handled()
		body, _ = json.Marshal(resp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.failed:
		return InvalidOperation(msgAlreadyFailed)
	case s.ended:
		return InvalidOperation(msgFailAfterEnd)
	case s.destroyed:
		return ErrDestroyed
	}
	s.failed = true
	s.errType = resp.ErrorType
	s.errBody = base64.StdEncoding.EncodeToString(body)
	s.endLocked(cb)
	return nil
}

// Destroy aborts the stream. Pending writes are discarded; a non-nil err is
// delivered to OnError listeners.
func (s *ResponseStream) Destroy(err error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.destroyErr = err
	if s.destroyErr == nil {
		s.destroyErr = ErrDestroyed
	}
	started := s.started
	s.chunks = nil
	s.buffered = 0
	s.cond.Broadcast()
	s.mu.Unlock()

	if err != nil {
		s.emitError(err)
	}
	if !started {
		s.rejectHeaders(s.destroyErr)
		s.rejectResponse(s.destroyErr)
	}
}

func (s *ResponseStream) OnDrain(fn func()) {
	s.mu.Lock()
	s.onDrain = append(s.onDrain, fn)
	s.mu.Unlock()
}

func (s *ResponseStream) OnFinish(fn func()) {
	s.mu.Lock()
	s.onFinish = append(s.onFinish, fn)
	s.mu.Unlock()
}

func (s *ResponseStream) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = append(s.onError, fn)
	s.mu.Unlock()
}

// Finished reports whether the whole body, trailers included, was handed to
// the transport.
func (s *ResponseStream) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *ResponseStream) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *ResponseStream) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

func (s *ResponseStream) NeedDrain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needDrain
}

func (s *ResponseStream) HighWaterMark() int {
	return s.hwm
}

// Length is the number of bytes written but not yet taken by the transport.
func (s *ResponseStream) Length() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered
}

func (s *ResponseStream) startLocked() {
	s.started = true

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, s.url, &body{s: s})
	if err != nil {
		s.destroyed = true
		s.destroyErr = err
		_ = s.loop.Submit(func() {
			s.rejectHeaders(err)
			s.rejectResponse(err)
		})
		return
	}
	for k, vs := range s.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set(HeaderResponseMode, ResponseModeStreaming)
	req.Header.Set("Content-Type", s.contentType)
	req.ContentLength = -1
	// Keys are declared up front; values are filled in by the body reader
	// right before EOF, the point net/http reads them.
	s.reqTrailer = http.Header{
		TrailerErrorType: nil,
		TrailerErrorBody: nil,
	}
	req.Trailer = s.reqTrailer

	release := s.loop.Hold()
	go s.roundTrip(req, release)
}

func (s *ResponseStream) roundTrip(req *http.Request, release eventloop.Release) {
	resp, err := s.client.Do(req)
	if err != nil {
		s.abort(err)
		release(func() {
			s.rejectHeaders(err)
			s.rejectResponse(err)
		})
		return
	}
	defer resp.Body.Close()

	info := &HeadersInfo{StatusCode: resp.StatusCode, Status: resp.Status, Header: resp.Header.Clone()}
	_ = s.loop.Submit(func() { s.resolveHeaders(info) })

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		s.abort(err)
		release(func() { s.rejectResponse(err) })
		return
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		logging.Op().Warn("streaming response rejected", "url", s.url, "status", resp.StatusCode, "body", string(payload))
	}
	release(func() {
		s.resolveResponse(&Response{StatusCode: resp.StatusCode, Header: info.Header, Body: payload})
	})
}

// abort marks a stream whose transport failed and unblocks the body reader.
func (s *ResponseStream) abort(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	wasDestroyed := s.destroyed
	s.destroyed = true
	if s.destroyErr == nil {
		s.destroyErr = err
	}
	callbacks := s.endCallbacks
	s.endCallbacks = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	if !wasDestroyed {
		s.emitError(err)
	}
	_ = s.loop.Submit(func() {
		for _, cb := range callbacks {
			cb(err)
		}
	})
}

func (s *ResponseStream) emitError(err error) {
	s.mu.Lock()
	listeners := append([]func(error){}, s.onError...)
	s.mu.Unlock()
	if len(listeners) == 0 {
		return
	}
	_ = s.loop.Submit(func() {
		for _, fn := range listeners {
			fn(err)
		}
	})
}

// body is the request body the transport pulls from.
type body struct {
	s *ResponseStream
}

func (b *body) Read(p []byte) (int, error) {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.chunks) == 0 && !s.ended && !s.destroyed {
		s.cond.Wait()
	}
	if s.destroyed {
		return 0, s.destroyErr
	}
	if len(s.chunks) == 0 {
		if s.failed {
			s.reqTrailer.Set(TrailerErrorType, s.errType)
			s.reqTrailer.Set(TrailerErrorBody, s.errBody)
		}
		s.finishLocked()
		return 0, io.EOF
	}

	n := copy(p, s.chunks[0])
	if n == len(s.chunks[0]) {
		s.chunks[0] = nil
		s.chunks = s.chunks[1:]
	} else {
		s.chunks[0] = s.chunks[0][n:]
	}
	s.buffered -= n
	if s.needDrain && s.buffered == 0 {
		s.needDrain = false
		listeners := append([]func(){}, s.onDrain...)
		_ = s.loop.Submit(func() {
			for _, fn := range listeners {
				fn()
			}
		})
	}
	return n, nil
}

func (b *body) Close() error {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished && !s.destroyed {
		s.destroyed = true
		s.destroyErr = fmt.Errorf("streaming: request body closed before end: %w", ErrDestroyed)
		s.cond.Broadcast()
	}
	return nil
}

func (s *ResponseStream) finishLocked() {
	if s.finished {
		return
	}
	s.finished = true
	finish := append([]func(){}, s.onFinish...)
	callbacks := s.endCallbacks
	s.endCallbacks = nil
	_ = s.loop.Submit(func() {
		for _, fn := range finish {
			fn()
		}
		for _, cb := range callbacks {
			cb(nil)
		}
	})
}

func encodeChunk(chunk any) ([]byte, error) {
	switch v := chunk.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	b, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("streaming: encode chunk: %w", err)
	}
	return b, nil
}
