package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oriys/nova-ric/internal/logging"
	"github.com/oriys/nova-ric/internal/metrics"
	"github.com/oriys/nova-ric/internal/rterror"
)

// TimeLayout is the record timestamp layout (ISO 8601, UTC, milliseconds).
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Console is the function-facing logger. It stamps every record with the
// current request id and renders it in the configured format.
type Console struct {
	sink     Sink
	format   Format
	minLevel Level
	now      func() time.Time

	mu        sync.RWMutex
	requestID string
	tenantID  *string
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithFormat selects text or JSON rendering.
func WithFormat(f Format) ConsoleOption {
	return func(c *Console) { c.format = f }
}

// WithMinLevel drops JSON records below l. Text records are never filtered.
func WithMinLevel(l Level) ConsoleOption {
	return func(c *Console) { c.minLevel = l }
}

// WithClock overrides the record clock.
func WithClock(now func() time.Time) ConsoleOption {
	return func(c *Console) { c.now = now }
}

// NewConsole creates a console writing to sink.
func NewConsole(sink Sink, opts ...ConsoleOption) *Console {
	c := &Console{sink: sink, minLevel: LevelTrace, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Format returns the rendering format.
func (c *Console) Format() Format {
	return c.format
}

// SetRequest sets the request and tenant id stamped on subsequent records.
func (c *Console) SetRequest(requestID string, tenantID *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestID = requestID
	c.tenantID = tenantID
}

// RequestID returns the id currently stamped on records.
func (c *Console) RequestID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requestID
}

func (c *Console) Trace(args ...any) { c.Log(LevelTrace, args...) }
func (c *Console) Debug(args ...any) { c.Log(LevelDebug, args...) }
func (c *Console) Info(args ...any)  { c.Log(LevelInfo, args...) }
func (c *Console) Warn(args ...any)  { c.Log(LevelWarn, args...) }
func (c *Console) Error(args ...any) { c.Log(LevelError, args...) }
func (c *Console) Fatal(args ...any) { c.Log(LevelFatal, args...) }

// Printf logs a formatted message at INFO.
func (c *Console) Printf(format string, args ...any) {
	c.Log(LevelInfo, fmt.Sprintf(format, args...))
}

// Log renders args at level. The first error among args is promoted into
// errorType, errorMessage and stackTrace in JSON records.
func (c *Console) Log(level Level, args ...any) {
	if c.format == FormatJSON && level.Priority() < c.minLevel.Priority() {
		return
	}
	ts := c.now().UTC()
	c.mu.RLock()
	requestID, tenantID := c.requestID, c.tenantID
	c.mu.RUnlock()

	var payload []byte
	if c.format == FormatJSON {
		payload = renderJSON(ts, level, requestID, tenantID, args)
	} else {
		payload = []byte(strings.Join([]string{ts.Format(TimeLayout), requestID, level.String(), formatArgs(args)}, "\t"))
	}
	if err := c.sink.Write(Record{Level: level, Format: c.format, Time: ts, Payload: payload}); err != nil {
		logging.Op().Warn("telemetry: write failed", "error", err)
		return
	}
	metrics.RecordLogRecord(level.String())
}

// LogError logs msg with err at ERROR. Text records carry the formatted
// error as an extra tab-separated field.
func (c *Console) LogError(msg string, err any) {
	if c.format == FormatJSON {
		c.Log(LevelError, msg, asError(err))
		return
	}
	c.Log(LevelError, msg, rterror.Formatted(err))
}

// Close closes the sink.
func (c *Console) Close() error {
	return c.sink.Close()
}

func asError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	resp := rterror.ToResponse(v)
	return rterror.New(resp.ErrorType, resp.ErrorMessage)
}

func formatArgs(args []any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, formatArg(a))
	}
	return strings.Join(parts, " ")
}

func formatArg(a any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("%T", a)
		}
	}()
	switch v := a.(type) {
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	}
	if b, err := json.Marshal(a); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%+v", a)
}

func renderJSON(ts time.Time, level Level, requestID string, tenantID *string, args []any) []byte {
	rec := map[string]any{
		"timestamp": ts.Format(TimeLayout),
		"level":     level.String(),
		"message":   formatArgs(args),
	}
	if requestID != "" {
		rec["requestId"] = requestID
	}
	if tenantID != nil {
		rec["tenantId"] = *tenantID
	}
	for _, a := range args {
		if err, ok := a.(error); ok {
			promoteError(rec, err)
			break
		}
	}
	if b, err := json.Marshal(rec); err == nil {
		return b
	}
	// Extra error fields are the only values that can fail to encode.
	for k := range rec {
		switch k {
		case "timestamp", "level", "message", "requestId", "tenantId", "errorType", "errorMessage", "stackTrace":
		default:
			delete(rec, k)
		}
	}
	if b, err := json.Marshal(rec); err == nil {
		return b
	}
	return []byte(fmt.Sprintf(`{"timestamp":%q,"level":%q,"message":%q}`, ts.Format(TimeLayout), level.String(), fmt.Sprint(rec["message"])))
}

func promoteError(rec map[string]any, err error) {
	errorType, errorMessage, stack := "UnknownError", "", []string{}
	func() {
		defer func() { _ = recover() }()
		resp := rterror.ToResponse(err)
		if resp.ErrorType != "" && resp.ErrorType != "handled" {
			errorType = resp.ErrorType
		}
		if resp.ErrorType != "handled" {
			errorMessage = resp.ErrorMessage
			if len(resp.Trace) > 0 {
				stack = resp.Trace
			}
		}
		for k, v := range resp.Extra {
			rec[k] = v
		}
	}()
	rec["errorType"] = errorType
	rec["errorMessage"] = errorMessage
	rec["stackTrace"] = stack
}

// Setup describes where function logs go.
type Setup struct {
	Format      Format
	MinLevel    Level
	TelemetryFD int // -1 when absent
	VsockCID    uint32
	VsockPort   uint32 // 0 disables the vsock channel
}

// Open builds the console for s: the inherited descriptor when supplied, else
// the vsock channel when configured, else stdout.
func Open(s Setup) (*Console, error) {
	var sink Sink
	switch {
	case s.TelemetryFD >= 0:
		fs, err := OpenFD(s.TelemetryFD)
		if err != nil {
			return nil, err
		}
		sink = fs
	case s.VsockPort != 0:
		vs, err := DialVsock(s.VsockCID, s.VsockPort)
		if err != nil {
			return nil, err
		}
		sink = vs
	default:
		sink = NewLineSink(os.Stdout)
	}
	return NewConsole(sink, WithFormat(s.Format), WithMinLevel(s.MinLevel)), nil
}
