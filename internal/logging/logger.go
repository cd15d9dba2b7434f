package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// InvocationRecord summarizes one handled invocation.
type InvocationRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	Handler    string    `json:"handler"`
	Mode       string    `json:"mode"`
	DurationMs int64     `json:"duration_ms"`
	ColdStart  bool      `json:"cold_start"`
	Success    bool      `json:"success"`
	ErrorType  string    `json:"error_type,omitempty"`
	InputSize  int       `json:"input_size"`
}

// Recorder writes invocation records as JSON lines and, optionally, a
// one-line summary to the console. A forward function receives every record
// as well.
type Recorder struct {
	mu      sync.Mutex
	enabled bool
	out     io.WriteCloser
	console io.Writer
	forward func(*InvocationRecord)
	now     func() time.Time
}

var defaultRecorder = &Recorder{now: time.Now}

// Default returns the process-wide recorder. It is disabled until an output
// or console is set.
func Default() *Recorder {
	return defaultRecorder
}

// NewRecorder returns a disabled recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// SetOutput appends records to the file at path.
func (r *Recorder) SetOutput(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	r.SetWriter(f)
	return nil
}

// SetWriter appends records to w.
func (r *Recorder) SetWriter(w io.WriteCloser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out != nil {
		r.out.Close()
	}
	r.out = w
	r.refresh()
}

// SetConsole enables the console summary on w; nil disables it.
func (r *Recorder) SetConsole(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.console = w
	r.refresh()
}

// SetForward passes every record to fn; nil stops forwarding. fn must not
// block.
func (r *Recorder) SetForward(fn func(*InvocationRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forward = fn
	r.refresh()
}

func (r *Recorder) refresh() {
	r.enabled = r.out != nil || r.console != nil || r.forward != nil
}

// Enabled reports whether records go anywhere.
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Record writes rec.
func (r *Recorder) Record(rec *InvocationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}

	if r.console != nil {
		status := "ok"
		if !rec.Success {
			status = "err"
		}
		cold := ""
		if rec.ColdStart {
			cold = " [cold]"
		}
		fmt.Fprintf(r.console, "[invoke] %s %s %s %s %dms%s\n",
			status, rec.RequestID, rec.Handler, rec.Mode, rec.DurationMs, cold)
		if rec.ErrorType != "" {
			fmt.Fprintf(r.console, "[invoke]   error: %s\n", rec.ErrorType)
		}
	}

	if r.forward != nil {
		r.forward(rec)
	}

	if r.out != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			Op().Warn("encode invocation record", "error", err)
			return
		}
		if _, err := r.out.Write(append(data, '\n')); err != nil {
			Op().Warn("write invocation record", "error", err)
		}
	}
}

// Close closes the record output.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out != nil {
		r.out.Close()
		r.out = nil
	}
	r.refresh()
}
