package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	opLevel  = new(slog.LevelVar)
)

func init() {
	opLevel.Set(slog.LevelWarn)
	opLogger.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opLevel})))
}

// Op returns the operational logger for the runtime's own diagnostics.
// Function output never goes through it; see the telemetry package.
func Op() *slog.Logger {
	return opLogger.Load()
}

// OpFor tags the operational logger with an invocation's request id and,
// when tracing is on, its trace and span ids. Empty values are omitted.
func OpFor(requestID, traceID, spanID string) *slog.Logger {
	var args []any
	for _, kv := range [][2]string{{"request_id", requestID}, {"trace_id", traceID}, {"span_id", spanID}} {
		if kv[1] != "" {
			args = append(args, kv[0], kv[1])
		}
	}
	if len(args) == 0 {
		return Op()
	}
	return Op().With(args...)
}

// SetLevelFromString sets the operational level. Unknown values are ignored.
func SetLevelFromString(level string) {
	switch strings.ToLower(level) {
	case "trace", "debug":
		opLevel.Set(slog.LevelDebug)
	case "info":
		opLevel.Set(slog.LevelInfo)
	case "warn", "warning":
		opLevel.Set(slog.LevelWarn)
	case "error", "fatal":
		opLevel.Set(slog.LevelError)
	}
}

// InitStructured reconfigures the operational logger on stderr. format is
// "json" or "text".
func InitStructured(format, level string) {
	InitStructuredTo(os.Stderr, format, level)
}

// InitStructuredTo is InitStructured with an explicit destination.
func InitStructuredTo(w io.Writer, format, level string) {
	SetLevelFromString(level)
	opts := &slog.HandlerOptions{Level: opLevel}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	opLogger.Store(slog.New(h))
}
