package telemetry

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables read by FromEnv.
const (
	EnvLogFormat   = "AWS_LAMBDA_LOG_FORMAT"
	EnvLogLevel    = "AWS_LAMBDA_LOG_LEVEL"
	EnvTelemetryFD = "_LAMBDA_TELEMETRY_LOG_FD"
)

// FromEnv reads the log setup from the environment. The telemetry
// descriptor variable is removed so that child processes do not inherit it.
// Unknown formats and levels fall back to text and TRACE.
func FromEnv() (Setup, error) {
	s := Setup{TelemetryFD: -1}
	s.Format, _ = ParseFormat(os.Getenv(EnvLogFormat))
	if l, err := ParseLevel(os.Getenv(EnvLogLevel)); err == nil {
		s.MinLevel = l
	} else {
		s.MinLevel = LevelTrace
	}

	raw, ok := os.LookupEnv(EnvTelemetryFD)
	if !ok {
		return s, nil
	}
	os.Unsetenv(EnvTelemetryFD)
	fd, err := strconv.Atoi(raw)
	if err != nil || fd < 0 {
		return s, fmt.Errorf("telemetry: invalid %s %q", EnvTelemetryFD, raw)
	}
	s.TelemetryFD = fd
	return s, nil
}
