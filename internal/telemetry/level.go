package telemetry

import (
	"fmt"
	"strings"
)

// Level is a function log severity.
type Level int

const (
	LevelTrace Level = iota + 1
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Priority orders levels for filtering; TRACE is 1, FATAL is 6.
func (l Level) Priority() int {
	return int(l)
}

// Mask is the level's bits in a frame type tag.
func (l Level) Mask() uint32 {
	if l < LevelTrace || l > LevelFatal {
		return 0
	}
	return uint32(l) << 2
}

// levelFromMask inverts Mask.
func levelFromMask(bits uint32) (Level, bool) {
	l := Level(bits >> 2)
	if l < LevelTrace || l > LevelFatal {
		return 0, false
	}
	return l, true
}

// ParseLevel accepts a level name in any case. An empty string yields
// LevelTrace, which lets everything through.
func ParseLevel(s string) (Level, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return LevelTrace, nil
	}
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Format selects how records are rendered.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "JSON"
	}
	return "TEXT"
}

// ParseFormat accepts "TEXT" or "JSON" in any case; empty means TEXT.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "TEXT":
		return FormatText, nil
	case "JSON":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format %q", s)
	}
}
