package telemetry

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// Record is a rendered log entry on its way to a sink.
type Record struct {
	Level   Level
	Format  Format
	Time    time.Time
	Payload []byte
}

// Sink delivers rendered records.
type Sink interface {
	Write(rec Record) error
	Close() error
}

// LineSink writes one record per line. Embedded newlines become carriage
// returns so a record never spans two lines.
type LineSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineSink wraps w, typically os.Stdout.
func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{w: w}
}

func (s *LineSink) Write(rec Record) error {
	line := bytes.ReplaceAll(rec.Payload, []byte("\n"), []byte("\r"))
	line = append(line, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(line)
	return err
}

func (s *LineSink) Close() error { return nil }

// FrameSink writes each record as a single frame. Text payloads keep their
// newlines and gain a trailing one.
type FrameSink struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewFrameSink frames records onto w. If w is also an io.Closer, Close closes it.
func NewFrameSink(w io.Writer) *FrameSink {
	s := &FrameSink{w: w}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *FrameSink) Write(rec Record) error {
	payload := rec.Payload
	if rec.Format == FormatText {
		payload = append(append([]byte(nil), payload...), '\n')
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Encode(s.w, NewFrame(rec.Format, rec.Level, rec.Time, payload))
}

func (s *FrameSink) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}
