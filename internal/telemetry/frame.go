// Package telemetry writes function logs, either as lines on stdout or as
// length-prefixed frames on the telemetry channel the platform hands over.
//
// A frame is a 16-byte header followed by a UTF-8 payload:
//
//	+-------------------+---------------------+------------------------+-----------------+
//	| type tag (4 B BE) | payload len (4 B BE) | timestamp µs (8 B BE) | payload (len B) |
//	+-------------------+---------------------+------------------------+-----------------+
//
// The type tag carries the payload format in its low two bits and the record
// level in bits 2-4, so readers can filter without parsing the payload.
package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// HeaderSize is the fixed frame header length.
	HeaderSize = 16

	// FrameTypeJSON tags a structured payload.
	FrameTypeJSON uint32 = 0xa55a0002
	// FrameTypeText tags a plain text payload.
	FrameTypeText uint32 = 0xa55a0003

	levelBits uint32 = 0b11100

	// MaxPayloadBytes bounds the payload Decode accepts. Writers are not
	// capped; the length field is the only limit on encode.
	MaxPayloadBytes = 64 << 20
)

// ErrFraming reports a frame whose header does not match its payload.
var ErrFraming = errors.New("telemetry: malformed frame")

// Frame is one telemetry record.
type Frame struct {
	Type      uint32
	Timestamp uint64
	Payload   []byte
}

// NewFrame builds a frame for a payload rendered in format at level.
func NewFrame(format Format, level Level, ts time.Time, payload []byte) Frame {
	base := FrameTypeText
	if format == FormatJSON {
		base = FrameTypeJSON
	}
	return Frame{
		Type:      base | level.Mask(),
		Timestamp: uint64(ts.UnixMicro()),
		Payload:   payload,
	}
}

// Level extracts the level folded into the type tag.
func (f Frame) Level() (Level, bool) {
	return levelFromMask(f.Type & levelBits)
}

// Format reports the payload format encoded in the type tag.
func (f Frame) Format() (Format, error) {
	switch f.Type &^ levelBits {
	case FrameTypeText:
		return FormatText, nil
	case FrameTypeJSON:
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("%w: unknown type tag %#08x", ErrFraming, f.Type)
	}
}

// Time returns the frame timestamp.
func (f Frame) Time() time.Time {
	return time.UnixMicro(int64(f.Timestamp))
}

// MarshalBinary returns header and payload as one buffer.
func (f Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], f.Type)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(f.Payload)))
	binary.BigEndian.PutUint64(buf[8:16], f.Timestamp)
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// Encode writes f to w in a single Write call.
func Encode(w io.Writer, f Frame) error {
	buf, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Decode reads one frame. A truncated payload or an oversized length is
// reported as ErrFraming; a clean end of stream before any header byte is io.EOF.
func Decode(r io.Reader) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: short header", ErrFraming)
		}
		return Frame{}, err
	}
	f := Frame{
		Type:      binary.BigEndian.Uint32(header[0:4]),
		Timestamp: binary.BigEndian.Uint64(header[8:16]),
	}
	if _, err := f.Format(); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(header[4:8])
	if n > MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: payload length %d exceeds limit", ErrFraming, n)
	}
	f.Payload = make([]byte, n)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, fmt.Errorf("%w: payload shorter than declared %d bytes", ErrFraming, n)
	}
	return f, nil
}
