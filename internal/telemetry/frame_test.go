package telemetry

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelMasks(t *testing.T) {
	want := map[Level]uint32{
		LevelTrace: 0b00100,
		LevelDebug: 0b01000,
		LevelInfo:  0b01100,
		LevelWarn:  0b10000,
		LevelError: 0b10100,
		LevelFatal: 0b11000,
	}
	for l, mask := range want {
		assert.Equal(t, mask, l.Mask(), l.String())
	}
	assert.Equal(t, uint32(0xa55a001b), NewFrame(FormatText, LevelFatal, time.Now(), nil).Type)
	assert.Equal(t, uint32(0xa55a000e), NewFrame(FormatJSON, LevelInfo, time.Now(), nil).Type)
}

func TestFrameLayout(t *testing.T) {
	ts := time.Date(2023, 9, 25, 12, 0, 0, 123456000, time.UTC)
	f := NewFrame(FormatText, LevelWarn, ts, []byte("héllo\n"))
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, f))

	raw := buf.Bytes()
	require.Len(t, raw, HeaderSize+len("héllo\n"))
	assert.Equal(t, FrameTypeText|LevelWarn.Mask(), binary.BigEndian.Uint32(raw[0:4]))
	assert.Equal(t, uint32(len("héllo\n")), binary.BigEndian.Uint32(raw[4:8]))
	assert.Equal(t, uint64(ts.UnixMicro()), binary.BigEndian.Uint64(raw[8:16]))
	assert.Equal(t, "héllo\n", string(raw[16:]))
}

func TestDecodeEncodeIsByteIdentical(t *testing.T) {
	var src bytes.Buffer
	now := time.Now()
	for i, l := range []Level{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal} {
		format := FormatText
		if i%2 == 1 {
			format = FormatJSON
		}
		require.NoError(t, Encode(&src, NewFrame(format, l, now, bytes.Repeat([]byte{'x'}, i*7))))
	}
	original := append([]byte(nil), src.Bytes()...)

	var out bytes.Buffer
	for {
		f, err := Decode(&src)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, len(f.Payload), int(binary.BigEndian.Uint32(original[out.Len()+4:])))
		require.NoError(t, Encode(&out, f))
	}
	assert.Equal(t, original, out.Bytes())
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	good, err := NewFrame(FormatJSON, LevelInfo, time.Now(), []byte(`{"a":1}`)).MarshalBinary()
	require.NoError(t, err)

	t.Run("short payload", func(t *testing.T) {
		_, err := Decode(bytes.NewReader(good[:len(good)-2]))
		assert.ErrorIs(t, err, ErrFraming)
	})
	t.Run("short header", func(t *testing.T) {
		_, err := Decode(bytes.NewReader(good[:10]))
		assert.ErrorIs(t, err, ErrFraming)
	})
	t.Run("unknown tag", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		binary.BigEndian.PutUint32(bad[0:4], 0xdeadbeef)
		_, err := Decode(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrFraming)
	})
	t.Run("oversized length", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		binary.BigEndian.PutUint32(bad[4:8], MaxPayloadBytes+1)
		_, err := Decode(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrFraming)
	})
	t.Run("empty stream", func(t *testing.T) {
		_, err := Decode(bytes.NewReader(nil))
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestFrameLevelAndFormat(t *testing.T) {
	f := NewFrame(FormatJSON, LevelError, time.Now(), nil)
	l, ok := f.Level()
	require.True(t, ok)
	assert.Equal(t, LevelError, l)
	format, err := f.Format()
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, format)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, l)

	l, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LevelTrace, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
