//go:build unix

package telemetry

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFD(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	fd, err := dupFD(int(w.Fd()))
	require.NoError(t, err)
	w.Close()

	sink, err := OpenFD(fd)
	require.NoError(t, err)
	c := NewConsole(sink, WithClock(func() time.Time { return frozen }))
	c.SetRequest("req", nil)
	c.Info("a line")
	require.NoError(t, c.Close())

	f, err := Decode(r)
	require.NoError(t, err)
	assert.Equal(t, "2023-09-25T12:00:00.000Z\treq\tINFO\ta line\n", string(f.Payload))
}

func TestOpenFDRejectsClosedDescriptor(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "telemetry")
	require.NoError(t, err)
	fd := int(f.Fd())
	f.Close()

	_, err = OpenFD(fd)
	assert.Error(t, err)
	_, err = OpenFD(-1)
	assert.Error(t, err)
}
