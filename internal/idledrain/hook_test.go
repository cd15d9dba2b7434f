package idledrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvokeWithoutListener(t *testing.T) {
	var h Hook
	assert.NotPanics(t, h.Invoke)
	assert.False(t, h.Armed())
}

func TestResetIsIdempotent(t *testing.T) {
	h := New()
	calls := 0
	h.Set(func() { calls++ })
	for i := 0; i < 5; i++ {
		h.Reset()
	}
	assert.NotPanics(t, h.Invoke)
	assert.Equal(t, 0, calls)
}

func TestSetReplacesListener(t *testing.T) {
	h := New()
	var got []string
	h.Set(func() { got = append(got, "first") })
	h.Set(func() { got = append(got, "second") })
	h.Invoke()
	h.Invoke()
	assert.Equal(t, []string{"second", "second"}, got)
}

func TestSetNilResets(t *testing.T) {
	h := New()
	h.Set(func() { t.Fatal("listener should have been cleared") })
	h.Set(nil)
	h.Invoke()
	assert.False(t, h.Armed())
}
