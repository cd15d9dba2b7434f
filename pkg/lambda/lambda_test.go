package lambda

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/nova-ric/internal/emulator"
)

func TestRegisterRejectsBadDescriptor(t *testing.T) {
	assert.Panics(t, func() { Register("nodot", Handler{}) })
	assert.Panics(t, func() { Register("index.", Handler{}) })
}

func TestStartWithContextServesInvocations(t *testing.T) {
	srv := emulator.New(emulator.Options{Timeout: 2 * time.Second})
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	t.Setenv("AWS_LAMBDA_RUNTIME_API", strings.TrimPrefix(hs.URL, "http://"))
	t.Setenv("_HANDLER", "upper.handler")
	Register("upper.handler", AsyncFunc(func(ctx context.Context, in string) (string, error) {
		if _, ok := FromContext(ctx); !ok {
			return "", NewError("Test.NoContext", "invocation context missing")
		}
		return strings.ToUpper(in), nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartWithContext(ctx) }()

	res, err := srv.Invoke(context.Background(), emulator.Request{Payload: []byte(`"quiet"`)})
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.Equal(t, `"QUIET"`, string(res.Payload))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}
}
