package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/nova-ric/internal/emulator"
)

func TestBuiltinHandlersResolve(t *testing.T) {
	reg := builtinRegistry()
	for _, d := range reg.Descriptors() {
		h, err := reg.Resolve("/var/task", d)
		require.NoError(t, err, d)
		assert.True(t, h.Buffered != nil || h.Streaming != nil, d)
	}
	h, err := reg.Resolve("/var/task", "index.stream")
	require.NoError(t, err)
	assert.True(t, h.IsStreaming())
}

func TestLoadConfigFlagsOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulsar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runtime:\n  handler: index.handler\n  api: 10.0.0.1:9001\n"), 0o644))

	t.Setenv("AWS_LAMBDA_RUNTIME_API", "")
	t.Setenv("_HANDLER", "")
	configPath, handlerArg, apiAddr, logLevel = path, "index.hello", "", "debug"
	t.Cleanup(func() { configPath, handlerArg, apiAddr, logLevel = "", "", "", "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "index.hello", cfg.Runtime.Handler)
	assert.Equal(t, "10.0.0.1:9001", cfg.Runtime.API)
	assert.Equal(t, "debug", cfg.Log.OpLevel)
}

func TestInvokeResult(t *testing.T) {
	res := &emulator.Result{
		RequestID: "r-1",
		Status:    emulator.StatusError,
		ErrorType: "Custom.Error",
		Payload:   []byte(`{"errorMessage":"x"}`),
		Duration:  1500 * time.Millisecond,
	}
	got := invokeResult(res)
	assert.False(t, got.Success)
	assert.Equal(t, "Custom.Error", got.ErrorType)
	assert.Equal(t, int64(1500), got.DurationMs)
	assert.Equal(t, `{"errorMessage":"x"}`, got.Output)
}

func TestHandlersCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := handlersCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-o", "json"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"descriptor": "index.stream"`)
	assert.Contains(t, out.String(), `"mode": "streaming"`)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "pulsar dev")
}

func TestRecordsCommandRequiresStore(t *testing.T) {
	t.Setenv("PULSAR_RECORDS_DSN", "")
	t.Setenv("PULSAR_RECORDS_REDIS", "")
	cmd := recordsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	assert.ErrorIs(t, cmd.Execute(), errNoRecordStore)
}
