package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/nova-ric/internal/telemetry"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "pulsar.yaml", `
runtime:
  handler: index.handler
function:
  function_name: moon
log:
  format: JSON
  level: WARN
metrics:
  addr: ":9100"
emulator:
  timeout: 5s
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "index.handler", cfg.Runtime.Handler)
	assert.Equal(t, "127.0.0.1:9001", cfg.Runtime.API)
	assert.Equal(t, "moon", cfg.Function.FunctionName)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, "pulsar", cfg.Metrics.Namespace)
	assert.Equal(t, 5*time.Second, cfg.Emulator.Timeout)

	setup := cfg.TelemetrySetup()
	assert.Equal(t, telemetry.FormatJSON, setup.Format)
	assert.Equal(t, telemetry.LevelWarn, setup.MinLevel)
	assert.Equal(t, -1, setup.TelemetryFD)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "pulsar.json", `{"runtime":{"api":"10.0.0.1:9001","handler":"app.run"}}`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9001", cfg.Runtime.API)
	assert.Equal(t, "app.run", cfg.Runtime.Handler)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMalformed(t *testing.T) {
	_, err := LoadFromFile(writeFile(t, "bad.yml", "runtime: [\n"))
	assert.Error(t, err)
	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "127.0.0.1:9999")
	t.Setenv("_HANDLER", "lib/index.handler")
	t.Setenv("LAMBDA_TASK_ROOT", "/opt/app")
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "fn")
	t.Setenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE", "256")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_LAMBDA_LOG_FORMAT", "JSON")
	t.Setenv("PULSAR_METRICS_ADDR", ":9100")
	t.Setenv("PULSAR_TRACING", "true")
	t.Setenv("PULSAR_VSOCK_PORT", "5000")
	t.Setenv("_LAMBDA_TELEMETRY_LOG_FD", "9")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))
	assert.Equal(t, "127.0.0.1:9999", cfg.Runtime.API)
	assert.Equal(t, "lib/index.handler", cfg.Runtime.Handler)
	assert.Equal(t, "/opt/app", cfg.Runtime.TaskRoot)
	assert.Equal(t, "fn", cfg.Function.FunctionName)
	assert.Equal(t, "256", cfg.Function.MemoryLimitInMB)
	assert.Equal(t, "eu-west-1", cfg.Function.Region)
	assert.Equal(t, "JSON", cfg.Log.Format)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, uint32(5000), cfg.Log.VsockPort)
	assert.Equal(t, 9, cfg.Log.TelemetryFD)
	_, ok := os.LookupEnv("_LAMBDA_TELEMETRY_LOG_FD")
	assert.False(t, ok)
}

func TestLoadFromEnvBadVsockPort(t *testing.T) {
	t.Setenv("PULSAR_VSOCK_PORT", "many")
	assert.Error(t, LoadFromEnv(DefaultConfig()))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())
	cfg.Runtime.Handler = "index.handler"
	assert.NoError(t, cfg.Validate())
	cfg.Runtime.API = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadSinksAndHealth(t *testing.T) {
	t.Setenv("PULSAR_RECORDS_DSN", "postgres://pulsar@localhost/pulsar")
	t.Setenv("PULSAR_RECORDS_REDIS", "localhost:6379")
	t.Setenv("PULSAR_HEALTH_ADDR", ":9200")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))
	assert.Equal(t, "postgres://pulsar@localhost/pulsar", cfg.Log.RecordsDSN)
	assert.Equal(t, "localhost:6379", cfg.Log.RecordsRedis)
	assert.Equal(t, "pulsar:invocations", cfg.Log.RecordsKey)
	assert.Equal(t, int64(1000), cfg.Log.RecordsCap)
	assert.Equal(t, ":9200", cfg.Health.GRPCAddr)
}
