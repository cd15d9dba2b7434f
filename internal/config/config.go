// Package config assembles the runtime configuration from defaults, an
// optional JSON or YAML file, and the process environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oriys/nova-ric/internal/invoke"
	"github.com/oriys/nova-ric/internal/observability"
	"github.com/oriys/nova-ric/internal/telemetry"
)

// RuntimeConfig locates the control plane and the handler.
type RuntimeConfig struct {
	API      string `json:"api" yaml:"api"`
	Handler  string `json:"handler" yaml:"handler"`
	TaskRoot string `json:"task_root" yaml:"task_root"`
}

// LogConfig holds settings of both the function log stream and the
// runtime's own diagnostics.
type LogConfig struct {
	Format      string `json:"format" yaml:"format"` // TEXT or JSON
	Level       string `json:"level" yaml:"level"`   // minimum level in JSON mode
	TelemetryFD int    `json:"-" yaml:"-"`
	VsockCID    uint32 `json:"vsock_cid" yaml:"vsock_cid"`
	VsockPort   uint32 `json:"vsock_port" yaml:"vsock_port"`

	OpFormat    string `json:"op_format" yaml:"op_format"`
	OpLevel     string `json:"op_level" yaml:"op_level"`
	RecordsPath string `json:"records_path" yaml:"records_path"`

	// Invocation record sinks, each optional.
	RecordsDSN   string `json:"records_dsn" yaml:"records_dsn"`
	RecordsRedis string `json:"records_redis" yaml:"records_redis"`
	RecordsKey   string `json:"records_key" yaml:"records_key"`
	RecordsCap   int64  `json:"records_cap" yaml:"records_cap"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Addr      string `json:"addr" yaml:"addr"` // empty disables the listener
	Namespace string `json:"namespace" yaml:"namespace"`
}

// HealthConfig controls the gRPC health endpoint.
type HealthConfig struct {
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"` // empty disables the server
}

// EmulatorConfig controls the local control-plane emulator.
type EmulatorConfig struct {
	Addr    string        `json:"addr" yaml:"addr"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Runtime  RuntimeConfig        `json:"runtime" yaml:"runtime"`
	Function invoke.Environment   `json:"function" yaml:"function"`
	Log      LogConfig            `json:"log" yaml:"log"`
	Metrics  MetricsConfig        `json:"metrics" yaml:"metrics"`
	Tracing  observability.Config `json:"tracing" yaml:"tracing"`
	Health   HealthConfig         `json:"health" yaml:"health"`
	Emulator EmulatorConfig       `json:"emulator" yaml:"emulator"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			API:      "127.0.0.1:9001",
			TaskRoot: "/var/task",
		},
		Log: LogConfig{
			Format:      "TEXT",
			TelemetryFD: -1,
			OpFormat:    "text",
			OpLevel:     "warn",
			RecordsKey:  "pulsar:invocations",
			RecordsCap:  1000,
		},
		Metrics: MetricsConfig{
			Namespace: "pulsar",
		},
		Tracing: observability.Config{
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "pulsar",
			SampleRate:  1.0,
		},
		Emulator: EmulatorConfig{
			Addr:    "127.0.0.1:9001",
			Timeout: 30 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension, on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config. The
// telemetry descriptor variable is consumed.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("AWS_LAMBDA_RUNTIME_API"); v != "" {
		cfg.Runtime.API = v
	}
	if v := os.Getenv("_HANDLER"); v != "" {
		cfg.Runtime.Handler = v
	}
	if v := os.Getenv("LAMBDA_TASK_ROOT"); v != "" {
		cfg.Runtime.TaskRoot = v
	}

	setStr(&cfg.Function.FunctionName, "AWS_LAMBDA_FUNCTION_NAME")
	setStr(&cfg.Function.FunctionVersion, "AWS_LAMBDA_FUNCTION_VERSION")
	setStr(&cfg.Function.MemoryLimitInMB, "AWS_LAMBDA_FUNCTION_MEMORY_SIZE")
	setStr(&cfg.Function.LogGroupName, "AWS_LAMBDA_LOG_GROUP_NAME")
	setStr(&cfg.Function.LogStreamName, "AWS_LAMBDA_LOG_STREAM_NAME")
	setStr(&cfg.Function.Region, "AWS_REGION")
	setStr(&cfg.Function.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setStr(&cfg.Function.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setStr(&cfg.Function.SessionToken, "AWS_SESSION_TOKEN")

	setStr(&cfg.Log.Format, telemetry.EnvLogFormat)
	setStr(&cfg.Log.Level, telemetry.EnvLogLevel)
	setStr(&cfg.Log.OpFormat, "PULSAR_LOG_FORMAT")
	setStr(&cfg.Log.OpLevel, "PULSAR_LOG_LEVEL")
	setStr(&cfg.Log.RecordsPath, "PULSAR_RECORDS_PATH")
	setStr(&cfg.Log.RecordsDSN, "PULSAR_RECORDS_DSN")
	setStr(&cfg.Log.RecordsRedis, "PULSAR_RECORDS_REDIS")
	setStr(&cfg.Metrics.Addr, "PULSAR_METRICS_ADDR")
	setStr(&cfg.Health.GRPCAddr, "PULSAR_HEALTH_ADDR")
	setStr(&cfg.Tracing.Endpoint, "PULSAR_OTLP_ENDPOINT")
	if v := os.Getenv("PULSAR_TRACING"); v != "" {
		cfg.Tracing.Enabled, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("PULSAR_VSOCK_PORT"); v != "" {
		port, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("PULSAR_VSOCK_PORT: %w", err)
		}
		cfg.Log.VsockPort = uint32(port)
	}

	setup, err := telemetry.FromEnv()
	if err != nil {
		return err
	}
	cfg.Log.TelemetryFD = setup.TelemetryFD
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// TelemetrySetup returns the function log setup. Unknown formats and levels
// fall back to text and TRACE.
func (c *Config) TelemetrySetup() telemetry.Setup {
	format, _ := telemetry.ParseFormat(c.Log.Format)
	level, err := telemetry.ParseLevel(c.Log.Level)
	if err != nil {
		level = telemetry.LevelTrace
	}
	return telemetry.Setup{
		Format:      format,
		MinLevel:    level,
		TelemetryFD: c.Log.TelemetryFD,
		VsockCID:    c.Log.VsockCID,
		VsockPort:   c.Log.VsockPort,
	}
}

// Validate reports settings the runtime cannot start without.
func (c *Config) Validate() error {
	if c.Runtime.API == "" {
		return fmt.Errorf("runtime api address is not set")
	}
	if c.Runtime.Handler == "" {
		return fmt.Errorf("handler is not set")
	}
	return nil
}
