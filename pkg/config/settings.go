// Package config loads and validates service settings from a YAML file with
// environment variable overrides, and watches the file for runtime changes.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Settings is the full service configuration.
type Settings struct {
	Server     ServerSettings     `yaml:"server"`
	Store      StoreSettings      `yaml:"store"`
	Hub        HubSettings        `yaml:"hub"`
	Replicator ReplicatorSettings `yaml:"replicator"`
	Stream     StreamSettings     `yaml:"stream"`
	Telemetry  TelemetrySettings  `yaml:"telemetry"`
}

// ServerSettings configures the HTTP edge.
type ServerSettings struct {
	ListenAddress     string        `yaml:"listen_address" validate:"required"`
	AdminToken        string        `yaml:"admin_token"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"min=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

// StoreSettings configures the durable store.
type StoreSettings struct {
	// Path is the SQLite database file, or ":memory:" for tests.
	Path string `yaml:"path" validate:"required"`
}

// HubSettings tunes event queue liveness.
type HubSettings struct {
	ConsumerIdleTTL         time.Duration `yaml:"consumer_idle_ttl" validate:"min=0"`
	PublishCleanupFrequency int64         `yaml:"publish_cleanup_frequency" validate:"min=0"`
	ReportFrequency         int64         `yaml:"report_frequency" validate:"min=0"`
}

// ReplicatorSettings tunes the replication pump.
type ReplicatorSettings struct {
	StepBatchSize int           `yaml:"step_batch_size" validate:"min=0"`
	StepInterval  time.Duration `yaml:"step_interval" validate:"min=0"`
	DumpBatchSize int           `yaml:"dump_batch_size" validate:"min=0"`
}

// StreamSettings tunes change stream fan-out.
type StreamSettings struct {
	BufferSize int `yaml:"buffer_size" validate:"min=0"`
}

// TelemetrySettings configures logging, tracing, and metrics.
type TelemetrySettings struct {
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`

	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`

	TracingEnabled  bool    `yaml:"tracing_enabled"`
	TracingExporter string  `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string  `yaml:"tracing_endpoint"`
	TracingSampling float64 `yaml:"tracing_sampling" validate:"min=0,max=1"`

	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsAddress string `yaml:"metrics_address"`
}

// Default returns settings suitable for local development.
func Default() *Settings {
	return &Settings{
		Server: ServerSettings{
			ListenAddress:     ":8080",
			HeartbeatInterval: 15 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Store: StoreSettings{
			Path: "confwell.db",
		},
		Hub: HubSettings{
			ConsumerIdleTTL:         24 * time.Hour,
			PublishCleanupFrequency: 128,
			ReportFrequency:         16,
		},
		Replicator: ReplicatorSettings{
			StepBatchSize: 128,
			StepInterval:  100 * time.Millisecond,
			DumpBatchSize: 256,
		},
		Stream: StreamSettings{
			BufferSize: 64,
		},
		Telemetry: TelemetrySettings{
			ServiceVersion:  "dev",
			Environment:     "development",
			LogLevel:        "info",
			LogFormat:       "console",
			TracingEnabled:  true,
			TracingExporter: "stdout",
			TracingSampling: 1.0,
			MetricsEnabled:  true,
			MetricsAddress:  ":9090",
		},
	}
}

// Load reads settings from the YAML file at path, applies environment
// overrides, and validates the result. An empty path loads defaults plus
// environment overrides only.
func Load(path string) (*Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse settings file: %w", err)
		}
	}

	s.applyEnv()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// applyEnv overrides the highest-traffic knobs from the environment so
// containerized deployments need no settings file.
func (s *Settings) applyEnv() {
	if v := os.Getenv("CONFWELL_LISTEN_ADDRESS"); v != "" {
		s.Server.ListenAddress = v
	}
	if v := os.Getenv("CONFWELL_ADMIN_TOKEN"); v != "" {
		s.Server.AdminToken = v
	}
	if v := os.Getenv("CONFWELL_DB_PATH"); v != "" {
		s.Store.Path = v
	}
	if v := os.Getenv("CONFWELL_LOG_LEVEL"); v != "" {
		s.Telemetry.LogLevel = v
	}
	if v := os.Getenv("CONFWELL_LOG_FORMAT"); v != "" {
		s.Telemetry.LogFormat = v
	}
	if v := os.Getenv("CONFWELL_TRACING_ENDPOINT"); v != "" {
		s.Telemetry.TracingEndpoint = v
	}
	if v := os.Getenv("CONFWELL_METRICS_ADDRESS"); v != "" {
		s.Telemetry.MetricsAddress = v
	}
}

// Validate checks the settings for structural errors.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
