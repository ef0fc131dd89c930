package control

import (
	"context"
	"testing"
	"time"

	"github.com/confwell/confwell/pkg/config"
	"github.com/confwell/confwell/pkg/telemetry"
)

func testSettings() *config.Settings {
	s := config.Default()
	s.Server.ListenAddress = "127.0.0.1:0"
	s.Store.Path = ":memory:"
	s.Telemetry.LogLevel = "error"
	s.Telemetry.LogFormat = "json"
	s.Telemetry.TracingEnabled = false
	s.Telemetry.MetricsEnabled = false
	return s
}

func TestTelemetryFromSettings(t *testing.T) {
	s := config.Default()
	s.Telemetry.ServiceVersion = "1.2.3"
	s.Telemetry.Environment = "staging"
	s.Telemetry.LogLevel = "warn"
	s.Telemetry.LogFormat = "json"
	s.Telemetry.TracingEnabled = true
	s.Telemetry.TracingExporter = "otlp"
	s.Telemetry.TracingEndpoint = "collector:4317"
	s.Telemetry.TracingSampling = 0.25
	s.Telemetry.MetricsEnabled = true
	s.Telemetry.MetricsAddress = ":9191"

	cfg := TelemetryFromSettings(s)
	if cfg.ServiceVersion != "1.2.3" || cfg.Environment != "staging" {
		t.Errorf("identity not mapped: %s %s", cfg.ServiceVersion, cfg.Environment)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Format != "json" {
		t.Errorf("logging not mapped: %+v", cfg.Logging)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "otlp" || cfg.Tracing.Endpoint != "collector:4317" || cfg.Tracing.SamplingRate != 0.25 {
		t.Errorf("tracing not mapped: %+v", cfg.Tracing)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddress != ":9191" {
		t.Errorf("metrics not mapped: %+v", cfg.Metrics)
	}

	// Unset fields keep the telemetry defaults
	bare := config.Default()
	bare.Telemetry.ServiceVersion = ""
	bare.Telemetry.TracingSampling = 0
	cfg = TelemetryFromSettings(bare)
	def := telemetry.DefaultConfig()
	if cfg.ServiceVersion != def.ServiceVersion {
		t.Errorf("default service version lost: %s", cfg.ServiceVersion)
	}
	if cfg.Tracing.SamplingRate != def.Tracing.SamplingRate {
		t.Errorf("default sampling rate lost: %f", cfg.Tracing.SamplingRate)
	}
}

func TestControllerLifecycle(t *testing.T) {
	settings := testSettings()
	tel, err := telemetry.NewTelemetry(TelemetryFromSettings(settings))
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}

	c, err := New(settings, tel)
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	// The CLI-facing accessors point at live components
	if c.Catalog() == nil || c.Store() == nil {
		t.Error("accessors returned nil after start")
	}
	if _, err := c.Catalog().CreateProject(ctx, "web"); err != nil {
		t.Errorf("catalog not usable after start: %v", err)
	}

	c.Stop(ctx)
	c.Stop(ctx) // idempotent
}

func TestControllerRunStopsOnCancel(t *testing.T) {
	settings := testSettings()
	tel, err := telemetry.NewTelemetry(TelemetryFromSettings(settings))
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}

	c, err := New(settings, tel)
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Let the graph come up, then cancel
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}
}
