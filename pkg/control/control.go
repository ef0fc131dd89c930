// Package control assembles the service: durable store, event hub, replica,
// replicator, change stream, read service, catalog, and HTTP edge. It owns
// startup order, shutdown order, and the fatal error path.
package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/confwell/confwell/pkg/catalog"
	"github.com/confwell/confwell/pkg/config"
	"github.com/confwell/confwell/pkg/hub"
	"github.com/confwell/confwell/pkg/replica"
	"github.com/confwell/confwell/pkg/replicator"
	"github.com/confwell/confwell/pkg/server"
	"github.com/confwell/confwell/pkg/service"
	"github.com/confwell/confwell/pkg/stores"
	"github.com/confwell/confwell/pkg/stream"
	"github.com/confwell/confwell/pkg/telemetry"
)

// Controller owns the component graph.
type Controller struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	log      *telemetry.Logger

	store        *stores.SQLiteStore
	hub          *hub.Hub
	replicaStore *replica.Store
	bus          *stream.Bus
	svc          *service.Service
	cat          *catalog.Catalog
	repl         *replicator.Replicator[*replica.Config]
	srv          *server.Server

	fatal    chan error
	stopOnce sync.Once
}

// TelemetryFromSettings maps service settings onto a telemetry configuration.
func TelemetryFromSettings(s *config.Settings) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if s.Telemetry.ServiceVersion != "" {
		cfg.ServiceVersion = s.Telemetry.ServiceVersion
	}
	if s.Telemetry.Environment != "" {
		cfg.Environment = s.Telemetry.Environment
	}
	if s.Telemetry.LogLevel != "" {
		cfg.Logging.Level = s.Telemetry.LogLevel
	}
	if s.Telemetry.LogFormat != "" {
		cfg.Logging.Format = s.Telemetry.LogFormat
	}
	cfg.Tracing.Enabled = s.Telemetry.TracingEnabled
	if s.Telemetry.TracingExporter != "" {
		cfg.Tracing.Exporter = s.Telemetry.TracingExporter
	}
	cfg.Tracing.Endpoint = s.Telemetry.TracingEndpoint
	if s.Telemetry.TracingSampling > 0 {
		cfg.Tracing.SamplingRate = s.Telemetry.TracingSampling
	}
	cfg.Metrics.Enabled = s.Telemetry.MetricsEnabled
	if s.Telemetry.MetricsAddress != "" {
		cfg.Metrics.ListenAddress = s.Telemetry.MetricsAddress
	}
	return cfg
}

// New builds the component graph without starting anything.
func New(settings *config.Settings, tel *telemetry.Telemetry) (*Controller, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: settings.Store.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	c := &Controller{
		settings: settings,
		tel:      tel,
		log:      tel.Logger.NewComponentLogger("control"),
		store:    store,
		fatal:    make(chan error, 1),
	}

	c.hub = hub.New(store, hub.Options{
		ConsumerIdleTTL:         settings.Hub.ConsumerIdleTTL,
		PublishCleanupFrequency: settings.Hub.PublishCleanupFrequency,
		ReportFrequency:         settings.Hub.ReportFrequency,
	}, tel.Logger, tel.Metrics)

	c.replicaStore = replica.NewStore()
	c.bus = stream.NewBus(settings.Stream.BufferSize, tel.Logger, tel.Metrics)
	c.svc = service.New(c.replicaStore, c.bus, tel)
	c.cat = catalog.New(store, c.hub, tel)

	c.repl = replicator.New(
		catalog.TopicConfigs,
		c.hub,
		replica.NewStoreSource(store),
		c.replicaStore,
		c.svc.HandleChange,
		c.onFatal,
		replicator.Options{
			StepBatchSize: settings.Replicator.StepBatchSize,
			StepInterval:  settings.Replicator.StepInterval,
			DumpBatchSize: settings.Replicator.DumpBatchSize,
		},
		tel.Logger,
		tel.Tracer,
		tel.Metrics,
	)

	c.srv = server.New(
		c.svc,
		c.cat,
		server.NewStoreTokenResolver(store),
		store.HealthCheck,
		server.Options{
			ListenAddress:     settings.Server.ListenAddress,
			AdminToken:        settings.Server.AdminToken,
			HeartbeatInterval: settings.Server.HeartbeatInterval,
			ShutdownTimeout:   settings.Server.ShutdownTimeout,
		},
		tel,
	)

	return c, nil
}

// Catalog exposes the write coordinator, for the CLI.
func (c *Controller) Catalog() *catalog.Catalog { return c.cat }

// Store exposes the durable store, for the CLI.
func (c *Controller) Store() stores.Store { return c.store }

func (c *Controller) onFatal(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}

// Start brings the graph up: store, replicator, metrics listener, HTTP edge.
// The HTTP listener runs until Stop; its failure lands on the fatal channel.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	if err := c.store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	if err := c.repl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start replicator: %w", err)
	}

	if err := c.tel.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	go func() {
		if err := c.srv.Start(); err != nil {
			c.onFatal(err)
		}
	}()

	c.log.Info("service started")
	return nil
}

// Run starts the graph and blocks until the context is canceled or a
// component fails fatally, then shuts down.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	var cause error
	select {
	case <-ctx.Done():
	case cause = <-c.fatal:
		c.log.WithError(cause).Error("fatal component failure")
	}

	c.Stop(context.WithoutCancel(ctx))
	return cause
}

// Stop tears the graph down in reverse dependency order. Safe to call more
// than once.
func (c *Controller) Stop(ctx context.Context) {
	c.stopOnce.Do(func() {
		if err := c.srv.Shutdown(ctx); err != nil {
			c.log.WithError(err).Warn("http shutdown failed")
		}
		c.repl.Stop()
		c.bus.Close()
		if err := c.store.Close(); err != nil {
			c.log.WithError(err).Warn("store close failed")
		}
		if err := c.tel.Shutdown(ctx); err != nil {
			c.log.WithError(err).Warn("telemetry shutdown failed")
		}
		c.log.Info("service stopped")
	})
}
