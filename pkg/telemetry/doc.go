// Package telemetry provides observability instrumentation for Confwell.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), and metrics (Prometheus) behind one configuration surface.
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "confwell"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx = tel.WithContext(ctx)
//
// Components take child loggers so every line carries its origin:
//
//	logger := tel.Logger.NewComponentLogger("replicator")
//	logger.WithProject(projectID).WithConfig(name).Info("config replicated")
//
// Tracing wraps read and write operations:
//
//	ctx, span := tel.Tracer.StartReadSpan(ctx, "get_value", projectID, name, envID)
//	defer span.End()
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported trace exporters: "otlp" (production), "stdout" (development),
// "none" (generate but do not export).
//
// Metrics are exposed on a dedicated HTTP listener (default :9090/metrics)
// under the "confwell" namespace: read counters, HTTP request histograms,
// queue fan-out and replication counters, and stream subscriber gauges.
package telemetry
