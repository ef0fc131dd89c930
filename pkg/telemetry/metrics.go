package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Confwell.
type Metrics struct {
	config MetricsConfig

	// Read path metrics
	configReads  *prometheus.CounterVec
	evaluations  *prometheus.CounterVec
	readDuration *prometheus.HistogramVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Hub metrics
	hubEventsPublished *prometheus.CounterVec
	hubEventsPulled    *prometheus.CounterVec
	hubConsumersCleaned *prometheus.CounterVec

	// Replicator metrics
	replicatorChanges *prometheus.CounterVec
	replicatorEvents  prometheus.Counter
	replicatorErrors  prometheus.Counter

	// Stream metrics
	streamSubscribers   prometheus.Gauge
	streamEventsDropped *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		configReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reads_total",
				Help:      "Total number of config reads",
			},
			[]string{"operation", "status"},
		),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "override_evaluations_total",
				Help:      "Total number of override evaluations",
			},
			[]string{"outcome"},
		),
		readDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "read_duration_seconds",
				Help:      "Duration of read operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   buckets,
			},
			[]string{"route", "method"},
		),

		hubEventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hub_events_published_total",
				Help:      "Total number of events fanned out to consumers",
			},
			[]string{"topic"},
		),
		hubEventsPulled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hub_events_pulled_total",
				Help:      "Total number of events delivered to consumers",
			},
			[]string{"topic"},
		),
		hubConsumersCleaned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hub_consumers_cleaned_total",
				Help:      "Total number of idle consumers garbage-collected",
			},
			[]string{"topic"},
		),

		replicatorChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replicator_changes_applied_total",
				Help:      "Total number of replica changes applied",
			},
			[]string{"type"},
		),
		replicatorEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replicator_events_applied_total",
				Help:      "Total number of queue events drained by the replicator",
			},
		),
		replicatorErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replicator_step_errors_total",
				Help:      "Total number of failed replication steps",
			},
		),

		streamSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_subscribers",
				Help:      "Current number of change stream subscribers",
			},
		),
		streamEventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_dropped_total",
				Help:      "Total number of stream events dropped on slow subscribers",
			},
			[]string{"project_id"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by error kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.configReads,
		m.evaluations,
		m.readDuration,
		m.httpRequests,
		m.httpDuration,
		m.hubEventsPublished,
		m.hubEventsPulled,
		m.hubConsumersCleaned,
		m.replicatorChanges,
		m.replicatorEvents,
		m.replicatorErrors,
		m.streamSubscribers,
		m.streamEventsDropped,
		m.errorsByKind,
	)

	return m, nil
}

// Read Path Metrics

// RecordConfigRead records one read-core operation with its status.
func (m *Metrics) RecordConfigRead(operation, status string) {
	if m.configReads == nil {
		return
	}
	m.configReads.WithLabelValues(operation, status).Inc()
}

// RecordEvaluation records one override evaluation outcome (matched, default).
func (m *Metrics) RecordEvaluation(outcome string) {
	if m.evaluations == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
}

// RecordReadDuration records the duration of one read-core operation.
func (m *Metrics) RecordReadDuration(operation string, duration time.Duration) {
	if m.readDuration == nil {
		return
	}
	m.readDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// HTTP Metrics

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(route, method string, code int, duration time.Duration) {
	if m.httpRequests == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, fmt.Sprintf("%d", code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// Hub Metrics

// HubEventPublished records one publish fanned out to n consumers.
func (m *Metrics) HubEventPublished(topic string, consumers int) {
	if m.hubEventsPublished == nil {
		return
	}
	m.hubEventsPublished.WithLabelValues(topic).Add(float64(consumers))
}

// HubEventsPulled records n events delivered on a topic.
func (m *Metrics) HubEventsPulled(topic string, n int) {
	if m.hubEventsPulled == nil {
		return
	}
	m.hubEventsPulled.WithLabelValues(topic).Add(float64(n))
}

// HubConsumersCleaned records n idle consumers garbage-collected on a topic.
func (m *Metrics) HubConsumersCleaned(topic string, n int) {
	if m.hubConsumersCleaned == nil {
		return
	}
	m.hubConsumersCleaned.WithLabelValues(topic).Add(float64(n))
}

// Replicator Metrics

// ReplicatorChangeApplied records one applied replica change by type.
func (m *Metrics) ReplicatorChangeApplied(changeType string) {
	if m.replicatorChanges == nil {
		return
	}
	m.replicatorChanges.WithLabelValues(changeType).Inc()
}

// ReplicatorEventsApplied records n queue events drained in one step.
func (m *Metrics) ReplicatorEventsApplied(n int) {
	if m.replicatorEvents == nil {
		return
	}
	m.replicatorEvents.Add(float64(n))
}

// ReplicatorStepError records one failed replication step.
func (m *Metrics) ReplicatorStepError() {
	if m.replicatorErrors == nil {
		return
	}
	m.replicatorErrors.Inc()
}

// Stream Metrics

// StreamSubscriberAdded increments the subscriber gauge.
func (m *Metrics) StreamSubscriberAdded() {
	if m.streamSubscribers == nil {
		return
	}
	m.streamSubscribers.Inc()
}

// StreamSubscriberRemoved decrements the subscriber gauge.
func (m *Metrics) StreamSubscriberRemoved() {
	if m.streamSubscribers == nil {
		return
	}
	m.streamSubscribers.Dec()
}

// StreamEventDropped records one event dropped on a slow subscriber.
func (m *Metrics) StreamEventDropped(projectID string) {
	if m.streamEventsDropped == nil {
		return
	}
	m.streamEventsDropped.WithLabelValues(projectID).Inc()
}

// Error Metrics

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
