// Package server is the HTTP edge: the SDK read API served from the replica,
// the admin authoring API served through the catalog, and the SSE change
// stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/confwell/confwell/pkg/catalog"
	"github.com/confwell/confwell/pkg/service"
	"github.com/confwell/confwell/pkg/telemetry"
)

const (
	// DefaultHeartbeatInterval keeps idle SSE connections alive through
	// proxies and load balancers.
	DefaultHeartbeatInterval = 15 * time.Second

	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Options configures the HTTP server.
type Options struct {
	ListenAddress     string
	AdminToken        string
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
}

// Server serves the read and admin APIs.
type Server struct {
	svc      *service.Service
	cat      *catalog.Catalog
	resolver TokenResolver
	health   func(context.Context) error
	opts     Options

	http *http.Server

	log     *telemetry.Logger
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
}

// New creates the server. health is probed by /healthz; a nil health always
// reports ok.
func New(svc *service.Service, cat *catalog.Catalog, resolver TokenResolver, health func(context.Context) error, opts Options, tel *telemetry.Telemetry) *Server {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 5 * time.Second
	}

	s := &Server{
		svc:      svc,
		cat:      cat,
		resolver: resolver,
		health:   health,
		opts:     opts,
		log:      tel.Logger.NewComponentLogger("server"),
		tracer:   tel.Tracer,
		metrics:  tel.Metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	// SDK read API. The bearer token pins project and environment, which is
	// why none of these routes carry either in the path.
	mux.Handle("GET /api/v1/configs", s.authenticated(s.handleListConfigs))
	mux.Handle("GET /api/v1/configs/{name}", s.authenticated(s.handleGetConfig))
	mux.Handle("GET /api/v1/configs/{name}/value", s.authenticated(s.handleGetConfigValue))
	mux.Handle("POST /api/v1/configs/{name}/value", s.authenticated(s.handleGetConfigValue))
	mux.Handle("GET /api/v1/events", s.authenticated(s.handleEvents))

	// Admin authoring API.
	mux.Handle("POST /admin/v1/projects", s.admin(s.handleCreateProject))
	mux.Handle("GET /admin/v1/projects/{id}", s.admin(s.handleGetProject))
	mux.Handle("DELETE /admin/v1/projects/{id}", s.admin(s.handleDeleteProject))
	mux.Handle("POST /admin/v1/projects/{id}/environments", s.admin(s.handleCreateEnvironment))
	mux.Handle("GET /admin/v1/projects/{id}/environments", s.admin(s.handleListEnvironments))
	mux.Handle("POST /admin/v1/projects/{id}/sdk-keys", s.admin(s.handleCreateSDKKey))
	mux.Handle("DELETE /admin/v1/sdk-keys/{id}", s.admin(s.handleDeleteSDKKey))
	mux.Handle("POST /admin/v1/projects/{id}/configs", s.admin(s.handleCreateConfig))
	mux.Handle("PUT /admin/v1/configs/{id}", s.admin(s.handleUpdateConfig))
	mux.Handle("DELETE /admin/v1/configs/{id}", s.admin(s.handleDeleteConfig))
	mux.Handle("PUT /admin/v1/configs/{id}/variants/{environmentId}", s.admin(s.handleSetVariant))
	mux.Handle("DELETE /admin/v1/configs/{id}/variants/{environmentId}", s.admin(s.handleDeleteVariant))

	s.http = &http.Server{
		Addr:              opts.ListenAddress,
		Handler:           s.instrument(mux),
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}
	return s
}

// Start begins serving. It returns once the listener closes; a clean
// Shutdown yields a nil error.
func (s *Server) Start() error {
	s.log.WithField("address", s.opts.ListenAddress).Info("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.log.WithError(err).Warn("health check failed")
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument records request metrics and logs per request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := telemetry.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(route, r.Method, rec.status, timer.Duration())
		s.log.WithFields(map[string]interface{}{
			"method":   r.Method,
			"route":    route,
			"status":   rec.status,
			"duration": timer.Duration().String(),
		}).Debug("request served")
	})
}

// httpStatus maps a service error kind to a response code.
func httpStatus(err error) int {
	switch service.KindOf(err) {
	case service.ErrorKindNotFound:
		return http.StatusNotFound
	case service.ErrorKindBadRequest:
		return http.StatusBadRequest
	case service.ErrorKindForbidden:
		return http.StatusForbidden
	case service.ErrorKindConflict:
		return http.StatusConflict
	case service.ErrorKindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
