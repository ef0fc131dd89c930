package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/confwell/confwell/pkg/service"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), map[string]string{
		"error": err.Error(),
		"kind":  string(service.KindOf(err)),
	})
}

// handleListConfigs serves every config of the caller's project, rendered for
// the caller's environment.
func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	configs, err := s.svc.GetProjectConfigs(r.Context(), p.ProjectID, p.EnvironmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": configs})
}

// handleGetConfig serves one rendered config.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	cfg, err := s.svc.GetConfig(r.Context(), p.ProjectID, p.EnvironmentID, r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleGetConfigValue evaluates a config against the caller's context and
// serves the final value. GET passes the context as a JSON query parameter,
// POST as the request body.
func (s *Server) handleGetConfigValue(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())

	evalContext, err := readEvalContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.svc.GetConfigValue(r.Context(), p.ProjectID, p.EnvironmentID, r.PathValue("name"), evalContext)
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]any{
		"name":  r.PathValue("name"),
		"value": result.FinalValue,
	}
	if result.Matched != nil {
		body["matchedOverride"] = result.Matched.Name
	}
	writeJSON(w, http.StatusOK, body)
}

func readEvalContext(r *http.Request) (map[string]any, error) {
	var raw []byte
	switch r.Method {
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return nil, service.NewBadRequestError("failed to read request body", err)
		}
		raw = body
	default:
		raw = []byte(r.URL.Query().Get("context"))
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var evalContext map[string]any
	if err := json.Unmarshal(raw, &evalContext); err != nil {
		return nil, service.NewBadRequestError("context must be a JSON object", err)
	}
	return evalContext, nil
}

// handleEvents serves the project's change stream over SSE. The subscription
// attaches before the response commits, so a client that snapshots after
// connecting cannot miss a change.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	p := principalFrom(r.Context())
	sub := s.svc.Subscribe(p.ProjectID)
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.log.WithProject(p.ProjectID).Debug("event stream opened")
	heartbeat := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.log.WithProject(p.ProjectID).Debug("event stream closed")
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, open := <-sub.Events:
			if !open {
				return
			}
			event = s.svc.RenderEventPayload(event, p.EnvironmentID)
			data, err := json.Marshal(event)
			if err != nil {
				s.log.WithError(err).Error("failed to encode stream event")
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
			flusher.Flush()
		}
	}
}
