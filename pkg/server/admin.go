package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/confwell/confwell/pkg/catalog"
	"github.com/confwell/confwell/pkg/service"
)

func decodeBody(r *http.Request, into any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		return service.NewBadRequestError("failed to read request body", err)
	}
	if err := json.Unmarshal(body, into); err != nil {
		return service.NewBadRequestError("invalid JSON body", err)
	}
	return nil
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.cat.CreateProject(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.cat.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.cat.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Order int    `json:"order"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	env, err := s.cat.CreateEnvironment(r.Context(), r.PathValue("id"), req.Name, req.Order)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, env)
}

func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := s.cat.ListEnvironments(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"environments": envs})
}

func (s *Server) handleCreateSDKKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EnvironmentID string `json:"environmentId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	key, err := s.cat.CreateSDKKey(r.Context(), r.PathValue("id"), req.EnvironmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	// The only response that ever carries the token.
	writeJSON(w, http.StatusCreated, key)
}

func (s *Server) handleDeleteSDKKey(w http.ResponseWriter, r *http.Request) {
	if err := s.cat.DeleteSDKKey(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		catalog.ConfigDocument
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	row, err := s.cat.CreateConfig(r.Context(), r.PathValue("id"), req.Name, req.ConfigDocument)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var doc catalog.ConfigDocument
	if err := decodeBody(r, &doc); err != nil {
		writeError(w, err)
		return
	}
	version, err := s.cat.UpdateConfig(r.Context(), r.PathValue("id"), doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version})
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.cat.DeleteConfig(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetVariant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		catalog.ConfigDocument
		UseBaseSchema bool `json:"useBaseSchema"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	version, err := s.cat.SetVariant(r.Context(), r.PathValue("id"), r.PathValue("environmentId"), req.ConfigDocument, req.UseBaseSchema)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version})
}

func (s *Server) handleDeleteVariant(w http.ResponseWriter, r *http.Request) {
	version, err := s.cat.DeleteVariant(r.Context(), r.PathValue("id"), r.PathValue("environmentId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version})
}
