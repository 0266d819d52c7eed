package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/bert/internal/journal"
	"github.com/mattjoyce/bert/internal/registry"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		ModulesLoaded: s.host.Len(),
	})
}

// handleListModules handles GET /modules.
func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	mods := s.host.Snapshot()
	respondJSON(w, http.StatusOK, ModuleListResponse{Modules: mods, Count: len(mods)})
}

// handleGetModule handles GET /modules/{name}.
func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, ok := s.host.Module(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "module not found")
		return
	}
	respondJSON(w, http.StatusOK, ModuleResponse{Module: info})
}

// handleLoadModule handles POST /modules.
func (s *Server) handleLoadModule(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	info, err := s.host.Load(req.Path)
	if err != nil {
		s.logger.Warn("module load failed", "path", req.Path, "error", err)
		s.writeModuleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ModuleResponse{Module: info})
}

// handleReloadModule handles POST /modules/{name}/reload.
func (s *Server) handleReloadModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, err := s.host.Reload(name)
	if err != nil {
		s.logger.Warn("module reload failed", "module", name, "error", err)
		s.writeModuleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ModuleResponse{Module: info})
}

// handleModuleEvents handles GET /modules/{name}/events.
func (s *Server) handleModuleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	name := chi.URLParam(r, "name")

	limit := journal.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), name, limit)
	if err != nil {
		s.logger.Error("failed to read module journal", "module", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, EventListResponse{Module: name, Events: entries})
}

// writeModuleError maps registry and loader failures to HTTP statuses.
func (s *Server) writeModuleError(w http.ResponseWriter, err error) {
	var mismatch *registry.NameMismatchError
	switch {
	case errors.Is(err, registry.ErrModuleNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrNonReloadableOrigin), errors.As(err, &mismatch):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
