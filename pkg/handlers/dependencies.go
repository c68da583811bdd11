package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strata-data/extract-engine/pkg/models"
	"github.com/strata-data/extract-engine/pkg/repositories"
	"github.com/strata-data/extract-engine/pkg/services/depgraph"
)

// DependencyHandler exposes the dependency manager over HTTP. The
// repository backs the history endpoint, which includes deactivated rows
// the in-memory graph no longer carries.
type DependencyHandler struct {
	mgr    *depgraph.Manager
	repo   repositories.DependencyRepository
	logger *zap.Logger
}

// NewDependencyHandler creates a new DependencyHandler.
func NewDependencyHandler(mgr *depgraph.Manager, repo repositories.DependencyRepository, logger *zap.Logger) *DependencyHandler {
	return &DependencyHandler{mgr: mgr, repo: repo, logger: logger}
}

// RegisterRoutes registers the dependency routes on the given mux.
func (h *DependencyHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/dependencies", h.Register)
	mux.HandleFunc("GET /api/dependencies", h.List)
	mux.HandleFunc("GET /api/dependencies/history", h.History)
	mux.HandleFunc("DELETE /api/dependencies/{id}", h.Remove)
	mux.HandleFunc("POST /api/dependencies/check", h.Check)
	mux.HandleFunc("GET /api/execution-order", h.ExecutionOrder)
	mux.HandleFunc("GET /api/cycles", h.Cycles)
	mux.HandleFunc("GET /api/impact/{source_id}", h.Impact)
}

type registerDependencyRequest struct {
	SourceID string                `json:"source_id"`
	TargetID string                `json:"target_id"`
	Type     models.DependencyType `json:"type"`
	Params   map[string]any        `json:"params"`
	Required *bool                 `json:"required"`
}

// Register handles POST /api/dependencies.
func (h *DependencyHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerDependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	required := true
	if req.Required != nil {
		required = *req.Required
	}

	id, err := h.mgr.Register(r.Context(), req.SourceID, req.TargetID, req.Type, req.Params, required)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, map[string]string{"dependency_id": id.String()})
}

// List handles GET /api/dependencies?source_id=X.
func (h *DependencyHandler) List(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	if sourceID == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "validation_failed", "source_id query parameter is required")
		return
	}
	deps := h.mgr.DependenciesFor(sourceID)
	_ = WriteJSON(w, http.StatusOK, map[string]any{"dependencies": deps})
}

// History handles GET /api/dependencies/history: every dependency ever
// registered, active or not, straight from durable storage.
func (h *DependencyHandler) History(w http.ResponseWriter, r *http.Request) {
	deps, err := h.repo.ListAll(r.Context())
	if err != nil {
		h.logger.Error("list dependency history", zap.Error(err))
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"dependencies": deps})
}

// Remove handles DELETE /api/dependencies/{id}.
func (h *DependencyHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid dependency id")
		return
	}

	removed, err := h.mgr.Remove(r.Context(), id)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	if !removed {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "no active dependency with that id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkRequest struct {
	SourceID string                     `json:"source_id"`
	Context  models.SatisfactionContext `json:"context"`
}

// Check handles POST /api/dependencies/check: evaluates satisfaction for
// a source against a caller-supplied readiness snapshot.
func (h *DependencyHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.SourceID == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "validation_failed", "source_id is required")
		return
	}

	ok, unsatisfied := h.mgr.Satisfied(req.SourceID, req.Context)
	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"satisfied":   ok,
		"unsatisfied": unsatisfied,
	})
}

// ExecutionOrder handles GET /api/execution-order?ids=a,b,c.
func (h *DependencyHandler) ExecutionOrder(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "validation_failed", "ids query parameter is required")
		return
	}
	ids := strings.Split(raw, ",")

	order, err := h.mgr.ExecutionOrder(ids)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"order": order})
}

// Cycles handles GET /api/cycles.
func (h *DependencyHandler) Cycles(w http.ResponseWriter, r *http.Request) {
	cycles := h.mgr.DetectCycles()
	_ = WriteJSON(w, http.StatusOK, map[string]any{"cycles": cycles})
}

// Impact handles GET /api/impact/{source_id}.
func (h *DependencyHandler) Impact(w http.ResponseWriter, r *http.Request) {
	report := h.mgr.ImpactOf(r.PathValue("source_id"))
	_ = WriteJSON(w, http.StatusOK, report)
}
