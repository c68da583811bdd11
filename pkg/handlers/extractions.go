package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strata-data/extract-engine/pkg/models"
	"github.com/strata-data/extract-engine/pkg/repositories"
	"github.com/strata-data/extract-engine/pkg/services/extraction"
)

// ExtractionHandler exposes the orchestrator and the source catalog over
// HTTP.
type ExtractionHandler struct {
	orch   *extraction.Orchestrator
	repo   repositories.ExtractionRepository
	logger *zap.Logger
}

// NewExtractionHandler creates a new ExtractionHandler.
func NewExtractionHandler(orch *extraction.Orchestrator, repo repositories.ExtractionRepository, logger *zap.Logger) *ExtractionHandler {
	return &ExtractionHandler{orch: orch, repo: repo, logger: logger}
}

// RegisterRoutes registers the extraction routes on the given mux.
func (h *ExtractionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sources", h.CreateSource)
	mux.HandleFunc("GET /api/sources", h.ListSources)
	mux.HandleFunc("GET /api/sources/{id}", h.GetSource)
	mux.HandleFunc("DELETE /api/sources/{id}", h.DeleteSource)

	mux.HandleFunc("POST /api/extractions", h.Submit)
	mux.HandleFunc("GET /api/extractions", h.List)
	mux.HandleFunc("GET /api/extractions/{id}", h.Status)
	mux.HandleFunc("POST /api/extractions/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/extractions/{id}/retry", h.Retry)
	mux.HandleFunc("POST /api/extractions/{id}/heal", h.Heal)
}

type createSourceRequest struct {
	SourceID string            `json:"source_id"`
	Name     string            `json:"name"`
	Type     models.SourceType `json:"type"`
	Config   map[string]any    `json:"config"`
}

// CreateSource handles POST /api/sources.
func (h *ExtractionHandler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.SourceID == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "validation_failed", "source_id is required")
		return
	}
	if !req.Type.Valid() {
		_ = ErrorResponse(w, http.StatusBadRequest, "validation_failed", "unknown source type")
		return
	}

	desc := &models.SourceDescriptor{
		SourceID:  req.SourceID,
		Name:      req.Name,
		Type:      req.Type,
		Config:    req.Config,
		CreatedAt: time.Now(),
	}
	if err := h.repo.CreateSource(r.Context(), desc); err != nil {
		h.logger.Error("create source", zap.Error(err))
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, desc)
}

// ListSources handles GET /api/sources.
func (h *ExtractionHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	descs, err := h.repo.ListSources(r.Context())
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"sources": descs})
}

// GetSource handles GET /api/sources/{id}.
func (h *ExtractionHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	desc, err := h.repo.GetSource(r.Context(), r.PathValue("id"))
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, desc)
}

// DeleteSource handles DELETE /api/sources/{id}.
func (h *ExtractionHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteSource(r.Context(), r.PathValue("id")); err != nil {
		_ = WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitRequest struct {
	SourceID string         `json:"source_id"`
	Params   map[string]any `json:"params"`

	// WaitMS switches submission to blocking mode with the given timeout.
	WaitMS int `json:"wait_ms"`
}

// Submit handles POST /api/extractions. With wait_ms it blocks until the
// extraction finishes or the timeout elapses; the timeout never cancels
// the underlying job.
func (h *ExtractionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.WaitMS > 0 {
		snap, err := h.orch.SubmitAndWait(r.Context(), req.SourceID, req.Params,
			time.Duration(req.WaitMS)*time.Millisecond)
		if err != nil && snap.Status != models.ExtractionStatusFailed {
			_ = WriteError(w, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, snap)
		return
	}

	id, err := h.orch.Submit(r.Context(), req.SourceID, req.Params)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusAccepted, map[string]string{"extraction_id": id.String()})
}

// List handles GET /api/extractions with an optional source_id filter.
// It reads from the durable history, so completed runs survive restarts.
func (h *ExtractionHandler) List(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.repo.ListExtractions(r.Context(), r.URL.Query().Get("source_id"), 0)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"extractions": snaps})
}

// Status handles GET /api/extractions/{id}.
func (h *ExtractionHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	snap, err := h.orch.Status(id)
	if err != nil {
		// fall back to the durable record for processes from a previous run
		stored, repoErr := h.repo.GetExtraction(r.Context(), id)
		if repoErr != nil {
			_ = WriteError(w, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, stored)
		return
	}
	_ = WriteJSON(w, http.StatusOK, snap)
}

// Cancel handles POST /api/extractions/{id}/cancel.
func (h *ExtractionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.orch.Cancel(id); err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation_requested"})
}

type retryRequest struct {
	Params map[string]any `json:"params"`
}

// Retry handles POST /api/extractions/{id}/retry.
func (h *ExtractionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req retryRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
	}

	newID, err := h.orch.Retry(r.Context(), id, req.Params)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusAccepted, map[string]string{"extraction_id": newID.String()})
}

type healRequest struct {
	ActionType string         `json:"action_type"`
	Parameters map[string]any `json:"parameters"`
}

// Heal handles POST /api/extractions/{id}/heal.
func (h *ExtractionHandler) Heal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req healRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ActionType == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "validation_failed", "action_type is required")
		return
	}

	action := models.HealingAction{
		ID:         uuid.NewString(),
		ActionType: req.ActionType,
		Parameters: req.Parameters,
		AppliedAt:  time.Now(),
	}
	newID, err := h.orch.ApplyHealing(r.Context(), id, action)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusAccepted, map[string]string{"extraction_id": newID.String()})
}

func (h *ExtractionHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid extraction id")
		return uuid.Nil, false
	}
	return id, true
}
