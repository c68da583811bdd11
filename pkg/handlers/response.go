package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/strata-data/extract-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteError maps a service error onto an HTTP status and body. Blocked
// submissions and cycles carry their structured detail; everything else
// gets the standard error envelope.
func WriteError(w http.ResponseWriter, err error) error {
	var validation *apperrors.ValidationError
	var blocked *apperrors.DependencyBlockedError
	var cycles *apperrors.CycleDetectedError
	var timeout *apperrors.TimeoutError

	switch {
	case errors.As(err, &validation):
		return ErrorResponse(w, http.StatusBadRequest, "validation_failed", validation.Error())
	case errors.As(err, &blocked):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		return json.NewEncoder(w).Encode(map[string]any{
			"error":       "dependency_blocked",
			"message":     blocked.Error(),
			"source_id":   blocked.SourceID,
			"unsatisfied": blocked.Unsatisfied,
		})
	case errors.As(err, &cycles):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		return json.NewEncoder(w).Encode(map[string]any{
			"error":   "cycle_detected",
			"message": cycles.Error(),
			"cycles":  cycles.Cycles,
		})
	case errors.As(err, &timeout):
		return ErrorResponse(w, http.StatusGatewayTimeout, "wait_timeout", timeout.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		return ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrSelfDependency):
		return ErrorResponse(w, http.StatusBadRequest, "self_dependency", err.Error())
	case errors.Is(err, apperrors.ErrAlreadyTerminal):
		return ErrorResponse(w, http.StatusConflict, "already_terminal", err.Error())
	case errors.Is(err, apperrors.ErrNotFailed):
		return ErrorResponse(w, http.StatusConflict, "not_failed", err.Error())
	case errors.Is(err, apperrors.ErrShuttingDown):
		return ErrorResponse(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		return ErrorResponse(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
