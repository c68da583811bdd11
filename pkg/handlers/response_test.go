package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-data/extract-engine/pkg/apperrors"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := map[string]struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		"validation": {
			err:        &apperrors.ValidationError{Field: "source_id", Message: "required"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_failed",
		},
		"timeout": {
			err:        &apperrors.TimeoutError{ExtractionID: "abc"},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "wait_timeout",
		},
		"not found": {
			err:        apperrors.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		"self dependency": {
			err:        apperrors.ErrSelfDependency,
			wantStatus: http.StatusBadRequest,
			wantCode:   "self_dependency",
		},
		"already terminal": {
			err:        apperrors.ErrAlreadyTerminal,
			wantStatus: http.StatusConflict,
			wantCode:   "already_terminal",
		},
		"not failed": {
			err:        apperrors.ErrNotFailed,
			wantStatus: http.StatusConflict,
			wantCode:   "not_failed",
		},
		"shutting down": {
			err:        apperrors.ErrShuttingDown,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "shutting_down",
		},
		"wrapped sentinel": {
			err:        errors.Join(errors.New("lookup source x"), apperrors.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		"unknown": {
			err:        errors.New("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			require.NoError(t, WriteError(rec, tc.err))
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.wantCode, body["error"])
		})
	}
}

func TestWriteErrorBlockedCarriesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	err := &apperrors.DependencyBlockedError{
		SourceID:    "orders-db",
		Unsatisfied: []string{"dep-1", "dep-2"},
	}
	require.NoError(t, WriteError(rec, err))
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "dependency_blocked", body["error"])
	assert.Equal(t, "orders-db", body["source_id"])
	assert.Len(t, body["unsatisfied"], 2)
}

func TestWriteErrorCycleCarriesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	err := &apperrors.CycleDetectedError{Cycles: [][]string{{"a", "b", "a"}}}
	require.NoError(t, WriteError(rec, err))
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cycle_detected", body["error"])
	assert.Len(t, body["cycles"], 1)
}

func TestWriteJSONKeepsImplicitOK(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusOK, map[string]string{"ok": "yes"}))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusCreated, map[string]string{"ok": "yes"}))
	assert.Equal(t, http.StatusCreated, rec.Code)
}
