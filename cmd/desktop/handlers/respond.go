// Package handlers provides the REST API of the desktop daemon.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/slotboard/internal/errors"
	"github.com/kimhsiao/slotboard/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

// statusFor maps an error code onto an HTTP status.
func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrValidation, apperrors.ErrInvalidCredential:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrSyncAuthFailed:
		return http.StatusUnauthorized
	case apperrors.ErrSyncConflict:
		return http.StatusConflict
	case apperrors.ErrSyncSkipped, apperrors.ErrSyncDisabled:
		return http.StatusAccepted
	case apperrors.ErrQueueFull:
		return http.StatusTooManyRequests
	case apperrors.ErrNetwork, apperrors.ErrSyncTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	writeJSON(w, statusFor(code), map[string]interface{}{
		"error": err.Error(),
		"code":  code,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
			"code":  apperrors.ErrValidation,
		})
		return false
	}
	return true
}
