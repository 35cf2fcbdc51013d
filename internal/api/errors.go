package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/experiment-core/internal/component"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeUnauthorized     = "unauthorised"
	ErrCodeInternal         = "internal_error"
	ErrCodeValidation       = "validation_error"
	ErrCodeActivationFailed = "activation_failed"
	ErrCodeUnavailable      = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// containerErrorStatus maps a container error onto an HTTP status and
// error code.
func containerErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, component.ErrUnknownSlot),
		errors.Is(err, component.ErrUnknownImplementation):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, component.ErrSettingsTypeMismatch):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, component.ErrInvalidSettings):
		return http.StatusUnprocessableEntity, ErrCodeValidation
	case errors.Is(err, component.ErrActivationFailed):
		return http.StatusBadGateway, ErrCodeActivationFailed
	case errors.Is(err, component.ErrContainerClosed):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

func writeContainerError(w http.ResponseWriter, err error) {
	status, code := containerErrorStatus(err)
	writeError(w, status, code, err.Error())
}
