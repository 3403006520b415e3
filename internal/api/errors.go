package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/tonft-app/backend/internal/errors"
	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/types"
)

// ErrorResponse represents an API error response. Message mirrors Error.Message for
// clients that only read the top level field.
type ErrorResponse struct {
	Message string             `json:"message"`
	Error   types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Message: message,
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondServiceError maps err through its category. Internal failures are logged
// and answered with a generic message.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)

	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		if catErr.Category == apperrors.CategorySystem && catErr.StatusCode == http.StatusInternalServerError {
			respondError(w, catErr.StatusCode, ErrCodeInternalError, "An internal error occurred", nil)
			return
		}
	}

	respondError(w, catErr.StatusCode, catErr.Code, catErr.Message, catErr.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)
