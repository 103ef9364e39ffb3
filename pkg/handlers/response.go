package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/apperrors"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
)

const (
	statusOK     = "OK"
	statusFailed = "Failed"
)

// ApiResponse is the envelope every API response uses. Single results are
// returned as a one element list.
type ApiResponse struct {
	Items      []any  `json:"items"`
	Status     string `json:"status"`
	TotalCount int    `json:"totalCount"`
	Error      string `json:"error,omitempty"`
}

// okResponse wraps items in a successful envelope.
func okResponse(items ...any) ApiResponse {
	if items == nil {
		items = []any{}
	}
	return ApiResponse{Items: items, Status: statusOK, TotalCount: len(items)}
}

// listResponse wraps a typed slice.
func listResponse[T any](items []T) ApiResponse {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return okResponse(out...)
}

// ErrorResponse writes a failed envelope carrying message and returns any
// encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ApiResponse{
		Items:      []any{message},
		Status:     statusFailed,
		TotalCount: 1,
		Error:      errorCode,
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

// writeServiceError maps service errors onto HTTP statuses. Unexpected errors
// are logged here so handlers only need to return.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	message := "Internal server error"

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code, message = http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, apperrors.ErrOperationDisabled):
		status, code, message = http.StatusForbidden, "operation_disabled", err.Error()
	case errors.Is(err, apperrors.ErrConflict):
		status, code, message = http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, apperrors.ErrInvalidInput):
		status, code, message = http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, apperrors.ErrNoEligibleInstance), errors.Is(err, apperrors.ErrAmbiguousDefault):
		status, code, message = http.StatusBadRequest, "no_eligible_instance", err.Error()
	case errors.Is(err, apperrors.ErrPhysicalEngine):
		// The engine's own message is useful to callers, minus credentials.
		status, code, message = http.StatusBadGateway, "database_engine_error", logging.SanitizeError(err)
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("operation", op),
			zap.String("error", logging.SanitizeError(err)))
	}

	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

func writeOK(w http.ResponseWriter, logger *zap.Logger, status int, resp ApiResponse) {
	if err := WriteJSON(w, status, resp); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}
