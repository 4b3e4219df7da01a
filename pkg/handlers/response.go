package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
	"github.com/ekaya-inc/dashboard-gateway/pkg/logging"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorType, message string) error {
	return WriteJSON(w, statusCode, ErrorBody{Error: message, Type: errorType})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// clientSentinels are errors whose own text is safe to return.
var clientSentinels = []error{
	apperrors.ErrNotFound,
	apperrors.ErrShareDisabled,
	apperrors.ErrUnauthenticated,
	apperrors.ErrForbiddenEmail,
	apperrors.ErrConflict,
}

// WriteError translates err into a status code and error body. Classified
// errors carry a client-safe message; anything else is logged and reported
// generically.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	status := apperrors.HTTPStatus(err)
	message := http.StatusText(status)

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Error()
	} else {
		for _, sentinel := range clientSentinels {
			if errors.Is(err, sentinel) {
				message = sentinel.Error()
				break
			}
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("error", logging.SanitizeError(err)))
	}

	if encErr := ErrorResponse(w, status, apperrors.TypeName(err), message); encErr != nil {
		logger.Error("Failed to encode error response", zap.Error(encErr))
	}
}
