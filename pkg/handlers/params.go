package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// maxJSONBody bounds request bodies. Shared reports carry a full HTML page.
const maxJSONBody = 6 << 20

// ParseReportParams reads an endpoint's declared parameters from the request
// path and query string. Keys the endpoint does not declare are ignored.
func ParseReportParams(r *http.Request, ep *models.Endpoint) (models.ParameterSet, error) {
	query := r.URL.Query()
	return ep.ParseParams(func(def models.ParamDef, key string) string {
		if def.Source == models.SourcePath {
			return r.PathValue(def.Name)
		}
		return query.Get(key)
	})
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, w http.ResponseWriter, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperrors.InvalidParameter("body", "request body is too large")
		case errors.Is(err, io.EOF):
			return apperrors.InvalidParameter("body", "request body is empty")
		}
		return apperrors.InvalidParameter("body", "request body is not valid JSON")
	}
	return nil
}

// parseConversationID validates a conversation id from a request body.
func parseConversationID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperrors.InvalidParameter("conversation_id", "invalid conversation id format")
	}
	return id, nil
}
