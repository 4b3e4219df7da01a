package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/catalog"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
	"github.com/ekaya-inc/dashboard-gateway/pkg/services"
)

// ReportRunner serves catalog endpoints.
type ReportRunner interface {
	Report(ctx context.Context, endpoint *models.Endpoint, params models.ParameterSet) (*services.ReportResult, error)
}

var _ ReportRunner = (*services.Gateway)(nil)

// ReportSummary describes a catalog endpoint in GET /api/reports.
type ReportSummary struct {
	ID          string            `json:"id"`
	Route       string            `json:"route"`
	Description string            `json:"description,omitempty"`
	Params      []models.ParamDef `json:"params"`
}

// ReportsHandler serves one GET route per catalog endpoint.
type ReportsHandler struct {
	catalog *catalog.Catalog
	runner  ReportRunner
	logger  *zap.Logger
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(cat *catalog.Catalog, runner ReportRunner, logger *zap.Logger) *ReportsHandler {
	return &ReportsHandler{
		catalog: cat,
		runner:  runner,
		logger:  logger,
	}
}

// RegisterRoutes registers a route per catalog endpoint plus the listing.
func (h *ReportsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/reports", h.List)
	for _, ep := range h.catalog.Endpoints {
		mux.HandleFunc("GET "+ep.Route, h.Serve(ep))
	}
}

// List handles GET /api/reports.
func (h *ReportsHandler) List(w http.ResponseWriter, r *http.Request) {
	out := make([]ReportSummary, len(h.catalog.Endpoints))
	for i, ep := range h.catalog.Endpoints {
		params := ep.Params
		if params == nil {
			params = []models.ParamDef{}
		}
		out[i] = ReportSummary{ID: ep.ID, Route: ep.Route, Description: ep.Description, Params: params}
	}
	if err := WriteJSON(w, http.StatusOK, out); err != nil {
		h.logger.Error("Failed to encode report list", zap.Error(err))
	}
}

// Serve returns the handler for one endpoint. Responses carry X-Cache and an
// ETag over the payload; a matching If-None-Match gets 304.
func (h *ReportsHandler) Serve(ep *models.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := ParseReportParams(r, ep)
		if err != nil {
			WriteError(w, r, err, h.logger)
			return
		}

		res, err := h.runner.Report(r.Context(), ep, params)
		if err != nil {
			WriteError(w, r, err, h.logger)
			return
		}

		etag := payloadETag(res.Payload)
		cacheStatus := "MISS"
		if res.Cached {
			cacheStatus = "HIT"
		}
		w.Header().Set("X-Cache", cacheStatus)
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "private, no-cache")
		if res.Truncated {
			w.Header().Set("X-Result-Truncated", "true")
		}

		if etagMatches(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(res.Payload); err != nil {
			h.logger.Debug("Failed to write report payload", zap.String("endpoint", ep.ID), zap.Error(err))
		}
	}
}

func payloadETag(payload []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(payload))
}

// etagMatches implements the If-None-Match list comparison, including "*"
// and weak validators.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
