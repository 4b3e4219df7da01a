package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/dashboard-gateway/pkg/adapters/warehouse"
	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
	"github.com/ekaya-inc/dashboard-gateway/pkg/audit"
	"github.com/ekaya-inc/dashboard-gateway/pkg/cache"
	"github.com/ekaya-inc/dashboard-gateway/pkg/logging"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
	"github.com/ekaya-inc/dashboard-gateway/pkg/sql"
)

const (
	DefaultQueryTimeout      = 30 * time.Second
	DefaultCandidateRowLimit = 1000
)

// GatewayConfig tunes query execution.
type GatewayConfig struct {
	// QueryTimeout bounds each warehouse query.
	QueryTimeout time.Duration
	// CandidateRowLimit is appended to model-authored queries that carry no
	// LIMIT of their own.
	CandidateRowLimit int
}

// ReportResult is a serialized report payload.
type ReportResult struct {
	Payload   []byte
	Cached    bool
	Truncated bool
}

// Gateway is the only path from a request to the warehouse. Report queries
// come from catalog templates; candidate queries come from the chat model
// and must pass the access validator first.
type Gateway struct {
	builder   *sql.Builder
	validator *sql.AccessValidator
	cache     *cache.ResultCache
	executor  warehouse.Executor
	auditor   *audit.SecurityAuditor
	cfg       GatewayConfig
	logger    *zap.Logger
}

// NewGateway wires the gateway. The builder must already hold the catalog
// templates; the validator must use the executor's dialect.
func NewGateway(
	builder *sql.Builder,
	validator *sql.AccessValidator,
	resultCache *cache.ResultCache,
	executor warehouse.Executor,
	auditor *audit.SecurityAuditor,
	cfg GatewayConfig,
	logger *zap.Logger,
) *Gateway {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.CandidateRowLimit <= 0 {
		cfg.CandidateRowLimit = DefaultCandidateRowLimit
	}
	return &Gateway{
		builder:   builder,
		validator: validator,
		cache:     resultCache,
		executor:  executor,
		auditor:   auditor,
		cfg:       cfg,
		logger:    logger.Named("gateway"),
	}
}

// Validator returns the access validator candidate queries are checked with.
func (g *Gateway) Validator() *sql.AccessValidator {
	return g.validator
}

// Report serves a catalog endpoint. The cache is consulted before anything
// else; every section is built before any of them runs; a payload is cached
// only when every section succeeded.
func (g *Gateway) Report(ctx context.Context, endpoint *models.Endpoint, params models.ParameterSet) (*ReportResult, error) {
	key := cache.DeriveKey(endpoint.ID, params)
	if payload, ok := g.cache.Get(ctx, key); ok {
		g.logger.Debug("Report served from cache", zap.String("endpoint", endpoint.ID))
		return &ReportResult{Payload: payload, Cached: true}, nil
	}

	for _, hit := range sql.CheckAllParameters(params) {
		g.auditor.LogInjectionSignal(ctx, endpoint.ID, audit.InjectionDetails{
			ParamName:   hit.ParamName,
			ParamValue:  hit.ParamValue,
			Fingerprint: hit.Fingerprint,
		})
	}

	queries := make([]*models.BoundQuery, len(endpoint.Sections))
	for i, section := range endpoint.Sections {
		id := endpoint.TemplateID(section.Name)
		names, err := g.builder.ParamNames(id)
		if err != nil {
			return nil, err
		}
		q, err := g.builder.Build(id, params.Subset(names))
		if err != nil {
			return nil, err
		}
		queries[i] = q
	}

	start := time.Now()
	results := make([]*models.QueryResult, len(queries))
	group, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		group.Go(func() error {
			res, err := g.execute(gctx, q)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		g.logger.Warn("Report failed",
			zap.String("endpoint", endpoint.ID),
			zap.String("params", logging.ParamSummary(params)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}

	payload, truncated, err := shapePayload(endpoint, results)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}

	g.cache.Put(ctx, key, payload, endpoint.TTL)
	g.logger.Info("Report executed",
		zap.String("endpoint", endpoint.ID),
		zap.Int("sections", len(queries)),
		zap.Bool("truncated", truncated),
		zap.Duration("duration", time.Since(start)))

	return &ReportResult{Payload: payload, Truncated: truncated}, nil
}

// ApprovedQuery is candidate text that passed the access validator. Only
// ApproveCandidate produces a non-zero one.
type ApprovedQuery struct {
	text string
}

// Text returns the normalized query text.
func (q ApprovedQuery) Text() string {
	return q.text
}

// RunCandidate executes model-authored query text. The access validator runs
// strictly before execution and a rejected query never reaches the warehouse.
// Candidate results are not cached.
func (g *Gateway) RunCandidate(ctx context.Context, query string) (*models.QueryResult, error) {
	approved, err := g.ApproveCandidate(ctx, query)
	if err != nil {
		return nil, err
	}
	return g.RunApproved(ctx, approved)
}

// ApproveCandidate runs the access validator over query text. Rejections
// are audited and returned without touching the warehouse.
func (g *Gateway) ApproveCandidate(ctx context.Context, query string) (ApprovedQuery, error) {
	approved, err := g.validator.Approve(query)
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			g.auditor.LogAccessRejection(ctx, "chat", audit.RejectionDetails{
				Kind:     string(appErr.Kind),
				Fragment: appErr.Fragment,
			})
		}
		return ApprovedQuery{}, err
	}
	return ApprovedQuery{text: approved}, nil
}

// RunApproved executes an approved query under the candidate row limit.
func (g *Gateway) RunApproved(ctx context.Context, q ApprovedQuery) (*models.QueryResult, error) {
	if q.text == "" {
		return nil, apperrors.ForbiddenOperation("empty statement")
	}
	limited, err := sql.ApplyRowLimit(q.text, g.validator.Dialect(), g.cfg.CandidateRowLimit)
	if err != nil {
		return nil, apperrors.ForbiddenOperation("unterminated literal")
	}

	res, err := g.execute(ctx, &models.BoundQuery{Text: limited, Dialect: g.validator.Dialect()})
	if err != nil {
		return nil, err
	}
	g.auditor.LogQueryExecution(ctx, "chat", res.RowCount)
	return res, nil
}

// execute runs one query under the per-query timeout and classifies failures.
func (g *Gateway) execute(ctx context.Context, q *models.BoundQuery) (*models.QueryResult, error) {
	qctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	res, err := g.executor.Query(qctx, q)
	if err == nil {
		return res, nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(qctx.Err(), context.DeadlineExceeded):
		g.logger.Warn("Query timed out",
			zap.Duration("timeout", g.cfg.QueryTimeout),
			zap.String("query", logging.SanitizeQuery(q.Text)))
		return nil, apperrors.QueryTimeout(err)
	case errors.Is(err, context.Canceled):
		return nil, err
	}

	g.logger.Error("Warehouse query failed",
		zap.String("query", logging.SanitizeQuery(q.Text)),
		zap.String("error", logging.SanitizeError(err)))
	return nil, apperrors.Warehouse(logging.ClientMessage(err), err)
}

// shapePayload encodes section results as the endpoint's response shape.
func shapePayload(endpoint *models.Endpoint, results []*models.QueryResult) ([]byte, bool, error) {
	truncated := false
	rows := make([][]map[string]any, len(results))
	for i, res := range results {
		rows[i] = res.Rows
		if rows[i] == nil {
			rows[i] = []map[string]any{}
		}
		truncated = truncated || res.Truncated
	}

	var v any
	switch endpoint.Shape {
	case models.ShapeObject:
		obj := make(map[string]any, len(rows))
		for i, section := range endpoint.Sections {
			switch {
			case !section.Single:
				obj[section.Name] = rows[i]
			case len(rows[i]) > 0:
				obj[section.Name] = rows[i][0]
			default:
				obj[section.Name] = nil
			}
		}
		v = obj
	case models.ShapeFirst:
		if len(rows[0]) > 0 {
			v = rows[0][0]
		}
	default:
		v = rows[0]
	}

	payload, err := json.Marshal(v)
	return payload, truncated, err
}
