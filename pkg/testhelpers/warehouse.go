package testhelpers

import (
	"context"
	"sync"

	"github.com/ekaya-inc/dashboard-gateway/pkg/adapters/warehouse"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// RecordingExecutor is an in-memory warehouse. Every query is recorded;
// results come from Handler, or an empty result when Handler is nil.
type RecordingExecutor struct {
	Handler      func(ctx context.Context, q *models.BoundQuery) (*models.QueryResult, error)
	QueryDialect models.Dialect

	mu    sync.Mutex
	calls []*models.BoundQuery
}

var _ warehouse.Executor = (*RecordingExecutor)(nil)

func (e *RecordingExecutor) Query(ctx context.Context, q *models.BoundQuery) (*models.QueryResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, q)
	e.mu.Unlock()

	if e.Handler == nil {
		return &models.QueryResult{}, nil
	}
	return e.Handler(ctx, q)
}

func (e *RecordingExecutor) Dialect() models.Dialect {
	if e.QueryDialect == "" {
		return models.DialectBigQuery
	}
	return e.QueryDialect
}

func (e *RecordingExecutor) Close() error { return nil }

// Calls returns the queries executed so far.
func (e *RecordingExecutor) Calls() []*models.BoundQuery {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*models.BoundQuery(nil), e.calls...)
}

// CallCount returns how many queries were executed.
func (e *RecordingExecutor) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// Rows builds a QueryResult from rows, taking column names from the first row.
func Rows(rows ...map[string]any) *models.QueryResult {
	res := &models.QueryResult{Rows: rows, RowCount: len(rows)}
	if len(rows) > 0 {
		for name := range rows[0] {
			res.Columns = append(res.Columns, models.ColumnInfo{Name: name})
		}
	}
	return res
}
