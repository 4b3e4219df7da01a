package postgres

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/dashboard-gateway/pkg/adapters/warehouse"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// Executor runs queries with positional $N parameters on a pgx pool.
type Executor struct {
	pool      *pgxpool.Pool
	maxRows   int
	ownedPool bool
}

var _ warehouse.Executor = (*Executor)(nil)

// NewExecutor opens a pool from cfg.
func NewExecutor(ctx context.Context, cfg *warehouse.Config) (*Executor, error) {
	connStr, err := connectionString(cfg)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return &Executor{pool: pool, maxRows: cfg.RowCap(), ownedPool: true}, nil
}

// NewExecutorFromPool wraps an existing pool. Close leaves the pool open.
func NewExecutorFromPool(pool *pgxpool.Pool, maxRows int) *Executor {
	if maxRows <= 0 {
		maxRows = warehouse.DefaultMaxRows
	}
	return &Executor{pool: pool, maxRows: maxRows}
}

func (e *Executor) Dialect() models.Dialect {
	return models.DialectPostgres
}

func (e *Executor) Query(ctx context.Context, q *models.BoundQuery) (*models.QueryResult, error) {
	rows, err := e.pool.Query(ctx, q.Text, positionalArgs(q.Args)...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	typeMap := rows.Conn().TypeMap()
	fieldDescs := rows.FieldDescriptions()
	columns := make([]models.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		typeName := "UNKNOWN"
		if t, ok := typeMap.TypeForOID(fd.DataTypeOID); ok {
			typeName = t.Name
		}
		columns[i] = models.ColumnInfo{Name: fd.Name, Type: typeName}
	}

	result := &models.QueryResult{Columns: columns, Rows: make([]map[string]any, 0)}
	for rows.Next() {
		if len(result.Rows) >= e.maxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = convertValue(values[i], fieldDescs[i].DataTypeOID)
		}
		result.Rows = append(result.Rows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

func (e *Executor) Close() error {
	if e.ownedPool {
		e.pool.Close()
	}
	return nil
}

// positionalArgs orders values for $1..$N. Dates become midnight UTC since
// pgx has no codec for civil.Date.
func positionalArgs(args []models.NamedArg) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if d, ok := a.Value.(civil.Date); ok {
			out[i] = d.In(time.UTC)
			continue
		}
		out[i] = a.Value
	}
	return out
}

func convertValue(v any, oid uint32) any {
	switch val := v.(type) {
	case time.Time:
		if oid == pgtype.DateOID {
			return val.Format(time.DateOnly)
		}
		return val
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		// uuid
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	}
	return v
}
