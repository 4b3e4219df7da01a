package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/ekaya-inc/dashboard-gateway/pkg/adapters/warehouse"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// Executor runs queries with @name parameters through database/sql.
type Executor struct {
	db      *sql.DB
	maxRows int
}

var _ warehouse.Executor = (*Executor)(nil)

func NewExecutor(ctx context.Context, cfg *warehouse.Config) (*Executor, error) {
	connStr, err := connectionString(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql server connection: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to sql server: %w", err)
	}

	return &Executor{db: db, maxRows: cfg.RowCap()}, nil
}

func (e *Executor) Dialect() models.Dialect {
	return models.DialectSQLServer
}

func (e *Executor) Query(ctx context.Context, q *models.BoundQuery) (*models.QueryResult, error) {
	rows, err := e.db.QueryContext(ctx, q.Text, namedArgs(q.Args)...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]models.ColumnInfo, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = models.ColumnInfo{
			Name: ct.Name(),
			Type: mapSQLServerType(ct.DatabaseTypeName()),
		}
	}

	result := &models.QueryResult{Columns: columns, Rows: make([]map[string]any, 0)}
	for rows.Next() {
		if len(result.Rows) >= e.maxRows {
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = convertValue(values[i], columnTypes[i].DatabaseTypeName())
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
	return e.db.Close()
}

// namedArgs binds each value with sql.Named. Arrays were already expanded to
// one parameter per element when the query was built. civil.Date is passed
// through; the driver sends it as a DATE.
func namedArgs(args []models.NamedArg) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = sql.Named(a.Name, a.Value)
	}
	return out
}

func convertValue(v any, dbType string) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch strings.ToUpper(dbType) {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		// The driver returns exact decimals as text.
		return string(b)
	case "UNIQUEIDENTIFIER":
		return formatGUID(b)
	}
	if isStringType(dbType) {
		return string(b)
	}
	return b
}

// formatGUID renders SQL Server's mixed-endian GUID bytes in canonical form.
func formatGUID(b []byte) string {
	if len(b) != 16 {
		return fmt.Sprintf("%x", b)
	}
	return fmt.Sprintf("%02X%02X%02X%02X-%02X%02X-%02X%02X-%X-%X",
		b[3], b[2], b[1], b[0], b[5], b[4], b[7], b[6], b[8:10], b[10:16])
}

func mapSQLServerType(sqlServerType string) string {
	switch t := strings.ToUpper(sqlServerType); t {
	case "INT":
		return "INTEGER"
	case "DECIMAL", "NUMERIC":
		return "NUMERIC"
	case "SMALLMONEY":
		return "MONEY"
	case "FLOAT":
		return "DOUBLE PRECISION"
	case "NCHAR":
		return "CHAR"
	case "NVARCHAR":
		return "VARCHAR"
	case "NTEXT":
		return "TEXT"
	case "DATETIME", "DATETIME2", "SMALLDATETIME":
		return "TIMESTAMP"
	case "DATETIMEOFFSET":
		return "TIMESTAMP WITH TIME ZONE"
	case "BIT":
		return "BOOLEAN"
	case "UNIQUEIDENTIFIER":
		return "UUID"
	default:
		return t
	}
}

func isStringType(sqlType string) bool {
	switch strings.ToUpper(sqlType) {
	case "CHAR", "VARCHAR", "TEXT", "NCHAR", "NVARCHAR", "NTEXT", "XML":
		return true
	}
	return false
}
