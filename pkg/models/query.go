package models

import "fmt"

// Dialect selects placeholder syntax and identifier quoting for a warehouse.
type Dialect string

const (
	DialectBigQuery  Dialect = "bigquery"
	DialectPostgres  Dialect = "postgres"
	DialectSQLServer Dialect = "sqlserver"
)

// ParseDialect validates a dialect name from configuration.
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(s); d {
	case DialectBigQuery, DialectPostgres, DialectSQLServer:
		return d, nil
	}
	return "", fmt.Errorf("unknown SQL dialect %q", s)
}

// NamedArg is one bound value. For positional dialects Name is informational
// and Args order is the binding order.
type NamedArg struct {
	Name  string
	Value any
}

// BoundQuery is query text plus the values bound to its placeholders.
// Text never contains request-supplied values.
type BoundQuery struct {
	Text    string
	Args    []NamedArg
	Dialect Dialect
}

// Arg returns the bound value with the given name.
func (q *BoundQuery) Arg(name string) (any, bool) {
	for _, a := range q.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// ColumnInfo describes a column in a query result.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult holds rows returned by a warehouse.
type QueryResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`

	// Truncated is set when the adapter stopped reading at its row cap.
	Truncated bool `json:"truncated,omitempty"`
}
