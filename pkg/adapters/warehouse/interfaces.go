package warehouse

import (
	"context"

	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// DefaultMaxRows caps rows read per query when no cap is configured.
const DefaultMaxRows = 50000

// Executor runs a bound query against a warehouse. Implementations own their
// connection pool and must be closed when done.
type Executor interface {
	// Query executes q.Text with q.Args bound by the driver. Values are
	// never interpolated into the text. Reading stops at the adapter's row
	// cap and the result is marked Truncated.
	Query(ctx context.Context, q *models.BoundQuery) (*models.QueryResult, error)

	// Dialect is the SQL dialect the executor accepts.
	Dialect() models.Dialect

	Close() error
}

// Config selects and configures an adapter. Fields not used by the selected
// type are ignored.
type Config struct {
	Type string

	// BigQuery
	Project         string
	Location        string
	CredentialsFile string
	MaxBytesBilled  int64

	// Postgres and SQL Server. DSN wins over the discrete fields.
	DSN                    string
	Host                   string
	Port                   int
	User                   string
	Password               string
	Database               string
	SSLMode                string
	Encrypt                bool
	TrustServerCertificate bool
	MaxConns               int32

	MaxRows int
}

// RowCap returns the effective row cap.
func (c *Config) RowCap() int {
	if c.MaxRows > 0 {
		return c.MaxRows
	}
	return DefaultMaxRows
}
