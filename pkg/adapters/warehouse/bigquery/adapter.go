package bigquery

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ekaya-inc/dashboard-gateway/pkg/adapters/warehouse"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// Executor runs standard-SQL queries with named @parameters.
type Executor struct {
	client         *bigquery.Client
	location       string
	maxBytesBilled int64
	maxRows        int
}

var _ warehouse.Executor = (*Executor)(nil)

// NewExecutor creates a BigQuery client for cfg.Project. Without a
// credentials file the client uses application default credentials.
func NewExecutor(ctx context.Context, cfg *warehouse.Config) (*Executor, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("project is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.Project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}

	return &Executor{
		client:         client,
		location:       cfg.Location,
		maxBytesBilled: cfg.MaxBytesBilled,
		maxRows:        cfg.RowCap(),
	}, nil
}

func (e *Executor) Dialect() models.Dialect {
	return models.DialectBigQuery
}

func (e *Executor) Query(ctx context.Context, q *models.BoundQuery) (*models.QueryResult, error) {
	query := e.client.Query(q.Text)
	query.Parameters = queryParameters(q.Args)
	query.Location = e.location
	if e.maxBytesBilled > 0 {
		query.MaxBytesBilled = e.maxBytesBilled
	}

	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	rows, truncated, err := readRows(it, e.maxRows)
	if err != nil {
		return nil, err
	}

	result := &models.QueryResult{Rows: rows, Truncated: truncated}
	result.Columns = columnsFromSchema(it.Schema)
	result.RowCount = len(result.Rows)
	return result, nil
}

// rowIterator is the part of *bigquery.RowIterator that readRows needs.
type rowIterator interface {
	Next(dst interface{}) error
}

// readRows reads up to maxRows rows. A result is truncated only when a row
// beyond the cap exists.
func readRows(it rowIterator, maxRows int) ([]map[string]any, bool, error) {
	rows := make([]map[string]any, 0)
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			return rows, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("error iterating rows: %w", err)
		}
		if len(rows) >= maxRows {
			return rows, true, nil
		}
		rows = append(rows, convertRow(row))
	}
}

func (e *Executor) Close() error {
	return e.client.Close()
}

func columnsFromSchema(schema bigquery.Schema) []models.ColumnInfo {
	columns := make([]models.ColumnInfo, len(schema))
	for i, f := range schema {
		typ := string(f.Type)
		if f.Repeated {
			typ = "ARRAY<" + typ + ">"
		}
		columns[i] = models.ColumnInfo{Name: f.Name, Type: typ}
	}
	return columns
}
