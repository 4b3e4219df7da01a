package sql

import (
	"fmt"

	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// ApplyRowLimit wraps an approved query so it returns at most limit rows.
// Queries that already carry a top-level LIMIT (or TOP for SQL Server) are
// returned unchanged, as are SQL Server CTEs, which cannot be nested in a
// derived table. Adapters enforce their own row cap regardless.
//
//   - BigQuery, Postgres: SELECT * FROM (query) AS _limited LIMIT n
//   - SQL Server:         SELECT TOP (n) * FROM (query) AS _limited
func ApplyRowLimit(query string, dialect models.Dialect, limit int) (string, error) {
	if limit <= 0 {
		return query, nil
	}
	toks, err := Tokenize(query, dialect)
	if err != nil {
		return "", err
	}
	if len(toks) == 0 || hasTopLevelLimit(toks, dialect) {
		return query, nil
	}

	if dialect == models.DialectSQLServer {
		if toks[0].Is("WITH") {
			return query, nil
		}
		return fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", limit, query), nil
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", query, limit), nil
}

func hasTopLevelLimit(toks []Token, dialect models.Dialect) bool {
	depth := 0
	for i, t := range toks {
		switch {
		case t.Is("("):
			depth++
		case t.Is(")"):
			depth--
		case depth != 0:
		case t.Is("LIMIT"), t.Is("FETCH"):
			return true
		case dialect == models.DialectSQLServer && t.Is("TOP") && i > 0 && toks[i-1].Is("SELECT"):
			return true
		}
	}
	return false
}
