// Package sql builds report queries from templates and validates query text
// authored outside the service before it may reach the warehouse.
package sql

import (
	"errors"
	"strings"

	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// ValidationResult contains the normalized SQL, its tokens and any validation error.
type ValidationResult struct {
	NormalizedSQL string
	Tokens        []Token
	Error         error
}

// ValidateAndNormalize checks SQL for multiple statements and strips trailing semicolons.
//
// Semicolons inside literals and comments are ignored. Trailing comments are
// dropped from the normalized text so a clause can be appended safely.
func ValidateAndNormalize(sqlQuery string, dialect models.Dialect) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{NormalizedSQL: sqlQuery}
	}

	tokens, err := Tokenize(sqlQuery, dialect)
	if err != nil {
		return ValidationResult{Error: err}
	}

	n := len(tokens)
	for n > 0 && tokens[n-1].Is(";") {
		n--
	}
	for _, tok := range tokens[:n] {
		if tok.Is(";") {
			return ValidationResult{Error: ErrMultipleStatements}
		}
	}

	normalized := ""
	if n > 0 {
		normalized = sqlQuery[:tokens[n-1].End]
	}
	return ValidationResult{NormalizedSQL: normalized, Tokens: tokens[:n]}
}
