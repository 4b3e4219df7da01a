package sql

import (
	"errors"
	"testing"

	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

func TestValidateAndNormalize_ValidQueries(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple select without semicolon",
			input:    "SELECT 1",
			expected: "SELECT 1",
		},
		{
			name:     "simple select with trailing semicolon",
			input:    "SELECT 1;",
			expected: "SELECT 1",
		},
		{
			name:     "select with trailing semicolon and whitespace",
			input:    "SELECT 1;  ",
			expected: "SELECT 1",
		},
		{
			name:     "several trailing semicolons",
			input:    "SELECT 1;;",
			expected: "SELECT 1",
		},
		{
			name:     "semicolon inside single quoted string",
			input:    "SELECT * FROM users WHERE name = 'test;test'",
			expected: "SELECT * FROM users WHERE name = 'test;test'",
		},
		{
			name:     "SQL standard escaped single quote",
			input:    "SELECT * FROM users WHERE name = 'O''Brien';",
			expected: "SELECT * FROM users WHERE name = 'O''Brien'",
		},
		{
			name:     "semicolon inside line comment",
			input:    "SELECT 1 -- ; DROP TABLE x",
			expected: "SELECT 1",
		},
		{
			name:     "semicolon inside block comment",
			input:    "SELECT /* ; */ 1",
			expected: "SELECT /* ; */ 1",
		},
		{
			name:     "trailing comment after semicolon",
			input:    "SELECT 1; -- done",
			expected: "SELECT 1",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "whitespace only",
			input:    "   ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndNormalize(tt.input, models.DialectBigQuery)
			if result.Error != nil {
				t.Fatalf("unexpected error: %v", result.Error)
			}
			if result.NormalizedSQL != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result.NormalizedSQL)
			}
		})
	}
}

func TestValidateAndNormalize_MultipleStatements(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "two selects", input: "SELECT 1; SELECT 2"},
		{name: "two selects with trailing", input: "SELECT 1; SELECT 2;"},
		{name: "no space after semicolon", input: "SELECT 1;SELECT 2"},
		{name: "drop table attempt", input: "SELECT 1; DROP TABLE users"},
		{name: "string closed before semicolon", input: "SELECT 'a;b'; SELECT 1"},
		{name: "comment closed before semicolon", input: "SELECT /* x */ 1; SELECT 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndNormalize(tt.input, models.DialectBigQuery)
			if !errors.Is(result.Error, ErrMultipleStatements) {
				t.Errorf("expected ErrMultipleStatements, got %v", result.Error)
			}
		})
	}
}

func TestValidateAndNormalize_DialectEscapes(t *testing.T) {
	// BigQuery treats \' as an escaped quote, so the semicolon is inside the literal.
	if res := ValidateAndNormalize(`SELECT 'test\';more'`, models.DialectBigQuery); res.Error != nil {
		t.Errorf("bigquery: unexpected error %v", res.Error)
	}
	// Postgres standard strings end at the second quote, leaving a bare semicolon.
	if res := ValidateAndNormalize(`SELECT 'test\';more'`, models.DialectPostgres); res.Error == nil {
		t.Errorf("postgres: expected an error")
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name    string
		dialect models.Dialect
		input   string
		kinds   []TokenKind
		texts   []string
	}{
		{
			name:    "backtick path",
			dialect: models.DialectBigQuery,
			input:   "FROM `a.b.c` x",
			kinds:   []TokenKind{TokenWord, TokenQuotedIdent, TokenWord},
			texts:   []string{"FROM", "a.b.c", "x"},
		},
		{
			name:    "hash comment",
			dialect: models.DialectBigQuery,
			input:   "SELECT 1 # FROM secret\n, 2",
			kinds:   []TokenKind{TokenWord, TokenNumber, TokenPunct, TokenNumber},
			texts:   []string{"SELECT", "1", ",", "2"},
		},
		{
			name:    "triple quoted string",
			dialect: models.DialectBigQuery,
			input:   `SELECT """it's FROM x""" AS s`,
			kinds:   []TokenKind{TokenWord, TokenString, TokenWord, TokenWord},
			texts:   []string{"SELECT", `"""it's FROM x"""`, "AS", "s"},
		},
		{
			name:    "named parameter",
			dialect: models.DialectBigQuery,
			input:   "WHERE id = @client_id",
			kinds:   []TokenKind{TokenWord, TokenWord, TokenPunct, TokenParam},
			texts:   []string{"WHERE", "id", "=", "@client_id"},
		},
		{
			name:    "postgres dollar quote",
			dialect: models.DialectPostgres,
			input:   "SELECT $tag$ ' FROM x $tag$, $1",
			kinds:   []TokenKind{TokenWord, TokenString, TokenPunct, TokenParam},
			texts:   []string{"SELECT", "$tag$ ' FROM x $tag$", ",", "$1"},
		},
		{
			name:    "postgres quoted identifier",
			dialect: models.DialectPostgres,
			input:   `SELECT "we""ird"`,
			kinds:   []TokenKind{TokenWord, TokenQuotedIdent},
			texts:   []string{"SELECT", `we"ird`},
		},
		{
			name:    "sqlserver brackets",
			dialect: models.DialectSQLServer,
			input:   "FROM [db].[dbo].[t]",
			kinds:   []TokenKind{TokenWord, TokenQuotedIdent, TokenPunct, TokenQuotedIdent, TokenPunct, TokenQuotedIdent},
			texts:   []string{"FROM", "db", ".", "dbo", ".", "t"},
		},
		{
			name:    "raw string prefix",
			dialect: models.DialectBigQuery,
			input:   `SELECT r'\d+'`,
			kinds:   []TokenKind{TokenWord, TokenString},
			texts:   []string{"SELECT", `'\d+'`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks, err := Tokenize(tt.input, tt.dialect)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(toks) != len(tt.kinds) {
				t.Fatalf("expected %d tokens, got %d: %+v", len(tt.kinds), len(toks), toks)
			}
			for i, tok := range toks {
				if tok.Kind != tt.kinds[i] || tok.Text != tt.texts[i] {
					t.Errorf("token %d: expected (%d, %q), got (%d, %q)", i, tt.kinds[i], tt.texts[i], tok.Kind, tok.Text)
				}
			}
		})
	}
}

func TestTokenize_Unterminated(t *testing.T) {
	if _, err := Tokenize("SELECT 'abc", models.DialectBigQuery); !errors.Is(err, ErrUnterminatedString) {
		t.Errorf("expected ErrUnterminatedString, got %v", err)
	}
	if _, err := Tokenize("SELECT 1 /* open", models.DialectBigQuery); !errors.Is(err, ErrUnterminatedComment) {
		t.Errorf("expected ErrUnterminatedComment, got %v", err)
	}
	if _, err := Tokenize("SELECT $$ open", models.DialectPostgres); !errors.Is(err, ErrUnterminatedString) {
		t.Errorf("expected ErrUnterminatedString, got %v", err)
	}
}
