package sql

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// DefaultForbiddenKeywords are rejected wherever they appear as bare words.
// Policy keywords are added to these, never substituted for them.
var DefaultForbiddenKeywords = []string{
	"CREATE", "DROP", "DELETE", "TRUNCATE", "INSERT", "UPDATE", "ALTER",
	"MERGE", "GRANT", "REVOKE", "EXECUTE", "EXEC", "CALL", "INTO",
}

// tsqlStatementKeywords begin a T-SQL statement. A batch needs no separator
// between statements, so one of these at the top level of a query is a
// second statement.
var tsqlStatementKeywords = map[string]bool{
	"EXEC": true, "EXECUTE": true, "WAITFOR": true, "DECLARE": true,
	"SET": true, "USE": true, "BACKUP": true, "RESTORE": true, "DBCC": true,
	"SHUTDOWN": true, "KILL": true, "RECONFIGURE": true, "CHECKPOINT": true,
	"PRINT": true, "RAISERROR": true, "IF": true, "WHILE": true, "BEGIN": true,
	"GOTO": true, "RETURN": true, "BREAK": true, "CONTINUE": true,
	"OPEN": true, "CLOSE": true, "DEALLOCATE": true, "REVERT": true,
	"SETUSER": true, "COMMIT": true, "ROLLBACK": true, "SAVE": true,
	"BULK": true, "DENY": true, "READTEXT": true, "WRITETEXT": true,
	"UPDATETEXT": true,
}

// Functions that run SQL text, touch the server or stall a session. Called
// anywhere in a query they are a forbidden operation.
var forbiddenFunctions = map[models.Dialect]map[string]bool{
	models.DialectPostgres: {
		"QUERY_TO_XML": true, "QUERY_TO_XMLSCHEMA": true, "QUERY_TO_XML_AND_XMLSCHEMA": true,
		"CURSOR_TO_XML": true, "TABLE_TO_XML": true, "TABLE_TO_XMLSCHEMA": true,
		"TABLE_TO_XML_AND_XMLSCHEMA": true, "SCHEMA_TO_XML": true, "DATABASE_TO_XML": true,
		"DBLINK": true, "DBLINK_EXEC": true, "PG_READ_FILE": true, "PG_READ_BINARY_FILE": true,
		"PG_LS_DIR": true, "LO_IMPORT": true, "LO_EXPORT": true, "PG_SLEEP": true,
		"PG_SLEEP_FOR": true, "PG_SLEEP_UNTIL": true, "SET_CONFIG": true,
		"PG_TERMINATE_BACKEND": true, "PG_CANCEL_BACKEND": true,
	},
	models.DialectSQLServer: {
		"OPENROWSET": true, "OPENQUERY": true, "OPENDATASOURCE": true, "OPENXML": true,
	},
}

// nonIdentifierRelation is the rejection fragment for a FROM item that is not
// a name, so literal text is never echoed back.
const nonIdentifierRelation = "non-identifier relation"

// Functions whose argument list may contain a non-relational FROM.
var fromTakingFunctions = map[string]bool{
	"EXTRACT":   true,
	"SUBSTRING": true,
	"SUBSTR":    true,
	"TRIM":      true,
	"OVERLAY":   true,
}

// Words that end a FROM list at the list's own nesting level.
var fromListTerminators = map[string]bool{
	"WHERE": true, "GROUP": true, "HAVING": true, "ORDER": true, "LIMIT": true,
	"QUALIFY": true, "WINDOW": true, "UNION": true, "INTERSECT": true,
	"EXCEPT": true, "SELECT": true, "OFFSET": true, "FETCH": true,
}

// AccessPolicy configures an AccessValidator.
type AccessPolicy struct {
	Dialect          models.Dialect
	AllowedRelations []string
	// DefaultQualifier is prepended to names one part short of fully
	// qualified: the project for BigQuery, the schema for Postgres, the
	// database for SQL Server.
	DefaultQualifier  string
	ForbiddenKeywords []string
}

// AccessValidator decides whether externally authored query text may run.
// It never executes anything; the decision depends only on the text and the
// policy it was built with.
type AccessValidator struct {
	dialect   models.Dialect
	qualifier string
	depth     int
	allowed   map[string]bool
	forbidden map[string]bool
}

// NewAccessValidator compiles a policy. The allow-list is fixed for the
// lifetime of the validator.
func NewAccessValidator(policy AccessPolicy) (*AccessValidator, error) {
	v := &AccessValidator{
		dialect:   policy.Dialect,
		qualifier: strings.ToLower(strings.TrimSpace(policy.DefaultQualifier)),
		depth:     qualifiedDepth(policy.Dialect),
		allowed:   make(map[string]bool, len(policy.AllowedRelations)),
		forbidden: make(map[string]bool),
	}

	for _, kw := range append(append([]string{}, DefaultForbiddenKeywords...), policy.ForbiddenKeywords...) {
		if kw = strings.ToUpper(strings.TrimSpace(kw)); kw != "" {
			v.forbidden[kw] = true
		}
	}

	for _, entry := range policy.AllowedRelations {
		parts, err := splitRelation(entry)
		if err != nil {
			return nil, err
		}
		v.allowed[v.qualify(parts)] = true
	}
	return v, nil
}

func qualifiedDepth(d models.Dialect) int {
	if d == models.DialectPostgres {
		return 2
	}
	return 3
}

func splitRelation(entry string) ([]string, error) {
	trimmed := strings.Trim(strings.TrimSpace(entry), "`\"")
	if trimmed == "" {
		return nil, fmt.Errorf("empty allow-list entry")
	}
	parts := strings.Split(trimmed, ".")
	if len(parts) > 3 {
		return nil, fmt.Errorf("allow-list entry %q has too many parts", entry)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("allow-list entry %q has an empty part", entry)
		}
	}
	return parts, nil
}

func (v *AccessValidator) qualify(parts []string) string {
	lowered := make([]string, 0, len(parts)+1)
	if v.qualifier != "" && len(parts) == v.depth-1 {
		lowered = append(lowered, v.qualifier)
	}
	for _, p := range parts {
		lowered = append(lowered, strings.ToLower(p))
	}
	return strings.Join(lowered, ".")
}

// AllowedRelations returns the qualified allow-list in sorted order.
func (v *AccessValidator) AllowedRelations() []string {
	out := make([]string, 0, len(v.allowed))
	for name := range v.allowed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dialect returns the dialect queries are lexed with.
func (v *AccessValidator) Dialect() models.Dialect {
	return v.dialect
}

// Validate returns nil when the query may be executed. Otherwise it returns
// an *apperrors.Error of kind forbidden_operation or unauthorized_relation
// whose Fragment names only the offending keyword or relation.
func (v *AccessValidator) Validate(query string) error {
	_, err := v.Approve(query)
	return err
}

// Approve validates the query and returns its normalized text (trailing
// semicolons and comments removed) for execution.
func (v *AccessValidator) Approve(query string) (string, error) {
	res := ValidateAndNormalize(query, v.dialect)
	if res.Error != nil {
		switch {
		case errors.Is(res.Error, ErrMultipleStatements):
			return "", apperrors.ForbiddenOperation(";")
		case errors.Is(res.Error, ErrUnterminatedComment):
			return "", apperrors.ForbiddenOperation("/*")
		default:
			return "", apperrors.ForbiddenOperation("unterminated literal")
		}
	}
	toks := res.Tokens
	if len(toks) == 0 {
		return "", apperrors.ForbiddenOperation("empty statement")
	}

	if err := checkStatementShape(toks); err != nil {
		return "", err
	}

	for i, t := range toks {
		if t.Kind == TokenWord && v.forbidden[t.Upper()] {
			return "", apperrors.ForbiddenOperation(t.Upper())
		}
		// Quoted names count too: Postgres resolves "pg_sleep"(1) like pg_sleep(1).
		isName := t.Kind == TokenWord || t.Kind == TokenQuotedIdent
		if isName && forbiddenFunctions[v.dialect][t.Upper()] && i+1 < len(toks) && toks[i+1].Is("(") {
			return "", apperrors.ForbiddenOperation(t.Upper())
		}
	}

	if v.dialect == models.DialectSQLServer {
		if err := checkSingleTSQLStatement(toks); err != nil {
			return "", err
		}
	}

	refs, err := extractRelations(toks, v.dialect)
	if err != nil {
		return "", err
	}
	for _, ref := range refs {
		if ref.cte {
			continue
		}
		if !v.allowed[v.qualify(ref.parts)] {
			return "", apperrors.UnauthorizedRelation(ref.String())
		}
	}
	return res.NormalizedSQL, nil
}

// Relations returns every relation the query reads, in order of appearance,
// lower-cased and as written (not qualified). Names bound by WITH are omitted.
func (v *AccessValidator) Relations(query string) ([]string, error) {
	res := ValidateAndNormalize(query, v.dialect)
	if res.Error != nil {
		return nil, res.Error
	}
	refs, err := extractRelations(res.Tokens, v.dialect)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range refs {
		if !r.cte {
			out = append(out, r.String())
		}
	}
	return out, nil
}

// checkStatementShape only admits queries: SELECT, WITH, or a FROM-first
// pipe query, optionally wrapped in parentheses.
func checkStatementShape(toks []Token) error {
	i := 0
	for i < len(toks) && toks[i].Is("(") {
		i++
	}
	if i == len(toks) {
		return apperrors.ForbiddenOperation("empty statement")
	}
	first := toks[i]
	if first.Is("SELECT") || first.Is("WITH") || first.Is("FROM") {
		return nil
	}
	return apperrors.ForbiddenOperation(strings.ToUpper(first.Text))
}

// checkSingleTSQLStatement rejects a T-SQL batch holding more than one
// statement. Only the main SELECT and the operands of set operators may
// start at the top level; a query opened by a parenthesis has no main SELECT.
func checkSingleTSQLStatement(toks []Token) error {
	depth := 0
	mainSeen := toks[0].Is("(")
	for i, t := range toks {
		switch {
		case t.Is("("):
			depth++
		case t.Is(")"):
			depth--
		case depth != 0 || t.Kind != TokenWord:
		case tsqlStatementKeywords[t.Upper()]:
			return apperrors.ForbiddenOperation(t.Upper())
		case t.Is("SELECT"):
			if mainSeen && !followsSetOperator(toks, i) {
				return apperrors.ForbiddenOperation("SELECT")
			}
			mainSeen = true
		}
	}
	return nil
}

func followsSetOperator(toks []Token, i int) bool {
	if i == 0 {
		return false
	}
	prev := toks[i-1]
	if (prev.Is("ALL") || prev.Is("DISTINCT")) && i > 1 {
		prev = toks[i-2]
	}
	return prev.Is("UNION") || prev.Is("EXCEPT") || prev.Is("INTERSECT")
}

type relationRef struct {
	parts []string
	cte   bool
}

func (r relationRef) String() string {
	lowered := make([]string, len(r.parts))
	for i, p := range r.parts {
		lowered[i] = strings.ToLower(p)
	}
	return strings.Join(lowered, ".")
}

type relationScanner struct {
	toks    []Token
	dialect models.Dialect
	ctes    []cteScope
	refs    []relationRef
	err     error
}

func extractRelations(toks []Token, dialect models.Dialect) ([]relationRef, error) {
	s := &relationScanner{toks: toks, dialect: dialect, ctes: collectCTEs(toks, dialect)}
	s.walk()
	return s.refs, s.err
}

// walk visits every FROM and JOIN, and every Postgres-style TABLE query. A
// FROM counts unless it sits in the argument list of a function like EXTRACT
// or is part of IS [NOT] DISTINCT FROM.
func (s *relationScanner) walk() {
	callGroups := []bool{false}
	for i, t := range s.toks {
		switch {
		case t.Is("("):
			call := i > 0 && s.toks[i-1].Kind == TokenWord && fromTakingFunctions[s.toks[i-1].Upper()]
			callGroups = append(callGroups, call)
		case t.Is(")"):
			if len(callGroups) > 1 {
				callGroups = callGroups[:len(callGroups)-1]
			}
		case t.Is("FROM"):
			if callGroups[len(callGroups)-1] || s.isDistinctFrom(i) {
				continue
			}
			s.fromList(i + 1)
		case t.Is("JOIN"):
			s.fromList(i + 1)
		case t.Is("TABLE"):
			if i+1 < len(s.toks) && (s.toks[i+1].Kind == TokenWord || s.toks[i+1].Kind == TokenQuotedIdent) {
				s.fromItem(i + 1)
			}
		}
		if s.err != nil {
			return
		}
	}
}

func (s *relationScanner) isDistinctFrom(i int) bool {
	if i < 2 || !s.toks[i-1].Is("DISTINCT") {
		return false
	}
	return s.toks[i-2].Is("IS") || s.toks[i-2].Is("NOT")
}

func (s *relationScanner) fromList(j int) {
	for {
		end := s.fromItem(j)
		if s.err != nil {
			return
		}
		comma := s.nextListComma(end)
		if comma < 0 {
			return
		}
		j = comma + 1
	}
}

// fromItem records the relation starting at j and returns the index just
// past it. Subqueries are left to walk; parenthesized joins are descended.
func (s *relationScanner) fromItem(j int) int {
	n := len(s.toks)
	for j < n && (s.toks[j].Is("LATERAL") || s.toks[j].Is("ONLY")) {
		j++
	}
	if j >= n {
		return j
	}

	t := s.toks[j]
	switch {
	case t.Is("("):
		if j+1 < n && (s.toks[j+1].Is("SELECT") || s.toks[j+1].Is("WITH") || s.toks[j+1].Is("FROM")) {
			return s.skipGroup(j)
		}
		s.fromList(j + 1)
		return s.skipGroup(j)

	case t.Is("UNNEST") && j+1 < n && s.toks[j+1].Is("("):
		return s.skipGroup(j + 1)

	case t.Kind == TokenWord || t.Kind == TokenQuotedIdent:
		parts, k := s.path(j)
		if k < n && s.toks[k].Is("(") {
			s.err = apperrors.UnauthorizedRelation(relationRef{parts: parts}.String())
			return k
		}
		ref := relationRef{parts: parts}
		if len(parts) == 1 && s.cteVisible(cteKey(t, s.dialect), j) {
			ref.cte = true
		}
		s.refs = append(s.refs, ref)
		return k
	}

	s.err = apperrors.UnauthorizedRelation(nonIdentifierRelation)
	return j
}

func (s *relationScanner) cteVisible(name string, at int) bool {
	for _, c := range s.ctes {
		if c.name == name && at >= c.from && at < c.to {
			return true
		}
	}
	return false
}

// path reads a dotted name. Backtick-quoted parts may themselves contain
// dots; unquoted parts may carry BigQuery project dashes or a table
// wildcard suffix written without spaces.
func (s *relationScanner) path(j int) ([]string, int) {
	n := len(s.toks)
	var parts []string
	for {
		t := s.toks[j]
		k := j + 1
		if t.Kind == TokenQuotedIdent {
			if t.Quote == '`' {
				parts = append(parts, strings.Split(t.Text, ".")...)
			} else {
				parts = append(parts, t.Text)
			}
		} else {
			text := t.Text
			for k < n && s.toks[k].Pos == s.toks[k-1].End {
				next := s.toks[k]
				if next.Is("-") && k+1 < n && s.toks[k+1].Pos == next.End &&
					(s.toks[k+1].Kind == TokenWord || s.toks[k+1].Kind == TokenNumber) {
					text += "-" + s.toks[k+1].Text
					k += 2
					continue
				}
				if next.Is("*") {
					text += "*"
					k++
					continue
				}
				break
			}
			parts = append(parts, text)
		}

		if k+1 < n && s.toks[k].Is(".") &&
			(s.toks[k+1].Kind == TokenWord || s.toks[k+1].Kind == TokenQuotedIdent) {
			j = k + 1
			continue
		}
		return parts, k
	}
}

// nextListComma returns the index of the comma continuing a FROM list that
// started before k, or -1 when the list has ended.
func (s *relationScanner) nextListComma(k int) int {
	depth := 0
	for i := k; i < len(s.toks); i++ {
		t := s.toks[i]
		switch {
		case t.Is("(") || t.Is("["):
			depth++
		case t.Is(")") || t.Is("]"):
			if depth == 0 {
				return -1
			}
			depth--
		case depth > 0:
		case t.Is(","):
			return i
		case t.Is("|") || t.Is(";"):
			return -1
		case t.Kind == TokenWord && fromListTerminators[t.Upper()]:
			return -1
		}
	}
	return -1
}

// skipGroup returns the index just past the group opened at j.
func (s *relationScanner) skipGroup(j int) int {
	return skipGroup(s.toks, j)
}

func skipGroup(toks []Token, j int) int {
	depth := 0
	for i := j; i < len(toks); i++ {
		switch {
		case toks[i].Is("("):
			depth++
		case toks[i].Is(")"):
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(toks)
}

// cteScope is a name bound by WITH and the token range it is visible in.
type cteScope struct {
	name     string
	from, to int
}

// cteKey is the name a one-part reference resolves by. Postgres folds
// unquoted names to lower case and keeps quoted names exact; the other
// dialects compare names case-insensitively.
func cteKey(t Token, dialect models.Dialect) string {
	if dialect == models.DialectPostgres && t.Kind == TokenQuotedIdent {
		return t.Text
	}
	return strings.ToLower(t.Text)
}

// collectCTEs returns every name bound by a WITH clause with its scope: from
// the end of its own body (from its name when the CTE may recurse) to the end
// of the parenthesis group holding the WITH. SQL Server CTEs may always
// refer to themselves.
func collectCTEs(toks []Token, dialect models.Dialect) []cteScope {
	var ctes []cteScope
	n := len(toks)
	for i := 0; i < n; i++ {
		if !toks[i].Is("WITH") {
			continue
		}
		end := enclosingGroupEnd(toks, i)
		j := i + 1
		recursive := dialect == models.DialectSQLServer
		if j < n && toks[j].Is("RECURSIVE") {
			recursive = true
			j++
		}
		for j < n && (toks[j].Kind == TokenWord || toks[j].Kind == TokenQuotedIdent) {
			nameAt := j
			name := cteKey(toks[j], dialect)
			j++
			if j < n && toks[j].Is("(") {
				j = skipGroup(toks, j)
			}
			if j >= n || !toks[j].Is("AS") {
				break
			}
			j++
			if j < n && toks[j].Is("NOT") {
				j++
			}
			if j < n && toks[j].Is("MATERIALIZED") {
				j++
			}
			if j >= n || !toks[j].Is("(") {
				break
			}
			j = skipGroup(toks, j)
			from := j
			if recursive {
				from = nameAt
			}
			ctes = append(ctes, cteScope{name: name, from: from, to: end})
			if j >= n || !toks[j].Is(",") {
				break
			}
			j++
		}
	}
	return ctes
}

// enclosingGroupEnd returns the index of the parenthesis closing the group
// that contains i, or len(toks) at the top level.
func enclosingGroupEnd(toks []Token, i int) int {
	depth := 0
	for k := i; k < len(toks); k++ {
		switch {
		case toks[k].Is("("):
			depth++
		case toks[k].Is(")"):
			if depth == 0 {
				return k
			}
			depth--
		}
	}
	return len(toks)
}
