package sql

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderRegex matches {{name}}, {{name.from}}, {{name.to}} and
// {{ref:alias}} placeholders in SQL templates. Names must start with a letter
// or underscore, followed by any number of alphanumeric characters or
// underscores.
var placeholderRegex = regexp.MustCompile(`\{\{\s*(ref:)?([a-zA-Z_]\w*)(?:\.(from|to))?\s*\}\}`)

type placeholder struct {
	ref  bool
	name string
	part string // "from", "to" or "" for whole values
}

func parsePlaceholder(match string) placeholder {
	m := placeholderRegex.FindStringSubmatch(match)
	return placeholder{ref: m[1] != "", name: m[2], part: m[3]}
}

func extractPlaceholders(text string) []placeholder {
	matches := placeholderRegex.FindAllString(text, -1)
	out := make([]placeholder, 0, len(matches))
	for _, m := range matches {
		out = append(out, parsePlaceholder(m))
	}
	return out
}

// ExtractParameters finds all {{param}} placeholders in SQL and returns
// a deduplicated list of parameter names in order of first appearance.
// Relation references ({{ref:alias}}) are not parameters and are skipped.
//
// Example:
//
//	sql := "SELECT * FROM {{ref:workload}} WHERE employee_id = {{employee_id}} [[AND month >= {{period.from}}]]"
//	params := ExtractParameters(sql)
//	// params == []string{"employee_id", "period"}
func ExtractParameters(sqlQuery string) []string {
	seen := make(map[string]bool)
	var params []string
	for _, ph := range extractPlaceholders(sqlQuery) {
		if ph.ref || seen[ph.name] {
			continue
		}
		seen[ph.name] = true
		params = append(params, ph.name)
	}
	return params
}

// FindParametersInStringLiterals checks for {{param}} placeholders that appear
// inside SQL string literals (single quotes). A placeholder inside a literal
// would be rendered as literal text by the warehouse, never bound.
//
// Example:
//
//	sql := "SELECT 'Hello {{name}}' FROM users"
//	problems := FindParametersInStringLiterals(sql)
//	// problems == []string{"name"}
func FindParametersInStringLiterals(sqlQuery string) []string {
	var problems []string
	seen := make(map[string]bool)

	inString := false
	stringStart := 0
	i := 0

	for i < len(sqlQuery) {
		if sqlQuery[i] == '\'' {
			if inString {
				// Escaped quote ('')
				if i+1 < len(sqlQuery) && sqlQuery[i+1] == '\'' {
					i += 2
					continue
				}
				for _, ph := range extractPlaceholders(sqlQuery[stringStart+1 : i]) {
					if !seen[ph.name] {
						seen[ph.name] = true
						problems = append(problems, ph.name)
					}
				}
				inString = false
			} else {
				inString = true
				stringStart = i
			}
		}
		i++
	}

	return problems
}

// segment is a run of template text. Optional segments come from [[ ... ]]
// and are emitted only when every parameter they reference has a value.
type segment struct {
	text     string
	optional bool
}

// splitOptionalClauses splits a template into plain and optional segments.
// Optional clauses cannot nest.
func splitOptionalClauses(sqlQuery string) ([]segment, error) {
	var segments []segment
	rest := sqlQuery
	for {
		open := strings.Index(rest, "[[")
		closeIdx := strings.Index(rest, "]]")
		if open < 0 {
			if closeIdx >= 0 {
				return nil, fmt.Errorf("unbalanced ']]' in template")
			}
			if rest != "" {
				segments = append(segments, segment{text: rest})
			}
			return segments, nil
		}
		if closeIdx >= 0 && closeIdx < open {
			return nil, fmt.Errorf("unbalanced ']]' in template")
		}
		if open > 0 {
			segments = append(segments, segment{text: rest[:open]})
		}
		body := rest[open+2:]
		end := strings.Index(body, "]]")
		if end < 0 {
			return nil, fmt.Errorf("unterminated '[[' in template")
		}
		if strings.Contains(body[:end], "[[") {
			return nil, fmt.Errorf("optional clauses cannot be nested")
		}
		segments = append(segments, segment{text: body[:end], optional: true})
		rest = body[end+2:]
	}
}
