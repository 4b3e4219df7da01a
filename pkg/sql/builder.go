package sql

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// Template is a registered query shape. SQL uses the placeholder syntax
// described in parameter_syntax.go. Relations maps the aliases usable in
// {{ref:alias}} to fully qualified names; it comes from static configuration.
type Template struct {
	ID        string
	SQL       string
	Dialect   models.Dialect
	Params    []models.ParamDef
	Relations map[string]string
}

type compiledTemplate struct {
	Template
	segments []segment
	defs     map[string]models.ParamDef
	defaults models.ParameterSet
}

// Builder turns a template id plus a ParameterSet into query text and bound
// values. Values never become part of the text.
type Builder struct {
	mu        sync.RWMutex
	templates map[string]*compiledTemplate
}

func NewBuilder() *Builder {
	return &Builder{templates: make(map[string]*compiledTemplate)}
}

// Register validates a template and makes it available to Build.
func (b *Builder) Register(t Template) error {
	ct, err := compileTemplate(t)
	if err != nil {
		return fmt.Errorf("template %q: %w", t.ID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.templates[t.ID]; exists {
		return fmt.Errorf("template %q is already registered", t.ID)
	}
	b.templates[t.ID] = ct
	return nil
}

// IDs returns the registered template ids in sorted order.
func (b *Builder) IDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.templates))
	for id := range b.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ParamNames returns the parameters a template accepts.
func (b *Builder) ParamNames(id string) ([]string, error) {
	ct, err := b.lookup(id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ct.Params))
	for _, p := range ct.Params {
		names = append(names, p.Name)
	}
	return names, nil
}

func (b *Builder) lookup(id string) (*compiledTemplate, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ct, ok := b.templates[id]
	if !ok {
		return nil, apperrors.UnknownTemplate(id)
	}
	return ct, nil
}

// Build renders a registered template.
//
// Errors:
//   - UnknownTemplate when id is not registered
//   - InvalidParameter when a value has the wrong type, a required
//     parameter is missing, or a parameter is not accepted by the template
//
// Optional clauses whose parameters are absent are omitted.
func (b *Builder) Build(id string, params models.ParameterSet) (*models.BoundQuery, error) {
	ct, err := b.lookup(id)
	if err != nil {
		return nil, err
	}

	for _, name := range params.Names() {
		v := params[name]
		def, ok := ct.defs[name]
		if !ok {
			return nil, apperrors.InvalidParameter(name, "parameter is not accepted by this query")
		}
		if v == nil || v.Type() != def.Type {
			return nil, apperrors.InvalidParameter(name, "expected a %s value", def.Type)
		}
	}

	values := make(models.ParameterSet, len(ct.defs))
	for name, v := range ct.defaults {
		values[name] = v
	}
	for name, v := range params {
		values[name] = v
	}

	for _, def := range ct.Params {
		if def.Required && !hasValue(values, def.Name, "") {
			return nil, apperrors.InvalidParameter(def.Name, "required parameter is missing")
		}
	}

	var text strings.Builder
	for _, seg := range ct.segments {
		if seg.optional && !segmentSatisfied(seg, values) {
			continue
		}
		text.WriteString(seg.text)
	}

	bind := newBinder(ct.Dialect)
	var bindErr error
	rendered := placeholderRegex.ReplaceAllStringFunc(text.String(), func(match string) string {
		ph := parsePlaceholder(match)
		if ph.ref {
			return quoteRelation(ct.Dialect, ct.Relations[ph.name])
		}
		if !hasValue(values, ph.name, ph.part) {
			if bindErr == nil {
				bindErr = apperrors.InvalidParameter(ph.name, "required parameter is missing")
			}
			return match
		}
		return bind.bind(argName(ph), driverValue(values[ph.name], ph.part))
	})
	if bindErr != nil {
		return nil, bindErr
	}

	return &models.BoundQuery{
		Text:    strings.TrimSpace(rendered),
		Args:    bind.args(),
		Dialect: ct.Dialect,
	}, nil
}

func compileTemplate(t Template) (*compiledTemplate, error) {
	if t.ID == "" {
		return nil, fmt.Errorf("template id is required")
	}
	if strings.TrimSpace(t.SQL) == "" {
		return nil, fmt.Errorf("template SQL is required")
	}
	if _, err := models.ParseDialect(string(t.Dialect)); err != nil {
		return nil, err
	}

	segments, err := splitOptionalClauses(t.SQL)
	if err != nil {
		return nil, err
	}

	ct := &compiledTemplate{
		Template: t,
		segments: segments,
		defs:     make(map[string]models.ParamDef, len(t.Params)),
		defaults: make(models.ParameterSet),
	}
	for _, p := range t.Params {
		if _, dup := ct.defs[p.Name]; dup {
			return nil, fmt.Errorf("parameter %q is declared twice", p.Name)
		}
		ct.defs[p.Name] = p
	}
	for _, p := range t.Params {
		if p.Type == models.ParamDateRange {
			for _, suffix := range []string{"_from", "_to"} {
				if _, clash := ct.defs[p.Name+suffix]; clash {
					return nil, fmt.Errorf("parameter %q clashes with the bound names of date range %q", p.Name+suffix, p.Name)
				}
			}
		}
		if p.Default != "" {
			v, err := models.ParseValue(p.Name, p.Type, p.Default)
			if err != nil {
				return nil, fmt.Errorf("invalid default for %q: %w", p.Name, err)
			}
			ct.defaults[p.Name] = v
		}
	}

	used := make(map[string]bool)
	for _, seg := range segments {
		for _, ph := range extractPlaceholders(seg.text) {
			if ph.ref {
				fq, ok := t.Relations[ph.name]
				if !ok {
					return nil, fmt.Errorf("relation {{ref:%s}} is not configured", ph.name)
				}
				if fq == "" || strings.ContainsAny(fq, "`\"[]; \t\n") {
					return nil, fmt.Errorf("relation %q has an invalid name", ph.name)
				}
				continue
			}
			def, ok := ct.defs[ph.name]
			if !ok {
				return nil, fmt.Errorf("parameter {{%s}} used in SQL but not defined", ph.name)
			}
			used[ph.name] = true

			isRange := def.Type == models.ParamDateRange
			switch {
			case isRange && ph.part == "":
				return nil, fmt.Errorf("date range {{%s}} must be referenced as {{%s.from}} or {{%s.to}}", ph.name, ph.name, ph.name)
			case !isRange && ph.part != "":
				return nil, fmt.Errorf("parameter {{%s.%s}} is not a date range", ph.name, ph.part)
			case isRange && !seg.optional:
				return nil, fmt.Errorf("date range bound {{%s.%s}} must appear inside a [[ ]] clause", ph.name, ph.part)
			case !seg.optional && !def.Required && ct.defaults[ph.name] == nil:
				return nil, fmt.Errorf("optional parameter '%s' without a default must appear only inside [[ ]] clauses", ph.name)
			}
		}
	}
	for _, p := range t.Params {
		if !used[p.Name] {
			return nil, fmt.Errorf("parameter '%s' is defined but not used in SQL", p.Name)
		}
	}

	if problems := FindParametersInStringLiterals(t.SQL); len(problems) > 0 {
		return nil, fmt.Errorf("parameters inside string literals are never bound: %s", strings.Join(problems, ", "))
	}

	return ct, nil
}

func hasValue(values models.ParameterSet, name, part string) bool {
	v, ok := values[name]
	if !ok || v == nil {
		return false
	}
	r, isRange := v.(models.DateRange)
	if !isRange {
		return true
	}
	switch part {
	case "from":
		return r.From != nil
	case "to":
		return r.To != nil
	}
	return !r.IsZero()
}

func segmentSatisfied(seg segment, values models.ParameterSet) bool {
	for _, ph := range extractPlaceholders(seg.text) {
		if !ph.ref && !hasValue(values, ph.name, ph.part) {
			return false
		}
	}
	return true
}

func argName(ph placeholder) string {
	if ph.part != "" {
		return ph.name + "_" + ph.part
	}
	return ph.name
}

// driverValue converts a typed value into the plain Go value handed to the
// warehouse driver. Dates stay civil.Date; adapters convert if needed.
func driverValue(v models.Value, part string) any {
	switch val := v.(type) {
	case models.Date:
		return val.Date
	case models.DateRange:
		if part == "to" {
			return val.To.Date
		}
		return val.From.Date
	case models.Text:
		return string(val)
	case models.Identifier:
		return string(val)
	case models.StringArray:
		return append([]string(nil), val...)
	case models.Integer:
		return int64(val)
	case models.Bool:
		return bool(val)
	}
	return nil
}

func quoteRelation(d models.Dialect, fq string) string {
	parts := strings.Split(fq, ".")
	switch d {
	case models.DialectBigQuery:
		return "`" + fq + "`"
	case models.DialectSQLServer:
		for i, p := range parts {
			parts[i] = "[" + p + "]"
		}
	default:
		for i, p := range parts {
			parts[i] = `"` + p + `"`
		}
	}
	return strings.Join(parts, ".")
}

type binder interface {
	bind(name string, value any) string
	args() []models.NamedArg
}

func newBinder(d models.Dialect) binder {
	switch d {
	case models.DialectPostgres:
		return &positionalBinder{positions: make(map[string]int)}
	case models.DialectSQLServer:
		return &namedBinder{seen: make(map[string]bool), expandArrays: true}
	}
	return &namedBinder{seen: make(map[string]bool)}
}

// namedBinder renders @name placeholders. SQL Server has no array
// parameters, so arrays expand to one parameter per element.
type namedBinder struct {
	seen         map[string]bool
	out          []models.NamedArg
	expandArrays bool
}

func (b *namedBinder) add(name string, value any) {
	if b.seen[name] {
		return
	}
	b.seen[name] = true
	b.out = append(b.out, models.NamedArg{Name: name, Value: value})
}

func (b *namedBinder) bind(name string, value any) string {
	if arr, ok := value.([]string); ok && b.expandArrays {
		if len(arr) == 0 {
			return "NULL"
		}
		refs := make([]string, len(arr))
		for i, s := range arr {
			elem := fmt.Sprintf("%s_%d", name, i)
			b.add(elem, s)
			refs[i] = "@" + elem
		}
		return strings.Join(refs, ", ")
	}
	b.add(name, value)
	return "@" + name
}

func (b *namedBinder) args() []models.NamedArg {
	return b.out
}

// positionalBinder renders $N placeholders, reusing N when a parameter
// appears more than once.
type positionalBinder struct {
	positions map[string]int
	out       []models.NamedArg
}

func (b *positionalBinder) bind(name string, value any) string {
	if pos, ok := b.positions[name]; ok {
		return fmt.Sprintf("$%d", pos)
	}
	b.out = append(b.out, models.NamedArg{Name: name, Value: value})
	pos := len(b.out)
	b.positions[name] = pos
	return fmt.Sprintf("$%d", pos)
}

func (b *positionalBinder) args() []models.NamedArg {
	return b.out
}
