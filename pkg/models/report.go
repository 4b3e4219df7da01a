package models

import (
	"strings"
	"time"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
)

// ParamSource says where a request parameter is read from.
type ParamSource string

const (
	SourceQuery ParamSource = "query"
	SourcePath  ParamSource = "path"
)

// ParamDef declares one template parameter.
type ParamDef struct {
	Name        string      `json:"name" yaml:"name"`
	Type        ParamType   `json:"type" yaml:"type"`
	Description string      `json:"description,omitempty" yaml:"description"`
	Required    bool        `json:"required" yaml:"required"`
	Default     string      `json:"default,omitempty" yaml:"default"` // raw text, parsed with the declared type
	Source      ParamSource `json:"source" yaml:"source"`

	// Keys are the request keys the value is read from. A date_range reads
	// two keys (lower bound, upper bound); every other type reads one.
	Keys []string `json:"keys,omitempty" yaml:"keys"`
}

// Section is one query of a report endpoint.
type Section struct {
	Name string `json:"name" yaml:"name"`
	SQL  string `json:"sql" yaml:"sql"`
	// Single encodes the section as its first row (or null) instead of an
	// array. Only object-shaped endpoints may set it.
	Single bool `json:"single,omitempty" yaml:"single"`
}

// Response shapes for report endpoints.
const (
	ShapeRows   = "rows"   // JSON array of rows; single section only
	ShapeObject = "object" // object keyed by section name
	ShapeFirst  = "first"  // first row of a single section, or null
)

// Endpoint is a report route backed by one or more query templates.
type Endpoint struct {
	ID          string        `json:"id" yaml:"id"`
	Route       string        `json:"route" yaml:"route"`
	Description string        `json:"description,omitempty" yaml:"description"`
	TTL         time.Duration `json:"ttl" yaml:"ttl"`
	Shape       string        `json:"shape" yaml:"shape"`
	Params      []ParamDef    `json:"params,omitempty" yaml:"params"`
	Sections    []Section     `json:"sections" yaml:"sections"`
}

// TemplateID names the builder template for one of the endpoint's sections.
func (e *Endpoint) TemplateID(section string) string {
	return e.ID + "." + section
}

// Param returns the declaration for a parameter name.
func (e *Endpoint) Param(name string) (ParamDef, bool) {
	for _, p := range e.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamDef{}, false
}

// ParamLookup returns the raw request text for one key of a parameter, or ""
// when the caller did not supply it.
type ParamLookup func(def ParamDef, key string) string

// ParseParams reads the endpoint's declared parameters through lookup.
// Absent parameters with a default take the default, so an omitted value and
// an explicit default produce the same ParameterSet.
func (e *Endpoint) ParseParams(lookup ParamLookup) (ParameterSet, error) {
	params := make(ParameterSet, len(e.Params))

	for _, def := range e.Params {
		if def.Type == ParamDateRange {
			v, ok, err := parseDateRange(def, lookup(def, def.Keys[0]), lookup(def, def.Keys[1]))
			if err != nil {
				return nil, err
			}
			if ok {
				params[def.Name] = v
			}
			continue
		}

		raw := lookup(def, def.Keys[0])
		if strings.TrimSpace(raw) == "" {
			if def.Default == "" {
				continue
			}
			raw = def.Default
		}

		v, err := ParseValue(def.Name, def.Type, raw)
		if err != nil {
			return nil, err
		}
		params[def.Name] = v
	}

	return params, nil
}

// parseDateRange combines two request keys into one range. Either bound may
// be omitted; ok is false when both are.
func parseDateRange(def ParamDef, fromRaw, toRaw string) (Value, bool, error) {
	fromRaw, toRaw = strings.TrimSpace(fromRaw), strings.TrimSpace(toRaw)
	if fromRaw == "" && toRaw == "" {
		if def.Default == "" {
			return nil, false, nil
		}
		v, err := ParseValue(def.Name, def.Type, def.Default)
		return v, err == nil, err
	}

	var from, to *Date
	if fromRaw != "" {
		d, err := ParseDate(fromRaw)
		if err != nil {
			return nil, false, apperrors.InvalidParameter(def.Keys[0], "%v", err)
		}
		from = &d
	}
	if toRaw != "" {
		d, err := ParseDate(toRaw)
		if err != nil {
			return nil, false, apperrors.InvalidParameter(def.Keys[1], "%v", err)
		}
		to = &d
	}

	r, err := NewDateRange(from, to)
	if err != nil {
		return nil, false, apperrors.InvalidParameter(def.Name, "%s is after %s", def.Keys[0], def.Keys[1])
	}
	return r, true, nil
}
